package livestream

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the live-streaming collectors. All methods are nil-safe so
// tests can run without a registry.
type Metrics struct {
	sessionsActive  prometheus.Gauge
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	viewersCurrent  prometheus.Gauge
	viewerJoins     prometheus.Counter
	chatEntries     *prometheus.CounterVec
	donationCents   *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec
	wsClients       prometheus.Gauge
	broadcastDrops  prometheus.Counter
	rateLimited     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tubecast",
			Name:      "live_sessions_active",
			Help:      "Live sessions currently registered on this instance",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "live_sessions_started_total",
			Help:      "Live sessions started",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "live_sessions_ended_total",
			Help:      "Live sessions ended, by reason",
		}, []string{"reason"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tubecast",
			Name:      "live_session_duration_seconds",
			Help:      "Duration of ended live sessions",
			Buckets:   prometheus.ExponentialBuckets(60, 2, 10),
		}),
		viewersCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tubecast",
			Name:      "live_viewers_current",
			Help:      "Viewers connected across all live sessions",
		}),
		viewerJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "live_viewer_joins_total",
			Help:      "Successful viewer joins",
		}),
		chatEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "live_chat_entries_total",
			Help:      "Chat log entries appended, by kind",
		}, []string{"kind"}),
		donationCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "live_donations_cents_total",
			Help:      "Donated amount in minor units, by currency",
		}, []string{"currency"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "live_command_errors_total",
			Help:      "Rejected websocket commands, by event and code",
		}, []string{"event", "code"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tubecast",
			Name:      "ws_clients",
			Help:      "Open websocket connections",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "ws_broadcast_drops_total",
			Help:      "Messages dropped because a client buffer was full",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tubecast",
			Name:      "ws_rate_limited_total",
			Help:      "Inbound websocket messages rejected by the rate limiter",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsActive,
			m.sessionsStarted,
			m.sessionsEnded,
			m.sessionDuration,
			m.viewersCurrent,
			m.viewerJoins,
			m.chatEntries,
			m.donationCents,
			m.commandErrors,
			m.wsClients,
			m.broadcastDrops,
			m.rateLimited,
		)
	}
	return m
}

func (m *Metrics) Name() string { return "metrics" }

// Handle keeps the session gauges and counters in step with lifecycle events.
func (m *Metrics) Handle(_ context.Context, ev Event) error {
	if m == nil {
		return nil
	}
	switch ev.Type {
	case EventSessionStarted:
		m.sessionsActive.Inc()
		m.sessionsStarted.Inc()
	case EventSessionEnded:
		m.sessionsActive.Dec()
		m.sessionsEnded.WithLabelValues(ev.Reason).Inc()
		m.viewersCurrent.Sub(float64(ev.Released))
		if ev.Session != nil {
			m.sessionDuration.Observe(float64(ev.Session.DurationSeconds))
		}
	case EventViewerJoined:
		m.viewersCurrent.Inc()
		m.viewerJoins.Inc()
	case EventViewerLeft:
		m.viewersCurrent.Dec()
	case EventChatPosted:
		if ev.Entry != nil {
			m.chatEntries.WithLabelValues(string(ev.Entry.Kind)).Inc()
		}
	case EventDonationReceived:
		if ev.Donation != nil {
			m.donationCents.WithLabelValues(ev.Donation.Currency).Add(float64(ev.Donation.AmountCents))
		}
	}
	return nil
}

func (m *Metrics) CommandError(event, code string) {
	if m == nil {
		return
	}
	m.commandErrors.WithLabelValues(event, code).Inc()
}

func (m *Metrics) IncWSClients(delta float64) {
	if m == nil {
		return
	}
	m.wsClients.Add(delta)
}

func (m *Metrics) IncBroadcastDrops() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
