package realtime

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tubecast/backend/internal/livestream"
)

func testClient(id string, buffer int) *Client {
	return &Client{ID: livestream.ConnID(id), send: make(chan WSMessage, buffer)}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHubBroadcastExcept(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	a, b, c := testClient("a", 4), testClient("b", 4), testClient("c", 4)
	for _, cl := range []*Client{a, b, c} {
		hub.Register(cl)
	}
	room := uuid.New()
	hub.JoinRoom(room, "a")
	hub.JoinRoom(room, "b")
	hub.JoinRoom(room, "ghost")

	hub.BroadcastExcept(room, "a", livestream.OutViewerCount, livestream.ViewerCountPayload{SessionID: room, Current: 1})

	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, livestream.OutViewerCount, got[0].Event)
	var p livestream.ViewerCountPayload
	require.NoError(t, json.Unmarshal(got[0].Data, &p))
	assert.Equal(t, 1, p.Current)
	assert.Empty(t, drain(c))
	assert.Equal(t, 2, hub.RoomSize(room))
}

func TestHubSend(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	a := testClient("a", 1)
	hub.Register(a)

	assert.True(t, hub.Send("a", livestream.OutStreamError, livestream.ErrorPayload{Code: "X"}))
	assert.False(t, hub.Send("a", livestream.OutStreamError, livestream.ErrorPayload{Code: "Y"}), "buffer full")
	assert.False(t, hub.Send("missing", livestream.OutStreamError, nil))
	assert.Len(t, drain(a), 1)
}

func TestHubDropsCountedInMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := livestream.NewMetrics(reg)
	hub := NewHub(zap.NewNop(), metrics)
	slow, fast := testClient("slow", 0), testClient("fast", 2)
	hub.Register(slow)
	hub.Register(fast)
	room := uuid.New()
	hub.JoinRoom(room, "slow")
	hub.JoinRoom(room, "fast")

	hub.Broadcast(room, livestream.OutLikesUpdate, livestream.LikesPayload{Likes: 1})

	assert.Len(t, drain(fast), 1)
	families, err := reg.Gather()
	require.NoError(t, err)
	var drops float64
	for _, f := range families {
		if f.GetName() == "tubecast_ws_broadcast_drops_total" {
			drops = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), drops)
	count, err := testutil.GatherAndCount(reg, "tubecast_ws_clients")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHubUnregisterLeavesRoomsAndClosesSend(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	a := testClient("a", 1)
	hub.Register(a)
	room := uuid.New()
	hub.JoinRoom(room, "a")

	hub.Unregister(a)
	hub.Unregister(a)

	_, ok := <-a.send
	assert.False(t, ok)
	assert.Zero(t, hub.RoomSize(room))
	assert.Zero(t, hub.ClientCount())
	assert.False(t, hub.Send("a", livestream.OutStreamError, nil))
	hub.Broadcast(room, livestream.OutStreamEnded, nil)
	hub.Wait()
}

func TestHubCloseRoomKeepsConnections(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	a := testClient("a", 1)
	hub.Register(a)
	room := uuid.New()
	hub.JoinRoom(room, "a")
	hub.LeaveRoom(uuid.New(), "a")

	hub.CloseRoom(room)
	hub.Broadcast(room, livestream.OutStreamEnded, nil)

	assert.Empty(t, drain(a))
	assert.Equal(t, 1, hub.ClientCount())
	assert.True(t, hub.Send("a", livestream.OutStreamEnded, nil))
}
