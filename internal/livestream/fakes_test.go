package livestream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tubecast/backend/internal/models"
)

var errStoreDown = errors.New("store unreachable")

type memSessionStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.LiveSession
	viewers   map[uuid.UUID]map[uuid.UUID]bool
	reactions map[uuid.UUID]map[uuid.UUID]models.Reaction
	donations map[uuid.UUID][]models.Donation

	failSave   error
	failSaves  int
	failCounts error
	failCreate error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		rows:      make(map[uuid.UUID]*models.LiveSession),
		viewers:   make(map[uuid.UUID]map[uuid.UUID]bool),
		reactions: make(map[uuid.UUID]map[uuid.UUID]models.Reaction),
		donations: make(map[uuid.UUID][]models.Donation),
	}
}

func (m *memSessionStore) Create(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	for _, r := range m.rows {
		if r.OwnerID == s.OwnerID && !r.Status.Terminal() {
			return ErrAlreadyStreaming
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	m.rows[s.ID] = s.Clone()
	return nil
}

func (m *memSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return r.Clone(), nil
}

func (m *memSessionStore) FindActiveByOwner(_ context.Context, ownerID uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.OwnerID == ownerID && !r.Status.Terminal() {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) Save(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	if m.failSaves > 0 {
		m.failSaves--
		return errStoreDown
	}
	if _, ok := m.rows[s.ID]; !ok {
		return ErrSessionNotFound
	}
	m.rows[s.ID] = s.Clone()
	return nil
}

func (m *memSessionStore) UpdateViewerCounts(_ context.Context, id uuid.UUID, current, peak, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCounts != nil {
		return m.failCounts
	}
	r, ok := m.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	r.CurrentViewers, r.PeakViewers, r.TotalViewers = current, peak, total
	return nil
}

func (m *memSessionStore) AddUniqueViewer(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.viewers[id] == nil {
		m.viewers[id] = make(map[uuid.UUID]bool)
	}
	m.viewers[id][userID] = true
	return nil
}

func (m *memSessionStore) AddModerator(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Moderators = append(r.Moderators, userID)
	return nil
}

func (m *memSessionStore) RemoveModerator(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[id]
	r.Moderators = withoutID(r.Moderators, userID)
	return nil
}

func (m *memSessionStore) SetReaction(_ context.Context, id, userID uuid.UUID, r models.Reaction) (models.ReactionCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reactions[id] == nil {
		m.reactions[id] = make(map[uuid.UUID]models.Reaction)
	}
	if r == models.ReactionNone {
		delete(m.reactions[id], userID)
	} else {
		m.reactions[id][userID] = r
	}
	var counts models.ReactionCounts
	for _, v := range m.reactions[id] {
		switch v {
		case models.ReactionLike:
			counts.Likes++
		case models.ReactionDislike:
			counts.Dislikes++
		}
	}
	return counts, nil
}

func (m *memSessionStore) AddDonation(_ context.Context, d *models.Donation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	m.donations[d.SessionID] = append(m.donations[d.SessionID], *d)
	var total int64
	for _, x := range m.donations[d.SessionID] {
		if x.Currency == d.Currency {
			total += x.AmountCents
		}
	}
	return total, nil
}

func (m *memSessionStore) SetRecordingSource(_ context.Context, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].RecordingSourceURL = url
	return nil
}

func (m *memSessionStore) LinkRecording(_ context.Context, id, videoID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].RecordingID = &videoID
	return nil
}

func (m *memSessionStore) ListLive(_ context.Context, limit int, publicOnly bool) ([]models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LiveSession
	for _, r := range m.rows {
		if r.Status != models.SessionLive || (publicOnly && r.Visibility != models.VisibilityPublic) {
			continue
		}
		out = append(out, *r.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memSessionStore) row(id uuid.UUID) *models.LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Clone()
}

type memChatStore struct {
	mu      sync.Mutex
	seq     int64
	clock   time.Time
	entries map[uuid.UUID]*models.ChatEntry
	inserts int
}

func newMemChatStore() *memChatStore {
	return &memChatStore{
		clock:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		entries: make(map[uuid.UUID]*models.ChatEntry),
	}
}

func (m *memChatStore) Insert(_ context.Context, e *models.ChatEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.clock = m.clock.Add(time.Second)
	e.ID = uuid.New()
	e.Seq = m.seq
	e.CreatedAt = m.clock
	cp := *e
	m.entries[e.ID] = &cp
	m.inserts++
	return nil
}

func (m *memChatStore) GetByID(_ context.Context, id uuid.UUID) (*models.ChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memChatStore) Recent(_ context.Context, sessionID uuid.UUID, limit int) ([]models.ChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatEntry
	for _, e := range m.entries {
		if e.SessionID == sessionID && !e.Deleted {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memChatStore) SoftDelete(_ context.Context, id, deleterID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, ErrEntryNotFound
	}
	if e.Deleted {
		return false, nil
	}
	e.Deleted = true
	e.Pinned = false
	e.Body = models.DeletedPlaceholder
	e.DeletedBy = &deleterID
	e.DeletedAt = &at
	return true, nil
}

func (m *memChatStore) Pin(_ context.Context, sessionID, entryID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			e.Pinned = e.ID == entryID
		}
	}
	return nil
}

func (m *memChatStore) pinnedCount(sessionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.SessionID == sessionID && e.Pinned {
			n++
		}
	}
	return n
}

func (m *memChatStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type fakeSubs struct {
	subscribed map[uuid.UUID]bool
}

func (f fakeSubs) IsSubscribed(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f.subscribed[userID], nil
}

type delivery struct {
	conn    ConnID
	event   string
	payload interface{}
}

// fakeRoom records what each connection would have received.
type fakeRoom struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]map[ConnID]bool
	out    []delivery
	closed []uuid.UUID
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{rooms: make(map[uuid.UUID]map[ConnID]bool)}
}

func (f *fakeRoom) JoinRoom(sessionID uuid.UUID, conn ConnID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[sessionID] == nil {
		f.rooms[sessionID] = make(map[ConnID]bool)
	}
	f.rooms[sessionID][conn] = true
}

func (f *fakeRoom) LeaveRoom(sessionID uuid.UUID, conn ConnID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[sessionID], conn)
}

func (f *fakeRoom) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	f.BroadcastExcept(sessionID, "", event, payload)
}

func (f *fakeRoom) BroadcastExcept(sessionID uuid.UUID, except ConnID, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.rooms[sessionID] {
		if conn != except {
			f.out = append(f.out, delivery{conn: conn, event: event, payload: payload})
		}
	}
}

func (f *fakeRoom) Send(conn ConnID, event string, payload interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, delivery{conn: conn, event: event, payload: payload})
	return true
}

func (f *fakeRoom) CloseRoom(sessionID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, sessionID)
	f.closed = append(f.closed, sessionID)
}

func (f *fakeRoom) members(sessionID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rooms[sessionID])
}

func (f *fakeRoom) events(conn ConnID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.out {
		if d.conn == conn {
			out = append(out, d.event)
		}
	}
	return out
}

// last returns the newest payload of event delivered to conn, or nil.
func (f *fakeRoom) last(conn ConnID, event string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.out) - 1; i >= 0; i-- {
		if f.out[i].conn == conn && f.out[i].event == event {
			return f.out[i].payload
		}
	}
	return nil
}

func (f *fakeRoom) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.out {
		if d.event == event {
			n++
		}
	}
	return n
}

func (f *fakeRoom) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = nil
}

// recorder is a Listener that keeps every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
