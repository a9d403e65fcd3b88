package livestream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tubecast/backend/internal/models"
)

// Entry is a point-in-time copy of one registered broadcast.
type Entry struct {
	SessionID    uuid.UUID
	OwnerID      uuid.UUID
	Broadcaster  ConnID
	ViewerCount  int
	Snapshot     *models.LiveSession
	RegisteredAt time.Time
}

// Registry tracks broadcasts that are live on this process. It holds no
// durable state: callers pair every mutation with a store update.
type Registry interface {
	Register(sessionID uuid.UUID, broadcaster ConnID, snapshot *models.LiveSession) error
	// AddViewer reports whether conn was newly added.
	AddViewer(sessionID uuid.UUID, conn ConnID) bool
	// RemoveViewer reports whether conn was present. Unknown handles are a no-op.
	RemoveViewer(sessionID uuid.UUID, conn ConnID) bool
	HasViewer(sessionID uuid.UUID, conn ConnID) bool
	Lookup(sessionID uuid.UUID) (Entry, bool)
	Unregister(sessionID uuid.UUID)
	FindSessionByBroadcasterConnection(conn ConnID) (uuid.UUID, bool)
	SessionsForViewer(conn ConnID) []uuid.UUID
	// UpdateSnapshot applies fn to the cached snapshot under the registry lock.
	UpdateSnapshot(sessionID uuid.UUID, fn func(s *models.LiveSession)) bool
	Count() int
	Clear()
}

type registryEntry struct {
	ownerID      uuid.UUID
	broadcaster  ConnID
	viewers      map[ConnID]struct{}
	snapshot     *models.LiveSession
	registeredAt time.Time
}

// MemoryRegistry is the process-local Registry.
type MemoryRegistry struct {
	mu            sync.RWMutex
	sessions      map[uuid.UUID]*registryEntry
	byOwner       map[uuid.UUID]uuid.UUID
	byBroadcaster map[ConnID]uuid.UUID
	byViewer      map[ConnID]map[uuid.UUID]struct{}
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions:      make(map[uuid.UUID]*registryEntry),
		byOwner:       make(map[uuid.UUID]uuid.UUID),
		byBroadcaster: make(map[ConnID]uuid.UUID),
		byViewer:      make(map[ConnID]map[uuid.UUID]struct{}),
	}
}

func (r *MemoryRegistry) Register(sessionID uuid.UUID, broadcaster ConnID, snapshot *models.LiveSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		return ErrAlreadyStreaming
	}
	if _, ok := r.byOwner[snapshot.OwnerID]; ok {
		return ErrAlreadyStreaming
	}
	if broadcaster != "" {
		if _, ok := r.byBroadcaster[broadcaster]; ok {
			return ErrAlreadyStreaming
		}
		r.byBroadcaster[broadcaster] = sessionID
	}
	r.sessions[sessionID] = &registryEntry{
		ownerID:      snapshot.OwnerID,
		broadcaster:  broadcaster,
		viewers:      make(map[ConnID]struct{}),
		snapshot:     snapshot.Clone(),
		registeredAt: time.Now(),
	}
	r.byOwner[snapshot.OwnerID] = sessionID
	return nil
}

func (r *MemoryRegistry) AddViewer(sessionID uuid.UUID, conn ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if _, dup := e.viewers[conn]; dup {
		return false
	}
	e.viewers[conn] = struct{}{}
	if r.byViewer[conn] == nil {
		r.byViewer[conn] = make(map[uuid.UUID]struct{})
	}
	r.byViewer[conn][sessionID] = struct{}{}
	return true
}

func (r *MemoryRegistry) RemoveViewer(sessionID uuid.UUID, conn ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := e.viewers[conn]; !ok {
		return false
	}
	delete(e.viewers, conn)
	r.dropViewerIndex(conn, sessionID)
	return true
}

func (r *MemoryRegistry) HasViewer(sessionID uuid.UUID, conn ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	_, ok = e.viewers[conn]
	return ok
}

func (r *MemoryRegistry) Lookup(sessionID uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		SessionID:    sessionID,
		OwnerID:      e.ownerID,
		Broadcaster:  e.broadcaster,
		ViewerCount:  len(e.viewers),
		Snapshot:     e.snapshot.Clone(),
		RegisteredAt: e.registeredAt,
	}, true
}

func (r *MemoryRegistry) Unregister(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(sessionID)
}

func (r *MemoryRegistry) unregisterLocked(sessionID uuid.UUID) {
	e, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for conn := range e.viewers {
		r.dropViewerIndex(conn, sessionID)
	}
	if e.broadcaster != "" {
		delete(r.byBroadcaster, e.broadcaster)
	}
	if r.byOwner[e.ownerID] == sessionID {
		delete(r.byOwner, e.ownerID)
	}
	delete(r.sessions, sessionID)
}

func (r *MemoryRegistry) dropViewerIndex(conn ConnID, sessionID uuid.UUID) {
	if set, ok := r.byViewer[conn]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byViewer, conn)
		}
	}
}

func (r *MemoryRegistry) FindSessionByBroadcasterConnection(conn ConnID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byBroadcaster[conn]
	return id, ok
}

func (r *MemoryRegistry) SessionsForViewer(conn ConnID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byViewer[conn]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (r *MemoryRegistry) UpdateSnapshot(sessionID uuid.UUID, fn func(s *models.LiveSession)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	fn(e.snapshot)
	return true
}

func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Clear drops every entry. Called once at shutdown.
func (r *MemoryRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[uuid.UUID]*registryEntry)
	r.byOwner = make(map[uuid.UUID]uuid.UUID)
	r.byBroadcaster = make(map[ConnID]uuid.UUID)
	r.byViewer = make(map[ConnID]map[uuid.UUID]struct{})
}
