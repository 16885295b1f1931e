package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"coderoom/internal/events"
	"coderoom/internal/metrics"
	"coderoom/internal/models"
	"coderoom/internal/store"
	"coderoom/internal/utils"
)

var ErrHubClosed = errors.New("hub is closed")

type Options struct {
	AutosaveDelay   time.Duration
	PersistTimeout  time.Duration
	DefaultDocument string
}

// Hub is the registry of active rooms. Lock order is hub, then room, then autosaver.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool

	store  store.DocumentStore
	events events.Publisher
	log    *utils.Logger
	opts   Options
}

func NewHub(st store.DocumentStore, pub events.Publisher, log *utils.Logger, opts Options) *Hub {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = utils.NopLogger()
	}
	if opts.AutosaveDelay <= 0 {
		opts.AutosaveDelay = DefaultAutosaveDelay
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.DefaultDocument == "" {
		opts.DefaultDocument = models.DefaultDocumentContent
	}
	return &Hub{
		rooms:  make(map[string]*Room),
		store:  st,
		events: pub,
		log:    log,
		opts:   opts,
	}
}

// EnsureRoom returns the room for id, creating it on first use.
func (h *Hub) EnsureRoom(id string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensureLocked(id)
}

func (h *Hub) ensureLocked(id string) *Room {
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := NewRoom(id, NewAutosaver(id, h.opts.AutosaveDelay, h.opts.PersistTimeout, h.persist))
	h.rooms[id] = r
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	return r
}

// AddMember joins c to room id. The hub lock is held across create and join
// so the reaper cannot remove the room in between.
func (h *Hub) AddMember(id string, c *Client) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	r := h.ensureLocked(id)
	r.Join(c)
	return r, nil
}

// RemoveMember takes c out of r, tells the remaining members and reaps r if it
// is now idle. Removing a connection that is not in the room does nothing.
func (h *Hub) RemoveMember(r *Room, c *Client) {
	if !r.Leave(c) {
		return
	}
	r.BroadcastPresence()
	h.reapRoom(r)
}

// SnapshotMembers returns a sorted copy of room id's member set.
func (h *Hub) SnapshotMembers(id string) []models.UserIdentity {
	r, ok := h.Get(id)
	if !ok {
		return []models.UserIdentity{}
	}
	return r.Members()
}

func (h *Hub) Get(id string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// List summarizes the active rooms ordered by id.
func (h *Hub) List() []models.RoomSummary {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, models.RoomSummary{
			RoomID:      r.ID,
			Members:     r.Members(),
			Connections: r.GetClientCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (h *Hub) reapRoom(r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[r.ID]; !ok || cur != r || !r.Idle() {
		return
	}
	delete(h.rooms, r.ID)
	metrics.RoomsReaped.Inc()
	metrics.ActiveRooms.Set(float64(len(h.rooms)))
	h.log.Debug("room reaped", "room", r.ID)
}

// Reap removes every room with no connections and no pending write. It
// returns the number of rooms removed.
func (h *Hub) Reap() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, r := range h.rooms {
		if r.Idle() {
			delete(h.rooms, id)
			n++
		}
	}
	if n > 0 {
		metrics.RoomsReaped.Add(float64(n))
		metrics.ActiveRooms.Set(float64(len(h.rooms)))
	}
	return n
}

// LoadDocument fetches the room's document, creating it with the default
// content when absent.
func (h *Hub) LoadDocument(ctx context.Context, roomID string) (*models.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.PersistTimeout)
	defer cancel()
	start := time.Now()
	doc, err := h.store.FindOrCreate(ctx, roomID, h.opts.DefaultDocument)
	metrics.ObservePersist("load", start, err)
	if err != nil {
		return nil, fmt.Errorf("load document for room %s: %w", roomID, err)
	}
	return doc, nil
}

// Document returns the stored document without creating one.
func (h *Hub) Document(ctx context.Context, roomID string) (*models.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.PersistTimeout)
	defer cancel()
	return h.store.FindByRoom(ctx, roomID)
}

func (h *Hub) persist(ctx context.Context, roomID, content string, kind models.SaveKind, by models.UserIdentity) error {
	start := time.Now()
	updatedAt := start.UTC()
	err := h.store.Upsert(ctx, roomID, content, updatedAt)
	metrics.ObservePersist(string(kind), start, err)
	if err != nil {
		h.log.Error("document write failed", "room", roomID, "kind", kind, "error", err.Error())
		return fmt.Errorf("persist room %s: %w", roomID, err)
	}
	h.log.Info("document saved", "room", roomID, "kind", kind, "user", by, "length", len(content))

	event := models.DocumentSavedEvent{
		RoomID:    roomID,
		Kind:      kind,
		SavedBy:   by,
		Length:    len(content),
		UpdatedAt: updatedAt.Format(time.RFC3339Nano),
	}
	if err := h.events.PublishDocumentSaved(ctx, event); err != nil {
		h.log.Warn("document saved event not published", "room", roomID, "error", err.Error())
	}
	return nil
}

// Close disconnects every client and closes every autosaver after flushing it. Rooms stay
// registered so late leaves find them; the hub accepts no work afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		for _, c := range r.clientList() {
			c.Close()
		}
		if flushed, err := r.Autosaver().Close(); err != nil {
			errs = append(errs, err)
		} else if flushed {
			h.log.Info("pending autosave flushed", "room", r.ID)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}
