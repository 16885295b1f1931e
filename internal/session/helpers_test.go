package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"coderoom/internal/models"
	"coderoom/internal/store"
	"coderoom/internal/utils"
)

type frameCapture struct {
	mu     sync.Mutex
	frames []models.WSFrame
}

func newFrameCapture() *frameCapture { return &frameCapture{} }

func (c *frameCapture) hook(frame models.WSFrame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *frameCapture) list() []models.WSFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.WSFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *frameCapture) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

func (c *frameCapture) ofType(t string) []models.WSFrame {
	var out []models.WSFrame
	for _, f := range c.list() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// lastPresence returns the members of the most recent presence frame.
func (c *frameCapture) lastPresence(t *testing.T) []models.UserIdentity {
	t.Helper()
	frames := c.ofType(models.EventUserJoined)
	if len(frames) == 0 {
		t.Fatalf("expected a presence frame")
	}
	p, ok := frames[len(frames)-1].Data.(models.Presence)
	if !ok {
		t.Fatalf("unexpected presence payload %#v", frames[len(frames)-1].Data)
	}
	return p.Members
}

type write struct {
	roomID  string
	content string
}

type memStore struct {
	mu        sync.Mutex
	docs      map[string]models.Document
	writes    []write
	findErr   error
	upsertErr error
	// when block is set, Upsert signals started and waits for block to close
	block   chan struct{}
	started chan struct{}
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]models.Document), started: make(chan struct{}, 16)}
}

func (m *memStore) FindByRoom(_ context.Context, roomID string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	doc, ok := m.docs[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (m *memStore) FindOrCreate(_ context.Context, roomID, defaultContent string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	doc, ok := m.docs[roomID]
	if !ok {
		doc = models.Document{RoomID: roomID, Content: defaultContent, UpdatedAt: time.Now()}
		m.docs[roomID] = doc
	}
	return &doc, nil
}

func (m *memStore) Upsert(ctx context.Context, roomID, content string, updatedAt time.Time) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		m.started <- struct{}{}
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.docs[roomID] = models.Document{RoomID: roomID, Content: content, UpdatedAt: updatedAt}
	m.writes = append(m.writes, write{roomID: roomID, content: content})
	return nil
}

func (m *memStore) Close(context.Context) error { return nil }

func (m *memStore) writeList() []write {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]write, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *memStore) content(roomID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[roomID]
	return doc.Content, ok
}

var errStoreDown = errors.New("store down")

const testDelay = 30 * time.Millisecond

func newTestHub(st store.DocumentStore) *Hub {
	return NewHub(st, nil, utils.NopLogger(), Options{AutosaveDelay: testDelay, PersistTimeout: time.Second})
}

type testConn struct {
	client  *Client
	capture *frameCapture
	session *Session
}

func connect(hub *Hub, user models.UserIdentity) *testConn {
	client := NewClient(nil, user, 0)
	capture := newFrameCapture()
	client.SetSendHook(capture.hook)
	return &testConn{client: client, capture: capture, session: NewSession(hub, client, utils.NopLogger())}
}

func inbound(t *testing.T, eventType string, payload any) models.InboundFrame {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = b
	}
	return models.InboundFrame{Type: eventType, Data: data}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func sameMembers(got []models.UserIdentity, want ...models.UserIdentity) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
