package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"coderoom/internal/models"
)

const (
	DefaultAutosaveDelay  = time.Second
	DefaultPersistTimeout = 5 * time.Second
)

// ErrAutosaverClosed is returned by SaveNow once the autosaver has been closed.
var ErrAutosaverClosed = errors.New("autosaver closed")

// PersistFunc writes a room's content to durable storage.
type PersistFunc func(ctx context.Context, roomID, content string, kind models.SaveKind, by models.UserIdentity) error

// Autosaver owns the single debounce slot of one room. Each Schedule replaces
// the pending timer; writes for the room never overlap.
type Autosaver struct {
	roomID  string
	delay   time.Duration
	timeout time.Duration
	persist PersistFunc

	// writeMu is taken before mu.
	writeMu sync.Mutex

	mu      sync.Mutex
	latest  string
	editor  models.UserIdentity
	gen     uint64
	timer   *time.Timer
	writing int
	closed  bool
}

func NewAutosaver(roomID string, delay, timeout time.Duration, persist PersistFunc) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Autosaver{roomID: roomID, delay: delay, timeout: timeout, persist: persist}
}

// Schedule records content as the room's latest code and restarts the quiet period.
func (a *Autosaver) Schedule(content string, by models.UserIdentity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.latest = content
	a.editor = by
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
	}
	gen := a.gen
	a.timer = time.AfterFunc(a.delay, func() { a.fire(gen) })
}

func (a *Autosaver) fire(gen uint64) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.closed || gen != a.gen || a.timer == nil {
		// superseded by a later edit, an explicit save or a flush
		a.mu.Unlock()
		return
	}
	a.timer = nil
	content, by := a.latest, a.editor
	a.writing++
	a.mu.Unlock()

	_ = a.write(content, models.SaveKindAutosave, by)
}

// SaveNow cancels any pending timer and writes content immediately.
func (a *Autosaver) SaveNow(content string, by models.UserIdentity) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAutosaverClosed
	}
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.latest = content
	a.editor = by
	a.writing++
	a.mu.Unlock()

	return a.write(content, models.SaveKindExplicit, by)
}

// Flush writes the pending content now if a timer is armed. It reports
// whether a write was attempted.
func (a *Autosaver) Flush() (bool, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.timer == nil {
		a.mu.Unlock()
		return false, nil
	}
	a.timer.Stop()
	a.timer = nil
	a.gen++
	content, by := a.latest, a.editor
	a.writing++
	a.mu.Unlock()

	return true, a.write(content, models.SaveKindAutosave, by)
}

// Close flushes any pending content and stops the autosaver for good. Later
// Schedule calls are dropped and SaveNow returns ErrAutosaverClosed.
func (a *Autosaver) Close() (bool, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false, nil
	}
	a.closed = true
	a.gen++
	if a.timer == nil {
		a.mu.Unlock()
		return false, nil
	}
	a.timer.Stop()
	a.timer = nil
	content, by := a.latest, a.editor
	a.writing++
	a.mu.Unlock()

	return true, a.write(content, models.SaveKindAutosave, by)
}

// Pending reports whether a timer is armed or a write is in flight.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil || a.writing > 0
}

// write must be called with writeMu held and writing already incremented.
func (a *Autosaver) write(content string, kind models.SaveKind, by models.UserIdentity) error {
	defer func() {
		a.mu.Lock()
		a.writing--
		a.mu.Unlock()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.persist(ctx, a.roomID, content, kind, by)
}
