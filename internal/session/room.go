package session

import (
	"sort"
	"sync"

	"coderoom/internal/models"
)

// Room holds the members and subscribed connections of one collaboration room.
type Room struct {
	ID string

	mu sync.Mutex
	// members counts joined connections per identity.
	members map[models.UserIdentity]int
	clients map[*Client]struct{}
	saver   *Autosaver
}

func NewRoom(id string, saver *Autosaver) *Room {
	return &Room{
		ID:      id,
		members: make(map[models.UserIdentity]int),
		clients: make(map[*Client]struct{}),
		saver:   saver,
	}
}

// Join subscribes c and adds its identity to the member set. Joining twice is a no-op.
func (r *Room) Join(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		return
	}
	r.clients[c] = struct{}{}
	r.members[c.User]++
}

// Leave unsubscribes c. It reports false when c was not in the room.
func (r *Room) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	if n := r.members[c.User]; n <= 1 {
		delete(r.members, c.User)
	} else {
		r.members[c.User] = n - 1
	}
	return true
}

func (r *Room) Has(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[c]
	return ok
}

func (r *Room) GetClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Members returns a sorted copy of the member set.
func (r *Room) Members() []models.UserIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []models.UserIdentity {
	out := make([]models.UserIdentity, 0, len(r.members))
	for u := range r.members {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Emit delivers frame to every subscribed connection except the given one.
// Frames are queued under the room lock so all members see one order.
func (r *Room) Emit(frame models.WSFrame, except *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c == except {
			continue
		}
		c.Send(frame)
	}
}

// Relay emits an edit and records it for autosave in one room-locked step, so
// the persisted code is always the last code peers were sent.
func (r *Room) Relay(frame models.WSFrame, except *Client, code string, by models.UserIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		if c == except {
			continue
		}
		c.Send(frame)
	}
	r.saver.Schedule(code, by)
}

// BroadcastPresence sends the current member set to the whole room.
func (r *Room) BroadcastPresence() {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame := models.WSFrame{
		Type: models.EventUserJoined,
		Data: models.Presence{Members: r.membersLocked()},
	}
	for c := range r.clients {
		c.Send(frame)
	}
}

func (r *Room) Autosaver() *Autosaver { return r.saver }

// Idle reports whether the room has no connections and nothing left to persist.
func (r *Room) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients) == 0 && !r.saver.Pending()
}

func (r *Room) clientList() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}
