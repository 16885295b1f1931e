package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"coderoom/internal/models"
	"coderoom/internal/utils"
)

func TestClientSendWithHook(t *testing.T) {
	client := NewClient(nil, "u", 0)
	capture := newFrameCapture()
	client.SetSendHook(capture.hook)

	if !client.Send(models.WSFrame{Type: "ping"}) {
		t.Fatalf("expected hooked send to succeed")
	}
	got := capture.list()
	if len(got) != 1 || got[0].Type != "ping" {
		t.Fatalf("expected frame captured, got %#v", got)
	}
}

func TestClientSendWithoutConnDoesNotPanic(t *testing.T) {
	client := NewClient(nil, "u", 0)
	client.Send(models.WSFrame{Type: "noop"})
	client.WritePump()
}

func TestClientSendDropsWhenQueueFull(t *testing.T) {
	client := NewClient(nil, "u", 2)
	if !client.Send(models.WSFrame{Type: "a"}) || !client.Send(models.WSFrame{Type: "b"}) {
		t.Fatalf("expected queue to accept two frames")
	}
	if client.Send(models.WSFrame{Type: "c"}) {
		t.Fatalf("expected third frame to be dropped")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := NewClient(nil, "u", 0)
	client.Close()
	client.Close()
	if !client.Closed() {
		t.Fatalf("expected client closed")
	}
	if client.Send(models.WSFrame{Type: "late"}) {
		t.Fatalf("expected send after close to be dropped")
	}
}

func TestClientWritePumpWritesToConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(conn, "u", 0)
		client.Send(models.WSFrame{Type: "ping"})
		client.Close()
		client.WritePump()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var frame models.WSFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != "ping" {
		t.Fatalf("unexpected frame: %#v", frame)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestRoomMembersCountConnectionsPerUser(t *testing.T) {
	room := NewRoom("room", NewAutosaver("room", time.Hour, time.Second, nil))
	u1 := NewClient(nil, "alice", 0)
	u2 := NewClient(nil, "alice", 0)
	v := NewClient(nil, "bob", 0)
	room.Join(u1)
	room.Join(u2)
	room.Join(v)
	room.Join(v)

	if count := room.GetClientCount(); count != 3 {
		t.Fatalf("expected 3 clients, got %d", count)
	}
	if got := room.Members(); !sameMembers(got, "alice", "bob") {
		t.Fatalf("unexpected members %v", got)
	}

	room.Leave(u1)
	if got := room.Members(); !sameMembers(got, "alice", "bob") {
		t.Fatalf("alice should stay while a connection remains, got %v", got)
	}
	room.Leave(u2)
	if got := room.Members(); !sameMembers(got, "bob") {
		t.Fatalf("expected only bob, got %v", got)
	}
	if room.Leave(u2) {
		t.Fatalf("expected second leave to report false")
	}
}

func TestRoomPresenceIsACopy(t *testing.T) {
	room := NewRoom("room", NewAutosaver("room", time.Hour, time.Second, nil))
	c := NewClient(nil, "alice", 0)
	capture := newFrameCapture()
	c.SetSendHook(capture.hook)
	room.Join(c)
	room.BroadcastPresence()

	members := capture.lastPresence(t)
	members[0] = "mallory"
	if got := room.Members(); !sameMembers(got, "alice") {
		t.Fatalf("presence payload aliases room state: %v", got)
	}
}

func TestRoomEmitSkipsExcluded(t *testing.T) {
	room := NewRoom("room", NewAutosaver("room", time.Hour, time.Second, nil))
	a, b := NewClient(nil, "a", 0), NewClient(nil, "b", 0)
	ca, cb := newFrameCapture(), newFrameCapture()
	a.SetSendHook(ca.hook)
	b.SetSendHook(cb.hook)
	room.Join(a)
	room.Join(b)

	room.Emit(models.WSFrame{Type: "x"}, a)
	if len(ca.list()) != 0 || len(cb.list()) != 1 {
		t.Fatalf("expected only b to receive, got a=%d b=%d", len(ca.list()), len(cb.list()))
	}
	room.Emit(models.WSFrame{Type: "y"}, nil)
	if len(ca.list()) != 1 || len(cb.list()) != 2 {
		t.Fatalf("expected broadcast to all, got a=%d b=%d", len(ca.list()), len(cb.list()))
	}
}

func TestJoinLoadsDefaultDocument(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(st)
	u := connect(hub, "U")

	u.session.Handle(context.Background(), inbound(t, models.EventJoin, models.JoinRequest{RoomID: "r1"}))

	loads := u.capture.ofType(models.EventLoadDocument)
	if len(loads) != 1 {
		t.Fatalf("expected one loadDocument, got %#v", u.capture.list())
	}
	if got := loads[0].Data.(models.LoadDocument).Code; got != models.DefaultDocumentContent {
		t.Fatalf("expected default content, got %q", got)
	}
	if got := u.capture.lastPresence(t); !sameMembers(got, "U") {
		t.Fatalf("expected presence [U], got %v", got)
	}
	frames := u.capture.list()
	if frames[0].Type != models.EventLoadDocument || frames[1].Type != models.EventUserJoined {
		t.Fatalf("expected loadDocument before presence, got %#v", frames)
	}
	if id, ok := u.session.RoomID(); !ok || id != "r1" {
		t.Fatalf("expected joined r1, got %q %v", id, ok)
	}
}

func TestJoinLoadsExistingDocument(t *testing.T) {
	st := newMemStore()
	st.docs["r1"] = models.Document{RoomID: "r1", Content: "print(1)"}
	hub := newTestHub(st)
	u := connect(hub, "U")

	u.session.Join(context.Background(), "r1")

	loads := u.capture.ofType(models.EventLoadDocument)
	if len(loads) != 1 || loads[0].Data.(models.LoadDocument).Code != "print(1)" {
		t.Fatalf("expected stored content, got %#v", loads)
	}
}

func TestJoinStoreFailureKeepsMembership(t *testing.T) {
	st := newMemStore()
	st.findErr = errStoreDown
	hub := newTestHub(st)
	u := connect(hub, "U")

	u.session.Join(context.Background(), "r1")

	if loads := u.capture.ofType(models.EventLoadDocument); len(loads) != 0 {
		t.Fatalf("expected no loadDocument on store failure, got %#v", loads)
	}
	if got := u.capture.lastPresence(t); !sameMembers(got, "U") {
		t.Fatalf("expected joiner to stay present, got %v", got)
	}
	if got := hub.SnapshotMembers("r1"); !sameMembers(got, "U") {
		t.Fatalf("expected registry membership, got %v", got)
	}
}

func TestCodeChangeReachesOthersOnly(t *testing.T) {
	hub := newTestHub(newMemStore())
	u := connect(hub, "U")
	v := connect(hub, "V")
	ctx := context.Background()
	u.session.Join(ctx, "r2")
	v.session.Join(ctx, "r2")
	u.capture.reset()
	v.capture.reset()

	u.session.Handle(ctx, inbound(t, models.EventCodeChange, models.CodeChange{RoomID: "r2", Code: "y"}))

	got := v.capture.ofType(models.EventCodeUpdate)
	if len(got) != 1 || got[0].Data.(models.CodeUpdate).Code != "y" {
		t.Fatalf("expected V to receive codeUpdate y, got %#v", v.capture.list())
	}
	if len(u.capture.ofType(models.EventCodeUpdate)) != 0 {
		t.Fatalf("sender must not receive its own codeUpdate")
	}
}

func TestTypingCarriesSenderIdentity(t *testing.T) {
	hub := newTestHub(newMemStore())
	u := connect(hub, "U")
	v := connect(hub, "V")
	ctx := context.Background()
	u.session.Join(ctx, "r")
	v.session.Join(ctx, "r")

	u.session.Handle(ctx, inbound(t, models.EventTyping, models.Typing{RoomID: "r"}))

	got := v.capture.ofType(models.EventUserTyping)
	if len(got) != 1 || got[0].Data.(models.UserTyping).User != "U" {
		t.Fatalf("expected userTyping from U, got %#v", got)
	}
	if len(u.capture.ofType(models.EventUserTyping)) != 0 {
		t.Fatalf("sender must not receive its own typing event")
	}
}

func TestLanguageChangeIncludesSender(t *testing.T) {
	hub := newTestHub(newMemStore())
	u := connect(hub, "U")
	v := connect(hub, "V")
	ctx := context.Background()
	u.session.Join(ctx, "r")
	v.session.Join(ctx, "r")

	u.session.Handle(ctx, inbound(t, models.EventLanguageChange, models.LanguageChange{RoomID: "r", Language: "go"}))

	for name, c := range map[string]*frameCapture{"U": u.capture, "V": v.capture} {
		got := c.ofType(models.EventLanguageUpdate)
		if len(got) != 1 || got[0].Data.(models.LanguageUpdate).Language != "go" {
			t.Fatalf("expected %s to receive languageUpdate, got %#v", name, got)
		}
	}
}

func TestCodeChangeAutosavesAfterQuietPeriod(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(st)
	u := connect(hub, "U")
	ctx := context.Background()
	u.session.Join(ctx, "r1")

	u.session.Handle(ctx, inbound(t, models.EventCodeChange, models.CodeChange{RoomID: "r1", Code: "x=1"}))

	waitFor(t, time.Second, func() bool {
		content, _ := st.content("r1")
		return content == "x=1"
	}, "autosave of x=1")
}

func TestSaveDocumentAcksRequesterOnly(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(st)
	u := connect(hub, "U")
	v := connect(hub, "V")
	ctx := context.Background()
	u.session.Join(ctx, "r")
	v.session.Join(ctx, "r")

	u.session.Handle(ctx, inbound(t, models.EventSaveDocument, models.SaveDocument{RoomID: "r", Code: "saved"}))

	acks := u.capture.ofType(models.EventDocumentSaved)
	if len(acks) != 1 || !acks[0].Data.(models.DocumentSaved).Success {
		t.Fatalf("expected success ack, got %#v", acks)
	}
	if len(v.capture.ofType(models.EventDocumentSaved)) != 0 {
		t.Fatalf("save ack must not be broadcast")
	}
	if content, _ := st.content("r"); content != "saved" {
		t.Fatalf("expected immediate write, got %q", content)
	}
}

func TestSaveDocumentFailureAcksFalse(t *testing.T) {
	st := newMemStore()
	st.upsertErr = errStoreDown
	hub := newTestHub(st)
	u := connect(hub, "U")
	ctx := context.Background()
	u.session.Join(ctx, "r")

	u.session.SaveDocument("x")

	acks := u.capture.ofType(models.EventDocumentSaved)
	if len(acks) != 1 || acks[0].Data.(models.DocumentSaved).Success {
		t.Fatalf("expected failure ack, got %#v", acks)
	}
}

func TestSaveDocumentCancelsPendingAutosave(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(st)
	u := connect(hub, "U")
	ctx := context.Background()
	u.session.Join(ctx, "r")

	u.session.CodeChange("draft")
	u.session.SaveDocument("final")
	time.Sleep(3 * testDelay)

	writes := st.writeList()
	if len(writes) != 1 || writes[0].content != "final" {
		t.Fatalf("expected only the explicit write, got %#v", writes)
	}

	u.session.CodeChange("after")
	waitFor(t, time.Second, func() bool { return len(st.writeList()) == 2 }, "autosave after explicit save")
	if content, _ := st.content("r"); content != "after" {
		t.Fatalf("expected later edit persisted, got %q", content)
	}
}

func TestEventsWhileUnjoinedAreIgnored(t *testing.T) {
	st := newMemStore()
	hub := newTestHub(st)
	u := connect(hub, "U")
	ctx := context.Background()

	u.session.Handle(ctx, inbound(t, models.EventCodeChange, models.CodeChange{Code: "x"}))
	u.session.Handle(ctx, inbound(t, models.EventTyping, nil))
	u.session.Handle(ctx, inbound(t, models.EventLanguageChange, models.LanguageChange{Language: "go"}))
	u.session.Handle(ctx, inbound(t, models.EventSaveDocument, models.SaveDocument{Code: "x"}))
	u.session.Handle(ctx, inbound(t, models.EventLeaveRoom, nil))
	time.Sleep(2 * testDelay)

	if frames := u.capture.list(); len(frames) != 0 {
		t.Fatalf("expected no frames while unjoined, got %#v", frames)
	}
	if writes := st.writeList(); len(writes) != 0 {
		t.Fatalf("expected no writes while unjoined, got %#v", writes)
	}
	if hub.RoomCount() != 0 {
		t.Fatalf("expected no rooms created")
	}
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	hub := newTestHub(newMemStore())
	u := connect(hub, "U")
	ctx := context.Background()

	u.session.Handle(ctx, models.InboundFrame{Type: "bogus"})
	u.session.Handle(ctx, models.InboundFrame{Type: models.EventJoin, Data: []byte(`{"roomId": 5}`)})

	frames := u.capture.list()
	if len(frames) != 2 {
		t.Fatalf("expected two error frames, got %#v", frames)
	}
	if frames[0].Type != models.EventError || frames[0].Data != "unknown_type" {
		t.Fatalf("unexpected frame %#v", frames[0])
	}
	if frames[1].Type != models.EventError || frames[1].Data != "invalid_payload" {
		t.Fatalf("unexpected frame %#v", frames[1])
	}
	if _, ok := u.session.RoomID(); ok {
		t.Fatalf("malformed join must not join a room")
	}
}

func TestRoomSwitchBroadcastsOnceToEachRoom(t *testing.T) {
	hub := newTestHub(newMemStore())
	u := connect(hub, "U")
	v := connect(hub, "V")
	w := connect(hub, "W")
	ctx := context.Background()
	u.session.Join(ctx, "old")
	v.session.Join(ctx, "old")
	w.session.Join(ctx, "new")
	v.capture.reset()
	w.capture.reset()

	u.session.Join(ctx, "new")

	if got := v.capture.ofType(models.EventUserJoined); len(got) != 1 {
		t.Fatalf("expected one presence frame in old room, got %#v", got)
	}
	if got := v.capture.lastPresence(t); !sameMembers(got, "V") {
		t.Fatalf("expected old room presence [V], got %v", got)
	}
	if got := w.capture.ofType(models.EventUserJoined); len(got) != 1 {
		t.Fatalf("expected one presence frame in new room, got %#v", got)
	}
	if got := w.capture.lastPresence(t); !sameMembers(got, "U", "W") {
		t.Fatalf("expected new room presence [U W], got %v", got)
	}
	if id, _ := u.session.RoomID(); id != "new" {
		t.Fatalf("expected session in new room, got %q", id)
	}
	if old, ok := hub.Get("old"); !ok || old.Has(u.client) {
		t.Fatalf("expected U unsubscribed from old room")
	}
}

func TestPresenceMatchesJoinedUsers(t *testing.T) {
	hub := newTestHub(newMemStore())
	ctx := context.Background()
	a := connect(hub, "a")
	b := connect(hub, "b")
	c := connect(hub, "c")
	observer := connect(hub, "z")
	observer.session.Join(ctx, "r")

	a.session.Join(ctx, "r")
	b.session.Join(ctx, "r")
	a.session.Leave()
	c.session.Join(ctx, "r")
	a.session.Join(ctx, "r")
	b.session.Leave()
	b.session.Leave()

	if got := observer.capture.lastPresence(t); !sameMembers(got, "a", "c", "z") {
		t.Fatalf("expected [a c z], got %v", got)
	}
	if got := hub.SnapshotMembers("r"); !sameMembers(got, "a", "c", "z") {
		t.Fatalf("expected registry [a c z], got %v", got)
	}
}

func TestSameUserTwoConnections(t *testing.T) {
	hub := newTestHub(newMemStore())
	ctx := context.Background()
	u1 := connect(hub, "U")
	u2 := connect(hub, "U")
	v := connect(hub, "V")
	u1.session.Join(ctx, "r")
	u2.session.Join(ctx, "r")
	v.session.Join(ctx, "r")

	u1.session.Close()
	if got := v.capture.lastPresence(t); !sameMembers(got, "U", "V") {
		t.Fatalf("U should remain present through its second connection, got %v", got)
	}
	u2.session.Close()
	if got := v.capture.lastPresence(t); !sameMembers(got, "V") {
		t.Fatalf("expected [V], got %v", got)
	}
}

func TestDisconnectBroadcastsPresenceOnce(t *testing.T) {
	hub := newTestHub(newMemStore())
	ctx := context.Background()
	u := connect(hub, "U")
	v := connect(hub, "V")
	u.session.Join(ctx, "r3")
	v.session.Join(ctx, "r3")
	v.capture.reset()

	u.session.Close()
	u.session.Close()
	u.session.Leave()

	got := v.capture.ofType(models.EventUserJoined)
	if len(got) != 1 {
		t.Fatalf("expected exactly one presence update, got %#v", got)
	}
	if members := v.capture.lastPresence(t); !sameMembers(members, "V") {
		t.Fatalf("expected [V], got %v", members)
	}
	if !u.client.Closed() {
		t.Fatalf("expected connection released")
	}

	u.session.Join(ctx, "r3")
	if _, ok := u.session.RoomID(); ok {
		t.Fatalf("closed session must not rejoin")
	}
}

func TestConcurrentCodeChangesPersistLastRelayed(t *testing.T) {
	for i := 0; i < 200; i++ {
		st := newMemStore()
		hub := NewHub(st, nil, utils.NopLogger(), Options{AutosaveDelay: time.Hour})
		ctx := context.Background()
		a := connect(hub, "A")
		b := connect(hub, "B")
		c := connect(hub, "C")
		a.session.Join(ctx, "r")
		b.session.Join(ctx, "r")
		c.session.Join(ctx, "r")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); a.session.CodeChange("from A") }()
		go func() { defer wg.Done(); b.session.CodeChange("from B") }()
		wg.Wait()

		room, _ := hub.Get("r")
		if _, err := room.Autosaver().Flush(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		updates := c.capture.ofType(models.EventCodeUpdate)
		if len(updates) != 2 {
			t.Fatalf("expected two relayed updates, got %#v", updates)
		}
		relayed := updates[len(updates)-1].Data.(models.CodeUpdate).Code
		if saved, _ := st.content("r"); saved != relayed {
			t.Fatalf("iteration %d: persisted %q but peers last saw %q", i, saved, relayed)
		}
	}
}

func TestConcurrentLeaveAndCloseBroadcastOnce(t *testing.T) {
	for i := 0; i < 100; i++ {
		hub := newTestHub(newMemStore())
		ctx := context.Background()
		u := connect(hub, "U")
		v := connect(hub, "V")
		u.session.Join(ctx, "r")
		v.session.Join(ctx, "r")
		v.capture.reset()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); u.session.Leave() }()
		go func() { defer wg.Done(); u.session.Close() }()
		wg.Wait()

		got := v.capture.ofType(models.EventUserJoined)
		if len(got) != 1 {
			t.Fatalf("iteration %d: expected one presence update, got %#v", i, got)
		}
		if members := v.capture.lastPresence(t); !sameMembers(members, "V") {
			t.Fatalf("iteration %d: expected [V], got %v", i, members)
		}
	}
}
