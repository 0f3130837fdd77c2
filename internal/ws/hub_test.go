package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

type fakeArchive struct {
	mu      sync.Mutex
	saved   []*protocol.DrawOp
	undone  map[string]bool
	cleared []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{undone: make(map[string]bool)}
}

func (a *fakeArchive) SaveStroke(roomID string, op *protocol.DrawOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, op)
	return nil
}

func (a *fakeArchive) SetStrokeUndone(roomID, opID string, undone bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.undone[opID] = undone
	return nil
}

func (a *fakeArchive) SetUserStrokesUndone(roomID, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared = append(a.cleared, roomID+"/"+userID)
	return nil
}

func newTestHub(archive Archive) *Hub {
	return NewHub(archive, Config{LogCapacity: 100})
}

func newTestClient(h *Hub, id string) *Client {
	c := &Client{hub: h, send: make(chan []byte, 64), id: id}
	h.addClient(c)
	return c
}

func dispatch(t *testing.T, h *Hub, c *Client, mt protocol.MessageType, payload interface{}) {
	t.Helper()
	data, err := protocol.Encode(mt, payload)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	h.handle(&Message{Client: c, Envelope: env})
}

func join(t *testing.T, h *Hub, c *Client, roomID, name string) {
	t.Helper()
	dispatch(t, h, c, protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: roomID, UserName: name})
}

// Returns everything queued for the client so far
func drain(t *testing.T, c *Client) []*protocol.Envelope {
	t.Helper()
	var out []*protocol.Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			env, err := protocol.Decode(data)
			if err != nil {
				t.Fatalf("Client %s received undecodable frame: %v", c.id, err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func types(envs []*protocol.Envelope) []protocol.MessageType {
	out := make([]protocol.MessageType, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

func brushOp(t protocol.OpType, strokeID string) protocol.DrawOp {
	return protocol.DrawOp{
		Type: t,
		Stroke: &stroke.Stroke{
			ID:     strokeID,
			Kind:   stroke.Brush,
			Color:  "#000000",
			Width:  4,
			Points: []stroke.Point{{X: 1, Y: 1}, {X: 5, Y: 5}},
		},
	}
}

func TestJoinSendsWelcomeThenHistory(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")

	join(t, h, a, "r1", "Alice")
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "s1"))
	drain(t, a)

	join(t, h, b, "r1", "Bob")

	got := drain(t, b)
	if len(got) != 2 || got[0].Type != protocol.TypeWelcome || got[1].Type != protocol.TypeSyncHistory {
		t.Fatalf("Expected welcome then sync-history, got %v", types(got))
	}

	var welcome protocol.Welcome
	if err := got[0].Payload(&welcome); err != nil {
		t.Fatalf("Failed to decode welcome: %v", err)
	}
	if welcome.UserID != "b" || welcome.RoomID != "r1" {
		t.Errorf("Expected user b in room r1, got %s in %s", welcome.UserID, welcome.RoomID)
	}
	if len(welcome.Participants) != 2 {
		t.Errorf("Expected 2 participants, got %d", len(welcome.Participants))
	}

	var history []*protocol.DrawOp
	if err := got[1].Payload(&history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(history) != 1 || history[0].Stroke.ID != "s1" || history[0].UserID != "a" {
		t.Errorf("Expected history with stroke s1 from a, got %+v", history)
	}

	joined := drain(t, a)
	if len(joined) != 1 || joined[0].Type != protocol.TypeUserJoined {
		t.Fatalf("Expected user-joined for a, got %v", types(joined))
	}
	var p protocol.Participant
	joined[0].Payload(&p)
	if p.UserID != "b" || p.UserName != "Bob" || p.Color == "" {
		t.Errorf("Unexpected user-joined payload: %+v", p)
	}
}

func TestJoinDefaults(t *testing.T) {
	h := newTestHub(nil)
	c := newTestClient(h, "c")

	dispatch(t, h, c, protocol.TypeJoinRoom, nil)

	got := drain(t, c)
	if len(got) == 0 {
		t.Fatal("Expected a welcome")
	}
	var welcome protocol.Welcome
	got[0].Payload(&welcome)
	if welcome.RoomID != defaultRoomID {
		t.Errorf("Expected room %s, got %s", defaultRoomID, welcome.RoomID)
	}
	if welcome.Participants[0].UserName != defaultUserName {
		t.Errorf("Expected name %s, got %s", defaultUserName, welcome.Participants[0].UserName)
	}
	if welcome.Participants[0].Color != stroke.Palette[0] {
		t.Errorf("Expected first palette color, got %s", welcome.Participants[0].Color)
	}
}

func TestSecondJoinIgnored(t *testing.T) {
	h := newTestHub(nil)
	c := newTestClient(h, "c")

	join(t, h, c, "r1", "Carol")
	drain(t, c)
	join(t, h, c, "r2", "Carol")

	if got := drain(t, c); len(got) != 0 {
		t.Errorf("Expected no reply to second join, got %v", types(got))
	}
	if _, ok := h.directory.Get("r2"); ok {
		t.Error("Room r2 should not exist")
	}
}

func TestMessagesBeforeJoinDropped(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "lobby", "Alice")
	drain(t, a)

	dispatch(t, h, b, protocol.TypeDraw, brushOp(protocol.DrawEnd, "s1"))
	dispatch(t, h, b, protocol.TypeUndo, nil)
	dispatch(t, h, b, protocol.TypeCursorMove, protocol.CursorMove{X: 1, Y: 2})

	if got := drain(t, a); len(got) != 0 {
		t.Errorf("Expected nothing relayed, got %v", types(got))
	}
	if got := drain(t, b); len(got) != 0 {
		t.Errorf("Expected no reply to unjoined client, got %v", types(got))
	}
	r, _ := h.directory.Get("lobby")
	if r.Log.Len() != 0 {
		t.Errorf("Expected empty log, got %d entries", r.Log.Len())
	}
}

func TestDrawRelay(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	other := newTestClient(h, "o")
	join(t, h, a, "r1", "Alice")
	join(t, h, b, "r1", "Bob")
	join(t, h, other, "r2", "Otto")
	drain(t, a)
	drain(t, b)
	drain(t, other)

	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawStart, "s1"))
	dispatch(t, h, a, protocol.TypeDraw, protocol.DrawOp{
		Type: protocol.DrawPoint, StrokeID: "s1", Point: &stroke.Point{X: 2, Y: 2},
	})
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "s1"))

	if got := drain(t, a); len(got) != 0 {
		t.Errorf("Sender should not receive its own draw, got %v", types(got))
	}
	if got := drain(t, other); len(got) != 0 {
		t.Errorf("Other rooms should not receive draws, got %v", types(got))
	}

	got := drain(t, b)
	if len(got) != 3 {
		t.Fatalf("Expected 3 relayed draws, got %d", len(got))
	}
	var end protocol.DrawOp
	got[2].Payload(&end)
	if end.Type != protocol.DrawEnd || end.UserID != "a" || end.ID == "" {
		t.Errorf("Expected stamped draw-end, got %+v", end)
	}
	if end.Stroke.Owner != "a" {
		t.Errorf("Expected stroke owner a, got %s", end.Stroke.Owner)
	}

	r, _ := h.directory.Get("r1")
	if r.Log.Len() != 1 {
		t.Errorf("Only the draw-end should be logged, got %d entries", r.Log.Len())
	}
}

func TestDrawSenderCannotSpoofIdentity(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	join(t, h, a, "r1", "Alice")

	op := brushOp(protocol.DrawFull, "s1")
	op.UserID = "mallory"
	op.ID = "fixed"
	op.Undone = true
	dispatch(t, h, a, protocol.TypeDraw, op)

	r, _ := h.directory.Get("r1")
	logged := r.Log.ListAll()
	if len(logged) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(logged))
	}
	if logged[0].UserID != "a" || logged[0].ID == "fixed" || logged[0].Undone {
		t.Errorf("Expected server stamped entry, got %+v", logged[0])
	}
}

func TestInvalidDrawDropped(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "r1", "Alice")
	join(t, h, b, "r1", "Bob")
	drain(t, b)

	dispatch(t, h, a, protocol.TypeDraw, protocol.DrawOp{Type: protocol.DrawEnd})
	dispatch(t, h, a, protocol.TypeDraw, protocol.DrawOp{Type: "draw-sideways"})
	dispatch(t, h, a, protocol.TypeDraw, json.RawMessage(`{"type":"draw-end","stroke":{"id":"x","type":"spray","points":[{"x":1,"y":1}]}}`))

	if got := drain(t, b); len(got) != 0 {
		t.Errorf("Expected invalid draws dropped, got %v", types(got))
	}
}

func TestUndoRedoBroadcastToWholeRoom(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "r1", "Alice")
	join(t, h, b, "r1", "Bob")

	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "a1"))
	dispatch(t, h, b, protocol.TypeDraw, brushOp(protocol.DrawEnd, "b1"))
	drain(t, a)
	drain(t, b)

	dispatch(t, h, a, protocol.TypeUndo, nil)

	for _, c := range []*Client{a, b} {
		got := drain(t, c)
		if len(got) != 1 || got[0].Type != protocol.TypeUndo {
			t.Fatalf("Expected undo for %s, got %v", c.id, types(got))
		}
		var undo protocol.Undo
		got[0].Payload(&undo)
		if undo.UserID != "a" || undo.StrokeID != "a1" || undo.OpID == "" {
			t.Errorf("Unexpected undo payload: %+v", undo)
		}
	}

	r, _ := h.directory.Get("r1")
	active := r.Log.ListActive()
	if len(active) != 1 || active[0].Stroke.ID != "b1" {
		t.Errorf("Expected only b1 active, got %d entries", len(active))
	}

	// Nothing left for a to undo
	dispatch(t, h, a, protocol.TypeUndo, nil)
	if got := drain(t, b); len(got) != 0 {
		t.Errorf("Expected no broadcast for empty undo, got %v", types(got))
	}

	dispatch(t, h, a, protocol.TypeRedo, nil)
	got := drain(t, b)
	if len(got) != 1 || got[0].Type != protocol.TypeRedo {
		t.Fatalf("Expected redo, got %v", types(got))
	}
	var redo protocol.Redo
	got[0].Payload(&redo)
	if redo.UserID != "a" || redo.Stroke == nil || redo.Stroke.ID != "a1" {
		t.Errorf("Unexpected redo payload: %+v", redo)
	}
	if len(r.Log.ListActive()) != 2 {
		t.Errorf("Expected both strokes active after redo")
	}
}

func TestClearOnlyAffectsSender(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "r1", "Alice")
	join(t, h, b, "r1", "Bob")

	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "a1"))
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "a2"))
	dispatch(t, h, b, protocol.TypeDraw, brushOp(protocol.DrawEnd, "b1"))
	drain(t, a)
	drain(t, b)

	dispatch(t, h, a, protocol.TypeClear, nil)

	got := drain(t, b)
	if len(got) != 1 || got[0].Type != protocol.TypeClear {
		t.Fatalf("Expected clear, got %v", types(got))
	}
	if got := drain(t, a); len(got) != 1 {
		t.Errorf("Sender should also receive clear, got %v", types(got))
	}

	r, _ := h.directory.Get("r1")
	stats := r.Log.Stats()
	if stats.Total != 3 || stats.Undone != 2 || stats.Active != 1 {
		t.Errorf("Expected 3 total, 2 undone, 1 active, got %+v", stats)
	}
}

func TestCursorUpdate(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	dispatch(t, h, a, protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: "r1", UserName: "Alice", Color: "#123456"})
	join(t, h, b, "r1", "Bob")
	drain(t, a)
	drain(t, b)

	dispatch(t, h, a, protocol.TypeCursorMove, protocol.CursorMove{X: 10, Y: 20})

	if got := drain(t, a); len(got) != 0 {
		t.Errorf("Sender should not receive its cursor, got %v", types(got))
	}
	got := drain(t, b)
	if len(got) != 1 || got[0].Type != protocol.TypeCursorUpdate {
		t.Fatalf("Expected cursor-update, got %v", types(got))
	}
	var cu protocol.CursorUpdate
	got[0].Payload(&cu)
	if cu.UserID != "a" || cu.UserName != "Alice" || cu.Color != "#123456" || cu.X != 10 || cu.Y != 20 {
		t.Errorf("Unexpected cursor-update: %+v", cu)
	}
}

func TestDisconnectAnnouncesAndClosesEmptyRoom(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	b := newTestClient(h, "b")
	join(t, h, a, "r1", "Alice")
	join(t, h, b, "r1", "Bob")
	drain(t, a)
	drain(t, b)

	h.removeClient(b)

	got := drain(t, a)
	if len(got) != 1 || got[0].Type != protocol.TypeUserLeft {
		t.Fatalf("Expected user-left, got %v", types(got))
	}
	var left protocol.UserLeft
	got[0].Payload(&left)
	if left.UserID != "b" {
		t.Errorf("Expected b to leave, got %s", left.UserID)
	}
	if _, ok := <-b.send; ok {
		t.Error("Disconnected client's send channel should be closed")
	}

	// Late messages from a departed connection are ignored
	dispatch(t, h, b, protocol.TypeDraw, brushOp(protocol.DrawEnd, "late"))
	if got := drain(t, a); len(got) != 0 {
		t.Errorf("Expected nothing from departed client, got %v", types(got))
	}

	h.removeClient(a)
	if h.GetRoomCount() != 0 {
		t.Errorf("Expected room removed after last leave, got %d rooms", h.GetRoomCount())
	}

	// A room id reused after closing starts empty
	c := newTestClient(h, "c")
	join(t, h, c, "r1", "Carol")
	r, _ := h.directory.Get("r1")
	if r.Log.Len() != 0 {
		t.Errorf("Expected fresh log, got %d entries", r.Log.Len())
	}
}

func TestSlowClientEvicted(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "a")
	slow := &Client{hub: h, send: make(chan []byte, 2), id: "slow"}
	h.addClient(slow)
	join(t, h, a, "r1", "Alice")
	join(t, h, slow, "r1", "Slow")

	// welcome and sync-history fill the buffer
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "s1"))

	if !slow.sendClosed {
		t.Fatal("Expected slow client's send channel closed")
	}
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "s2"))

	n := 0
	for range slow.send {
		n++
	}
	if n != 2 {
		t.Errorf("Expected only the 2 buffered frames, got %d", n)
	}

	h.removeClient(slow)
	if _, ok := h.directory.Get("r1"); !ok {
		t.Error("Room should survive while a is connected")
	}
}

func TestArchiveReceivesDurableChanges(t *testing.T) {
	archive := newFakeArchive()
	h := newTestHub(archive)
	a := newTestClient(h, "a")
	join(t, h, a, "r1", "Alice")

	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawStart, "s1"))
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawEnd, "s1"))
	dispatch(t, h, a, protocol.TypeDraw, brushOp(protocol.DrawFull, "s2"))
	dispatch(t, h, a, protocol.TypeUndo, nil)
	dispatch(t, h, a, protocol.TypeClear, nil)

	h.Stop()

	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.saved) != 2 {
		t.Fatalf("Expected 2 saved strokes, got %d", len(archive.saved))
	}
	undoneID := archive.saved[1].ID
	if !archive.undone[undoneID] {
		t.Errorf("Expected %s marked undone", undoneID)
	}
	if len(archive.cleared) != 1 || archive.cleared[0] != "r1/a" {
		t.Errorf("Expected clear for r1/a, got %v", archive.cleared)
	}
}

func TestRunLoop(t *testing.T) {
	h := newTestHub(nil)
	go h.Run()
	defer h.Stop()

	a := &Client{hub: h, send: make(chan []byte, 16), id: "a"}
	h.register <- a

	data := protocol.MustEncode(protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: "loop", UserName: "Alice"})
	env, _ := protocol.Decode(data)
	h.inbound <- &Message{Client: a, Envelope: env}

	select {
	case frame := <-a.send:
		got, _ := protocol.Decode(frame)
		if got.Type != protocol.TypeWelcome {
			t.Errorf("Expected welcome, got %s", got.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for welcome")
	}

	if rooms := h.GetActiveRooms(); rooms["loop"] != 1 {
		t.Errorf("Expected 1 participant in loop, got %v", rooms)
	}
	info, ok := h.GetRoomInfo("loop")
	if !ok || len(info.Participants) != 1 || info.LogCapacity != 100 {
		t.Errorf("Unexpected room info: %+v", info)
	}

	h.unregister <- a
	deadline := time.Now().Add(2 * time.Second)
	for h.GetClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.GetClientCount() != 0 {
		t.Error("Expected client unregistered")
	}
}

func TestClearScenarioHistoryForLateJoiner(t *testing.T) {
	h := newTestHub(nil)
	a := newTestClient(h, "A")
	b := newTestClient(h, "B")
	c := newTestClient(h, "C")

	join(t, h, a, "r1", "A")
	s1 := brushOp(protocol.DrawEnd, "S1")
	s1.Stroke.Points = []stroke.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	dispatch(t, h, a, protocol.TypeDraw, s1)

	join(t, h, b, "r1", "B")
	got := drain(t, b)
	var history []*protocol.DrawOp
	got[1].Payload(&history)
	if len(history) != 1 || history[0].Stroke.ID != "S1" || history[0].Undone {
		t.Fatalf("Expected B to receive active S1, got %+v", history)
	}

	// Clear only touches the caller's own entries
	dispatch(t, h, b, protocol.TypeClear, nil)
	r, _ := h.directory.Get("r1")
	if len(r.Log.ListActive()) != 1 {
		t.Fatal("B's clear must not undo A's stroke")
	}

	dispatch(t, h, a, protocol.TypeClear, nil)

	join(t, h, c, "r1", "C")
	got = drain(t, c)
	history = nil
	got[1].Payload(&history)
	if len(history) != 1 || !history[0].Undone {
		t.Errorf("Expected C to see S1 marked undone, got %+v", history)
	}
	if len(r.Log.ListActive()) != 0 {
		t.Errorf("Expected S1 excluded from active listing")
	}
	if len(r.Log.ListAll()) != 1 {
		t.Errorf("Expected S1 retained in full history")
	}
}
