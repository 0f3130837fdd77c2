package ws

import (
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/manpreetbhatti/easel/internal/oplog"
	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/ratelimit"
	"github.com/manpreetbhatti/easel/internal/room"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

const (
	defaultRoomID   = "lobby"
	defaultUserName = "Anonymous"
)

// Archive receives finalized strokes and undo state changes. Writes happen
// off the event loop and are best effort.
type Archive interface {
	SaveStroke(roomID string, op *protocol.DrawOp) error
	SetStrokeUndone(roomID, opID string, undone bool) error
	SetUserStrokesUndone(roomID, userID string) error
}

type Config struct {
	// Operations kept per room before the oldest are evicted
	LogCapacity int

	// Pending archive writes before new ones are dropped
	ArchiveQueue int

	// Connection attempts per second allowed from one remote host
	ConnectRate  float64
	ConnectBurst int
}

func DefaultConfig() Config {
	return Config{
		LogCapacity:  oplog.DefaultCapacity,
		ArchiveQueue: 1024,
		ConnectRate:  5,
		ConnectBurst: 20,
	}
}

// Hub is the session relay. Every room and log mutation happens on the Run
// goroutine, one inbound message at a time in arrival order. mu only guards
// the read accessors used by the HTTP API.
type Hub struct {
	directory *room.Directory

	// Registered connections by connection id
	clients map[string]*Client

	// Decoded messages from clients
	inbound chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	recorder   *recorder
	connLimits *ratelimit.ClientLimiters

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	mu sync.RWMutex
}

type Message struct {
	Client   *Client
	Envelope *protocol.Envelope
}

// Creates a hub. archive may be nil when strokes are not archived.
func NewHub(archive Archive, config Config) *Hub {
	defaults := DefaultConfig()
	if config.LogCapacity <= 0 {
		config.LogCapacity = defaults.LogCapacity
	}
	if config.ArchiveQueue <= 0 {
		config.ArchiveQueue = defaults.ArchiveQueue
	}
	if config.ConnectRate <= 0 {
		config.ConnectRate = defaults.ConnectRate
	}
	if config.ConnectBurst <= 0 {
		config.ConnectBurst = defaults.ConnectBurst
	}

	h := &Hub{
		directory:  room.NewDirectory(config.LogCapacity),
		clients:    make(map[string]*Client),
		inbound:    make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		connLimits: ratelimit.NewClientLimiters(config.ConnectRate, config.ConnectBurst),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if archive != nil {
		h.recorder = newRecorder(archive, config.ArchiveQueue)
	}
	return h
}

func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.inbound:
			h.handle(message)

		case <-h.stop:
			return
		}
	}
}

// Stops the event loop and drains pending archive writes
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		if h.running.Load() {
			<-h.done
		}
		h.connLimits.Stop()
		if h.recorder != nil {
			h.recorder.close()
		}
	})
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// Disconnect: the participant leaves its room and room-mates are told.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	h.closeSend(c)

	if c.roomID == "" {
		return
	}
	if _, ok := h.directory.RemoveParticipant(c.roomID, c.id); !ok {
		return
	}
	h.broadcast(c.roomID, protocol.MustEncode(protocol.TypeUserLeft, protocol.UserLeft{UserID: c.id}), nil)

	remaining := len(h.directory.Participants(c.roomID))
	log.Printf("%s left room %s (remaining: %d)", c.userName, c.roomID, remaining)
}

func (h *Hub) handle(msg *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := msg.Client
	if h.clients[c.id] != c {
		return
	}

	env := msg.Envelope
	if env.Type == protocol.TypeJoinRoom {
		h.handleJoin(c, env)
		return
	}

	// Nothing but a join is accepted before the connection has a room
	if c.roomID == "" {
		return
	}
	r, ok := h.directory.Get(c.roomID)
	if !ok {
		return
	}

	switch env.Type {
	case protocol.TypeDraw:
		h.handleDraw(c, r, env)
	case protocol.TypeCursorMove:
		h.handleCursor(c, env)
	case protocol.TypeUndo:
		h.handleUndo(c, r)
	case protocol.TypeRedo:
		h.handleRedo(c, r)
	case protocol.TypeClear:
		h.handleClear(c, r)
	default:
		log.Printf("⚠️ Unknown message type %q from client %s", env.Type, c.id)
	}
}

func (h *Hub) handleJoin(c *Client, env *protocol.Envelope) {
	// One room per connection for its lifetime
	if c.roomID != "" {
		return
	}

	var req protocol.JoinRoom
	if err := env.Payload(&req); err != nil {
		log.Printf("⚠️ Invalid join from client %s: %v", c.id, err)
		return
	}

	roomID := strings.TrimSpace(req.RoomID)
	if roomID == "" {
		roomID = defaultRoomID
	}
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = defaultUserName
	}
	color := strings.TrimSpace(req.Color)
	if color == "" {
		color = stroke.Palette[h.directory.ParticipantCount()%len(stroke.Palette)]
	}

	c.roomID = roomID
	c.userName = name
	c.color = color

	r := h.directory.AddParticipant(roomID, room.Participant{
		ConnectionID: c.id,
		UserID:       c.id,
		DisplayName:  name,
		Color:        color,
		JoinedAt:     time.Now(),
	})

	h.sendTo(c, protocol.MustEncode(protocol.TypeWelcome, protocol.Welcome{
		UserID:       c.id,
		RoomID:       roomID,
		Participants: participantList(r.Participants()),
	}))
	h.sendTo(c, protocol.MustEncode(protocol.TypeSyncHistory, r.Log.ListAll()))

	h.broadcast(roomID, protocol.MustEncode(protocol.TypeUserJoined, protocol.Participant{
		UserID:   c.id,
		UserName: name,
		Color:    color,
	}), c)

	log.Printf("%s joined room %s (total: %d, history: %d)", name, roomID, r.Size(), r.Log.Len())
}

func (h *Hub) handleDraw(c *Client, r *room.Room, env *protocol.Envelope) {
	var op protocol.DrawOp
	if err := env.Payload(&op); err != nil {
		log.Printf("⚠️ Invalid draw from client %s: %v", c.id, err)
		return
	}
	if err := op.Validate(); err != nil {
		log.Printf("⚠️ Invalid draw from client %s: %v", c.id, err)
		return
	}

	op.UserID = c.id
	op.ID = uuid.NewString()
	op.Undone = false
	if op.Stroke != nil {
		op.Stroke.Owner = c.id
		op.Stroke.Undone = false
	}

	if op.Type.Durable() {
		if evicted := r.Log.Append(&op); evicted > 0 {
			log.Printf("Pruned %d old operations in room %s", evicted, r.ID)
		}
		if h.recorder != nil {
			saved := op.Clone()
			h.recorder.enqueue(func(a Archive) error { return a.SaveStroke(r.ID, saved) })
		}
	}

	h.broadcast(r.ID, protocol.MustEncode(protocol.TypeDraw, &op), c)
}

func (h *Hub) handleCursor(c *Client, env *protocol.Envelope) {
	var move protocol.CursorMove
	if err := env.Payload(&move); err != nil {
		return
	}
	h.broadcast(c.roomID, protocol.MustEncode(protocol.TypeCursorUpdate, protocol.CursorUpdate{
		UserID:   c.id,
		UserName: c.userName,
		Color:    c.color,
		X:        move.X,
		Y:        move.Y,
	}), c)
}

func (h *Hub) handleUndo(c *Client, r *room.Room) {
	op, ok := r.Log.UndoLast(c.id)
	if !ok {
		return
	}
	undo := protocol.Undo{OpID: op.ID, UserID: c.id}
	if op.Stroke != nil {
		undo.StrokeID = op.Stroke.ID
	}
	h.broadcast(r.ID, protocol.MustEncode(protocol.TypeUndo, undo), nil)

	if h.recorder != nil {
		h.recorder.enqueue(func(a Archive) error { return a.SetStrokeUndone(r.ID, op.ID, true) })
	}
}

func (h *Hub) handleRedo(c *Client, r *room.Room) {
	op, ok := r.Log.RedoLast(c.id)
	if !ok {
		return
	}
	h.broadcast(r.ID, protocol.MustEncode(protocol.TypeRedo, protocol.Redo{
		OpID:   op.ID,
		UserID: c.id,
		Stroke: op.Stroke,
	}), nil)

	if h.recorder != nil {
		h.recorder.enqueue(func(a Archive) error { return a.SetStrokeUndone(r.ID, op.ID, false) })
	}
}

func (h *Hub) handleClear(c *Client, r *room.Room) {
	n := r.Log.ClearUser(c.id)
	h.broadcast(r.ID, protocol.MustEncode(protocol.TypeClear, protocol.Clear{UserID: c.id}), nil)
	log.Printf("Cleared %d operations for %s in room %s", n, c.userName, r.ID)

	if h.recorder != nil && n > 0 {
		h.recorder.enqueue(func(a Archive) error { return a.SetUserStrokesUndone(r.ID, c.id) })
	}
}

// Sends data to every participant of the room except the given client
func (h *Hub) broadcast(roomID string, data []byte, except *Client) {
	for _, p := range h.directory.Participants(roomID) {
		client, ok := h.clients[p.ConnectionID]
		if !ok || client == except {
			continue
		}
		h.sendTo(client, data)
	}
}

// Queues data for the client. A client that cannot keep up is evicted: its
// send channel is closed, the write pump closes the socket and the read pump
// then unregisters it as a normal departure.
func (h *Hub) sendTo(c *Client, data []byte) {
	if c.sendClosed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("⚠️ Client %s is not keeping up, disconnecting", c.id)
		h.closeSend(c)
	}
}

func (h *Hub) closeSend(c *Client) {
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func participantList(ps []room.Participant) []protocol.Participant {
	list := make([]protocol.Participant, len(ps))
	for i, p := range ps {
		list[i] = protocol.Participant{UserID: p.UserID, UserName: p.DisplayName, Color: p.Color}
	}
	return list
}
