package client

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/easel/internal/canvas"
	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/raster"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

const (
	DefaultWidth  = 800
	DefaultHeight = 600

	writeWait     = 10 * time.Second
	outboundQueue = 256
	eventQueue    = 256
)

var ErrClosed = errors.New("session closed")

type Config struct {
	// Websocket endpoint, e.g. ws://localhost:8080/ws
	URL string

	RoomID   string
	UserName string
	Color    string

	// Size of the local surface
	Width  int
	Height int
}

// Session is one participant connected to a relay. A single event loop owns
// the board and the capture; inbound messages and local input are applied
// there in order and everything outbound is queued from there. Reading and
// writing the socket happen on their own goroutines.
type Session struct {
	conn    *websocket.Conn
	board   *canvas.Board
	capture *canvas.Capture

	inbound  chan *protocol.Envelope
	outbound chan []byte
	commands chan func()

	// Owned by the event loop
	userID       string
	roomID       string
	participants map[string]protocol.Participant
	order        []string
	cursors      map[string]protocol.CursorUpdate

	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}

	errMu sync.Mutex
	err   error
}

// Connects to the relay, joins the configured room and starts the session.
// The session is usable right away; WaitReady blocks until the welcome.
func Dial(ctx context.Context, config Config) (*Session, error) {
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.URL, err)
	}

	board := canvas.NewBoard(
		raster.NewSurface(config.Width, config.Height),
		raster.NewSurface(config.Width, config.Height),
	)
	s := &Session{
		conn:         conn,
		board:        board,
		capture:      canvas.NewCapture(board, eventQueue),
		inbound:      make(chan *protocol.Envelope, 64),
		outbound:     make(chan []byte, outboundQueue),
		commands:     make(chan func()),
		participants: make(map[string]protocol.Participant),
		cursors:      make(map[string]protocol.CursorUpdate),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}

	join := protocol.MustEncode(protocol.TypeJoinRoom, protocol.JoinRoom{
		RoomID:   config.RoomID,
		UserName: config.UserName,
		Color:    config.Color,
	})
	s.outbound <- join

	go s.writeLoop()
	go s.readLoop()
	go s.loop()

	return s, nil
}

// Blocks until the relay has welcomed this session
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return s.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// The error that ended the session, nil after a plain Close
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) Close() error {
	s.shutdown(nil)
	<-s.loopDone
	return nil
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
	})
}

func (s *Session) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.shutdown(fmt.Errorf("read: %w", err))
			} else {
				s.shutdown(nil)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("⚠️ Invalid message from relay: %v", err)
			continue
		}

		select {
		case s.inbound <- env:
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		case <-s.done:
			return
		}
	}
}

// Sends queued capture events to the relay. Runs on the event loop after
// every command so draws and undo requests leave in the order they happened.
func (s *Session) flushEvents() {
	for {
		select {
		case ev := <-s.capture.Events():
			data, err := protocol.Encode(protocol.TypeDraw, ev.DrawOp())
			if err != nil {
				log.Printf("⚠️ Dropping draw event: %v", err)
				continue
			}
			s.send(data)
		default:
			return
		}
	}
}

func (s *Session) send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbound <- data:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) loop() {
	defer func() {
		s.capture.Close()
		close(s.loopDone)
	}()

	for {
		select {
		case env := <-s.inbound:
			s.handle(env)
		case fn := <-s.commands:
			fn()
		case <-s.done:
			return
		}
	}
}

// Runs fn on the event loop and waits for it
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.commands <- func() { fn(); s.flushEvents(); close(finished) }:
	case <-s.done:
		return s.closedErr()
	}
	<-finished
	return nil
}

func (s *Session) handle(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeWelcome:
		var w protocol.Welcome
		if err := env.Payload(&w); err != nil {
			log.Printf("⚠️ Invalid welcome: %v", err)
			return
		}
		s.board.Reset()
		s.board.SetLocalUser(w.UserID)
		s.userID = w.UserID
		s.roomID = w.RoomID
		s.participants = make(map[string]protocol.Participant)
		s.order = nil
		for _, p := range w.Participants {
			s.addParticipant(p)
		}
		s.readyOnce.Do(func() { close(s.ready) })

	case protocol.TypeSyncHistory:
		var ops []*protocol.DrawOp
		if err := env.Payload(&ops); err != nil {
			log.Printf("⚠️ Invalid history: %v", err)
			return
		}
		s.board.LoadHistory(ops)

	case protocol.TypeUserJoined:
		var p protocol.Participant
		if err := env.Payload(&p); err == nil {
			s.addParticipant(p)
		}

	case protocol.TypeUserLeft:
		var left protocol.UserLeft
		if err := env.Payload(&left); err != nil {
			return
		}
		s.removeParticipant(left.UserID)
		delete(s.cursors, left.UserID)
		s.board.UserLeft(left.UserID)

	case protocol.TypeDraw:
		var op protocol.DrawOp
		if err := env.Payload(&op); err != nil {
			log.Printf("⚠️ Invalid draw: %v", err)
			return
		}
		s.applyDraw(&op)

	case protocol.TypeCursorUpdate:
		var cu protocol.CursorUpdate
		if err := env.Payload(&cu); err == nil {
			s.cursors[cu.UserID] = cu
		}

	case protocol.TypeUndo:
		var u protocol.Undo
		if err := env.Payload(&u); err != nil || u.UserID == s.userID {
			// Our own undo was applied when it was issued
			return
		}
		s.board.RemoteUndo(u.UserID, u.StrokeID)

	case protocol.TypeRedo:
		var r protocol.Redo
		if err := env.Payload(&r); err != nil {
			return
		}
		if r.UserID == s.userID {
			s.board.RestoreLocal(r.Stroke)
			return
		}
		s.board.RemoteRedo(r.UserID, r.Stroke)

	case protocol.TypeClear:
		var c protocol.Clear
		if err := env.Payload(&c); err != nil || c.UserID == s.userID {
			return
		}
		s.board.RemoteClear(c.UserID)
	}
}

func (s *Session) applyDraw(op *protocol.DrawOp) {
	if op.UserID == "" || op.UserID == s.userID {
		return
	}
	switch op.Type {
	case protocol.DrawStart:
		s.board.RemoteStart(op.UserID, op.Stroke)
	case protocol.DrawPoint:
		if op.Point != nil {
			s.board.RemotePoint(op.UserID, op.StrokeID, *op.Point)
		}
	case protocol.DrawEnd, protocol.DrawFull:
		s.board.RemoteEnd(op.UserID, op.Stroke)
	}
}

func (s *Session) addParticipant(p protocol.Participant) {
	if _, ok := s.participants[p.UserID]; !ok {
		s.order = append(s.order, p.UserID)
	}
	s.participants[p.UserID] = p
}

func (s *Session) removeParticipant(userID string) {
	if _, ok := s.participants[userID]; !ok {
		return
	}
	delete(s.participants, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Local input

func (s *Session) PointerDown(x, y float64) error {
	return s.do(func() { s.capture.Down(x, y) })
}

func (s *Session) PointerMove(x, y float64) error {
	return s.do(func() { s.capture.Move(x, y) })
}

func (s *Session) PointerUp() error {
	return s.do(func() { s.capture.Up() })
}

func (s *Session) PointerLeave() error {
	return s.do(func() { s.capture.Leave() })
}

func (s *Session) SetTool(k stroke.Kind) error {
	return s.do(func() { s.capture.SetTool(k) })
}

func (s *Session) SetColor(color string) error {
	return s.do(func() { s.capture.SetColor(color) })
}

func (s *Session) SetWidth(width float64) error {
	return s.do(func() { s.capture.SetWidth(width) })
}

// Reports the cursor position to the room. Cursors are not stored.
func (s *Session) MoveCursor(x, y float64) error {
	return s.do(func() {
		s.send(protocol.MustEncode(protocol.TypeCursorMove, protocol.CursorMove{X: x, Y: y}))
	})
}

// Removes the most recent local stroke and asks the relay to undo it.
// Reports false when there was nothing to undo.
func (s *Session) Undo() (bool, error) {
	var undone bool
	err := s.do(func() {
		if _, undone = s.board.UndoLocal(); undone {
			s.send(protocol.MustEncode(protocol.TypeUndo, nil))
		}
	})
	return undone, err
}

// Asks the relay to restore the most recently undone local stroke. The
// stroke reappears when the relay echoes it back.
func (s *Session) Redo() error {
	return s.do(func() {
		s.send(protocol.MustEncode(protocol.TypeRedo, nil))
	})
}

// Removes every local stroke here and on the relay
func (s *Session) Clear() error {
	return s.do(func() {
		s.board.ClearLocal()
		s.send(protocol.MustEncode(protocol.TypeClear, nil))
	})
}

// Inspection

func (s *Session) UserID() string {
	var id string
	s.do(func() { id = s.board.LocalUser() })
	return id
}

func (s *Session) RoomID() string {
	var id string
	s.do(func() { id = s.roomID })
	return id
}

// Room members in join order, including this session
func (s *Session) Participants() []protocol.Participant {
	var out []protocol.Participant
	s.do(func() {
		out = make([]protocol.Participant, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.participants[id])
		}
	})
	return out
}

// Last known cursor position of userID
func (s *Session) Cursor(userID string) (protocol.CursorUpdate, bool) {
	var cu protocol.CursorUpdate
	var ok bool
	s.do(func() { cu, ok = s.cursors[userID] })
	return cu, ok
}

// Visible strokes of a remote participant
func (s *Session) Strokes(userID string) []*stroke.Stroke {
	var out []*stroke.Stroke
	s.do(func() { out = s.board.Strokes(userID) })
	return out
}

func (s *Session) OwnCount() int {
	var n int
	s.do(func() { n = s.board.OwnCount() })
	return n
}

// Copy of the visible surface
func (s *Session) Snapshot() *image.RGBA {
	var out *image.RGBA
	s.do(func() {
		src := s.board.Visible().Image()
		out = image.NewRGBA(src.Bounds())
		draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	})
	return out
}
