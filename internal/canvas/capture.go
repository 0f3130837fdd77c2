package canvas

import (
	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/raster"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

const (
	DefaultColor = "#000000"
	DefaultWidth = 5
)

// A local drawing event bound for the relay
type Event struct {
	Type     protocol.OpType
	Stroke   *stroke.Stroke
	StrokeID string
	Point    stroke.Point
}

// Wire form of the event
func (e Event) DrawOp() *protocol.DrawOp {
	op := &protocol.DrawOp{Type: e.Type}
	switch e.Type {
	case protocol.DrawPoint:
		p := e.Point
		op.StrokeID = e.StrokeID
		op.Point = &p
	default:
		op.Stroke = e.Stroke.Clone()
	}
	return op
}

// Capture turns pointer input into strokes. It paints them on the board for
// immediate feedback and emits an Event for each stage. Like the Board it
// must only be used from the client event loop; Events is read elsewhere.
type Capture struct {
	board  *Board
	tool   stroke.Kind
	color  string
	width  float64
	events chan Event
}

func NewCapture(board *Board, buffer int) *Capture {
	return &Capture{
		board:  board,
		tool:   stroke.Brush,
		color:  DefaultColor,
		width:  DefaultWidth,
		events: make(chan Event, buffer),
	}
}

func (c *Capture) Events() <-chan Event {
	return c.events
}

// Closes the event channel. No input may follow.
func (c *Capture) Close() {
	close(c.events)
}

func (c *Capture) SetTool(k stroke.Kind) {
	if k.Valid() {
		c.tool = k
	}
}

func (c *Capture) SetColor(color string) {
	c.color = color
}

func (c *Capture) SetWidth(width float64) {
	if width > 0 {
		c.width = width
	}
}

func (c *Capture) Tool() stroke.Kind { return c.tool }
func (c *Capture) Color() string     { return c.color }
func (c *Capture) Width() float64    { return c.width }

// Reports whether a stroke is in progress
func (c *Capture) Drawing() bool {
	return c.board.current != nil
}

// Pointer pressed: starts a stroke at (x, y)
func (c *Capture) Down(x, y float64) {
	if c.board.current != nil {
		c.Up()
	}

	p := stroke.Point{X: x, Y: y}
	s := stroke.New(c.board.localID, c.tool, c.color, c.width, p)
	c.board.current = s

	if s.Kind.Incremental() {
		c.board.visible.FillCircle(x, y, s.Width/2, stroke.ParseColor(s.Color), raster.SourceOver)
	} else {
		c.board.Recomposite()
	}

	c.events <- Event{Type: protocol.DrawStart, Stroke: s.Clone()}
}

// Pointer moved: extends the active stroke, if any
func (c *Capture) Move(x, y float64) {
	s := c.board.current
	if s == nil {
		return
	}
	p := stroke.Point{X: x, Y: y}
	s.Add(p)

	if s.Kind.Incremental() {
		paintSegment(c.board.visible, s)
	} else {
		c.board.Recomposite()
	}

	c.events <- Event{Type: protocol.DrawPoint, StrokeID: s.ID, Point: p}
}

// Pointer released: finalizes the active stroke
func (c *Capture) Up() {
	s := c.board.current
	if s == nil {
		return
	}
	c.board.current = nil
	c.board.own = append(c.board.own, s)

	c.events <- Event{Type: protocol.DrawEnd, Stroke: s.Clone()}
}

// Pointer left the surface; same as release
func (c *Capture) Leave() {
	c.Up()
}
