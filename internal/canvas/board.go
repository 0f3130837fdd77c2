package canvas

import (
	"image"
	"image/color"

	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/raster"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

// Drawing target for the board. *raster.Surface implements it.
type Surface interface {
	Clear()
	StrokePolyline(points []stroke.Point, width float64, c color.Color, op raster.Op)
	FillCircle(cx, cy, r float64, c color.Color, op raster.Op)
	StrokeRect(x0, y0, x1, y1, width float64, c color.Color, op raster.Op)
	DrawLayer(layer image.Image)
	Image() image.Image
}

// Board holds every participant's strokes and renders them onto the visible
// surface. Each participant is painted into the off-screen layer on its own
// and then composited, so an eraser only ever removes marks of its owner.
//
// A Board is not safe for concurrent use; the client event loop owns it.
type Board struct {
	visible Surface
	layer   Surface
	localID string

	// Remote users in first-seen order
	users []string
	known map[string]bool

	// Finalized remote strokes per user, in arrival order
	history map[string][]*stroke.Stroke

	// In-progress remote strokes by stroke id, plus their start order
	active      map[string]*stroke.Stroke
	activeOrder []string

	// Finalized local strokes; undo pops the tail
	own []*stroke.Stroke

	// Local stroke being drawn
	current *stroke.Stroke
}

// Creates a board drawing on visible. layer must have the same size.
func NewBoard(visible, layer Surface) *Board {
	b := &Board{visible: visible, layer: layer}
	b.Reset()
	return b
}

// Forgets every stroke and clears the visible surface
func (b *Board) Reset() {
	b.users = nil
	b.known = make(map[string]bool)
	b.history = make(map[string][]*stroke.Stroke)
	b.active = make(map[string]*stroke.Stroke)
	b.activeOrder = nil
	b.own = nil
	b.current = nil
	b.visible.Clear()
}

func (b *Board) SetLocalUser(id string) {
	b.localID = id
}

func (b *Board) LocalUser() string {
	return b.localID
}

func (b *Board) Visible() Surface {
	return b.visible
}

func (b *Board) seen(userID string) {
	if !b.known[userID] {
		b.known[userID] = true
		b.users = append(b.users, userID)
	}
}

// Remote Stroke Tracker

// A remote participant began a stroke. It is tracked with no points until
// draw-point messages arrive.
func (b *Board) RemoteStart(userID string, shell *stroke.Stroke) {
	if shell == nil {
		return
	}
	s := shell.Shell()
	s.Owner = userID
	s.Undone = false
	b.seen(userID)

	if _, ok := b.active[s.ID]; !ok {
		b.activeOrder = append(b.activeOrder, s.ID)
	}
	b.active[s.ID] = s

	if s.Kind.Destructive() {
		b.Recomposite()
	}
}

// Adds a point to a tracked remote stroke. Unknown stroke ids and points
// from anyone but the stroke's owner are ignored.
func (b *Board) RemotePoint(userID, strokeID string, p stroke.Point) {
	s, ok := b.active[strokeID]
	if !ok || s.Owner != userID {
		return
	}
	s.Add(p)

	if !s.Kind.Incremental() {
		b.Recomposite()
		return
	}
	paintSegment(b.visible, s)
}

// A remote stroke was finalized. Strokes never seen live are rendered now.
// A live stroke whose final geometry differs from what was painted while
// tracking is recomposited so every observer ends on the same pixels.
func (b *Board) RemoteEnd(userID string, final *stroke.Stroke) {
	if final == nil {
		return
	}
	s := final.Clone()
	s.Owner = userID
	s.Undone = false

	live, tracked := b.active[s.ID]
	if tracked && live.Owner != userID {
		tracked = false
		live = nil
	}
	if tracked {
		b.dropActive(s.ID)
	}

	b.seen(userID)
	if b.findStroke(userID, s.ID) != nil {
		if tracked {
			b.Recomposite()
		}
		return
	}
	b.history[userID] = append(b.history[userID], s)

	switch {
	case !tracked && s.Kind.Destructive():
		b.Recomposite()
	case !tracked:
		render(b.visible, s)
	case !s.Kind.Incremental() || !samePoints(live.Points, s.Points):
		b.Recomposite()
	}
}

func samePoints(a, b []stroke.Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Drops a departed participant's in-progress strokes. Finalized strokes stay.
func (b *Board) UserLeft(userID string) {
	if b.dropActiveOf(userID) > 0 {
		b.Recomposite()
	}
}

// Number of remote strokes still in progress
func (b *Board) ActiveCount() int {
	return len(b.active)
}

func (b *Board) dropActive(strokeID string) {
	delete(b.active, strokeID)
	for i, id := range b.activeOrder {
		if id == strokeID {
			b.activeOrder = append(b.activeOrder[:i], b.activeOrder[i+1:]...)
			return
		}
	}
}

func (b *Board) dropActiveOf(userID string) int {
	kept := b.activeOrder[:0]
	dropped := 0
	for _, id := range b.activeOrder {
		if b.active[id].Owner == userID {
			delete(b.active, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	b.activeOrder = kept
	return dropped
}

func (b *Board) findStroke(userID, strokeID string) *stroke.Stroke {
	for _, s := range b.history[userID] {
		if s.ID == strokeID {
			return s
		}
	}
	return nil
}

// History load and undo propagation

// Loads a room's operation history. Only finalized operations are taken,
// duplicates per user are ignored and undone strokes are kept but hidden.
func (b *Board) LoadHistory(ops []*protocol.DrawOp) {
	for _, op := range ops {
		if op == nil || !op.Type.Durable() || op.Stroke == nil {
			continue
		}
		b.seen(op.UserID)

		if existing := b.findStroke(op.UserID, op.Stroke.ID); existing != nil {
			existing.Undone = op.Undone
			continue
		}
		s := op.Stroke.Clone()
		s.Owner = op.UserID
		s.Undone = op.Undone
		b.history[op.UserID] = append(b.history[op.UserID], s)
	}
	b.Recomposite()
}

// Marks a remote stroke undone. An unknown strokeID falls back to the
// user's most recent visible stroke. Reports whether anything changed.
func (b *Board) RemoteUndo(userID, strokeID string) bool {
	target := b.findStroke(userID, strokeID)
	if target == nil {
		strokes := b.history[userID]
		for i := len(strokes) - 1; i >= 0; i-- {
			if !strokes[i].Undone {
				target = strokes[i]
				break
			}
		}
	}
	if target == nil || target.Undone {
		return false
	}
	target.Undone = true
	b.Recomposite()
	return true
}

// Restores a remote stroke. Strokes not seen before are appended.
func (b *Board) RemoteRedo(userID string, s *stroke.Stroke) bool {
	if s == nil {
		return false
	}
	if existing := b.findStroke(userID, s.ID); existing != nil {
		if !existing.Undone {
			return false
		}
		existing.Undone = false
	} else {
		b.seen(userID)
		restored := s.Clone()
		restored.Owner = userID
		restored.Undone = false
		b.history[userID] = append(b.history[userID], restored)
	}
	b.Recomposite()
	return true
}

// Hides everything a remote user has drawn
func (b *Board) RemoteClear(userID string) {
	for _, s := range b.history[userID] {
		s.Undone = true
	}
	b.dropActiveOf(userID)
	b.Recomposite()
}

// Visible strokes of a remote user
func (b *Board) Strokes(userID string) []*stroke.Stroke {
	var out []*stroke.Stroke
	for _, s := range b.history[userID] {
		if !s.Undone {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Local strokes

// Pops the most recent local stroke. Reports false when there is none.
func (b *Board) UndoLocal() (*stroke.Stroke, bool) {
	if len(b.own) == 0 {
		return nil, false
	}
	s := b.own[len(b.own)-1]
	b.own = b.own[:len(b.own)-1]
	b.Recomposite()
	return s, true
}

// Removes every local stroke
func (b *Board) ClearLocal() {
	b.own = nil
	b.Recomposite()
}

// Puts back a local stroke the relay restored
func (b *Board) RestoreLocal(s *stroke.Stroke) {
	if s == nil {
		return
	}
	for _, o := range b.own {
		if o.ID == s.ID {
			return
		}
	}
	restored := s.Clone()
	restored.Undone = false
	b.own = append(b.own, restored)
	b.Recomposite()
}

func (b *Board) OwnCount() int {
	return len(b.own)
}

// Layered Compositor

// Rebuilds the visible surface. Every remote user in first-seen order and
// then the local user is painted alone into the layer, finalized strokes
// first and in-progress ones after, and the layer is composited on top.
func (b *Board) Recomposite() {
	b.visible.Clear()

	for _, userID := range b.users {
		strokes := visibleStrokes(b.history[userID])
		for _, id := range b.activeOrder {
			if s := b.active[id]; s.Owner == userID {
				strokes = append(strokes, s)
			}
		}
		b.compositeLayer(strokes)
	}

	local := visibleStrokes(b.own)
	if b.current != nil {
		local = append(local, b.current)
	}
	b.compositeLayer(local)
}

func (b *Board) compositeLayer(strokes []*stroke.Stroke) {
	if len(strokes) == 0 {
		return
	}
	b.layer.Clear()
	for _, s := range strokes {
		render(b.layer, s)
	}
	b.visible.DrawLayer(b.layer.Image())
}

func visibleStrokes(strokes []*stroke.Stroke) []*stroke.Stroke {
	out := make([]*stroke.Stroke, 0, len(strokes))
	for _, s := range strokes {
		if !s.Undone {
			out = append(out, s)
		}
	}
	return out
}

// Paints a whole stroke: rectangles from their first and last points,
// brush and eraser as round-jointed polylines or a dot.
func render(dst Surface, s *stroke.Stroke) {
	first, last, ok := s.Ends()
	if !ok {
		return
	}
	c := stroke.ParseColor(s.Color)

	switch s.Kind {
	case stroke.Rect:
		dst.StrokeRect(first.X, first.Y, last.X, last.Y, s.Width, c, raster.SourceOver)
	case stroke.Eraser:
		dst.StrokePolyline(s.Points, s.Width, c, raster.DestinationOut)
	default:
		dst.StrokePolyline(s.Points, s.Width, c, raster.SourceOver)
	}
}

// Paints only the newest segment of a brush stroke, or a dot for its first point
func paintSegment(dst Surface, s *stroke.Stroke) {
	n := len(s.Points)
	if n == 0 {
		return
	}
	c := stroke.ParseColor(s.Color)
	if n == 1 {
		p := s.Points[0]
		dst.FillCircle(p.X, p.Y, s.Width/2, c, raster.SourceOver)
		return
	}
	dst.StrokePolyline(s.Points[n-2:], s.Width, c, raster.SourceOver)
}
