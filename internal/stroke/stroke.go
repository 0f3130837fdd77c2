package stroke

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind tags the drawing tool that produced a stroke
type Kind string

const (
	Brush  Kind = "brush"
	Eraser Kind = "eraser"
	Rect   Kind = "rect"
)

// Reports whether k is one of the known tools
func (k Kind) Valid() bool {
	switch k {
	case Brush, Eraser, Rect:
		return true
	}
	return false
}

// Destructive strokes remove pixels instead of adding them
func (k Kind) Destructive() bool {
	return k == Eraser
}

// Incremental strokes can be painted segment by segment onto the shared
// surface. Rectangles are a function of two points and erasers would remove
// other participants' pixels, so both need a full recomposite.
func (k Kind) Incremental() bool {
	return k == Brush
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind := Kind(s)
	if !kind.Valid() {
		return fmt.Errorf("unknown stroke type: %q", s)
	}
	*k = kind
	return nil
}

// A raw surface coordinate
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// One continuous drawing action
type Stroke struct {
	ID     string  `json:"id"`
	Owner  string  `json:"ownerId,omitempty"`
	Kind   Kind    `json:"type"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
	Undone bool    `json:"undone,omitempty"`
}

// Returns a fresh stroke identifier
func NewID() string {
	return uuid.NewString()
}

// Creates an active stroke holding its first point
func New(owner string, kind Kind, color string, width float64, first Point) *Stroke {
	return &Stroke{
		ID:     NewID(),
		Owner:  owner,
		Kind:   kind,
		Color:  color,
		Width:  width,
		Points: []Point{first},
	}
}

// Returns a deep copy so the caller can keep mutating its own points
func (s *Stroke) Clone() *Stroke {
	if s == nil {
		return nil
	}
	c := *s
	c.Points = append([]Point(nil), s.Points...)
	return &c
}

// Returns a copy carrying no points, used for draw-start shells
func (s *Stroke) Shell() *Stroke {
	c := *s
	c.Points = []Point{}
	return &c
}

// Appends p while the stroke is still active
func (s *Stroke) Add(p Point) {
	s.Points = append(s.Points, p)
}

// First and last recorded points. ok is false for an empty stroke.
func (s *Stroke) Ends() (first, last Point, ok bool) {
	if len(s.Points) == 0 {
		return Point{}, Point{}, false
	}
	return s.Points[0], s.Points[len(s.Points)-1], true
}

func (s *Stroke) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("stroke id is required")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("unknown stroke type: %q", s.Kind)
	}
	if s.Width < 0 {
		return fmt.Errorf("stroke width must not be negative: %v", s.Width)
	}
	return nil
}
