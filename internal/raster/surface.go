package raster

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/srwiley/rasterx"
	"golang.org/x/image/math/fixed"

	"github.com/manpreetbhatti/easel/internal/stroke"
)

// Compositing operator applied when a shape lands on a surface
type Op int

const (
	// Paint over what is there
	SourceOver Op = iota

	// Remove existing pixels under the shape's coverage
	DestinationOut
)

const miterLimit = 10

// An RGBA pixel buffer with anti-aliased stroking. Shapes are rasterized
// into a coverage mask first and then composited with the requested Op.
type Surface struct {
	img     *image.RGBA
	mask    *image.Alpha
	dirty   image.Rectangle
	scanner *rasterx.ScannerGV
	filler  *rasterx.Filler
	stroker *rasterx.Stroker
}

// Creates a transparent surface of the given size
func NewSurface(width, height int) *Surface {
	bounds := image.Rect(0, 0, width, height)
	mask := image.NewAlpha(bounds)

	scanner := rasterx.NewScannerGV(width, height, mask, bounds)
	scanner.SetColor(color.Opaque)

	return &Surface{
		img:     image.NewRGBA(bounds),
		mask:    mask,
		scanner: scanner,
		filler:  rasterx.NewFiller(width, height, scanner),
		stroker: rasterx.NewStroker(width, height, scanner),
	}
}

func (s *Surface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

func (s *Surface) Image() image.Image {
	return s.img
}

// Color at (x, y), premultiplied
func (s *Surface) At(x, y int) color.RGBA {
	return s.img.RGBAAt(x, y)
}

// Resets every pixel to transparent
func (s *Surface) Clear() {
	clear(s.img.Pix)
}

// Strokes an open polyline with round caps and joins. Fewer than two
// distinct points produce a dot of diameter width.
func (s *Surface) StrokePolyline(points []stroke.Point, width float64, c color.Color, op Op) {
	if len(points) == 0 {
		return
	}
	if len(points) == 1 || allSame(points) {
		s.FillCircle(points[0].X, points[0].Y, width/2, c, op)
		return
	}

	s.stroker.SetStroke(toFixed(width), toFixed(miterLimit), rasterx.RoundCap, rasterx.RoundCap, rasterx.RoundGap, rasterx.Round)
	s.stroker.Start(rasterx.ToFixedP(points[0].X, points[0].Y))
	for _, p := range points[1:] {
		s.stroker.Line(rasterx.ToFixedP(p.X, p.Y))
	}
	s.stroker.Stop(false)
	s.stroker.Draw()
	s.stroker.Clear()

	s.markDirty(pointsBounds(points, width))
	s.apply(c, op)
}

func (s *Surface) FillCircle(cx, cy, r float64, c color.Color, op Op) {
	if r <= 0 {
		return
	}
	rasterx.AddCircle(cx, cy, r, s.filler)
	s.filler.Draw()
	s.filler.Clear()

	s.markDirty(image.Rect(
		int(math.Floor(cx-r))-1, int(math.Floor(cy-r))-1,
		int(math.Ceil(cx+r))+1, int(math.Ceil(cy+r))+1,
	))
	s.apply(c, op)
}

// Strokes the outline of the rectangle spanned by two corners
func (s *Surface) StrokeRect(x0, y0, x1, y1, width float64, c color.Color, op Op) {
	s.stroker.SetStroke(toFixed(width), toFixed(miterLimit), rasterx.ButtCap, rasterx.ButtCap, rasterx.FlatGap, rasterx.Miter)
	s.stroker.Start(rasterx.ToFixedP(x0, y0))
	s.stroker.Line(rasterx.ToFixedP(x1, y0))
	s.stroker.Line(rasterx.ToFixedP(x1, y1))
	s.stroker.Line(rasterx.ToFixedP(x0, y1))
	s.stroker.Stop(true)
	s.stroker.Draw()
	s.stroker.Clear()

	s.markDirty(pointsBounds([]stroke.Point{{X: x0, Y: y0}, {X: x1, Y: y1}}, width))
	s.apply(c, op)
}

// Composites another image over this surface
func (s *Surface) DrawLayer(layer image.Image) {
	draw.Draw(s.img, s.img.Bounds(), layer, image.Point{}, draw.Over)
}

func (s *Surface) markDirty(r image.Rectangle) {
	s.dirty = r.Intersect(s.img.Bounds())
}

// Composites the coverage mask with c under op, then resets the mask
func (s *Surface) apply(c color.Color, op Op) {
	r := s.dirty
	if r.Empty() {
		return
	}

	switch op {
	case DestinationOut:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				a := uint32(s.mask.AlphaAt(x, y).A)
				if a == 0 {
					continue
				}
				keep := 255 - a
				i := s.img.PixOffset(x, y)
				px := s.img.Pix[i : i+4 : i+4]
				for j := range px {
					px[j] = uint8(uint32(px[j]) * keep / 255)
				}
			}
		}
	default:
		draw.DrawMask(s.img, r, image.NewUniform(c), image.Point{}, s.mask, r.Min, draw.Over)
	}

	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := s.mask.PixOffset(r.Min.X, y)
		clear(s.mask.Pix[i : i+r.Dx()])
	}
	s.dirty = image.Rectangle{}
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(v * 64)
}

func allSame(points []stroke.Point) bool {
	for _, p := range points[1:] {
		if p != points[0] {
			return false
		}
	}
	return true
}

// Pixel bounds of the points grown by the stroke width
func pointsBounds(points []stroke.Point, width float64) image.Rectangle {
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	pad := width + 2
	return image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad)), int(math.Ceil(maxY+pad)),
	)
}
