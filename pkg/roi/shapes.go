// Package roi derives the region-of-interest mask for a sky image: either
// automatically, by locating the circular aperture of a fisheye sky camera,
// or by rasterizing shapes the user drew on a preview canvas.
package roi

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/skycam/skycover/pkg/mask"
)

// Shape is a user-drawn annotation that can be rasterized into a mask.
// Coordinates are in the drawing-canvas space; rasterization scales them
// to the target image resolution.
type Shape interface {
	rasterize(m *mask.Mask, sx, sy float64)
	encode() string
}

// Rect is an axis-aligned rectangle drawn on the canvas.
type Rect struct {
	Left, Top, Width, Height float64
}

func (r Rect) rasterize(m *mask.Mask, sx, sy float64) {
	x0 := int(r.Left * sx)
	y0 := int(r.Top * sy)
	x1 := x0 + int(r.Width*sx)
	y1 := y0 + int(r.Height*sy)
	m.FillRect(x0, y0, x1, y1)
}

func (r Rect) encode() string {
	return fmt.Sprintf(`{"kind":"rect","left":%g,"top":%g,"width":%g,"height":%g}`,
		r.Left, r.Top, r.Width, r.Height)
}

// Point is one vertex of a polygon path.
type Point struct {
	X, Y float64
}

// Polygon is a closed freeform path. It needs at least three vertices
// after scaling to rasterize anything.
type Polygon struct {
	Points []Point
}

func (p Polygon) rasterize(m *mask.Mask, sx, sy float64) {
	if len(p.Points) < 3 {
		return
	}
	pts := make([]image.Point, len(p.Points))
	for i, v := range p.Points {
		pts[i] = image.Pt(int(v.X*sx), int(v.Y*sy))
	}
	m.FillPolygon(pts)
}

func (p Polygon) encode() string {
	var b strings.Builder
	b.WriteString(`{"kind":"polygon","points":[`)
	for i, v := range p.Points {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `[%g,%g]`, v.X, v.Y)
	}
	b.WriteString(`]}`)
	return b.String()
}

// CircleFromLine interprets a drawn line segment as a circle diameter:
// the midpoint becomes the center, half the segment length the radius.
type CircleFromLine struct {
	X1, Y1, X2, Y2 float64
}

func (c CircleFromLine) rasterize(m *mask.Mask, sx, sy float64) {
	x1, y1 := c.X1*sx, c.Y1*sy
	x2, y2 := c.X2*sx, c.Y2*sy
	cx := int((x1 + x2) / 2)
	cy := int((y1 + y2) / 2)
	radius := int(math.Hypot(x2-x1, y2-y1) / 2)
	// A center off the image or a degenerate radius contributes nothing.
	if cx < 0 || cx >= m.W || cy < 0 || cy >= m.H || radius <= 0 {
		return
	}
	m.FillCircle(cx, cy, radius)
}

func (c CircleFromLine) encode() string {
	return fmt.Sprintf(`{"kind":"circle_from_line","x1":%g,"y1":%g,"x2":%g,"y2":%g}`,
		c.X1, c.Y1, c.X2, c.Y2)
}

// Rasterize scales the shapes from a canvasW×canvasH drawing surface to a
// targetW×targetH mask and fills them. No shapes yields an all-zero mask,
// the explicit "nothing drawn yet" signal.
func Rasterize(shapes []Shape, canvasW, canvasH, targetW, targetH int) *mask.Mask {
	m := mask.New(targetW, targetH)
	if canvasW <= 0 || canvasH <= 0 {
		return m
	}
	sx := float64(targetW) / float64(canvasW)
	sy := float64(targetH) / float64(canvasH)
	for _, s := range shapes {
		s.rasterize(m, sx, sy)
	}
	return m
}

// EncodeShapes serializes shapes into a deterministic JSON array for use
// in the analysis fingerprint. The element order follows the draw order;
// identical geometry always yields an identical string.
func EncodeShapes(shapes []Shape) string {
	if len(shapes) == 0 {
		return "no_canvas"
	}
	parts := make([]string, len(shapes))
	for i, s := range shapes {
		parts[i] = s.encode()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
