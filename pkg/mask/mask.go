// Package mask provides binary and probability masks with the raster
// operations the analysis pipeline needs: fills, intersection with
// crop-to-minimum reconciliation, nearest-neighbor resize and image masking.
package mask

import (
	"image"
	"image/color"
	"math"
)

// Mask is a binary H×W grid. Pix holds one byte per pixel in row-major
// order; any non-zero value counts as inside the mask.
type Mask struct {
	W, H int
	Pix  []uint8
}

// New returns an all-zero mask of the given size.
func New(w, h int) *Mask {
	return &Mask{W: w, H: h, Pix: make([]uint8, w*h)}
}

// Ones returns an all-ones mask of the given size.
func Ones(w, h int) *Mask {
	m := New(w, h)
	for i := range m.Pix {
		m.Pix[i] = 1
	}
	return m
}

// At returns the mask value at (x, y). Out-of-bounds reads return 0.
func (m *Mask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return 0
	}
	return m.Pix[y*m.W+x]
}

// Set writes the mask value at (x, y). Out-of-bounds writes are ignored.
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	m.Pix[y*m.W+x] = v
}

// Sum returns the number of set pixels.
func (m *Mask) Sum() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Empty reports whether no pixel is set.
func (m *Mask) Empty() bool {
	for _, v := range m.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := New(m.W, m.H)
	copy(out.Pix, m.Pix)
	return out
}

// Crop returns the top-left w×h sub-mask. Requesting the current size
// returns the mask unchanged.
func (m *Mask) Crop(w, h int) *Mask {
	if w == m.W && h == m.H {
		return m
	}
	if w > m.W {
		w = m.W
	}
	if h > m.H {
		h = m.H
	}
	out := New(w, h)
	for y := 0; y < h; y++ {
		copy(out.Pix[y*w:(y+1)*w], m.Pix[y*m.W:y*m.W+w])
	}
	return out
}

// ResizeNearest scales the mask to w×h using nearest-neighbor sampling.
// Nearest-neighbor is the only valid resize for a binary mask: any
// interpolating filter would produce intermediate values with no meaning.
func (m *Mask) ResizeNearest(w, h int) *Mask {
	if w == m.W && h == m.H {
		return m.Clone()
	}
	out := New(w, h)
	for y := 0; y < h; y++ {
		sy := y * m.H / h
		for x := 0; x < w; x++ {
			sx := x * m.W / w
			out.Pix[y*w+x] = m.Pix[sy*m.W+sx]
		}
	}
	return out
}

// And returns the pixel-wise intersection of a and b. When the masks differ
// in size both are cropped to the element-wise minimum dimensions first;
// stretching or padding would introduce geometrically invalid regions.
func And(a, b *Mask) *Mask {
	w := a.W
	if b.W < w {
		w = b.W
	}
	h := a.H
	if b.H < h {
		h = b.H
	}
	a = a.Crop(w, h)
	b = b.Crop(w, h)
	out := New(w, h)
	for i := range out.Pix {
		out.Pix[i] = a.Pix[i] * b.Pix[i]
	}
	return out
}

// FillRect sets all pixels in the half-open rectangle [x0,x1)×[y0,y1),
// clipped to the mask bounds.
func (m *Mask) FillRect(x0, y0, x1, y1 int) {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > m.W {
		x1 = m.W
	}
	if y1 > m.H {
		y1 = m.H
	}
	for y := y0; y < y1; y++ {
		row := m.Pix[y*m.W : (y+1)*m.W]
		for x := x0; x < x1; x++ {
			row[x] = 1
		}
	}
}

// FillCircle sets all pixels inside the disc of the given center and radius.
func (m *Mask) FillCircle(cx, cy, r int) {
	if r <= 0 {
		return
	}
	r2 := r * r
	y0, y1 := cy-r, cy+r
	if y0 < 0 {
		y0 = 0
	}
	if y1 >= m.H {
		y1 = m.H - 1
	}
	for y := y0; y <= y1; y++ {
		dy := y - cy
		half := int(math.Sqrt(float64(r2 - dy*dy)))
		x0, x1 := cx-half, cx+half
		if x0 < 0 {
			x0 = 0
		}
		if x1 >= m.W {
			x1 = m.W - 1
		}
		row := m.Pix[y*m.W : (y+1)*m.W]
		for x := x0; x <= x1; x++ {
			row[x] = 1
		}
	}
}

// FillPolygon rasterizes a closed polygon with an even-odd scanline fill.
// Fewer than three points fill nothing.
func (m *Mask) FillPolygon(pts []image.Point) {
	if len(pts) < 3 {
		return
	}
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	if minY < 0 {
		minY = 0
	}
	if maxY >= m.H {
		maxY = m.H - 1
	}
	n := len(pts)
	xs := make([]float64, 0, n)
	for y := minY; y <= maxY; y++ {
		fy := float64(y) + 0.5
		xs = xs[:0]
		for i := 0; i < n; i++ {
			p1, p2 := pts[i], pts[(i+1)%n]
			y1, y2 := float64(p1.Y), float64(p2.Y)
			if (y1 <= fy && y2 > fy) || (y2 <= fy && y1 > fy) {
				t := (fy - y1) / (y2 - y1)
				xs = append(xs, float64(p1.X)+t*(float64(p2.X)-float64(p1.X)))
			}
		}
		// insertion sort; crossing counts are tiny
		for i := 1; i < len(xs); i++ {
			for j := i; j > 0 && xs[j] < xs[j-1]; j-- {
				xs[j], xs[j-1] = xs[j-1], xs[j]
			}
		}
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := int(math.Ceil(xs[i] - 0.5))
			x1 := int(math.Floor(xs[i+1] - 0.5))
			if x0 < 0 {
				x0 = 0
			}
			if x1 >= m.W {
				x1 = m.W - 1
			}
			row := m.Pix[y*m.W : (y+1)*m.W]
			for x := x0; x <= x1; x++ {
				row[x] = 1
			}
		}
	}
}

// ToImage renders the mask as a grayscale image with set pixels white.
func (m *Mask) ToImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.W, m.H))
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.Pix[y*m.W+x] != 0 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// ApplyTo returns a copy of img with every pixel outside the mask set to
// black. The output is clipped to the overlapping area of image and mask.
func (m *Mask) ApplyTo(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if m.W < w {
		w = m.W
	}
	if m.H < h {
		h = m.H
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if m.Pix[y*m.W+x] != 0 {
				out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
			} else {
				out.Set(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return out
}

// IsEdge reports whether (x, y) is a set pixel with at least one
// 4-connected neighbor that is unset or outside the mask. Used to trace
// the ROI boundary for overlays.
func (m *Mask) IsEdge(x, y int) bool {
	if m.At(x, y) == 0 {
		return false
	}
	return m.At(x-1, y) == 0 || m.At(x+1, y) == 0 || m.At(x, y-1) == 0 || m.At(x, y+1) == 0
}

// Float is a probability map in [0,1], one float per pixel in row-major
// order. It is the raw output of a segmentation model before thresholding.
type Float struct {
	W, H int
	Pix  []float32
}

// NewFloat returns a zero-valued probability map of the given size.
func NewFloat(w, h int) *Float {
	return &Float{W: w, H: h, Pix: make([]float32, w*h)}
}

// Threshold binarizes the probability map: pixels strictly greater than t
// are set.
func (f *Float) Threshold(t float64) *Mask {
	m := New(f.W, f.H)
	for i, v := range f.Pix {
		if float64(v) > t {
			m.Pix[i] = 1
		}
	}
	return m
}
