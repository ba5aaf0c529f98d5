package engine

import "github.com/boxmark/boxmark/internal/document"

// viewportFill is the share of the viewport width the canvas may occupy.
const viewportFill = 0.8

// Point is a position in pointer or image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect represents an axis-aligned box. Width and Height may be negative
// while a drag is in progress; Normalize restores the rest invariants.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectOf returns the geometry of a stored rectangle.
func RectOf(r document.Rectangle) Rect {
	return Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

// Contains checks if a point is inside the rect.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// IsEmpty checks if the rect has zero or negative area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Canonical flips negative extents so the origin is the top-left corner.
func (r Rect) Canonical() Rect {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

// Normalize clamps r to a w×h canvas: flip inverted extents, trim overflow
// past the top/left edge, shrink overflow past the bottom/right edge, then
// floor both extents at document.MinExtent. Applying it twice is a no-op.
func (r Rect) Normalize(w, h float64) Rect {
	r = r.Canonical()
	r.X, r.Width = clampAxis(r.X, r.Width, w)
	r.Y, r.Height = clampAxis(r.Y, r.Height, h)
	return r
}

func clampAxis(origin, extent, limit float64) (float64, float64) {
	if origin < 0 {
		extent += origin
		origin = 0
	}
	if origin+extent > limit {
		extent = limit - origin
	}
	if extent < document.MinExtent {
		extent = document.MinExtent
		// the floor may push the box past the far edge; pull it back when
		// the canvas is large enough to hold a minimum box
		if origin+extent > limit {
			origin = max(limit-extent, 0)
		}
	}
	return origin, extent
}

// ToImage converts a pointer-space rect to image space.
func (r Rect) ToImage(scale float64) Rect {
	if scale <= 0 {
		return r
	}
	return Rect{X: r.X / scale, Y: r.Y / scale, Width: r.Width / scale, Height: r.Height / scale}
}

// ToPointer converts an image-space rect to pointer space.
func (r Rect) ToPointer(scale float64) Rect {
	if scale <= 0 {
		return r
	}
	return Rect{X: r.X * scale, Y: r.Y * scale, Width: r.Width * scale, Height: r.Height * scale}
}

// ToImage converts a pointer-space point to image space.
func (p Point) ToImage(scale float64) Point {
	if scale <= 0 {
		return p
	}
	return Point{X: p.X / scale, Y: p.Y / scale}
}

// ScaleFactor returns the uniform pointer/image scale for a viewport: the
// canvas takes at most 80% of the viewport width and is never magnified.
func ScaleFactor(viewportWidth, imageWidth float64) float64 {
	if viewportWidth <= 0 || imageWidth <= 0 {
		return 1.0
	}
	return min(viewportWidth*viewportFill/imageWidth, 1.0)
}
