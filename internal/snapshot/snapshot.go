// Package snapshot renders an annotated canvas to a base64 PNG.
package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
	"github.com/boxmark/boxmark/internal/palette"
)

const (
	MimeType  = "image/png"
	labelSize = 12.0
	labelPad  = 3.0
)

var ErrNoImage = errors.New("no background image")

// Scene is everything needed to draw one annotated canvas.
type Scene struct {
	Background  image.Image
	Rectangles  []engine.RectView
	Palette     *palette.Palette
	StrokeWidth float64
	Scale       float64

	// ImageWidth and ImageHeight are the image-space size the rectangles
	// refer to. When set, the background is stretched to that size before
	// scaling; otherwise its decoded bounds are used.
	ImageWidth  float64
	ImageHeight float64
}

// Renderer draws scenes. Renders are serialized because the font face keeps
// a glyph cache.
type Renderer struct {
	mu   sync.Mutex
	face font.Face
}

// NewRenderer loads the label font.
func NewRenderer() (*Renderer, error) {
	ttf, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face := truetype.NewFace(ttf, &truetype.Options{
		Size:    labelSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	return &Renderer{face: face}, nil
}

// Render draws the rectangles over the background at the scene scale.
func (r *Renderer) Render(s Scene) (image.Image, error) {
	if s.Background == nil {
		return nil, ErrNoImage
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	scale := s.Scale
	if scale <= 0 || scale > 1 {
		scale = 1
	}

	base := s.Background
	w, h := float64(base.Bounds().Dx()), float64(base.Bounds().Dy())
	if s.ImageWidth > 0 && s.ImageHeight > 0 {
		w, h = s.ImageWidth, s.ImageHeight
	}
	tw := max(int(math.Round(w*scale)), 1)
	th := max(int(math.Round(h*scale)), 1)
	if base.Bounds().Dx() != tw || base.Bounds().Dy() != th {
		base = imaging.Resize(base, tw, th, imaging.Lanczos)
	}

	dc := gg.NewContextForImage(base)
	dc.SetFontFace(r.face)
	view := engine.ViewMatrix(scale)

	for _, rect := range s.Rectangles {
		box := view.TransformRect(engine.RectOf(rect.Rectangle))
		dc.SetColor(s.Palette.RGBA(rect.Label))
		dc.SetLineWidth(s.StrokeWidth)
		dc.DrawRectangle(box.X, box.Y, box.Width, box.Height)
		dc.Stroke()

		ty := box.Y - labelPad
		if ty < labelSize {
			ty = box.Y + labelSize + labelPad
		}
		dc.DrawString(rect.Label, box.X+labelPad, ty)
	}

	return dc.Image(), nil
}

// Encode renders the scene and returns it as a base64 PNG snapshot. The
// context bounds how long the caller waits for the render.
func (r *Renderer) Encode(ctx context.Context, name string, s Scene) (*document.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		snap *document.Snapshot
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("render panic: %v", rec)}
			}
		}()
		img, err := r.Render(s)
		if err != nil {
			done <- result{err: err}
			return
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			done <- result{err: fmt.Errorf("encode png: %w", err)}
			return
		}
		done <- result{snap: &document.Snapshot{
			Name:     name,
			MimeType: MimeType,
			Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		}}
	}()

	select {
	case res := <-done:
		return res.snap, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
