package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/engine"
	"github.com/boxmark/boxmark/internal/palette"
)

func createInMemoryImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func testScene(scale float64) Scene {
	labels := []string{"deer", "dog"}
	return Scene{
		Background: createInMemoryImage(200, 100, color.White),
		Rectangles: []engine.RectView{
			{Rectangle: document.Rectangle{ID: "a", X: 20, Y: 20, Width: 60, Height: 40, Label: "dog"}},
		},
		Palette:     palette.New(labels, map[string]string{"dog": "#ff0000"}),
		StrokeWidth: 3,
		Scale:       scale,
	}
}

func TestRenderDrawsStroke(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatal(err)
	}
	img, err := r.Render(testScene(1))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Errorf("dimensions: got %v, want 200x100", img.Bounds())
	}

	red, _, _, _ := img.At(20, 40).RGBA()
	_, g, _, _ := img.At(20, 40).RGBA()
	if red < 0xf000 || g > 0x1000 {
		t.Errorf("left edge pixel not stroked red: %v", img.At(20, 40))
	}
	cr, cg, cb, _ := img.At(50, 40).RGBA()
	if cr != 0xffff || cg != 0xffff || cb != 0xffff {
		t.Errorf("interior pixel changed: %v", img.At(50, 40))
	}
}

func TestRenderScalesDown(t *testing.T) {
	r, _ := NewRenderer()
	img, err := r.Render(testScene(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("dimensions: got %v, want 100x50", img.Bounds())
	}
}

func TestRenderStretchesToImageSize(t *testing.T) {
	r, _ := NewRenderer()
	s := testScene(1)
	s.Background = createInMemoryImage(100, 50, color.White)
	s.ImageWidth, s.ImageHeight = 200, 100
	s.Rectangles = []engine.RectView{
		{Rectangle: document.Rectangle{ID: "b", X: 120, Y: 20, Width: 60, Height: 40, Label: "dog"}},
	}

	img, err := r.Render(s)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Fatalf("dimensions: got %v, want 200x100", img.Bounds())
	}
	red, g, _, _ := img.At(120, 40).RGBA()
	if red < 0xf000 || g > 0x1000 {
		t.Errorf("box outside the decoded bounds not stroked: %v", img.At(120, 40))
	}

	s.Scale = 0.5
	img, err = r.Render(s)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("scaled dimensions: got %v, want 100x50", img.Bounds())
	}
}

func TestRenderWithoutBackground(t *testing.T) {
	r, _ := NewRenderer()
	s := testScene(1)
	s.Background = nil
	if _, err := r.Render(s); !errors.Is(err, ErrNoImage) {
		t.Errorf("got %v, want ErrNoImage", err)
	}
}

func TestEncode(t *testing.T) {
	r, _ := NewRenderer()
	snap, err := r.Encode(context.Background(), "annotation.png", testScene(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if snap.MimeType != MimeType || snap.Name != "annotation.png" {
		t.Errorf("got %s/%s", snap.Name, snap.MimeType)
	}
	raw, err := base64.StdEncoding.DecodeString(snap.Data)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() != 200 {
		t.Errorf("width: got %d, want 200", img.Bounds().Dx())
	}
}

func TestEncodeHonoursContext(t *testing.T) {
	r, _ := NewRenderer()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	s := testScene(1)
	if _, err := r.Encode(ctx, "x.png", s); err == nil {
		t.Error("expected context error")
	}
}
