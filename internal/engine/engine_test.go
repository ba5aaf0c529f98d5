package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/boxmark/boxmark/internal/document"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(document.NewSampleConfig("http://example.test/a.jpg", 500, 500))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewSeedsAndNormalizes(t *testing.T) {
	cfg := document.NewSampleConfig("http://example.test/a.jpg", 40, 500)
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	st := e.State()
	if len(st.Rectangles) != 2 {
		t.Fatalf("got %d rectangles, want 2", len(st.Rectangles))
	}
	first := st.Rectangles[0]
	if first.ID != "bbox-0" || first.Label != "deer" {
		t.Errorf("first: got %s/%s, want bbox-0/deer", first.ID, first.Label)
	}
	if first.Width != 40 {
		t.Errorf("seeded box not clamped to canvas: width %v", first.Width)
	}
	if st.Rectangles[1].Label != "penguin" {
		t.Errorf("second label: got %q, want penguin", st.Rectangles[1].Label)
	}
	if st.ActiveLabel != "deer" {
		t.Errorf("active label: got %q, want deer", st.ActiveLabel)
	}
}

func TestNewRequiresImageSize(t *testing.T) {
	cfg := document.NewSampleConfig("http://example.test/a.jpg", 10, 10)
	cfg.ImageSize = nil
	if _, err := New(cfg); !errors.Is(err, ErrNoImageSize) {
		t.Errorf("got %v, want ErrNoImageSize", err)
	}

	cfg = document.NewSampleConfig("http://example.test/a.jpg", 10, 10)
	cfg.LabelList = nil
	if _, err := New(cfg); !errors.Is(err, document.ErrNoLabels) {
		t.Errorf("got %v, want ErrNoLabels", err)
	}
}

func TestDispatchCreateAndCommit(t *testing.T) {
	e := newTestEngine(t)
	events := []Event{
		{Type: EventLabelChange, Label: "dog"},
		{Type: EventPointerDown, X: 300, Y: 300},
		{Type: EventPointerMove, X: 350, Y: 320},
		{Type: EventPointerUp, X: 400, Y: 360},
	}
	for _, ev := range events {
		if commit, err := e.Dispatch(ev); err != nil || commit {
			t.Fatalf("Dispatch(%s): commit=%v err=%v", ev.Type, commit, err)
		}
	}

	commit, err := e.Dispatch(Event{Type: EventKeyDown, Key: " "})
	if err != nil || !commit {
		t.Fatalf("space: commit=%v err=%v", commit, err)
	}

	var boxes []document.CommitBox
	if err := json.Unmarshal([]byte(e.CommitJSON()), &boxes); err != nil {
		t.Fatalf("CommitJSON: %v", err)
	}
	if len(boxes) != 3 {
		t.Fatalf("got %d boxes, want 3", len(boxes))
	}
	last := boxes[2]
	if last.BBox != [4]float64{300, 300, 100, 60} || last.Label != "dog" || last.LabelID != 2 {
		t.Errorf("got %+v", last)
	}
}

func TestDispatchModeLabels(t *testing.T) {
	cfg := document.NewSampleConfig("http://example.test/a.jpg", 500, 500)
	cfg.DeleteLabel = "Delete"
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	e.Dispatch(Event{Type: EventModeChange, Mode: "Del"})
	if got := e.State().Mode; got != "Transform" {
		t.Errorf("unknown mode label switched mode to %q", got)
	}
	e.Dispatch(Event{Type: EventModeChange, Mode: "Delete"})
	st := e.State()
	if st.Mode != "Delete" {
		t.Errorf("mode: got %q, want Delete", st.Mode)
	}
	if len(st.Modes) != 2 || st.Modes[1] != "Delete" {
		t.Errorf("modes: got %v", st.Modes)
	}

	e.Dispatch(Event{Type: EventPointerDown, X: 50, Y: 50})
	if n := len(e.State().Rectangles); n != 1 {
		t.Errorf("got %d rectangles after delete click, want 1", n)
	}
}

func TestDispatchErrors(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Dispatch(Event{Type: "bogus"}); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("got %v, want ErrUnknownEvent", err)
	}
	if _, err := e.Dispatch(Event{Type: EventTransform, ID: "bbox-0"}); !errors.Is(err, ErrMissingShape) {
		t.Errorf("got %v, want ErrMissingShape", err)
	}
	if commit, _ := e.Dispatch(Event{Type: EventCommit}); !commit {
		t.Error("commit event did not request commit")
	}
}

func TestCompileDrawCommands(t *testing.T) {
	e := newTestEngine(t)
	e.Dispatch(Event{Type: EventViewportResize, Width: 500})
	e.Dispatch(Event{Type: EventPointerDown, X: 60, Y: 8}) // selects bbox-0
	e.Dispatch(Event{Type: EventPointerUp, X: 60, Y: 8})
	e.Dispatch(Event{Type: EventPointerDown, X: 300, Y: 300}) // deselects
	e.Dispatch(Event{Type: EventPointerDown, X: 300, Y: 300}) // starts drag
	e.Dispatch(Event{Type: EventPointerMove, X: 250, Y: 280})

	cmds := e.CompileDrawCommands()
	if len(cmds) != 4 {
		t.Fatalf("got %d commands, want 4", len(cmds))
	}
	if cmds[0].Op != "image" || cmds[0].ImageURL == "" {
		t.Errorf("first command: got %+v", cmds[0])
	}
	if cmds[0].Transform[0] != e.State().Scale {
		t.Errorf("view transform: got %v", cmds[0].Transform)
	}
	if cmds[2].ObjectID != "bbox-0" {
		t.Errorf("selected rectangle should paint last, got %s", cmds[2].ObjectID)
	}
	if cmds[1].StrokeWidth != document.DefaultLineWidth {
		t.Errorf("stroke width: got %v", cmds[1].StrokeWidth)
	}
	pending := cmds[3]
	if pending.Op != "pending" || pending.X != 250 || pending.Y != 280 || pending.Width != 50 || pending.Height != 20 {
		t.Errorf("pending: got %+v", pending)
	}

	data, err := DrawCommandsToJSON(cmds)
	if err != nil || len(data) == 0 {
		t.Errorf("DrawCommandsToJSON: %v", err)
	}
}

func TestHitTestUsesScale(t *testing.T) {
	e := newTestEngine(t)
	e.ctrl.scale = 0.5
	if got := e.HitTest(45, 45); got != "bbox-0" {
		t.Errorf("got %q, want bbox-0", got)
	}
	if got := e.HitTest(20, 60); got != "bbox-1" {
		t.Errorf("got %q, want bbox-1", got)
	}
}
