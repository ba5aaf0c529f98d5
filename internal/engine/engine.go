package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/palette"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrNoImageSize  = errors.New("image size unknown")
	ErrMissingShape = errors.New("transform event without box")
)

// EventType names an editor input event.
type EventType string

const (
	EventPointerDown    EventType = "pointer.down"
	EventPointerMove    EventType = "pointer.move"
	EventPointerUp      EventType = "pointer.up"
	EventPointerLeave   EventType = "pointer.leave"
	EventModeChange     EventType = "mode.change"
	EventLabelChange    EventType = "label.change"
	EventTransform      EventType = "shape.transform"
	EventKeyDown        EventType = "key.down"
	EventViewportResize EventType = "viewport.resize"
	EventCommit         EventType = "commit"
)

// Event is one input to the editor. Coordinates are in pointer space.
type Event struct {
	Type  EventType `json:"type"`
	X     float64   `json:"x,omitempty"`
	Y     float64   `json:"y,omitempty"`
	ID    string    `json:"id,omitempty"`
	Box   *Rect     `json:"box,omitempty"`
	Mode  string    `json:"mode,omitempty"`
	Label string    `json:"label,omitempty"`
	Key   string    `json:"key,omitempty"`
	Width float64   `json:"width,omitempty"`
}

// State is the render-ready view of the editor.
type State struct {
	Rectangles  []RectView    `json:"rectangles"`
	SelectedID  string        `json:"selectedId,omitempty"`
	Mode        string        `json:"mode"`
	Modes       []string      `json:"modes"`
	ActiveLabel string        `json:"activeLabel"`
	Labels      []string      `json:"labels"`
	Pending     *Rect         `json:"pending,omitempty"`
	Scale       float64       `json:"scale"`
	FrameHeight float64       `json:"frameHeight"`
	Commands    []DrawCommand `json:"commands"`
}

// Engine owns the editor state of one annotation session. It is not safe
// for concurrent use; transports serialize events onto it.
type Engine struct {
	cfg     *document.SessionConfig
	palette *palette.Palette
	store   *Store
	ctrl    *Controller
}

// New creates an engine seeded from the session configuration. The image
// size must be known.
func New(cfg *document.SessionConfig) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if !cfg.HasImageSize() {
		return nil, ErrNoImageSize
	}

	pal := palette.New(cfg.LabelList, cfg.ColorMap)
	store := NewStore(cfg.LabelList, pal)

	rects := make([]document.Rectangle, 0, len(cfg.BBoxInfo))
	for i, b := range cfg.BBoxInfo {
		label, _ := cfg.ResolveLabel(b)
		rects = append(rects, document.Rectangle{
			ID:     fmt.Sprintf("bbox-%d", i),
			X:      b.BBox[0],
			Y:      b.BBox[1],
			Width:  b.BBox[2],
			Height: b.BBox[3],
			Label:  label,
		})
	}
	store.Seed(rects)

	e := &Engine{
		cfg:     cfg,
		palette: pal,
		store:   store,
		ctrl:    NewController(store, cfg.ImageWidth(), cfg.ImageHeight(), cfg.UseSpace),
	}
	e.ctrl.normalize()
	return e, nil
}

// Dispatch applies one event. It reports whether the event asks for a commit.
func (e *Engine) Dispatch(ev Event) (bool, error) {
	p := Point{X: ev.X, Y: ev.Y}
	switch ev.Type {
	case EventPointerDown:
		e.ctrl.OnPointerDown(p)
	case EventPointerMove:
		e.ctrl.OnPointerMove(p)
	case EventPointerUp:
		e.ctrl.OnPointerUp(p)
	case EventPointerLeave:
		e.ctrl.OnPointerLeave()
	case EventModeChange:
		if m, ok := e.ParseMode(ev.Mode); ok {
			e.ctrl.OnModeChange(m)
		}
	case EventLabelChange:
		e.ctrl.OnLabelChange(ev.Label)
	case EventTransform:
		if ev.Box == nil {
			return false, ErrMissingShape
		}
		e.ctrl.OnTransform(ev.ID, *ev.Box)
	case EventKeyDown:
		return e.ctrl.OnKey(ev.Key), nil
	case EventViewportResize:
		e.ctrl.OnViewportResize(ev.Width)
	case EventCommit:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return false, nil
}

// ParseMode maps a mode selector value to a Mode. The delete mode label is
// configurable per session.
func (e *Engine) ParseMode(s string) (Mode, bool) {
	switch s {
	case modeTransformLabel:
		return ModeTransform, true
	case e.cfg.DeleteLabel:
		return ModeDelete, true
	}
	return ModeTransform, false
}

// ModeLabel returns the selector value for m.
func (e *Engine) ModeLabel(m Mode) string {
	if m == ModeDelete {
		return e.cfg.DeleteLabel
	}
	return modeTransformLabel
}

// State returns the current render-ready state.
func (e *Engine) State() State {
	st := State{
		Rectangles:  e.store.Views(),
		SelectedID:  e.store.SelectedID(),
		Mode:        e.ModeLabel(e.ctrl.Mode()),
		Modes:       []string{modeTransformLabel, e.cfg.DeleteLabel},
		ActiveLabel: e.store.ActiveLabel(),
		Labels:      e.cfg.LabelList,
		Scale:       e.ctrl.Scale(),
		FrameHeight: e.ctrl.FrameHeight(),
		Commands:    e.CompileDrawCommands(),
	}
	if box, ok := e.ctrl.Pending(); ok {
		st.Pending = &box
	}
	return st
}

// Commit captures the current rectangles for the host.
func (e *Engine) Commit() *document.Commit {
	return &document.Commit{
		Boxes:     e.store.CommitBoxes(),
		CreatedAt: time.Now().UTC(),
	}
}

// Config returns the session configuration.
func (e *Engine) Config() *document.SessionConfig {
	return e.cfg
}

// Palette returns the label color palette.
func (e *Engine) Palette() *palette.Palette {
	return e.palette
}

// Scale returns the current pointer/image scale factor.
func (e *Engine) Scale() float64 {
	return e.ctrl.Scale()
}

// Views returns the rectangles with resolved stroke colors.
func (e *Engine) Views() []RectView {
	return e.store.Views()
}

// --- JSON queries for the wasm bridge ---

// StateJSON serializes State.
func (e *Engine) StateJSON() string {
	data, err := json.Marshal(e.State())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Render returns the draw commands as JSON.
func (e *Engine) Render() string {
	result, _ := DrawCommandsToJSON(e.CompileDrawCommands())
	return result
}

// HitTest returns the topmost rectangle id at pointer-space (x, y).
func (e *Engine) HitTest(x, y float64) string {
	return e.store.HitTest(Point{X: x, Y: y}.ToImage(e.ctrl.Scale()))
}

// CommitJSON serializes the host payload for the current rectangles.
func (e *Engine) CommitJSON() string {
	c := e.Commit()
	data, err := json.Marshal(c.HostPayload(e.cfg.IncludeSnapshot))
	if err != nil {
		return "[]"
	}
	return string(data)
}
