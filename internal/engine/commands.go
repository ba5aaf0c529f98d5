package engine

import (
	"encoding/json"
)

// DrawCommand represents a single drawing operation for the host renderer.
// Commands are in painter's order (back to front).
type DrawCommand struct {
	Op          string    `json:"op"`                    // "image", "rect", "pending"
	ObjectID    string    `json:"objectId,omitempty"`    // For hit correlation
	Transform   []float64 `json:"transform,omitempty"`   // [a, b, c, d, e, f] image → pointer
	X           float64   `json:"x"`                     // Image space, except for "pending"
	Y           float64   `json:"y"`                     //
	Width       float64   `json:"width"`                 //
	Height      float64   `json:"height"`                //
	Stroke      string    `json:"stroke,omitempty"`      // Stroke color
	StrokeWidth float64   `json:"strokeWidth,omitempty"` // Passed through from the session config
	Label       string    `json:"label,omitempty"`
	Selected    bool      `json:"selected,omitempty"`
	Draggable   bool      `json:"draggable,omitempty"` // Show move/resize handles
	ImageURL    string    `json:"imageUrl,omitempty"`
}

// CompileDrawCommands generates the draw command buffer for the current
// editor state: background image, rectangles bottom to top, then the
// pending drag box in pointer space.
func (e *Engine) CompileDrawCommands() []DrawCommand {
	view := ViewMatrix(e.ctrl.Scale()).ToSlice()

	commands := make([]DrawCommand, 0, len(e.store.Rectangles())+2)
	commands = append(commands, DrawCommand{
		Op:        "image",
		Transform: view,
		Width:     e.cfg.ImageWidth(),
		Height:    e.cfg.ImageHeight(),
		ImageURL:  e.cfg.ImageURL,
	})

	transforming := e.ctrl.Mode() == ModeTransform
	for _, r := range e.store.Views() {
		commands = append(commands, DrawCommand{
			Op:          "rect",
			ObjectID:    r.ID,
			Transform:   view,
			X:           r.X,
			Y:           r.Y,
			Width:       r.Width,
			Height:      r.Height,
			Stroke:      r.Stroke,
			StrokeWidth: e.cfg.LineWidth,
			Label:       r.Label,
			Selected:    r.Selected,
			Draggable:   r.Selected && transforming,
		})
	}

	if box, ok := e.ctrl.Pending(); ok {
		box = box.Canonical()
		commands = append(commands, DrawCommand{
			Op:          "pending",
			X:           box.X,
			Y:           box.Y,
			Width:       box.Width,
			Height:      box.Height,
			Stroke:      e.palette.ColorOf(e.store.ActiveLabel()),
			StrokeWidth: e.cfg.LineWidth,
			Label:       e.store.ActiveLabel(),
		})
	}

	return commands
}

// DrawCommandsToJSON serializes draw commands to JSON.
func DrawCommandsToJSON(commands []DrawCommand) (string, error) {
	data, err := json.Marshal(commands)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}
