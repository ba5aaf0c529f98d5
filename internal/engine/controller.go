package engine

import "github.com/boxmark/boxmark/internal/document"

// Mode is the current interaction tool.
type Mode int

const (
	ModeTransform Mode = iota
	ModeDelete
)

const modeTransformLabel = "Transform"

// CommitKey is the key that commits when space-to-commit is enabled.
const CommitKey = " "

// pendingDrag is an in-progress create drag in pointer space. The origin is
// fixed at drag start; the corner follows the pointer.
type pendingDrag struct {
	origin Point
	corner Point
}

func (d pendingDrag) rect() Rect {
	return Rect{
		X:      d.origin.X,
		Y:      d.origin.Y,
		Width:  d.corner.X - d.origin.X,
		Height: d.corner.Y - d.origin.Y,
	}
}

// Controller turns pointer and keyboard events into Store operations.
type Controller struct {
	store         *Store
	mode          Mode
	pending       *pendingDrag
	scale         float64
	imageWidth    float64
	imageHeight   float64
	commitOnSpace bool
}

// NewController creates a controller in Transform mode at scale 1.
func NewController(store *Store, imageWidth, imageHeight float64, commitOnSpace bool) *Controller {
	return &Controller{
		store:         store,
		mode:          ModeTransform,
		scale:         1.0,
		imageWidth:    imageWidth,
		imageHeight:   imageHeight,
		commitOnSpace: commitOnSpace,
	}
}

// OnPointerDown handles a press at pointer-space p.
func (c *Controller) OnPointerDown(p Point) {
	hit := c.store.HitTest(p.ToImage(c.scale))

	if c.mode == ModeDelete {
		if hit != "" {
			c.store.Delete(hit)
		}
		return
	}

	if hit != "" {
		c.store.Select(hit)
		return
	}
	// one click on empty canvas first drops the selection
	if c.store.SelectedID() != "" {
		c.store.Select("")
		return
	}
	c.pending = &pendingDrag{origin: p, corner: p}
}

// OnPointerMove extends the pending drag, if any.
func (c *Controller) OnPointerMove(p Point) {
	if c.pending == nil {
		return
	}
	c.pending.corner = p
}

// OnPointerUp finishes a pending drag by creating and selecting the new
// rectangle. It reports the created rectangle.
func (c *Controller) OnPointerUp(p Point) (document.Rectangle, bool) {
	if c.pending == nil {
		return document.Rectangle{}, false
	}
	c.pending.corner = p
	box := c.pending.rect()
	c.pending = nil

	r, ok := c.store.Create(box, c.scale, c.store.ActiveLabel())
	if !ok {
		return document.Rectangle{}, false
	}
	c.normalize()
	c.store.Select(r.ID)
	r, _ = c.store.Get(r.ID)
	return r, true
}

// OnPointerLeave aborts a pending drag without creating anything.
func (c *Controller) OnPointerLeave() {
	c.pending = nil
}

// OnModeChange switches the tool. Switching is refused while a create drag
// is in progress so pointer-up always completes in the mode it began in.
func (c *Controller) OnModeChange(m Mode) bool {
	if c.pending != nil {
		return false
	}
	if m != ModeTransform && m != ModeDelete {
		return false
	}
	c.mode = m
	return true
}

// OnLabelChange relabels the selection, if any, and sets the active label.
func (c *Controller) OnLabelChange(label string) bool {
	return c.store.Relabel(c.store.SelectedID(), label)
}

// OnTransform applies move/resize handle output for rectangle id. The box
// is in pointer space.
func (c *Controller) OnTransform(id string, box Rect) {
	if c.mode != ModeTransform {
		return
	}
	current, ok := c.store.Get(id)
	if !ok {
		return
	}
	img := box.ToImage(c.scale)
	current.X, current.Y, current.Width, current.Height = img.X, img.Y, img.Width, img.Height
	c.store.Update(id, current)
	c.normalize()
}

// OnKey reports whether key requests a commit.
func (c *Controller) OnKey(key string) bool {
	return c.commitOnSpace && key == CommitKey
}

// OnViewportResize recomputes the scale factor for a new viewport width.
func (c *Controller) OnViewportResize(viewportWidth float64) {
	c.scale = ScaleFactor(viewportWidth, c.imageWidth)
}

// Mode returns the current tool.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Scale returns the pointer/image scale factor.
func (c *Controller) Scale() float64 {
	return c.scale
}

// FrameHeight is the pointer-space height of the canvas.
func (c *Controller) FrameHeight() float64 {
	return c.imageHeight * c.scale
}

// Pending returns the in-progress drag box in pointer space.
func (c *Controller) Pending() (Rect, bool) {
	if c.pending == nil {
		return Rect{}, false
	}
	return c.pending.rect(), true
}

func (c *Controller) normalize() {
	c.store.Normalize(c.imageWidth, c.imageHeight)
}
