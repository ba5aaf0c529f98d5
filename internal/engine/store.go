package engine

import (
	"github.com/boxmark/boxmark/internal/document"
	"github.com/boxmark/boxmark/internal/palette"
	"github.com/boxmark/boxmark/internal/typeid"
)

// RectView is a rectangle as presented to a renderer, with its derived
// stroke color resolved from the label.
type RectView struct {
	document.Rectangle
	Stroke   string `json:"stroke"`
	Selected bool   `json:"selected"`
}

// Store owns the ordered rectangle collection and the selection. The last
// rectangle is on top for painting and hit testing.
//
// Every mutation replaces the rectangle slice instead of writing into it, so
// slices returned by Rectangles stay valid after later edits.
type Store struct {
	rects       []document.Rectangle
	selectedID  string
	activeLabel string
	labels      []string
	palette     *palette.Palette
	newID       func() string
}

// NewStore creates an empty store over a label vocabulary. The active label
// starts at the first vocabulary entry.
func NewStore(labels []string, pal *palette.Palette) *Store {
	s := &Store{
		labels:  labels,
		palette: pal,
		newID:   typeid.NewBoxID,
	}
	if len(labels) > 0 {
		s.activeLabel = labels[0]
	}
	return s
}

// Seed replaces the collection with initial rectangles.
func (s *Store) Seed(rects []document.Rectangle) {
	s.rects = append([]document.Rectangle(nil), rects...)
	s.selectedID = ""
}

// Create converts a pointer-space drag box to image space and appends it as
// the new top rectangle. Degenerate drags are dropped.
func (s *Store) Create(box Rect, scale float64, label string) (document.Rectangle, bool) {
	if box.Width == 0 || box.Height == 0 {
		return document.Rectangle{}, false
	}
	if !s.HasLabel(label) {
		return document.Rectangle{}, false
	}
	img := box.ToImage(scale)
	r := document.Rectangle{
		ID:     s.newID(),
		X:      img.X,
		Y:      img.Y,
		Width:  img.Width,
		Height: img.Height,
		Label:  label,
	}
	next := make([]document.Rectangle, 0, len(s.rects)+1)
	next = append(next, s.rects...)
	s.rects = append(next, r)
	return r, true
}

// Update replaces the geometry of rectangle id in place. The label is taken
// from attrs only when it belongs to the vocabulary.
func (s *Store) Update(id string, attrs document.Rectangle) {
	i := s.index(id)
	if i < 0 {
		return
	}
	next := s.clone()
	r := next[i]
	r.X, r.Y, r.Width, r.Height = attrs.X, attrs.Y, attrs.Width, attrs.Height
	if attrs.Label != "" && s.HasLabel(attrs.Label) {
		r.Label = attrs.Label
	}
	next[i] = r
	s.rects = next
}

// Delete removes rectangle id and drops the selection if it pointed there.
func (s *Store) Delete(id string) {
	i := s.index(id)
	if i < 0 {
		return
	}
	next := make([]document.Rectangle, 0, len(s.rects)-1)
	next = append(next, s.rects[:i]...)
	next = append(next, s.rects[i+1:]...)
	s.rects = next
	if s.selectedID == id {
		s.selectedID = ""
	}
}

// Select makes id the selection, moves it to the top and syncs the active
// label. An empty id clears the selection without reordering. Unknown ids
// are ignored.
func (s *Store) Select(id string) {
	if id == "" {
		s.selectedID = ""
		return
	}
	i := s.index(id)
	if i < 0 {
		return
	}
	r := s.rects[i]
	next := make([]document.Rectangle, 0, len(s.rects))
	next = append(next, s.rects[:i]...)
	next = append(next, s.rects[i+1:]...)
	s.rects = append(next, r)
	s.selectedID = id
	s.activeLabel = r.Label
}

// Relabel sets the label of rectangle id and makes it the active label.
// With an empty id only the active label changes. Labels outside the
// vocabulary are rejected.
func (s *Store) Relabel(id, label string) bool {
	if !s.HasLabel(label) {
		return false
	}
	s.activeLabel = label
	if id == "" {
		return true
	}
	i := s.index(id)
	if i < 0 {
		return true
	}
	next := s.clone()
	next[i].Label = label
	s.rects = next
	return true
}

// Normalize enforces the canvas invariants on every rectangle.
func (s *Store) Normalize(imageWidth, imageHeight float64) {
	next := s.clone()
	for i, r := range next {
		n := RectOf(r).Normalize(imageWidth, imageHeight)
		next[i].X, next[i].Y, next[i].Width, next[i].Height = n.X, n.Y, n.Width, n.Height
	}
	s.rects = next
}

// HitTest returns the id of the topmost rectangle containing the image-space
// point, or empty string.
func (s *Store) HitTest(p Point) string {
	for i := len(s.rects) - 1; i >= 0; i-- {
		if RectOf(s.rects[i]).Contains(p.X, p.Y) {
			return s.rects[i].ID
		}
	}
	return ""
}

// HasLabel reports whether label is in the vocabulary.
func (s *Store) HasLabel(label string) bool {
	return s.labelIndex(label) >= 0
}

// Rectangles returns the current collection in paint order.
func (s *Store) Rectangles() []document.Rectangle {
	return s.rects
}

// Get returns rectangle id.
func (s *Store) Get(id string) (document.Rectangle, bool) {
	i := s.index(id)
	if i < 0 {
		return document.Rectangle{}, false
	}
	return s.rects[i], true
}

// SelectedID returns the selected rectangle id, or empty string.
func (s *Store) SelectedID() string {
	return s.selectedID
}

// ActiveLabel returns the label assigned to the next created rectangle.
func (s *Store) ActiveLabel() string {
	return s.activeLabel
}

// Views returns the rectangles with derived stroke colors.
func (s *Store) Views() []RectView {
	views := make([]RectView, len(s.rects))
	for i, r := range s.rects {
		views[i] = RectView{
			Rectangle: r,
			Stroke:    s.palette.ColorOf(r.Label),
			Selected:  r.ID == s.selectedID,
		}
	}
	return views
}

// CommitBoxes serializes the rectangles in current order for the host.
func (s *Store) CommitBoxes() []document.CommitBox {
	boxes := make([]document.CommitBox, len(s.rects))
	for i, r := range s.rects {
		boxes[i] = document.CommitBox{
			BBox:    [4]float64{r.X, r.Y, r.Width, r.Height},
			LabelID: s.labelIndex(r.Label),
			Label:   r.Label,
		}
	}
	return boxes
}

func (s *Store) index(id string) int {
	if id == "" {
		return -1
	}
	for i, r := range s.rects {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) labelIndex(label string) int {
	for i, l := range s.labels {
		if l == label {
			return i
		}
	}
	return -1
}

func (s *Store) clone() []document.Rectangle {
	return append([]document.Rectangle(nil), s.rects...)
}
