package document

import (
	"errors"
	"fmt"
	"time"
)

// MinExtent is the smallest width or height a rectangle may have at rest.
const MinExtent = 5.0

const (
	DefaultLineWidth   = 5.0
	DefaultDeleteLabel = "Del"
)

var (
	ErrNoLabels       = errors.New("label list is empty")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrBadImageSize   = errors.New("image size must be two positive integers")
	ErrUnknownLabel   = errors.New("label not in label list")
	ErrMissingImage   = errors.New("image url is required")
)

// Rectangle is one annotated bounding box in image coordinates.
// The stroke color is not stored here; it is always derived from Label.
type Rectangle struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label"`
}

// BoxInfo is an initial box as supplied by the host.
type BoxInfo struct {
	BBox    [4]float64 `json:"bbox"`
	LabelID *int       `json:"label_id,omitempty"`
	Label   string     `json:"label,omitempty"`
}

// SessionConfig is the immutable configuration snapshot for one annotation session.
type SessionConfig struct {
	ImageURL        string            `json:"image_url"`
	ImageSize       []int             `json:"image_size,omitempty"`
	LabelList       []string          `json:"label_list"`
	BBoxInfo        []BoxInfo         `json:"bbox_info"`
	ColorMap        map[string]string `json:"color_map,omitempty"`
	LineWidth       float64           `json:"line_width"`
	UseSpace        bool              `json:"use_space"`
	IncludeSnapshot bool              `json:"include_snapshot"`
	DeleteLabel     string            `json:"delete_label,omitempty"`
}

// HasImageSize reports whether the host supplied the image dimensions.
func (c *SessionConfig) HasImageSize() bool {
	return len(c.ImageSize) == 2
}

func (c *SessionConfig) ImageWidth() float64 {
	if !c.HasImageSize() {
		return 0
	}
	return float64(c.ImageSize[0])
}

func (c *SessionConfig) ImageHeight() float64 {
	if !c.HasImageSize() {
		return 0
	}
	return float64(c.ImageSize[1])
}

// ApplyDefaults fills optional fields the host left out.
func (c *SessionConfig) ApplyDefaults() {
	if c.LineWidth <= 0 {
		c.LineWidth = DefaultLineWidth
	}
	if c.DeleteLabel == "" {
		c.DeleteLabel = DefaultDeleteLabel
	}
	if c.BBoxInfo == nil {
		c.BBoxInfo = []BoxInfo{}
	}
}

// Validate checks the host-supplied configuration. Image size is checked only
// when present; callers probe the image first when it is missing.
func (c *SessionConfig) Validate() error {
	if c.ImageURL == "" {
		return ErrMissingImage
	}
	if len(c.LabelList) == 0 {
		return ErrNoLabels
	}
	seen := make(map[string]bool, len(c.LabelList))
	for _, l := range c.LabelList {
		if seen[l] {
			return fmt.Errorf("%w: %q", ErrDuplicateLabel, l)
		}
		seen[l] = true
	}
	if c.ImageSize != nil {
		if len(c.ImageSize) != 2 || c.ImageSize[0] <= 0 || c.ImageSize[1] <= 0 {
			return ErrBadImageSize
		}
	}
	for i, b := range c.BBoxInfo {
		if _, err := c.ResolveLabel(b); err != nil {
			return fmt.Errorf("bbox_info[%d]: %w", i, err)
		}
	}
	return nil
}

// ResolveLabel returns the vocabulary label for an initial box. An explicit
// label wins over label_id.
func (c *SessionConfig) ResolveLabel(b BoxInfo) (string, error) {
	if b.Label != "" {
		if c.LabelIndex(b.Label) < 0 {
			return "", fmt.Errorf("%w: %q", ErrUnknownLabel, b.Label)
		}
		return b.Label, nil
	}
	if b.LabelID != nil && *b.LabelID >= 0 && *b.LabelID < len(c.LabelList) {
		return c.LabelList[*b.LabelID], nil
	}
	return "", ErrUnknownLabel
}

// LabelIndex returns the position of label in the vocabulary, or -1.
func (c *SessionConfig) LabelIndex(label string) int {
	for i, l := range c.LabelList {
		if l == label {
			return i
		}
	}
	return -1
}

// CommitBox is one rectangle as delivered to the host.
type CommitBox struct {
	BBox    [4]float64 `json:"bbox"`
	LabelID int        `json:"label_id"`
	Label   string     `json:"label"`
}

// Snapshot is an encoded render of the annotated canvas.
type Snapshot struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Data     string `json:"data"`
}

// Commit is the final rectangle set of a session at the moment of commit.
type Commit struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Boxes     []CommitBox `json:"bboxes"`
	Image     *Snapshot   `json:"image,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

type snapshotPayload struct {
	CurrentBboxValue []CommitBox `json:"currentBboxValue"`
	ImgJSON          *Snapshot   `json:"imgJson"`
}

// HostPayload returns the value handed to the host frame. Without snapshots
// the host receives the plain box list.
func (c *Commit) HostPayload(includeSnapshot bool) any {
	boxes := c.Boxes
	if boxes == nil {
		boxes = []CommitBox{}
	}
	if !includeSnapshot {
		return boxes
	}
	return snapshotPayload{CurrentBboxValue: boxes, ImgJSON: c.Image}
}
