// Package palette maps annotation labels to stroke colors.
package palette

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// DefaultStroke is used for labels missing from the color map.
const DefaultStroke = "#00ff00"

// rainbowSpan is the hue range swept by Rainbow, red through magenta.
const rainbowSpan = 300.0

// Palette resolves a label to its stroke color.
type Palette struct {
	colors map[string]string
}

// New builds a palette for labels. Entries in colors win; labels without an
// entry get a rainbow hue so every label is distinguishable.
func New(labels []string, colors map[string]string) *Palette {
	p := &Palette{colors: Rainbow(labels)}
	for label, hex := range colors {
		if _, err := colorful.Hex(hex); err != nil {
			continue
		}
		p.colors[label] = hex
	}
	return p
}

// Rainbow assigns evenly spaced hues to labels in vocabulary order.
func Rainbow(labels []string) map[string]string {
	out := make(map[string]string, len(labels))
	for i, l := range labels {
		hue := rainbowSpan * float64(i) / float64(len(labels))
		out[l] = colorful.Hsv(hue, 1, 1).Hex()
	}
	return out
}

// ColorOf returns the hex stroke color for label.
func (p *Palette) ColorOf(label string) string {
	if p == nil {
		return DefaultStroke
	}
	if hex, ok := p.colors[label]; ok {
		return hex
	}
	return DefaultStroke
}

// RGBA returns the stroke color for label as an image color.
func (p *Palette) RGBA(label string) color.Color {
	c, err := colorful.Hex(p.ColorOf(label))
	if err != nil {
		c, _ = colorful.Hex(DefaultStroke)
	}
	return c.Clamped()
}

// Map returns a copy of the label to color mapping.
func (p *Palette) Map() map[string]string {
	out := make(map[string]string, len(p.colors))
	for k, v := range p.colors {
		out[k] = v
	}
	return out
}
