package model

import (
	"errors"
	"fmt"
)

// CodedConcept is a {system, code, display} term from a controlled vocabulary.
type CodedConcept struct {
	System  string `json:"system" yaml:"system"`
	Code    string `json:"code" yaml:"code"`
	Display string `json:"display" yaml:"display"`
}

// IsZero reports whether the concept is absent. A nil pointer counts as zero.
func (c *CodedConcept) IsZero() bool {
	return c == nil || c.Code == ""
}

// Same compares by system and code; display text is informational.
func (c *CodedConcept) Same(other *CodedConcept) bool {
	if c.IsZero() || other.IsZero() {
		return c.IsZero() && other.IsZero()
	}
	return c.System == other.System && c.Code == other.Code
}

func (c *CodedConcept) clone() *CodedConcept {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Field names one of the four coded tag fields.
type Field string

const (
	FieldLaterality Field = "laterality"
	FieldBodySite   Field = "bodySite"
	FieldView       Field = "view"
	FieldType       Field = "type"
)

// TagFields are the fields copied by bulk propagation, in display order.
var TagFields = []Field{FieldLaterality, FieldBodySite, FieldView, FieldType}

// ParseField converts a wire name into a Field.
func ParseField(s string) (Field, error) {
	for _, f := range TagFields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown metadata field %q", s)
}

// Metadata holds the structured tags for one image.
type Metadata struct {
	Laterality *CodedConcept `json:"laterality,omitempty"`
	BodySite   *CodedConcept `json:"bodySite,omitempty"`
	View       *CodedConcept `json:"view,omitempty"`
	Type       *CodedConcept `json:"type,omitempty"`
	Label      string        `json:"label,omitempty"`
	Edits      *Edits        `json:"edits,omitempty"`
}

// Get returns the concept stored under f.
func (m *Metadata) Get(f Field) *CodedConcept {
	switch f {
	case FieldLaterality:
		return m.Laterality
	case FieldBodySite:
		return m.BodySite
	case FieldView:
		return m.View
	case FieldType:
		return m.Type
	}
	return nil
}

// Set stores a copy of c under f. A nil c clears the field.
func (m *Metadata) Set(f Field, c *CodedConcept) {
	c = c.clone()
	switch f {
	case FieldLaterality:
		m.Laterality = c
	case FieldBodySite:
		m.BodySite = c
	case FieldView:
		m.View = c
	case FieldType:
		m.Type = c
	}
}

// Clone deep-copies the metadata.
func (m Metadata) Clone() Metadata {
	out := m
	out.Laterality = m.Laterality.clone()
	out.BodySite = m.BodySite.clone()
	out.View = m.View.clone()
	out.Type = m.Type.clone()
	if m.Edits != nil {
		e := m.Edits.Clone()
		out.Edits = &e
	}
	return out
}

// Edits are non-destructive, resolution independent transform parameters.
// Crop and arrow coordinates are percentages (0-100) of the image bounds
// after rotation.
type Edits struct {
	Rotation int     `json:"rotation"`
	Crop     *Crop   `json:"crop,omitempty"`
	Arrows   []Arrow `json:"arrows,omitempty"`
}

// Crop is a fractional rectangle.
type Crop struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Arrow points at (X, Y); Angle is the direction of the shaft in degrees,
// measured clockwise from "pointing right".
type Arrow struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Angle float64 `json:"angle"`
}

var (
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
	ErrInvalidCrop     = errors.New("crop must lie within 0-100% of the image")
	ErrInvalidArrow    = errors.New("arrow anchor must lie within 0-100% of the image")
)

// Validate checks the transform parameters are in range.
func (e *Edits) Validate() error {
	if e == nil {
		return nil
	}
	if e.Rotation%90 != 0 {
		return ErrInvalidRotation
	}
	if c := e.Crop; c != nil {
		if c.X < 0 || c.Y < 0 || c.Width <= 0 || c.Height <= 0 || c.X+c.Width > 100 || c.Y+c.Height > 100 {
			return ErrInvalidCrop
		}
	}
	for _, a := range e.Arrows {
		if a.X < 0 || a.X > 100 || a.Y < 0 || a.Y > 100 {
			return ErrInvalidArrow
		}
	}
	return nil
}

// QuarterTurns normalizes Rotation into 0..3 clockwise quarter turns.
func (e *Edits) QuarterTurns() int {
	if e == nil {
		return 0
	}
	return ((e.Rotation/90)%4 + 4) % 4
}

// IsZero reports whether applying the edits would leave the image untouched.
func (e *Edits) IsZero() bool {
	return e == nil || (e.QuarterTurns() == 0 && e.Crop == nil && len(e.Arrows) == 0)
}

// Clone deep-copies the edits.
func (e Edits) Clone() Edits {
	out := e
	if e.Crop != nil {
		c := *e.Crop
		out.Crop = &c
	}
	if e.Arrows != nil {
		out.Arrows = append([]Arrow(nil), e.Arrows...)
	}
	return out
}
