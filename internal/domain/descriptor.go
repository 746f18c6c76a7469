package domain

import "strings"

// Classification marks how stable an element's DOM signal is expected to be
// across page loads.
type Classification string

const (
	// ClassStatic - attributes and text are expected to survive page loads
	ClassStatic Classification = "static"
	// ClassDynamic - attributes look generated (hashed ids, per-load suffixes)
	ClassDynamic Classification = "dynamic"
	// ClassVisualOnly - no usable DOM signal; identification needs vision
	ClassVisualOnly Classification = "visual-only"
)

// BoundingBox is an element's position and size in page coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// ElementDescriptor is a normalized, serializable description of one page
// element at capture time. Descriptors are pure values: no identity persists
// across captures, and re-identification is always by similarity.
type ElementDescriptor struct {
	// Tag is the lowercased element tag name
	Tag string `json:"tag"`

	// Attributes holds normalized attributes (lowercased keys, trimmed values)
	Attributes map[string]string `json:"attributes,omitempty"`

	// Text is the visible text, whitespace-collapsed and trimmed
	Text string `json:"text,omitempty"`

	// Box is the bounding box at capture time
	Box BoundingBox `json:"box"`

	// AncestorTags is the tag chain from the document root down to the parent
	AncestorTags []string `json:"ancestor_tags,omitempty"`

	// Classification per the dynamic-attribute heuristic
	Classification Classification `json:"classification"`

	// SiblingIndex is the 1-based position among same-tag siblings,
	// or 0 when the element is the sole occurrence under its parent
	SiblingIndex int `json:"sibling_index"`

	// FrameID identifies the owning frame; empty for the main frame.
	// Frames form disconnected subtrees and selectors never cross them.
	FrameID string `json:"frame_id,omitempty"`
}

// Attr returns the named attribute value, or "" when absent.
func (d *ElementDescriptor) Attr(name string) string {
	if d.Attributes == nil {
		return ""
	}
	return d.Attributes[name]
}

// HasAttr reports whether the named attribute is present and non-empty.
func (d *ElementDescriptor) HasAttr(name string) bool {
	return d.Attr(name) != ""
}

// Classes returns the element's class list in document order.
func (d *ElementDescriptor) Classes() []string {
	raw := d.Attr("class")
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

// BranchPath returns the ancestor chain plus the element's own tag,
// root to leaf, joined with "/". Used for structural comparison.
func (d *ElementDescriptor) BranchPath() string {
	parts := make([]string, 0, len(d.AncestorTags)+1)
	parts = append(parts, d.AncestorTags...)
	parts = append(parts, d.Tag)
	return strings.Join(parts, "/")
}
