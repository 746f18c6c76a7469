// Package dom captures page snapshots as element trees and renders
// them into model-readable context strings.
package dom

import (
	"strings"
	"time"

	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/selector"
)

// Node is one captured element. Nodes are snapshot values: they carry
// no live handle, and any reference back to the page goes through a
// synthesized selector.
type Node struct {
	Descriptor domain.ElementDescriptor

	// Path is the structural position within the owning frame, from
	// the frame's document root down to the element itself.
	Path []selector.PathSegment

	// InteractiveIndex is the stable ordinal used to reference the
	// element in rendered context, or -1 for non-interactive nodes.
	InteractiveIndex int

	Interactive bool
	Visible     bool
	Depth       int

	// DirectText holds only the element's own text nodes, with child
	// element text excluded.
	DirectText string

	ParentTag    string
	ParentID     string
	ParentTestID string
}

// Text returns the text used when rendering the node: the reachable
// subtree text for interactive elements, direct text otherwise.
func (n *Node) Text() string {
	if n.Interactive {
		return n.Descriptor.Text
	}
	return n.DirectText
}

// FrameTree holds the captured elements of a single frame. Frames are
// disconnected subtrees: selectors, structural paths and uniqueness
// counts never cross a frame boundary.
type FrameTree struct {
	FrameID string
	URL     string
	Nodes   []*Node
}

// CountID implements selector.Scope.
func (f *FrameTree) CountID(id string) int {
	n := 0
	for _, node := range f.Nodes {
		if node.Descriptor.Attr("id") == id {
			n++
		}
	}
	return n
}

// CountTagAttribute implements selector.Scope.
func (f *FrameTree) CountTagAttribute(tag, name, value string) int {
	n := 0
	for _, node := range f.Nodes {
		if node.Descriptor.Tag == tag && node.Descriptor.Attr(name) == value {
			n++
		}
	}
	return n
}

// CountText implements selector.Scope. Containment mirrors the
// has-text predicate, so both the reachable text and the direct text
// are probed.
func (f *FrameTree) CountText(tag, substring string) int {
	n := 0
	for _, node := range f.Nodes {
		if node.Descriptor.Tag != tag {
			continue
		}
		if strings.Contains(node.Descriptor.Text, substring) || strings.Contains(node.DirectText, substring) {
			n++
		}
	}
	return n
}

// Candidates synthesizes the ranked selector list for a node captured
// in this frame.
func (f *FrameTree) Candidates(n *Node, s *selector.Synthesizer) []domain.SelectorCandidate {
	return s.Candidates(n.Descriptor, n.Path, f)
}

// Tree is a full page snapshot: the main frame plus any same-origin
// child frames, captured at one instant.
type Tree struct {
	URL        string
	Title      string
	CapturedAt time.Time

	// Frames lists the main frame first, then child frames in
	// attachment order.
	Frames []*FrameTree

	byIndex map[int]*Node
}

// Main returns the main frame's tree, or nil for an empty capture.
func (t *Tree) Main() *FrameTree {
	if len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[0]
}

// FrameByID returns the frame with the given id, or nil. The main
// frame has the empty id.
func (t *Tree) FrameByID(id string) *FrameTree {
	for _, f := range t.Frames {
		if f.FrameID == id {
			return f
		}
	}
	return nil
}

// ByInteractiveIndex resolves a rendered ordinal back to its node.
func (t *Tree) ByInteractiveIndex(idx int) (*Node, bool) {
	n, ok := t.byIndex[idx]
	return n, ok
}

// NodeCount returns the total element count across all frames.
func (t *Tree) NodeCount() int {
	n := 0
	for _, f := range t.Frames {
		n += len(f.Nodes)
	}
	return n
}

// InteractiveNodes returns every interactive node across frames in
// capture order.
func (t *Tree) InteractiveNodes() []*Node {
	var out []*Node
	for _, f := range t.Frames {
		for _, n := range f.Nodes {
			if n.Interactive {
				out = append(out, n)
			}
		}
	}
	return out
}

// OwnerFrame returns the frame a node was captured in.
func (t *Tree) OwnerFrame(n *Node) *FrameTree {
	return t.FrameByID(n.Descriptor.FrameID)
}

func (t *Tree) index() {
	t.byIndex = make(map[int]*Node)
	for _, f := range t.Frames {
		for _, n := range f.Nodes {
			if n.InteractiveIndex >= 0 {
				t.byIndex[n.InteractiveIndex] = n
			}
		}
	}
}
