package dom

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/selector"
)

// maxElementsPerFrame bounds the snapshot payload. Uniqueness counts
// over a truncated capture are best effort; live resolution still
// enforces a single visible match.
const maxElementsPerFrame = 1200

// collectScript walks a frame's document and returns a flat element
// list in document order. It runs inside each frame separately, so
// structural paths are anchored at the frame's own document root and
// never cross a frame boundary.
const collectScript = `(() => {
	const MAX = 1200;
	const ATTR_KEYS = ['id', 'name', 'class', 'aria-label', 'placeholder', 'role', 'type', 'value', 'title', 'alt', 'href', 'data-testid', 'data-test', 'data-qa', 'data-cy', 'data-value'];
	const SKIP = new Set(['script', 'style', 'noscript', 'template', 'head', 'meta', 'link', 'base']);
	const INTERACTIVE_TAGS = new Set(['a', 'button', 'input', 'select', 'textarea', 'option', 'summary']);
	const INTERACTIVE_ROLES = new Set(['button', 'link', 'checkbox', 'radio', 'tab', 'menuitem', 'menuitemcheckbox', 'menuitemradio', 'option', 'switch', 'combobox', 'textbox', 'searchbox', 'slider']);
	const out = [];

	const isInteractive = (el, tag) => {
		if (INTERACTIVE_TAGS.has(tag)) return true;
		const role = el.getAttribute('role');
		if (role && INTERACTIVE_ROLES.has(role)) return true;
		if (el.hasAttribute('onclick')) return true;
		const editable = el.getAttribute('contenteditable');
		if (editable !== null && editable !== 'false') return true;
		const tabindex = el.getAttribute('tabindex');
		if (tabindex !== null && parseInt(tabindex, 10) >= 0) return true;
		return false;
	};

	const isVisible = (el) => {
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0) return false;
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	};

	const collapse = (s) => s.replace(/\s+/g, ' ').trim();

	const directText = (el) => {
		let text = '';
		for (const child of el.childNodes) {
			if (child.nodeType === Node.TEXT_NODE) text += child.textContent + ' ';
		}
		return collapse(text);
	};

	// Subtree text, stopping at nested interactive elements so a
	// container's text does not swallow its buttons' labels.
	const reachableText = (el) => {
		const parts = [];
		const walk = (node) => {
			for (const child of node.childNodes) {
				if (child.nodeType === Node.TEXT_NODE) {
					parts.push(child.textContent);
				} else if (child.nodeType === Node.ELEMENT_NODE) {
					const tag = child.tagName.toLowerCase();
					if (SKIP.has(tag)) continue;
					if (isInteractive(child, tag)) continue;
					walk(child);
				}
			}
		};
		walk(el);
		return collapse(parts.join(' '));
	};

	const visit = (el, depth, path) => {
		if (out.length >= MAX) return;
		const tag = el.tagName.toLowerCase();
		if (SKIP.has(tag)) return;

		let index = 0;
		const parent = el.parentElement;
		if (parent) {
			let same = 0, position = 0;
			for (const sibling of parent.children) {
				if (sibling.tagName === el.tagName) {
					same += 1;
					if (sibling === el) position = same;
				}
			}
			if (same > 1) index = position;
		}
		const fullPath = path.concat([{tag: tag, index: index}]);

		const attrs = {};
		for (const key of ATTR_KEYS) {
			const value = el.getAttribute(key);
			if (value !== null && value !== '') attrs[key] = value;
		}
		if ((tag === 'input' || tag === 'select' || tag === 'textarea') && el.value && attrs['value'] === undefined) {
			attrs['value'] = String(el.value).slice(0, 100);
		}

		const interactive = isInteractive(el, tag);
		const rect = el.getBoundingClientRect();
		const record = {
			tag: tag,
			attrs: attrs,
			interactive: interactive,
			visible: isVisible(el),
			depth: depth,
			sibling_index: index,
			path: fullPath,
			box: {x: rect.x, y: rect.y, w: rect.width, h: rect.height},
			direct_text: directText(el).slice(0, 400),
			text: interactive ? reachableText(el).slice(0, 400) : '',
			parent_tag: parent ? parent.tagName.toLowerCase() : '',
			parent_id: parent ? (parent.getAttribute('id') || '') : '',
			parent_testid: parent ? (parent.getAttribute('data-testid') || '') : ''
		};
		out.push(record);

		for (const child of el.children) visit(child, depth + 1, fullPath);
	};

	if (document.documentElement) visit(document.documentElement, 0, []);
	return out;
})()`

// rawElement mirrors one record produced by collectScript.
type rawElement struct {
	Tag          string             `json:"tag"`
	Attrs        map[string]string  `json:"attrs"`
	Interactive  bool               `json:"interactive"`
	Visible      bool               `json:"visible"`
	Depth        int                `json:"depth"`
	SiblingIndex int                `json:"sibling_index"`
	Path         []rawSegment       `json:"path"`
	Box          domain.BoundingBox `json:"box"`
	DirectText   string             `json:"direct_text"`
	Text         string             `json:"text"`
	ParentTag    string             `json:"parent_tag"`
	ParentID     string             `json:"parent_id"`
	ParentTestID string             `json:"parent_testid"`
}

type rawSegment struct {
	Tag   string `json:"tag"`
	Index int    `json:"index"`
}

// Snapshotter is the slice of the browser driver needed for capture.
type Snapshotter interface {
	URL() string
	Title() (string, error)
	FrameSnapshots(ctx context.Context, script string, arg any) ([]browser.FrameSnapshot, error)
}

// Capture snapshots the page into a Tree. Child frames that cannot be
// evaluated are absent from the result rather than failing the
// capture.
func Capture(ctx context.Context, drv Snapshotter, classifier *selector.Classifier) (*Tree, error) {
	snaps, err := drv.FrameSnapshots(ctx, collectScript, nil)
	if err != nil {
		return nil, fmt.Errorf("dom capture: %w", err)
	}

	title, _ := drv.Title()
	tree := &Tree{
		URL:        drv.URL(),
		Title:      title,
		CapturedAt: time.Now().UTC(),
	}

	nextIndex := 0
	for _, snap := range snaps {
		raws, err := decodeElements(snap.Value)
		if err != nil {
			return nil, fmt.Errorf("dom capture: frame %q: %w", snap.FrameID, err)
		}
		frame := &FrameTree{FrameID: snap.FrameID, URL: snap.URL}
		for i := range raws {
			node := buildNode(&raws[i], snap.FrameID, classifier)
			if node.Interactive {
				node.InteractiveIndex = nextIndex
				nextIndex++
			}
			frame.Nodes = append(frame.Nodes, node)
		}
		tree.Frames = append(tree.Frames, frame)
	}

	tree.index()
	return tree, nil
}

// decodeElements converts the evaluated script result back into typed
// records through a JSON round trip.
func decodeElements(value any) ([]rawElement, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var raws []rawElement
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(raws) > maxElementsPerFrame {
		raws = raws[:maxElementsPerFrame]
	}
	return raws, nil
}

func buildNode(raw *rawElement, frameID string, classifier *selector.Classifier) *Node {
	attrs := make(map[string]string, len(raw.Attrs))
	for k, v := range raw.Attrs {
		attrs[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	path := make([]selector.PathSegment, len(raw.Path))
	ancestors := make([]string, 0, len(raw.Path))
	for i, seg := range raw.Path {
		path[i] = selector.PathSegment{Tag: seg.Tag, Index: seg.Index}
		if i < len(raw.Path)-1 {
			ancestors = append(ancestors, seg.Tag)
		}
	}

	text := raw.Text
	if text == "" {
		text = raw.DirectText
	}

	desc := domain.ElementDescriptor{
		Tag:          raw.Tag,
		Attributes:   attrs,
		Text:         text,
		Box:          raw.Box,
		AncestorTags: ancestors,
		SiblingIndex: raw.SiblingIndex,
		FrameID:      frameID,
	}
	desc.Classification = classifier.Classify(desc)

	return &Node{
		Descriptor:       desc,
		Path:             path,
		InteractiveIndex: -1,
		Interactive:      raw.Interactive,
		Visible:          raw.Visible,
		Depth:            raw.Depth,
		DirectText:       raw.DirectText,
		ParentTag:        raw.ParentTag,
		ParentID:         raw.ParentID,
		ParentTestID:     raw.ParentTestID,
	}
}
