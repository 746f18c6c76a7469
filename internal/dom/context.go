package dom

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how much static content a rendered context carries.
// Action context stays lean so the model focuses on operable elements;
// verification context includes static text the model may need to
// check.
type Mode string

const (
	ModeAction       Mode = "action"
	ModeVerification Mode = "verification"
)

const (
	defaultMaxStaticAction       = 50
	defaultMaxStaticVerification = 150
)

// renderAttributes is the whitelist shown in rendered context, in
// display order.
var renderAttributes = []string{
	"id", "name", "class", "aria-label", "placeholder", "role",
	"type", "value", "title", "alt", "href", "data-testid", "data-value",
}

// commonStaticTags are always rendered in verification context even
// without text or attributes.
var commonStaticTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "span": true, "div": true, "li": true,
	"label": true, "td": true, "th": true, "strong": true, "em": true,
	"dt": true, "dd": true,
}

// RenderOptions configures context rendering. Zero values select
// action mode with the default static cap.
type RenderOptions struct {
	Mode       Mode
	MaxStatic  int
	Attributes []string
}

// RenderContext formats a tree for model consumption. Interactive
// elements carry a bracketed ordinal; static elements get a temporary
// data-static-id usable for one follow-up lookup. The returned map
// resolves those temporary ids back to nodes.
func RenderContext(t *Tree, opts RenderOptions) (string, map[string]*Node) {
	if opts.Mode == "" {
		opts.Mode = ModeAction
	}
	maxStatic := opts.MaxStatic
	if maxStatic <= 0 {
		if opts.Mode == ModeVerification {
			maxStatic = defaultMaxStaticVerification
		} else {
			maxStatic = defaultMaxStaticAction
		}
	}
	attrKeys := opts.Attributes
	if len(attrKeys) == 0 {
		attrKeys = renderAttributes
	}

	var lines []string
	staticMap := make(map[string]*Node)
	staticCount := 0

	for _, frame := range t.Frames {
		for _, node := range frame.Nodes {
			line, ok := renderNode(node, opts.Mode, attrKeys, maxStatic, &staticCount, staticMap)
			if ok {
				lines = append(lines, line)
			}
		}
	}

	out := strings.Join(lines, "\n")
	if staticCount >= maxStatic {
		out += fmt.Sprintf("\n... (Static element list truncated after %d entries)", maxStatic)
	}
	return out, staticMap
}

func renderNode(node *Node, mode Mode, attrKeys []string, maxStatic int, staticCount *int, staticMap map[string]*Node) (string, bool) {
	indent := strings.Repeat("  ", node.Depth)
	marker := ""
	if !node.Visible {
		marker = " (Not Visible)"
	}

	attrs := formatAttributes(node, mode, attrKeys)
	tag := node.Descriptor.Tag

	if node.Interactive {
		text := node.Text()
		if len(text) > 150 {
			text = text[:147] + "..."
		}
		var b strings.Builder
		b.WriteString(indent)
		b.WriteString("[")
		b.WriteString(strconv.Itoa(node.InteractiveIndex))
		b.WriteString("]<")
		b.WriteString(tag)
		if attrs != "" {
			b.WriteString(" ")
			b.WriteString(attrs)
		}
		if text != "" {
			b.WriteString(">")
			b.WriteString(text)
			b.WriteString("</")
			b.WriteString(tag)
			b.WriteString(">")
		} else {
			b.WriteString(" />")
		}
		b.WriteString(marker)
		return b.String(), true
	}

	if mode != ModeVerification || *staticCount >= maxStatic {
		return "", false
	}

	text := node.DirectText
	if !commonStaticTags[tag] && text == "" && attrs == "" {
		return "", false
	}

	id := "s" + strconv.Itoa(len(staticMap)+1)
	staticMap[id] = node
	*staticCount++

	var b strings.Builder
	b.WriteString(indent)
	b.WriteString("<")
	b.WriteString(tag)
	if attrs != "" {
		b.WriteString(" ")
		b.WriteString(attrs)
	}
	b.WriteString(` data-static-id="`)
	b.WriteString(id)
	b.WriteString(`"`)
	b.WriteString(" (Static)")
	b.WriteString(marker)
	if hint := parentHint(node); hint != "" {
		b.WriteString(" ")
		b.WriteString(hint)
	}
	if text != "" {
		b.WriteString(">")
		b.WriteString(text)
		b.WriteString("</")
		b.WriteString(tag)
		b.WriteString(">")
	} else {
		b.WriteString(" />")
	}
	return b.String(), true
}

// formatAttributes renders the whitelisted attributes in display
// order. Static elements only carry attributes in verification mode.
func formatAttributes(node *Node, mode Mode, attrKeys []string) string {
	if !node.Interactive && mode != ModeVerification {
		return ""
	}
	var parts []string
	for _, key := range attrKeys {
		value := node.Descriptor.Attr(key)
		if value == "" {
			continue
		}
		if key == "class" && len(value) > 100 && mode == ModeAction {
			value = value[:97] + "..."
		}
		if len(value) >= 50 {
			value = value[:47] + "..."
		}
		parts = append(parts, fmt.Sprintf(`%s="%s"`, key, value))
	}
	return strings.Join(parts, " ")
}

// parentHint names the direct parent when it carries an id or testid.
// Rendered only for static elements that lack identifiers of their
// own.
func parentHint(node *Node) string {
	if node.Descriptor.HasAttr("id") || node.Descriptor.HasAttr("data-testid") || node.Descriptor.HasAttr("name") {
		return ""
	}
	var parts []string
	if node.ParentID != "" {
		parts = append(parts, fmt.Sprintf(`id="%s"`, clip(node.ParentID, 20)))
	}
	if node.ParentTestID != "" {
		parts = append(parts, fmt.Sprintf(`data-testid="%s"`, clip(node.ParentTestID, 20)))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("(inside: <%s %s>)", node.ParentTag, strings.Join(parts, " "))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
