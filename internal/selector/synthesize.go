package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Candidate strategy scores. These rank expected survival across
// unrelated DOM mutations, not match precision: an id survives a layout
// refactor, a structural path does not.
const (
	scoreID         = 0.95
	scoreTestID     = 0.90
	scoreName       = 0.85
	scoreAriaLabel  = 0.80
	scoreText       = 0.60
	scoreStructural = 0.40
	scoreXPath      = 0.30

	// dynamicPenalty halves every score when the element's identity
	// attributes look generated.
	dynamicPenalty = 0.5
)

// testIDAttributes are the test-hook attribute names recognized for the
// data-testid candidate bucket, in preference order.
var testIDAttributes = []string{"data-testid", "data-test", "data-qa", "data-cy"}

// simpleIdent matches id values usable with the #id shorthand. Anything
// else goes through an [id="..."] attribute form.
var simpleIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Scope answers uniqueness questions about a captured DOM subtree.
// Candidates that would match more than one element inside their frame
// are not emitted; a selector that resolves to two nodes is worse than
// none at all.
type Scope interface {
	// CountID returns how many elements carry the exact id value.
	CountID(id string) int
	// CountTagAttribute returns how many elements of the tag carry the
	// exact attribute value.
	CountTagAttribute(tag, name, value string) int
	// CountText returns how many elements of the tag contain the
	// substring in their visible text.
	CountText(tag, substring string) int
}

// PathSegment is one hop of a structural path from the document root.
// Index is the 1-based position among same-tag siblings, or 0 when the
// tag occurs once under its parent.
type PathSegment struct {
	Tag   string `json:"tag"`
	Index int    `json:"index,omitempty"`
}

// Synthesizer builds ranked selector candidates for element
// descriptors. It owns a Classifier so dynamic identity values are
// skipped and dynamic elements are demoted in one place.
type Synthesizer struct {
	classifier    *Classifier
	textMaxLength int
}

// NewSynthesizer builds a synthesizer from configuration.
func NewSynthesizer(cfg config.SelectorConfig) *Synthesizer {
	limit := cfg.TextMaxLength
	if limit <= 0 {
		limit = 50
	}
	return &Synthesizer{
		classifier:    NewClassifier(cfg),
		textMaxLength: limit,
	}
}

// Classifier exposes the synthesizer's classifier for callers that need
// classification without candidate generation.
func (s *Synthesizer) Classifier() *Classifier {
	return s.classifier
}

// Candidates produces the ranked candidate list for one element.
// Visual-only elements return an empty list: nothing in the DOM can
// anchor them and callers must fall back to vision checks. The path is
// the element's structural position within its frame; scope answers
// uniqueness inside the same frame.
func (s *Synthesizer) Candidates(d domain.ElementDescriptor, path []PathSegment, scope Scope) []domain.SelectorCandidate {
	class := d.Classification
	if class == "" {
		class = s.classifier.Classify(d)
	}
	if class == domain.ClassVisualOnly {
		return nil
	}

	var out []domain.SelectorCandidate
	add := func(kind domain.SelectorKind, sel string, score float64) {
		if class == domain.ClassDynamic {
			score *= dynamicPenalty
		}
		out = append(out, domain.SelectorCandidate{Kind: kind, Selector: sel, Score: score})
	}

	if id := d.Attr("id"); id != "" && !s.classifier.IsDynamicValue(id) {
		if scope == nil || scope.CountID(id) <= 1 {
			add(domain.SelectorKindID, idSelector(id), scoreID)
		}
	}

	for _, name := range testIDAttributes {
		v := d.Attr(name)
		if v == "" || s.classifier.IsDynamicValue(v) {
			continue
		}
		if scope == nil || scope.CountTagAttribute(d.Tag, name, v) <= 1 {
			add(domain.SelectorKindCSSAttribute, attributeSelector(d.Tag, name, v), scoreTestID)
		}
		break
	}

	if v := d.Attr("name"); v != "" && !s.classifier.IsDynamicValue(v) {
		if scope == nil || scope.CountTagAttribute(d.Tag, "name", v) <= 1 {
			add(domain.SelectorKindCSSAttribute, attributeSelector(d.Tag, "name", v), scoreName)
		}
	}

	if v := d.Attr("aria-label"); v != "" && !s.classifier.IsDynamicValue(v) {
		if scope == nil || scope.CountTagAttribute(d.Tag, "aria-label", v) <= 1 {
			add(domain.SelectorKindCSSAttribute, attributeSelector(d.Tag, "aria-label", v), scoreAriaLabel)
		}
	}

	if text := s.normalizeText(d.Text); text != "" {
		if scope == nil || scope.CountText(d.Tag, text) <= 1 {
			add(domain.SelectorKindTextMatch, textSelector(d.Tag, text), scoreText)
		}
	}

	if len(path) > 0 {
		add(domain.SelectorKindCSSStructural, StructuralSelector(path), scoreStructural)
		add(domain.SelectorKindXPath, XPathSelector(path), scoreXPath)
	}

	domain.SortCandidates(out)
	return out
}

// normalizeText reduces visible text to a stable match key: first line
// only, whitespace collapsed, truncated to the configured cap. Multi
// line or padded text would otherwise produce brittle predicates.
func (s *Synthesizer) normalizeText(text string) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > s.textMaxLength {
		text = text[:s.textMaxLength]
		text = strings.TrimSpace(text)
	}
	return text
}

// StructuralSelector renders a root-anchored CSS path. Positional
// qualifiers appear only where the segment had same-tag siblings, so an
// only-child hop stays a bare tag and survives sibling insertion
// elsewhere.
func StructuralSelector(path []PathSegment) string {
	parts := make([]string, 0, len(path))
	for _, seg := range path {
		if seg.Index > 0 {
			parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", seg.Tag, seg.Index))
		} else {
			parts = append(parts, seg.Tag)
		}
	}
	return strings.Join(parts, " > ")
}

// XPathSelector renders a root-anchored absolute XPath. The "xpath="
// prefix forces engine selection: a bare single-slash path would be
// parsed as CSS.
func XPathSelector(path []PathSegment) string {
	var b strings.Builder
	b.WriteString("xpath=")
	for _, seg := range path {
		b.WriteString("/")
		b.WriteString(seg.Tag)
		if seg.Index > 0 {
			fmt.Fprintf(&b, "[%d]", seg.Index)
		}
	}
	return b.String()
}

// idSelector renders the #id shorthand when the value permits it and an
// attribute-equality form otherwise.
func idSelector(id string) string {
	if simpleIdent.MatchString(id) {
		return "#" + id
	}
	return fmt.Sprintf(`[id=%s]`, quoteCSS(id))
}

func attributeSelector(tag, name, value string) string {
	return fmt.Sprintf(`%s[%s=%s]`, tag, name, quoteCSS(value))
}

// textSelector renders playwright's has-text pseudo-class, which
// matches on substring containment.
func textSelector(tag, text string) string {
	return fmt.Sprintf(`%s:has-text(%s)`, tag, quoteCSS(text))
}

// quoteCSS renders a double-quoted CSS string with embedded quotes and
// backslashes escaped.
func quoteCSS(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
