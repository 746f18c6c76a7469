package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

// uniqueScope reports every probe as unique.
type uniqueScope struct{}

func (uniqueScope) CountID(string) int                   { return 1 }
func (uniqueScope) CountTagAttribute(_, _, _ string) int { return 1 }
func (uniqueScope) CountText(_, _ string) int            { return 1 }

// countScope returns configured counts, defaulting to 1.
type countScope struct {
	ids   map[string]int
	attrs map[string]int
	texts map[string]int
}

func (s countScope) CountID(id string) int {
	if n, ok := s.ids[id]; ok {
		return n
	}
	return 1
}

func (s countScope) CountTagAttribute(tag, name, value string) int {
	if n, ok := s.attrs[tag+"|"+name+"|"+value]; ok {
		return n
	}
	return 1
}

func (s countScope) CountText(tag, text string) int {
	if n, ok := s.texts[tag+"|"+text]; ok {
		return n
	}
	return 1
}

func testSynthesizer() *Synthesizer {
	return NewSynthesizer(config.SelectorConfig{
		DynamicEntropyThreshold: 3.5,
		DynamicMinLength:        8,
		TextMaxLength:           50,
	})
}

func loginPath() []PathSegment {
	return []PathSegment{
		{Tag: "html"},
		{Tag: "body"},
		{Tag: "div", Index: 2},
		{Tag: "form"},
		{Tag: "input", Index: 1},
	}
}

func TestCandidates_StableIDRanksFirst(t *testing.T) {
	s := testSynthesizer()

	d := domain.ElementDescriptor{
		Tag: "input",
		Attributes: map[string]string{
			"id":   "username",
			"name": "username",
			"type": "text",
		},
	}

	got := s.Candidates(d, loginPath(), uniqueScope{})
	require.NotEmpty(t, got)

	assert.Equal(t, domain.SelectorKindID, got[0].Kind)
	assert.Equal(t, "#username", got[0].Selector)
	assert.Equal(t, 0.95, got[0].Score)
}

func TestCandidates_FullSpread(t *testing.T) {
	s := testSynthesizer()

	d := domain.ElementDescriptor{
		Tag: "button",
		Attributes: map[string]string{
			"id":          "submit-btn",
			"data-testid": "submit",
			"name":        "commit",
			"aria-label":  "Submit order",
		},
		Text: "Submit",
	}

	got := s.Candidates(d, loginPath(), uniqueScope{})
	require.Len(t, got, 7)

	// Descending by robustness.
	wantKinds := []domain.SelectorKind{
		domain.SelectorKindID,
		domain.SelectorKindCSSAttribute, // data-testid
		domain.SelectorKindCSSAttribute, // name
		domain.SelectorKindCSSAttribute, // aria-label
		domain.SelectorKindTextMatch,
		domain.SelectorKindCSSStructural,
		domain.SelectorKindXPath,
	}
	for i, kind := range wantKinds {
		assert.Equal(t, kind, got[i].Kind, "position %d", i)
	}

	assert.Equal(t, `button[data-testid="submit"]`, got[1].Selector)
	assert.Equal(t, `button[name="commit"]`, got[2].Selector)
	assert.Equal(t, `button[aria-label="Submit order"]`, got[3].Selector)
	assert.Equal(t, `button:has-text("Submit")`, got[4].Selector)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestCandidates_StructuralAndXPathShape(t *testing.T) {
	s := testSynthesizer()

	d := domain.ElementDescriptor{Tag: "input"}
	got := s.Candidates(d, loginPath(), uniqueScope{})
	require.Len(t, got, 2)

	assert.Equal(t, "html > body > div:nth-of-type(2) > form > input:nth-of-type(1)", got[0].Selector)
	assert.Equal(t, "xpath=/html/body/div[2]/form/input[1]", got[1].Selector)
}

func TestCandidates_VisualOnlyYieldsNothing(t *testing.T) {
	s := testSynthesizer()

	d := domain.ElementDescriptor{
		Tag:        "canvas",
		Attributes: map[string]string{"id": "signature-pad"},
	}

	got := s.Candidates(d, loginPath(), uniqueScope{})
	assert.Empty(t, got)
}

func TestCandidates_DynamicValuesSkipped(t *testing.T) {
	s := testSynthesizer()

	// Generated id: the id candidate must not appear at all, and the
	// remaining candidates are demoted.
	d := domain.ElementDescriptor{
		Tag: "button",
		Attributes: map[string]string{
			"id":         "ember1024",
			"aria-label": "Open menu",
		},
		Text: "Menu",
	}

	got := s.Candidates(d, loginPath(), uniqueScope{})
	require.NotEmpty(t, got)

	for _, c := range got {
		assert.NotEqual(t, domain.SelectorKindID, c.Kind)
	}

	// aria-label is the best remaining signal, halved from 0.8.
	assert.Equal(t, domain.SelectorKindCSSAttribute, got[0].Kind)
	assert.InDelta(t, 0.4, got[0].Score, 1e-9)
}

func TestCandidates_AmbiguousProbesDropped(t *testing.T) {
	s := testSynthesizer()

	d := domain.ElementDescriptor{
		Tag: "a",
		Attributes: map[string]string{
			"id": "nav-link",
		},
		Text: "Details",
	}

	scope := countScope{
		ids:   map[string]int{"nav-link": 2},
		texts: map[string]int{"a|Details": 5},
	}

	got := s.Candidates(d, loginPath(), scope)
	require.NotEmpty(t, got)

	for _, c := range got {
		assert.NotEqual(t, domain.SelectorKindID, c.Kind, "duplicate id must be dropped")
		assert.NotEqual(t, domain.SelectorKindTextMatch, c.Kind, "ambiguous text must be dropped")
	}
}

func TestCandidates_Deterministic(t *testing.T) {
	s := testSynthesizer()

	d := domain.ElementDescriptor{
		Tag: "button",
		Attributes: map[string]string{
			"id":          "save",
			"data-testid": "save-button",
		},
		Text: "Save changes",
	}

	first := s.Candidates(d, loginPath(), uniqueScope{})
	second := s.Candidates(d, loginPath(), uniqueScope{})
	assert.Equal(t, first, second)
}

func TestCandidates_TestIDFamilyFallback(t *testing.T) {
	s := testSynthesizer()

	// data-cy is recognized when the canonical attribute is absent;
	// only one bucket entry is emitted even if several are present.
	d := domain.ElementDescriptor{
		Tag: "button",
		Attributes: map[string]string{
			"data-cy": "checkout",
			"data-qa": "checkout-button",
		},
	}

	got := s.Candidates(d, nil, uniqueScope{})
	require.Len(t, got, 1)
	assert.Equal(t, `button[data-qa="checkout-button"]`, got[0].Selector)
	assert.Equal(t, 0.9, got[0].Score)
}

func TestNormalizeText(t *testing.T) {
	s := testSynthesizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Submit", "Submit"},
		{"collapses whitespace", "  Save   changes ", "Save changes"},
		{"first line only", "Accept\nTerms and conditions apply", "Accept"},
		{"truncated to cap", "This label is far too long to be useful as a match key at all", "This label is far too long to be useful as a match"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.normalizeText(tt.in))
		})
	}
}

func TestIDSelector_QuotedWhenNotSimple(t *testing.T) {
	assert.Equal(t, "#user-name", idSelector("user-name"))
	assert.Equal(t, `[id="user:name"]`, idSelector("user:name"))
	assert.Equal(t, `[id="1password"]`, idSelector("1password"))
}

func TestQuoteCSS_EscapesQuotesAndBackslashes(t *testing.T) {
	assert.Equal(t, `"say \"hi\""`, quoteCSS(`say "hi"`))
	assert.Equal(t, `"a\\b"`, quoteCSS(`a\b`))
}
