// Package selector classifies element identity signals and synthesizes
// ranked selector candidates from element descriptors.
package selector

import (
	"math"
	"regexp"
	"strings"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Patterns that mark an attribute value as framework-generated. These
// cover the common cases: numeric suffix churn, hashed fragments, and
// the ids minted by ember, radix and React's useId.
var allDigits = regexp.MustCompile(`^\d+$`)

var generatedPatterns = []*regexp.Regexp{
	allDigits,
	regexp.MustCompile(`\d{4,}`),
	regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`),
	regexp.MustCompile(`(?i)(^|[-_])[0-9a-f]{8,}([-_]|$)`),
	regexp.MustCompile(`^ember\d+$`),
	regexp.MustCompile(`^radix-`),
	regexp.MustCompile(`(?i)^:r[0-9a-z]+:$`),
}

// Classifier decides whether identity signals are stable across page
// loads. The entropy threshold and minimum length are configurable
// because the boundary between "meaningful name" and "hash" is fuzzy.
type Classifier struct {
	entropyThreshold float64
	minLength        int
}

// NewClassifier builds a classifier from configuration.
func NewClassifier(cfg config.SelectorConfig) *Classifier {
	if cfg.DynamicEntropyThreshold <= 0 {
		cfg.DynamicEntropyThreshold = 3.5
	}
	if cfg.DynamicMinLength <= 0 {
		cfg.DynamicMinLength = 8
	}
	return &Classifier{
		entropyThreshold: cfg.DynamicEntropyThreshold,
		minLength:        cfg.DynamicMinLength,
	}
}

// IsDynamicValue reports whether an attribute value looks generated
// rather than authored. Short values are never flagged: they carry too
// little signal for the entropy estimate, and short authored names
// ("nav", "q") are common.
func (c *Classifier) IsDynamicValue(v string) bool {
	if len(v) < c.minLength {
		// Pattern checks still apply to short all-numeric values.
		return allDigits.MatchString(v) && len(v) >= 3
	}
	for _, p := range generatedPatterns {
		if p.MatchString(v) {
			return true
		}
	}
	// The entropy estimate only applies to values that interleave
	// digits with letters. Authored names are nearly always pure
	// alpha plus separators, while hashes and base62 tokens mix in
	// digits, and multi-word authored names can exceed any sane
	// character-entropy threshold on their own.
	if !mixesDigitsAndLetters(v) {
		return false
	}
	return shannonEntropy(v) > c.entropyThreshold
}

func mixesDigitsAndLetters(s string) bool {
	hasDigit, hasLetter := false, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
		if hasDigit && hasLetter {
			return true
		}
	}
	return false
}

// Classify assigns the stability class for an element. Visual-only
// elements carry no queryable DOM signal at all; dynamic elements have
// generated identity attributes; everything else is static.
func (c *Classifier) Classify(d domain.ElementDescriptor) domain.Classification {
	if isVisualOnly(d) {
		return domain.ClassVisualOnly
	}

	if id := d.Attr("id"); id != "" {
		if c.IsDynamicValue(id) {
			return domain.ClassDynamic
		}
		return domain.ClassStatic
	}
	for _, name := range []string{"data-testid", "data-test", "data-qa", "data-cy", "name"} {
		if v := d.Attr(name); v != "" {
			if c.IsDynamicValue(v) {
				return domain.ClassDynamic
			}
			return domain.ClassStatic
		}
	}
	return domain.ClassStatic
}

// isVisualOnly reports whether the element offers nothing a DOM
// predicate could anchor on: canvas content, untitled graphics, and
// images without alternative text.
func isVisualOnly(d domain.ElementDescriptor) bool {
	switch d.Tag {
	case "canvas":
		return true
	case "svg":
		return strings.TrimSpace(d.Text) == "" && d.Attr("aria-label") == "" && d.Attr("title") == ""
	case "img":
		return d.Attr("alt") == "" && d.Attr("aria-label") == ""
	}
	return false
}

// shannonEntropy estimates bits per character over the value's own
// character distribution.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]float64)
	total := 0.0
	for _, r := range s {
		freq[r]++
		total++
	}
	entropy := 0.0
	for _, count := range freq {
		p := count / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
