// Package healing resolves recorded selectors against the live page
// and recovers from selector drift by structural similarity search.
package healing

import (
	"strings"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Similarity component weights. Tag identity is a precondition, not a
// component: a div is never a plausible replacement for an input.
const (
	textWeight     = 0.4
	attrWeight     = 0.4
	positionWeight = 0.2
)

// fingerprintAttributes are the keys compared between recorded and
// live descriptors. The class attribute is handled separately as a
// token set.
var fingerprintAttributes = []string{
	"id", "name", "data-testid", "data-test", "data-qa", "data-cy",
	"aria-label", "placeholder", "role", "type", "href", "title", "alt",
}

// Similarity scores how plausibly live is the element recorded
// earlier, in [0,1]. Components with no evidence on either side drop
// out of the weighting, so a text-less input is judged on attributes
// and position alone rather than being rewarded for matching empty
// text.
func Similarity(recorded, live domain.ElementDescriptor) float64 {
	if recorded.Tag != live.Tag {
		return 0
	}

	total, weight := 0.0, 0.0
	if s, ok := textSimilarity(recorded.Text, live.Text); ok {
		total += textWeight * s
		weight += textWeight
	}
	if s, ok := attributeSimilarity(recorded, live); ok {
		total += attrWeight * s
		weight += attrWeight
	}
	total += positionWeight * positionSimilarity(recorded, live)
	weight += positionWeight

	return total / weight
}

// textSimilarity compares visible text. Containment either way counts
// as a full match; otherwise token overlap decides.
func textSimilarity(a, b string) (float64, bool) {
	a = normalizeWords(a)
	b = normalizeWords(b)
	if a == "" && b == "" {
		return 0, false
	}
	if a == "" || b == "" {
		return 0, true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1, true
	}
	return jaccard(strings.Fields(a), strings.Fields(b)), true
}

// attributeSimilarity averages per-key agreement over the fingerprint
// keys present on either side. Partial value matches score half.
func attributeSimilarity(recorded, live domain.ElementDescriptor) (float64, bool) {
	total, keys := 0.0, 0
	for _, key := range fingerprintAttributes {
		rv, lv := recorded.Attr(key), live.Attr(key)
		if rv == "" && lv == "" {
			continue
		}
		keys++
		switch {
		case rv == lv:
			total += 1
		case rv == "" || lv == "":
			// Attribute appeared or disappeared.
		case strings.Contains(rv, lv) || strings.Contains(lv, rv):
			total += 0.5
		}
	}

	rc, lc := recorded.Classes(), live.Classes()
	if len(rc) > 0 || len(lc) > 0 {
		keys++
		total += jaccard(rc, lc)
	}

	if keys == 0 {
		return 0, false
	}
	return total / float64(keys), true
}

// positionSimilarity blends ancestor-chain agreement with sibling
// position. The chain is compared from the element upward, so a page
// that grew an outer wrapper still scores high.
func positionSimilarity(recorded, live domain.ElementDescriptor) float64 {
	chain := suffixOverlap(recorded.AncestorTags, live.AncestorTags)

	sibling := 0.0
	switch delta := recorded.SiblingIndex - live.SiblingIndex; {
	case delta == 0:
		sibling = 1
	case delta == 1 || delta == -1:
		sibling = 0.5
	}

	return 0.5*chain + 0.5*sibling
}

// suffixOverlap returns the shared trailing run of two tag chains as a
// fraction of the longer chain. Two empty chains agree trivially.
func suffixOverlap(a, b []string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	shared := 0
	for shared < len(a) && shared < len(b) {
		if a[len(a)-1-shared] != b[len(b)-1-shared] {
			break
		}
		shared++
	}
	return float64(shared) / float64(longest)
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	common := 0
	seen := make(map[string]bool, len(b))
	for _, w := range b {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			common++
		}
	}
	union := len(set) + len(seen) - common
	return float64(common) / float64(union)
}

func normalizeWords(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
