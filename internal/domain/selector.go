package domain

import "sort"

// SelectorKind identifies the strategy a selector candidate was built with.
type SelectorKind string

const (
	SelectorKindID            SelectorKind = "id"
	SelectorKindCSSAttribute  SelectorKind = "css-attribute"
	SelectorKindCSSStructural SelectorKind = "css-structural"
	SelectorKindXPath         SelectorKind = "xpath"
	SelectorKindTextMatch     SelectorKind = "text-match"
)

// kindPriority orders candidate kinds for tie-breaking when scores are equal.
var kindPriority = map[SelectorKind]int{
	SelectorKindID:            5,
	SelectorKindCSSAttribute:  4,
	SelectorKindTextMatch:     3,
	SelectorKindCSSStructural: 2,
	SelectorKindXPath:         1,
}

// SelectorCandidate is one way of locating an element, with a heuristic
// robustness score in [0,1]. Higher scores are expected to survive more
// unrelated DOM mutations.
type SelectorCandidate struct {
	Kind     SelectorKind `json:"kind"`
	Selector string       `json:"selector"`
	Score    float64      `json:"score"`
}

// SortCandidates orders candidates by descending score, breaking ties by
// kind priority and then by selector string for determinism.
func SortCandidates(candidates []SelectorCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if kindPriority[a.Kind] != kindPriority[b.Kind] {
			return kindPriority[a.Kind] > kindPriority[b.Kind]
		}
		return a.Selector < b.Selector
	})
}

// BestCandidate returns the highest-ranked candidate, or false when the list
// is empty (vision-only element).
func BestCandidate(candidates []SelectorCandidate) (SelectorCandidate, bool) {
	if len(candidates) == 0 {
		return SelectorCandidate{}, false
	}
	sorted := make([]SelectorCandidate, len(candidates))
	copy(sorted, candidates)
	SortCandidates(sorted)
	return sorted[0], true
}
