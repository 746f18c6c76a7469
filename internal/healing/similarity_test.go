package healing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

func TestSimilarity_TagMismatchIsZero(t *testing.T) {
	recorded := domain.ElementDescriptor{Tag: "input", Text: "same"}
	live := domain.ElementDescriptor{Tag: "div", Text: "same"}

	assert.Equal(t, 0.0, Similarity(recorded, live))
}

func TestSimilarity_RenamedIDScoresHigh(t *testing.T) {
	recorded := domain.ElementDescriptor{
		Tag:          "input",
		Attributes:   map[string]string{"id": "username", "type": "text"},
		AncestorTags: []string{"html", "body", "form"},
	}
	live := domain.ElementDescriptor{
		Tag:          "input",
		Attributes:   map[string]string{"id": "username-2", "type": "text"},
		AncestorTags: []string{"html", "body", "form"},
	}

	score := Similarity(recorded, live)
	assert.InDelta(t, 0.833, score, 0.01)
	assert.GreaterOrEqual(t, score, 0.6)
}

func TestSimilarity_DifferentFieldScoresLow(t *testing.T) {
	recorded := domain.ElementDescriptor{
		Tag:          "input",
		Attributes:   map[string]string{"id": "username", "type": "text"},
		AncestorTags: []string{"html", "body", "form"},
	}
	impostor := domain.ElementDescriptor{
		Tag:          "input",
		Attributes:   map[string]string{"id": "password", "type": "password"},
		AncestorTags: []string{"html", "body", "form"},
	}

	assert.Less(t, Similarity(recorded, impostor), 0.6)
}

func TestSimilarity_TextOnlyElement(t *testing.T) {
	recorded := domain.ElementDescriptor{
		Tag:          "button",
		Text:         "Sign in",
		AncestorTags: []string{"html", "body", "div"},
	}
	live := domain.ElementDescriptor{
		Tag:          "button",
		Text:         "Sign in",
		AncestorTags: []string{"html", "body", "div"},
	}

	assert.InDelta(t, 1.0, Similarity(recorded, live), 1e-9)
}

func TestSimilarity_SurvivesAddedWrapper(t *testing.T) {
	recorded := domain.ElementDescriptor{
		Tag:          "button",
		Text:         "Sign in",
		AncestorTags: []string{"html", "body", "div"},
	}
	live := domain.ElementDescriptor{
		Tag:          "button",
		Text:         "Sign in",
		AncestorTags: []string{"html", "body", "main", "div"},
	}

	assert.GreaterOrEqual(t, Similarity(recorded, live), 0.6)
}

func TestTextSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		want     float64
		evidence bool
	}{
		{"both empty is no evidence", "", "", 0, false},
		{"one empty disagrees", "Sign in", "", 0, true},
		{"exact", "Sign in", "Sign in", 1, true},
		{"case and spacing normalized", "  Sign   IN ", "sign in", 1, true},
		{"containment", "Sign in", "Sign in to your account", 1, true},
		{"partial token overlap", "Save your changes", "Discard your changes", 0.5, true},
		{"disjoint", "Sign in", "Log out", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := textSimilarity(tt.a, tt.b)
			assert.Equal(t, tt.evidence, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSuffixOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 1},
		{"identical", []string{"html", "body", "div"}, []string{"html", "body", "div"}, 1},
		{"outer wrapper added", []string{"html", "body", "div"}, []string{"html", "body", "main", "div"}, 0.25},
		{"disjoint tail", []string{"html", "body", "form"}, []string{"html", "body", "table"}, 0},
		{"one empty", []string{"html"}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, suffixOverlap(tt.a, tt.b), 1e-9)
		})
	}
}

func TestAttributeSimilarity_ClassTokens(t *testing.T) {
	recorded := domain.ElementDescriptor{
		Tag:        "button",
		Attributes: map[string]string{"class": "btn btn-primary"},
	}
	live := domain.ElementDescriptor{
		Tag:        "button",
		Attributes: map[string]string{"class": "btn btn-secondary"},
	}

	got, ok := attributeSimilarity(recorded, live)
	assert.True(t, ok)
	// One shared token of three distinct.
	assert.InDelta(t, 1.0/3.0, got, 1e-9)
}
