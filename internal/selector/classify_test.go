package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

func testClassifier() *Classifier {
	return NewClassifier(config.SelectorConfig{
		DynamicEntropyThreshold: 3.5,
		DynamicMinLength:        8,
		TextMaxLength:           50,
	})
}

func TestIsDynamicValue(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name    string
		value   string
		dynamic bool
	}{
		{"authored id", "login-form", false},
		{"short authored id", "nav", false},
		{"authored with single digit", "step-2", false},
		{"uuid", "3b9f2c1e-8a47-4d6b-9c2f-1e5a7b3d9f00", true},
		{"long numeric suffix", "item-48271934", true},
		{"all numeric", "1847", true},
		{"ember id", "ember1024", true},
		{"radix id", "radix-4-trigger", true},
		{"react useid", ":r2f:", false}, // below min length, no numeric run
		{"hex hash segment", "btn_a3f8c91d2e", true},
		{"css module hash suffix", "button_submit__a8f3kQ", true},
		{"high entropy token", "xK9mQ2vL7pRtW4zN8jB6", true},
		{"multi-word authored value", "submit-order-button", false},
		{"long authored value", "user-profile-settings-dropdown", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.dynamic, c.IsDynamicValue(tt.value),
				"value %q", tt.value)
		})
	}
}

func TestClassify_StaticWhenIdentityAuthored(t *testing.T) {
	c := testClassifier()

	d := domain.ElementDescriptor{
		Tag:        "input",
		Attributes: map[string]string{"id": "username", "type": "text"},
	}
	assert.Equal(t, domain.ClassStatic, c.Classify(d))
}

func TestClassify_DynamicWhenPrimaryIdentityGenerated(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name  string
		attrs map[string]string
		want  domain.Classification
	}{
		{
			name:  "generated id",
			attrs: map[string]string{"id": "ember3021"},
			want:  domain.ClassDynamic,
		},
		{
			name:  "generated testid",
			attrs: map[string]string{"data-testid": "row-58271034"},
			want:  domain.ClassDynamic,
		},
		{
			name:  "stable id wins over generated class",
			attrs: map[string]string{"id": "submit", "class": "css-1q2w3e4r5t"},
			want:  domain.ClassStatic,
		},
		{
			name:  "no identity attributes at all",
			attrs: map[string]string{"class": "btn primary"},
			want:  domain.ClassStatic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := domain.ElementDescriptor{Tag: "button", Attributes: tt.attrs}
			assert.Equal(t, tt.want, c.Classify(d))
		})
	}
}

func TestClassify_VisualOnly(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name string
		d    domain.ElementDescriptor
		want domain.Classification
	}{
		{
			name: "canvas is always visual only",
			d:    domain.ElementDescriptor{Tag: "canvas", Attributes: map[string]string{"id": "chart"}},
			want: domain.ClassVisualOnly,
		},
		{
			name: "bare svg",
			d:    domain.ElementDescriptor{Tag: "svg"},
			want: domain.ClassVisualOnly,
		},
		{
			name: "svg with aria-label",
			d:    domain.ElementDescriptor{Tag: "svg", Attributes: map[string]string{"aria-label": "Close"}},
			want: domain.ClassStatic,
		},
		{
			name: "img without alt",
			d:    domain.ElementDescriptor{Tag: "img", Attributes: map[string]string{"src": "/logo.png"}},
			want: domain.ClassVisualOnly,
		},
		{
			name: "img with alt",
			d:    domain.ElementDescriptor{Tag: "img", Attributes: map[string]string{"alt": "Company logo"}},
			want: domain.ClassStatic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.d))
		})
	}
}

func TestShannonEntropy(t *testing.T) {
	// Repeated characters carry no information; random-looking strings
	// approach log2 of the alphabet size.
	assert.Equal(t, 0.0, shannonEntropy("aaaaaaaa"))
	assert.Greater(t, shannonEntropy("xK9mQ2vL7pRtW4zN"), 3.5)
	assert.Less(t, shannonEntropy("navigation"), 3.5)
}
