package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestNewTestCase(t *testing.T) {
	tc := NewTestCase("login flow", "User logs in with valid credentials")

	if tc.ID == uuid.Nil {
		t.Error("ID should not be nil")
	}
	if tc.Name != "login flow" {
		t.Errorf("Name = %q, want %q", tc.Name, "login flow")
	}
	if tc.FeatureDescription != "User logs in with valid credentials" {
		t.Errorf("FeatureDescription = %q", tc.FeatureDescription)
	}
	if tc.RecordedAt.IsZero() {
		t.Error("RecordedAt should not be zero")
	}
	if len(tc.Steps) != 0 {
		t.Errorf("Steps length = %d, want 0", len(tc.Steps))
	}
	if tc.NextStepID() != 1 {
		t.Errorf("NextStepID = %d, want 1", tc.NextStepID())
	}
}

func TestTestCase_AppendStep(t *testing.T) {
	tc := NewTestCase("login flow", "")

	err := tc.AppendStep(Step{
		StepID: 1,
		Action: ActionNavigate,
		Params: Params{"url": "https://example.com/login"},
	})
	if err != nil {
		t.Fatalf("AppendStep: %v", err)
	}
	if tc.NextStepID() != 2 {
		t.Errorf("NextStepID = %d, want 2", tc.NextStepID())
	}

	// Non-contiguous id is rejected
	err = tc.AppendStep(Step{
		StepID:   5,
		Action:   ActionClick,
		Selector: strPtr("#submit"),
	})
	if err == nil {
		t.Error("non-contiguous step id should be rejected")
	}
	if len(tc.Steps) != 1 {
		t.Errorf("Steps length = %d, want 1", len(tc.Steps))
	}

	// Invalid step is rejected
	err = tc.AppendStep(Step{StepID: 2, Action: ActionClick})
	if err == nil {
		t.Error("invalid step should be rejected")
	}
}

func TestTestCase_Validate(t *testing.T) {
	tc := &TestCase{Name: "ok", Steps: []Step{
		{StepID: 1, Action: ActionNavigate, Params: Params{"url": "https://example.com"}},
		{StepID: 3, Action: ActionWaitForLoadState},
	}}
	if err := tc.Validate(); err == nil {
		t.Error("gap in step ids should be rejected")
	}

	empty := &TestCase{Name: "   "}
	if err := empty.Validate(); err == nil {
		t.Error("blank name should be rejected")
	}
}

func TestTestCase_WireRoundTrip(t *testing.T) {
	tc := NewTestCase("checkout", "Add product and check out")
	steps := []Step{
		{StepID: 1, Action: ActionNavigate, Description: "Open the shop", Params: Params{"url": "https://shop.example.com"}, WaitAfter: 1},
		{StepID: 2, Action: ActionClick, Description: "Add to cart", Selector: strPtr("#btn-add-cart"), Fallbacks: []SelectorCandidate{
			{Kind: SelectorKindCSSAttribute, Selector: `button[aria-label="Add to shopping cart"]`, Score: 0.8},
		}},
		{StepID: 3, Action: ActionAssertTextContains, Description: "Cart badge updates", Selector: strPtr(".cart-count"), Params: Params{"expected_text": "1"}},
	}
	for _, s := range steps {
		if err := tc.AppendStep(s); err != nil {
			t.Fatalf("AppendStep %d: %v", s.StepID, err)
		}
	}

	data, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded TestCase
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Name != tc.Name {
		t.Errorf("Name = %q, want %q", decoded.Name, tc.Name)
	}
	if !decoded.RecordedAt.Equal(tc.RecordedAt) {
		t.Errorf("RecordedAt = %v, want %v", decoded.RecordedAt, tc.RecordedAt)
	}
	if len(decoded.Steps) != 3 {
		t.Fatalf("Steps length = %d, want 3", len(decoded.Steps))
	}
	if decoded.Steps[0].Selector != nil {
		t.Error("navigate selector should stay null")
	}
	if decoded.Steps[1].PrimarySelector() != "#btn-add-cart" {
		t.Errorf("primary selector = %q", decoded.Steps[1].PrimarySelector())
	}
	if len(decoded.Steps[1].Fallbacks) != 1 || decoded.Steps[1].Fallbacks[0].Score != 0.8 {
		t.Errorf("fallbacks not preserved: %+v", decoded.Steps[1].Fallbacks)
	}
	if got := decoded.Steps[2].ExpectedText(); got != "1" {
		t.Errorf("ExpectedText = %q, want %q", got, "1")
	}
	if decoded.Steps[0].WaitAfter != 1 {
		t.Errorf("WaitAfter = %v, want 1", decoded.Steps[0].WaitAfter)
	}
}

func TestTestCase_UnmarshalRejectsBrokenSequence(t *testing.T) {
	data := []byte(`{
		"test_name": "broken",
		"feature_description": "",
		"recorded_at": "2025-03-14T10:00:00Z",
		"steps": [
			{"step_id": 1, "action": "navigate", "description": "", "parameters": {"url": "https://example.com"}, "selector": null, "wait_after_secs": 0},
			{"step_id": 3, "action": "wait_for_load_state", "description": "", "selector": null, "wait_after_secs": 0}
		]
	}`)

	var tc TestCase
	if err := json.Unmarshal(data, &tc); err == nil {
		t.Error("gapped step ids should fail to decode")
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"login flow", "login_flow"},
		{"Checkout: happy path!", "Checkout__happy_path_"},
		{"already_safe-123", "already_safe-123"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
