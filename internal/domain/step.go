package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action is the closed set of step kinds the engine understands. An unknown
// action is rejected when a step is decoded or recorded, never at replay time.
type Action string

const (
	ActionNavigate         Action = "navigate"
	ActionClick            Action = "click"
	ActionType             Action = "type"
	ActionSelect           Action = "select"
	ActionCheck            Action = "check"
	ActionUncheck          Action = "uncheck"
	ActionScroll           Action = "scroll"
	ActionHover            Action = "hover"
	ActionWaitForLoadState Action = "wait_for_load_state"
	ActionWaitForSelector  Action = "wait_for_selector"

	ActionAssertTextContains       Action = "assert_text_contains"
	ActionAssertTextEquals         Action = "assert_text_equals"
	ActionAssertVisible            Action = "assert_visible"
	ActionAssertHidden             Action = "assert_hidden"
	ActionAssertAttributeEquals    Action = "assert_attribute_equals"
	ActionAssertElementCount       Action = "assert_element_count"
	ActionAssertChecked            Action = "assert_checked"
	ActionAssertNotChecked         Action = "assert_not_checked"
	ActionAssertEnabled            Action = "assert_enabled"
	ActionAssertDisabled           Action = "assert_disabled"
	ActionAssertVisualMatch        Action = "assert_visual_match"
	ActionAssertPassedVerification Action = "assert_passed_verification"
)

var knownActions = map[Action]bool{
	ActionNavigate:                 true,
	ActionClick:                    true,
	ActionType:                     true,
	ActionSelect:                   true,
	ActionCheck:                    true,
	ActionUncheck:                  true,
	ActionScroll:                   true,
	ActionHover:                    true,
	ActionWaitForLoadState:         true,
	ActionWaitForSelector:          true,
	ActionAssertTextContains:       true,
	ActionAssertTextEquals:         true,
	ActionAssertVisible:            true,
	ActionAssertHidden:             true,
	ActionAssertAttributeEquals:    true,
	ActionAssertElementCount:       true,
	ActionAssertChecked:            true,
	ActionAssertNotChecked:         true,
	ActionAssertEnabled:            true,
	ActionAssertDisabled:           true,
	ActionAssertVisualMatch:        true,
	ActionAssertPassedVerification: true,
}

// Valid reports whether the action is part of the closed set.
func (a Action) Valid() bool {
	return knownActions[a]
}

// IsAssertion reports whether the action asserts page state instead of
// driving it.
func (a Action) IsAssertion() bool {
	return strings.HasPrefix(string(a), "assert_")
}

// RequiresSelector reports whether the action must carry a selector.
// Navigation, load-state waits, viewport scrolls, visual baseline checks and
// vision verification operate without one.
func (a Action) RequiresSelector() bool {
	switch a {
	case ActionNavigate, ActionScroll, ActionWaitForLoadState,
		ActionAssertVisualMatch, ActionAssertPassedVerification:
		return false
	}
	return true
}

// Healable reports whether a failed selector for this action may enter the
// self-healing path. Count assertions are excluded: a changed match count is
// the very condition they test.
func (a Action) Healable() bool {
	return a.RequiresSelector() && a != ActionAssertElementCount
}

// Load states accepted by wait_for_load_state.
const (
	LoadStateLoad             = "load"
	LoadStateDOMContentLoaded = "domcontentloaded"
	LoadStateNetworkIdle      = "networkidle"
)

// Scroll directions accepted by scroll.
const (
	ScrollUp     = "up"
	ScrollDown   = "down"
	ScrollTop    = "top"
	ScrollBottom = "bottom"
)

// SelectBy identifies how a select step picks its option.
type SelectBy string

const (
	SelectByLabel SelectBy = "label"
	SelectByValue SelectBy = "value"
	SelectByIndex SelectBy = "index"
)

// Params holds a step's action-specific key/value parameters as decoded from
// the wire format.
type Params map[string]any

// String returns the named parameter as a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the named parameter as a float64.
func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Int returns the named parameter as an int. JSON numbers decode as float64;
// non-integral values are rejected.
func (p Params) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Step is one recorded, replayable browser action or assertion. Steps are
// immutable once recorded: healing decisions at replay time never write back
// into the step.
type Step struct {
	// StepID is 1-based and contiguous within a test case
	StepID int `json:"step_id"`

	// Action is the step kind
	Action Action `json:"action"`

	// Description is the human-readable step text, kept verbatim; it doubles
	// as the vision prompt for assert_passed_verification steps
	Description string `json:"description"`

	// Params holds action-specific parameters
	Params Params `json:"parameters,omitempty"`

	// Selector is the primary (best-ranked) selector, nil for selector-less
	// actions
	Selector *string `json:"selector"`

	// Fallbacks are the remaining ranked candidates from record time
	Fallbacks []SelectorCandidate `json:"fallback_selectors,omitempty"`

	// Target is the recorded descriptor of the element the step acts
	// on. Healing compares live elements against it; steps recorded
	// without one cannot be healed structurally.
	Target *ElementDescriptor `json:"target,omitempty"`

	// WaitAfter is the fixed post-action wait in seconds
	WaitAfter float64 `json:"wait_after_secs"`
}

// UnmarshalJSON decodes a step and rejects malformed ones at parse time.
func (s *Step) UnmarshalJSON(data []byte) error {
	type alias Step
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Step(a)
	return s.Validate()
}

// PrimarySelector returns the primary selector, or "" when the step has none.
func (s *Step) PrimarySelector() string {
	if s.Selector == nil {
		return ""
	}
	return *s.Selector
}

// SelectorStrings returns the primary selector followed by fallback
// selectors, deduplicated, in resolution order.
func (s *Step) SelectorStrings() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(sel string) {
		if sel != "" && !seen[sel] {
			seen[sel] = true
			out = append(out, sel)
		}
	}
	add(s.PrimarySelector())
	for _, c := range s.Fallbacks {
		add(c.Selector)
	}
	return out
}

// URL returns the navigate target.
func (s *Step) URL() string {
	u, _ := s.Params.String("url")
	return u
}

// Text returns the text for a type step.
func (s *Step) Text() string {
	t, _ := s.Params.String("text")
	return t
}

// ExpectedText returns the expectation for text assertions.
func (s *Step) ExpectedText() string {
	t, _ := s.Params.String("expected_text")
	return t
}

// AttributeExpectation returns the attribute name and expected value for
// assert_attribute_equals.
func (s *Step) AttributeExpectation() (name, value string) {
	name, _ = s.Params.String("attribute_name")
	value, _ = s.Params.String("expected_value")
	return name, value
}

// ExpectedCount returns the expectation for assert_element_count.
func (s *Step) ExpectedCount() int {
	n, _ := s.Params.Int("expected_count")
	return n
}

// BaselineID returns the stored baseline image identifier for
// assert_visual_match.
func (s *Step) BaselineID() string {
	n, _ := s.Params.String("baseline_id")
	return n
}

// LoadState returns the awaited state for wait_for_load_state, defaulting
// to "load".
func (s *Step) LoadState() string {
	st, ok := s.Params.String("state")
	if !ok || st == "" {
		return LoadStateLoad
	}
	return st
}

// WaitTimeout returns the explicit budget recorded for wait_for_selector,
// zero when the step relies on the executor default.
func (s *Step) WaitTimeout() time.Duration {
	ms, _ := s.Params.Float("timeout_ms")
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ScrollTarget returns the scroll direction and pixel amount (0 = default).
func (s *Step) ScrollTarget() (direction string, pixels float64) {
	direction, _ = s.Params.String("direction")
	pixels, _ = s.Params.Float("pixels")
	return direction, pixels
}

// optionIndex reads option_index, which recorders may emit either as a
// number or as a digit string.
func (s *Step) optionIndex() (int, bool) {
	if n, ok := s.Params.Int("option_index"); ok {
		return n, true
	}
	if v, ok := s.Params.String("option_index"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

// SelectOption returns how a select step picks its option. Exactly one of
// the three parameter forms is present on a valid step.
func (s *Step) SelectOption() (by SelectBy, label string, index int) {
	if v, ok := s.Params.String("option_label"); ok {
		return SelectByLabel, v, 0
	}
	if v, ok := s.Params.String("option_value"); ok {
		return SelectByValue, v, 0
	}
	if n, ok := s.optionIndex(); ok {
		return SelectByIndex, "", n
	}
	return "", "", 0
}

// Validate checks the closed action union and the per-action parameter
// contract. It is called on every decode and on every recorded step.
func (s *Step) Validate() error {
	if !s.Action.Valid() {
		return ErrInvalidStep(s.StepID, fmt.Sprintf("unknown action %q", s.Action))
	}
	if s.StepID < 1 {
		return ErrInvalidStep(s.StepID, "step_id must be 1-based")
	}
	if s.WaitAfter < 0 {
		return ErrInvalidStep(s.StepID, "wait_after_secs must be >= 0")
	}
	if s.Action.RequiresSelector() && s.PrimarySelector() == "" {
		return ErrInvalidStep(s.StepID, fmt.Sprintf("action %q requires a selector", s.Action))
	}

	switch s.Action {
	case ActionNavigate:
		if s.URL() == "" {
			return ErrInvalidStep(s.StepID, "navigate requires url")
		}
	case ActionType:
		if _, ok := s.Params.String("text"); !ok {
			return ErrInvalidStep(s.StepID, "type requires text")
		}
	case ActionSelect:
		forms := 0
		if _, ok := s.Params.String("option_label"); ok {
			forms++
		}
		if _, ok := s.Params.String("option_value"); ok {
			forms++
		}
		if _, ok := s.optionIndex(); ok {
			forms++
		}
		if forms != 1 {
			return ErrInvalidStep(s.StepID, "select requires exactly one of option_label, option_value, option_index")
		}
	case ActionScroll:
		switch dir, _ := s.ScrollTarget(); dir {
		case ScrollUp, ScrollDown, ScrollTop, ScrollBottom:
		default:
			return ErrInvalidStep(s.StepID, "scroll requires direction up, down, top or bottom")
		}
	case ActionWaitForLoadState:
		switch s.LoadState() {
		case LoadStateLoad, LoadStateDOMContentLoaded, LoadStateNetworkIdle:
		default:
			return ErrInvalidStep(s.StepID, fmt.Sprintf("unknown load state %q", s.LoadState()))
		}
	case ActionAssertTextContains, ActionAssertTextEquals:
		if _, ok := s.Params.String("expected_text"); !ok {
			return ErrInvalidStep(s.StepID, fmt.Sprintf("%s requires expected_text", s.Action))
		}
	case ActionAssertAttributeEquals:
		name, _ := s.AttributeExpectation()
		if name == "" {
			return ErrInvalidStep(s.StepID, "assert_attribute_equals requires attribute_name")
		}
		if _, ok := s.Params.String("expected_value"); !ok {
			return ErrInvalidStep(s.StepID, "assert_attribute_equals requires expected_value")
		}
	case ActionAssertElementCount:
		if n, ok := s.Params.Int("expected_count"); !ok || n < 0 {
			return ErrInvalidStep(s.StepID, "assert_element_count requires a non-negative expected_count")
		}
	case ActionAssertVisualMatch:
		if s.BaselineID() == "" {
			return ErrInvalidStep(s.StepID, "assert_visual_match requires baseline_id")
		}
	}

	return nil
}
