package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Verdict is the judge's decision about a screenshot.
type Verdict struct {
	Passed    bool   `json:"passed"`
	Rationale string `json:"rationale"`
}

const judgeSystemPrompt = `You judge screenshots of web pages against expected conditions for automated tests.

Be tolerant of loading states: if placeholders or skeletons would clearly become content fulfilling the condition, treat the condition as met. Judge what the page shows, not how it is implemented.

Respond with only "YES" or "NO" as the first word, followed by a brief explanation.`

// JudgeScreenshot asks the vision model whether the supplied screenshots
// satisfy the condition in prompt. At least one image is required.
func (c *ClaudeClient) JudgeScreenshot(ctx context.Context, prompt string, images ...[]byte) (*Verdict, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("at least one screenshot is required")
	}

	text, _, err := c.CompleteVision(ctx, judgeSystemPrompt, prompt, images...)
	if err != nil {
		return nil, err
	}

	return parseVerdict(text)
}

// parseVerdict interprets the judge's reply. Structured JSON verdicts are
// accepted when the model produces them; otherwise the first word decides.
func parseVerdict(text string) (*Verdict, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty verdict")
	}

	if strings.HasPrefix(trimmed, "Error:") {
		return nil, fmt.Errorf("judge reported: %s", strings.TrimSpace(strings.TrimPrefix(trimmed, "Error:")))
	}

	if jsonStr := extractJSON(trimmed); jsonStr != "" {
		if v, ok := parseJSONVerdict(jsonStr); ok {
			return v, nil
		}
	}

	first, rest, _ := strings.Cut(trimmed, " ")
	first = strings.Trim(first, ".,:;!\"'")

	rationale := strings.TrimSpace(rest)
	if rationale == "" {
		rationale = trimmed
	}

	switch {
	case strings.EqualFold(first, "YES"):
		return &Verdict{Passed: true, Rationale: rationale}, nil
	case strings.EqualFold(first, "NO"):
		return &Verdict{Passed: false, Rationale: rationale}, nil
	}

	return nil, fmt.Errorf("unclear verdict: %s", truncateString(trimmed, 120))
}

func parseJSONVerdict(jsonStr string) (*Verdict, bool) {
	var raw struct {
		Verdict   string `json:"verdict"`
		Passed    *bool  `json:"passed"`
		Rationale string `json:"rationale"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, false
	}

	rationale := raw.Rationale
	if rationale == "" {
		rationale = raw.Reason
	}

	if raw.Passed != nil {
		return &Verdict{Passed: *raw.Passed, Rationale: rationale}, true
	}

	switch strings.ToUpper(strings.TrimSpace(raw.Verdict)) {
	case "PASS", "YES", "TRUE":
		return &Verdict{Passed: true, Rationale: rationale}, true
	case "FAIL", "NO", "FALSE":
		return &Verdict{Passed: false, Rationale: rationale}, true
	}

	return nil, false
}
