package llm

import (
	"context"
	"strings"
	"testing"
)

var judgeScreenshot = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

func TestJudgeScreenshot_Yes(t *testing.T) {
	var captured Request
	server := newPlannerServer(t, "YES The cart badge shows 1 item.", &captured)
	defer server.Close()

	client := newPlannerClient(t, server.URL)

	verdict, err := client.JudgeScreenshot(context.Background(), "Does the cart contain one item?", judgeScreenshot)
	if err != nil {
		t.Fatalf("JudgeScreenshot() error = %v", err)
	}
	if !verdict.Passed {
		t.Error("Passed = false, want true")
	}
	if verdict.Rationale != "The cart badge shows 1 item." {
		t.Errorf("Rationale = %q", verdict.Rationale)
	}

	blocks := captured.Messages[0].Content
	if len(blocks) != 2 || blocks[0].Type != "image" {
		t.Errorf("request blocks = %+v, want image then text", blocks)
	}
	if !strings.Contains(captured.System, `"YES" or "NO"`) {
		t.Error("system prompt missing the verdict format rule")
	}
}

func TestJudgeScreenshot_No(t *testing.T) {
	server := newPlannerServer(t, "NO. The error banner is still visible.", nil)
	defer server.Close()

	client := newPlannerClient(t, server.URL)

	verdict, err := client.JudgeScreenshot(context.Background(), "Did the login succeed?", judgeScreenshot)
	if err != nil {
		t.Fatalf("JudgeScreenshot() error = %v", err)
	}
	if verdict.Passed {
		t.Error("Passed = true, want false")
	}
	if verdict.Rationale != "The error banner is still visible." {
		t.Errorf("Rationale = %q", verdict.Rationale)
	}
}

func TestJudgeScreenshot_NoImages(t *testing.T) {
	client := newPlannerClient(t, "http://unused.invalid")

	_, err := client.JudgeScreenshot(context.Background(), "anything")
	if err == nil {
		t.Fatal("JudgeScreenshot() expected error without images")
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPassed bool
		wantErr    bool
	}{
		{"yes", "YES The form submitted.", true, false},
		{"no", "NO The page shows an error.", false, false},
		{"lowercase", "yes, everything matches", true, false},
		{"bare yes", "YES", true, false},
		{"json pass", `{"verdict": "PASS", "rationale": "badge present"}`, true, false},
		{"json fail", `{"passed": false, "reason": "missing banner"}`, false, false},
		{"json in prose", "Here is my verdict: {\"verdict\": \"FAIL\", \"rationale\": \"wrong page\"}", false, false},
		{"unclear", "Maybe the page is fine", false, true},
		{"reported error", "Error: screenshot was blank", false, true},
		{"empty", "   ", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseVerdict(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVerdict(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if verdict.Passed != tt.wantPassed {
				t.Errorf("Passed = %v, want %v", verdict.Passed, tt.wantPassed)
			}
			if verdict.Rationale == "" {
				t.Error("Rationale is empty")
			}
		})
	}
}

func TestParseVerdict_JSONRationale(t *testing.T) {
	verdict, err := parseVerdict(`{"verdict": "PASS", "rationale": "the badge reads 1"}`)
	if err != nil {
		t.Fatalf("parseVerdict() error = %v", err)
	}
	if verdict.Rationale != "the badge reads 1" {
		t.Errorf("Rationale = %q", verdict.Rationale)
	}
}
