// Inspect lists stored test cases and shows their steps and run history
// without touching a browser.
//
// Usage:
//
//	inspect                          list stored test cases
//	inspect -test "login flow"       show the recorded steps
//	inspect -test "login flow" -runs show the run history
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/storage"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	cyan   = color.New(color.FgCyan, color.Bold)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

func main() {
	godotenv.Load()

	var (
		testName  = flag.String("test", "", "Name of a stored test case to show")
		showRuns  = flag.Bool("runs", false, "Show the run history instead of the steps (requires -test)")
		outputDir = flag.String("output", "", "Artifacts directory (default: output)")
		jsonOut   = flag.Bool("json", false, "Print as JSON")
	)
	flag.Parse()

	if *showRuns && *testName == "" {
		fmt.Fprintln(os.Stderr, "Error: -runs requires -test")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.Artifacts.OutputDir = *outputDir
	}

	ctx := context.Background()
	store := storage.NewFileStore(cfg.Artifacts.OutputDir)

	switch {
	case *testName == "":
		listTests(ctx, store, *jsonOut)
	case *showRuns:
		listRuns(ctx, store, storage.NewFileResultStore(cfg.Artifacts.OutputDir), *testName, *jsonOut)
	default:
		showTest(ctx, store, *testName, *jsonOut)
	}
}

func listTests(ctx context.Context, store *storage.FileStore, jsonOut bool) {
	cases, err := store.List(ctx)
	if err != nil {
		red.Printf("❌ Could not list test cases: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		printJSON(cases)
		return
	}
	if len(cases) == 0 {
		yellow.Println("No test cases found. Record one with the record command.")
		return
	}

	bold.Println("📁 Stored test cases")
	fmt.Println()
	for _, tc := range cases {
		fmt.Printf("   %-44s %3d steps   recorded %s\n",
			truncate(tc.Name, 44), len(tc.Steps), tc.RecordedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
	dim.Printf("   %d test case(s) in %s\n", len(cases), store.Dir())
}

func showTest(ctx context.Context, store *storage.FileStore, name string, jsonOut bool) {
	tc, err := store.GetByName(ctx, name)
	if err != nil {
		red.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		printJSON(tc)
		return
	}

	bold.Printf("🎯 %s\n", tc.Name)
	if tc.FeatureDescription != "" {
		fmt.Printf("   Feature:  %s\n", tc.FeatureDescription)
	}
	fmt.Printf("   Recorded: %s\n", tc.RecordedAt.Format("2006-01-02 15:04:05"))
	dim.Printf("   File:     %s\n", store.TestCasePath(tc.Name))
	fmt.Println()

	for _, step := range tc.Steps {
		cyan.Printf("   %2d  ", step.StepID)
		fmt.Printf("%-26s %s\n", step.Action, step.Description)
		if sel := step.PrimarySelector(); sel != "" {
			dim.Printf("       selector: %s", sel)
			if n := len(step.Fallbacks); n > 0 {
				dim.Printf("  (+%d fallback)", n)
			}
			fmt.Println()
		}
		if step.WaitAfter > 0 {
			dim.Printf("       wait after: %.1fs\n", step.WaitAfter)
		}
	}
}

func listRuns(ctx context.Context, store *storage.FileStore, results *storage.FileResultStore, name string, jsonOut bool) {
	// Resolve the name first so a typo reads as a missing test, not an
	// empty history.
	if _, err := store.GetByName(ctx, name); err != nil {
		red.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	runs, err := results.ListByTestName(ctx, name)
	if err != nil {
		red.Printf("❌ Could not list runs: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		printJSON(runs)
		return
	}
	if len(runs) == 0 {
		yellow.Printf("No runs recorded for %q yet.\n", name)
		return
	}

	bold.Printf("📊 Runs of %q\n", name)
	fmt.Println()
	for _, r := range runs {
		statusColor(r.Status).Printf("   %-13s", r.Status)
		fmt.Printf("  %s  %2d/%2d steps", r.StartedAt.Format("2006-01-02 15:04:05"), r.StepsExecuted, len(r.StepResults))
		if r.HealedSteps > 0 {
			yellow.Printf("  %d healed", r.HealedSteps)
		}
		fmt.Printf("  %6.1fs  ", r.DurationSeconds)
		dim.Printf("%s\n", r.RunID)
		if r.Status == domain.RunStatusFailed && r.Message != "" {
			dim.Printf("                  ↳ %s\n", truncate(r.Message, 90))
		}
	}
}

func statusColor(s domain.RunStatus) *color.Color {
	switch s {
	case domain.RunStatusPassed:
		return green
	case domain.RunStatusHealed:
		return yellow
	case domain.RunStatusFailed:
		return red
	default:
		return dim
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
