// Replay runs a recorded test case against a live browser, healing broken
// selectors along the way.
//
// Usage:
//
//	replay -test "login flow"
//	replay -file output/test_login_flow.json -headed -verbose
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/executor"
	"github.com/stepflow-hq/stepflow/internal/healing"
	"github.com/stepflow-hq/stepflow/internal/llm"
	"github.com/stepflow-hq/stepflow/internal/report"
	rediscache "github.com/stepflow-hq/stepflow/internal/repository/redis"
	"github.com/stepflow-hq/stepflow/internal/selector"
	"github.com/stepflow-hq/stepflow/internal/storage"
	"github.com/stepflow-hq/stepflow/internal/vision"
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
		testName         = flag.String("test", "", "Name of a stored test case to replay")
		testFile         = flag.String("file", "", "Path to a test case JSON file to replay")
		outputDir        = flag.String("output", "", "Artifacts directory (default: output)")
		continueOnAssert = flag.Bool("continue-on-assert", false, "Keep executing after assertion failures")
		noHealing        = flag.Bool("no-healing", false, "Disable selector self-healing")
		headed           = flag.Bool("headed", false, "Run the browser with a visible window")
		writeReport      = flag.Bool("report", true, "Write an HTML report for the run")
		jsonOut          = flag.Bool("json", false, "Print the execution result as JSON")
		verbose          = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if (*testName == "") == (*testFile == "") {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -test or -file is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		// Baselines follow the output dir unless configured explicitly.
		if cfg.Artifacts.BaselineDir == filepath.Join(cfg.Artifacts.OutputDir, "baselines") {
			cfg.Artifacts.BaselineDir = filepath.Join(*outputDir, "baselines")
		}
		cfg.Artifacts.OutputDir = *outputDir
	}
	if *headed {
		cfg.Browser.Headless = false
	}
	if *noHealing {
		cfg.Healing.Enabled = false
	}
	if *continueOnAssert {
		cfg.Executor.ContinueOnAssert = true
	}

	logger := initLogger(*verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.NewFileStore(cfg.Artifacts.OutputDir)
	var tc *domain.TestCase
	if *testFile != "" {
		tc, err = store.LoadFile(*testFile)
	} else {
		tc, err = store.GetByName(ctx, *testName)
	}
	if err != nil {
		red.Printf("❌ Could not load test case: %v\n", err)
		os.Exit(1)
	}

	quiet := *jsonOut
	if !quiet {
		bold.Printf("▶ %s\n", tc.Name)
		if tc.FeatureDescription != "" {
			dim.Printf("  %s\n", tc.FeatureDescription)
		}
		dim.Printf("  %d steps, recorded %s\n\n", len(tc.Steps), tc.RecordedAt.Format("2006-01-02 15:04"))
	}

	// Vision checks need Claude. Without a key they fail as assertions
	// instead of aborting the run.
	var (
		claude   *llm.ClaudeClient
		judge    vision.Judge
		verifier *vision.Verifier
	)
	if cfg.Claude.APIKey != "" {
		claude, err = llm.NewClaudeClient(llm.FromConfig(cfg.Claude))
		if err != nil {
			red.Printf("❌ Failed to create Claude client: %v\n", err)
			os.Exit(1)
		}
		judge = claude
		verifier = vision.NewVerifier(claude, cfg.Vision, logger)
	} else if !quiet {
		yellow.Println("⚠ ANTHROPIC_API_KEY not set, visual judgment disabled")
	}

	var hints healing.HintStore = healing.NewMemoryHintStore()
	if cfg.Redis.Enabled {
		cache, err := rediscache.New(cfg.Redis)
		if err != nil {
			if !quiet {
				yellow.Printf("⚠ Redis unavailable, healing hints stay in-process: %v\n", err)
			}
		} else {
			defer cache.Close()
			hints = rediscache.NewHintStore(cache)
		}
	}

	synth := selector.NewSynthesizer(cfg.Selector)
	resolver := healing.NewResolver(cfg.Healing, cfg.Executor.ActionTimeout, synth, hints, logger)
	baselines := vision.NewBaselineStore(cfg.Artifacts.BaselineDir)
	comparer := vision.NewComparer(baselines, judge, cfg.Vision, cfg.Artifacts.OutputDir, logger)

	launcher, err := browser.NewLauncher(cfg.Browser)
	if err != nil {
		red.Printf("❌ Failed to launch browser: %v\n", err)
		os.Exit(1)
	}
	defer launcher.Close()

	drv, err := launcher.NewSession(browser.SessionOptions{
		ActionTimeout:     cfg.Executor.ActionTimeout,
		NavigationTimeout: cfg.Executor.NavigationTimeout,
	})
	if err != nil {
		red.Printf("❌ Failed to open browser session: %v\n", err)
		os.Exit(1)
	}
	defer drv.Close()

	descriptions := make(map[int]string, len(tc.Steps))
	for _, step := range tc.Steps {
		descriptions[step.StepID] = step.Description
	}

	onStep := func(domain.StepResult) {}
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(len(tc.Steps),
			progressbar.OptionSetDescription("   Executing steps"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "█",
				SaucerHead:    "█",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		onStep = func(sr domain.StepResult) {
			if desc := descriptions[sr.StepID]; desc != "" {
				bar.Describe("   " + truncate(desc, 40))
			}
			bar.Add(1)
		}
	}

	exec := executor.New(cfg.Executor, cfg.Artifacts, executor.Deps{
		Resolver:   resolver,
		Verifier:   verifier,
		Comparer:   comparer,
		Classifier: selector.NewClassifier(cfg.Selector),
		Viewport:   fmt.Sprintf("%dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight),
		OnStep:     onStep,
		Logger:     logger,
	})

	result, err := exec.Run(ctx, drv, tc)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		red.Printf("❌ Run could not start: %v\n", err)
		os.Exit(1)
	}

	results := storage.NewFileResultStore(cfg.Artifacts.OutputDir)
	if err := results.Save(ctx, result); err != nil && !quiet {
		yellow.Printf("⚠ Could not save result: %v\n", err)
	}

	reportPath := ""
	if *writeReport {
		renderer, err := report.NewRenderer()
		if err == nil {
			reportPath = report.Path(cfg.Artifacts.OutputDir, result.TestName, result.RunID.String())
			if err := renderer.WriteFile(reportPath, report.BuildSummary(tc, result)); err != nil {
				if !quiet {
					yellow.Printf("⚠ Could not write report: %v\n", err)
				}
				reportPath = ""
			}
		}
	}

	if quiet {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
	} else {
		printResult(result, descriptions, reportPath)
		if claude != nil {
			printUsage(claude.GetMetrics())
		}
	}

	if !result.Passed() {
		os.Exit(1)
	}
}

func printResult(result *domain.ExecutionResult, descriptions map[int]string, reportPath string) {
	fmt.Println()
	for _, sr := range result.StepResults {
		switch sr.Status {
		case domain.StepStatusPassed:
			green.Print("   ✓ ")
		case domain.StepStatusHealed:
			yellow.Print("   ⚒ ")
		case domain.StepStatusFailed:
			red.Print("   ✗ ")
		case domain.StepStatusSkipped:
			dim.Print("   - ")
		}
		fmt.Printf("%2d  %-22s %-44s", sr.StepID, sr.Action, truncate(descriptions[sr.StepID], 44))
		if sr.Status == domain.StepStatusSkipped {
			dim.Println("skipped")
			continue
		}
		dim.Printf("%6dms\n", sr.DurationMS)
		if sr.HealedSelector != "" {
			yellow.Printf("       ↳ healed selector: %s\n", sr.HealedSelector)
		}
		if sr.FailureReason != "" {
			red.Printf("       ↳ %s\n", truncate(sr.FailureReason, 100))
		}
	}

	for _, vc := range result.VisualChecks {
		fmt.Println()
		switch vc.Status {
		case domain.VisualCheckBaselineCreated:
			cyan.Printf("   📷 Baseline %q created at step %d\n", vc.BaselineID, vc.StepID)
		case domain.VisualCheckLLMOverride:
			yellow.Printf("   📷 Baseline %q: %.2f%% pixel diff, accepted on visual judgment\n",
				vc.BaselineID, vc.PixelDifferenceRatio*100)
			if vc.LLMReasoning != "" {
				dim.Printf("      %s\n", truncate(vc.LLMReasoning, 120))
			}
		case domain.VisualCheckFailed:
			red.Printf("   📷 Baseline %q: %.2f%% pixel diff exceeds %.2f%%\n",
				vc.BaselineID, vc.PixelDifferenceRatio*100, vc.PixelThreshold*100)
			if vc.DiffImagePath != "" {
				dim.Printf("      Diff: %s\n", vc.DiffImagePath)
			}
		default:
			green.Printf("   📷 Baseline %q matched (%.2f%% pixel diff)\n",
				vc.BaselineID, vc.PixelDifferenceRatio*100)
		}
	}

	fmt.Println()
	switch result.Status {
	case domain.RunStatusPassed:
		green.Printf("✅ %s passed\n", result.TestName)
	case domain.RunStatusHealed:
		yellow.Printf("⚒ %s passed with %d healed step(s)\n", result.TestName, result.HealedSteps)
	default:
		red.Printf("❌ %s failed", result.TestName)
		if result.FailedStep != nil {
			red.Printf(" at step %d", *result.FailedStep)
		}
		fmt.Println()
		if result.Message != "" {
			fmt.Printf("   %s\n", result.Message)
		}
		if result.ScreenshotOnFailure != "" {
			dim.Printf("   Screenshot: %s\n", result.ScreenshotOnFailure)
		}
	}
	fmt.Printf("   Steps: %d/%d, healing attempts: %d, duration: %.1fs\n",
		result.StepsExecuted, len(result.StepResults), result.HealingAttempts, result.DurationSeconds)
	dim.Printf("   Run ID: %s\n", result.RunID)
	if reportPath != "" {
		dim.Printf("   Report: %s\n", reportPath)
	}
}

func printUsage(m llm.Metrics) {
	if m.TotalRequests == 0 {
		return
	}
	fmt.Println("\n💰 LLM Usage:")
	fmt.Printf("├── Requests: %d (%d cached)\n", m.TotalRequests, m.CacheHits)
	fmt.Printf("├── Input Tokens: %d\n", m.TotalTokensIn)
	fmt.Printf("├── Output Tokens: %d\n", m.TotalTokensOut)
	fmt.Printf("└── Estimated Cost: $%.4f\n", m.TotalCost)
}

func initLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"/dev/null"}
	logger, _ := cfg.Build()
	return logger
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
