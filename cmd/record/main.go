// Record captures a new test case by driving a live browser with a planning
// model until the feature is exercised and verified.
//
// Usage:
//
//	record -name "login flow" -feature "Log in with valid credentials" -url https://app.example.com/login
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/llm"
	"github.com/stepflow-hq/stepflow/internal/recorder"
	"github.com/stepflow-hq/stepflow/internal/selector"
	"github.com/stepflow-hq/stepflow/internal/storage"
)

var (
	green = color.New(color.FgGreen, color.Bold)
	red   = color.New(color.FgRed, color.Bold)
	bold  = color.New(color.Bold)
	dim   = color.New(color.Faint)
)

func main() {
	godotenv.Load()

	var (
		name      = flag.String("name", "", "Name for the recorded test case")
		feature   = flag.String("feature", "", "Natural-language description of the feature to exercise")
		startURL  = flag.String("url", "", "URL the recording starts at")
		outputDir = flag.String("output", "", "Artifacts directory (default: output)")
		maxSteps  = flag.Int("max-steps", 0, "Cap on recorded steps (default: 40)")
		headed    = flag.Bool("headed", false, "Run the browser with a visible window")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if *name == "" || *feature == "" || *startURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -name, -feature and -url are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadWithDefaults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		if cfg.Artifacts.BaselineDir == filepath.Join(cfg.Artifacts.OutputDir, "baselines") {
			cfg.Artifacts.BaselineDir = filepath.Join(*outputDir, "baselines")
		}
		cfg.Artifacts.OutputDir = *outputDir
	}
	if *maxSteps > 0 {
		cfg.Recorder.MaxSteps = *maxSteps
	}
	if *headed {
		cfg.Browser.Headless = false
	}

	if cfg.Claude.APIKey == "" {
		red.Println("❌ ANTHROPIC_API_KEY not set")
		fmt.Println("   Recording plans steps with Claude. Add it to .env file or set environment variable.")
		os.Exit(1)
	}

	logger := initLogger(*verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	claude, err := llm.NewClaudeClient(llm.FromConfig(cfg.Claude))
	if err != nil {
		red.Printf("❌ Failed to create Claude client: %v\n", err)
		os.Exit(1)
	}

	bold.Printf("🎬 Recording %q\n", *name)
	dim.Printf("   Feature: %s\n", *feature)
	dim.Printf("   Start:   %s\n", *startURL)
	fmt.Println()

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

	sess := recorder.NewSession(cfg.Recorder, cfg.Executor, recorder.Deps{
		Driver:      drv,
		Planner:     llm.NewPlanner(claude, logger),
		Synthesizer: selector.NewSynthesizer(cfg.Selector),
		OnStep: func(step domain.Step) {
			green.Print("   ✓ ")
			fmt.Printf("%2d  %-22s %s\n", step.StepID, step.Action, truncate(step.Description, 60))
		},
		Logger: logger,
	})

	tc, err := sess.Record(ctx, *name, *feature, *startURL)
	if err != nil {
		red.Printf("\n❌ Recording failed: %v\n", err)
		os.Exit(1)
	}

	store := storage.NewFileStore(cfg.Artifacts.OutputDir)
	if err := store.Save(ctx, tc); err != nil {
		red.Printf("\n❌ Could not save test case: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	green.Printf("✅ Recorded %d steps\n", len(tc.Steps))
	dim.Printf("   Saved to: %s\n", store.TestCasePath(tc.Name))
	fmt.Printf("\n   Replay with: replay -test %q\n", tc.Name)

	printUsage(claude.GetMetrics())
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
