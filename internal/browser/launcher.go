package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/stepflow-hq/stepflow/internal/config"
)

// Launcher owns the playwright lifecycle. One launcher can open many
// sessions; each session owns its own browser context and page.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     config.BrowserConfig
}

// NewLauncher starts playwright and launches the configured browser.
func NewLauncher(cfg config.BrowserConfig) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if cfg.SlowMo > 0 {
		opts.SlowMo = playwright.Float(float64(cfg.SlowMo.Milliseconds()))
	}

	var browserType playwright.BrowserType
	switch cfg.Name {
	case "firefox":
		browserType = pw.Firefox
	case "webkit":
		browserType = pw.WebKit
	default:
		browserType = pw.Chromium
	}

	b, err := browserType.Launch(opts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch %s: %w", cfg.Name, err)
	}

	return &Launcher{pw: pw, browser: b, cfg: cfg}, nil
}

// SessionOptions control timeouts for a single session.
type SessionOptions struct {
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
}

// NewSession opens a fresh browser context and page. The caller owns
// the session and must Close it.
func (l *Launcher) NewSession(opts SessionOptions) (Driver, error) {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 5 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.NavigationTimeout < opts.ActionTimeout {
		opts.NavigationTimeout = opts.ActionTimeout
	}

	browserCtx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
		Viewport: &playwright.Size{
			Width:  l.cfg.ViewportWidth,
			Height: l.cfg.ViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		_ = browserCtx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(opts.ActionTimeout.Milliseconds()))

	s := &session{
		context: browserCtx,
		page:    page,
		opts:    opts,
	}
	page.OnConsole(s.recordConsole)

	return s, nil
}

// Close shuts the browser and stops playwright.
func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}
