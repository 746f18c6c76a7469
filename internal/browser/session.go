package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// session implements Driver on top of a single playwright page.
type session struct {
	context playwright.BrowserContext
	page    playwright.Page
	opts    SessionOptions

	mu      sync.Mutex
	console []domain.ConsoleEntry
}

func (s *session) recordConsole(msg playwright.ConsoleMessage) {
	entry := domain.ConsoleEntry{
		Level:     msg.Type(),
		Text:      msg.Text(),
		Timestamp: time.Now().UTC(),
	}
	s.mu.Lock()
	s.console = append(s.console, entry)
	s.mu.Unlock()
}

func (s *session) ConsoleMessages() []domain.ConsoleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConsoleEntry, len(s.console))
	copy(out, s.console)
	return out
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(s.opts.NavigationTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (s *session) URL() string {
	return s.page.URL()
}

func (s *session) Title() (string, error) {
	title, err := s.page.Title()
	return title, wrap(err)
}

// visibleOne walks every match of selector and returns the first
// visible one along with the visible count.
func (s *session) visibleOne(selector string) (playwright.Locator, int, error) {
	loc := s.page.Locator(NormalizeSelector(selector))
	total, err := loc.Count()
	if err != nil {
		return nil, 0, wrap(err)
	}

	var first playwright.Locator
	visible := 0
	for i := 0; i < total; i++ {
		nth := loc.Nth(i)
		ok, err := nth.IsVisible()
		if err != nil {
			continue
		}
		if ok {
			if visible == 0 {
				first = nth
			}
			visible++
		}
	}
	return first, visible, nil
}

// target returns the single locator an action should operate on.
func (s *session) target(selector string) (playwright.Locator, error) {
	loc, visible, err := s.visibleOne(selector)
	if err != nil {
		return nil, err
	}
	if visible == 0 {
		return nil, fmt.Errorf("no visible match for %q", selector)
	}
	return loc, nil
}

func (s *session) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.target(selector)
	if err != nil {
		return err
	}
	// Click auto-scrolls anyway; an explicit scroll failure is not fatal.
	_ = loc.ScrollIntoViewIfNeeded()
	return wrap(loc.Click())
}

func (s *session) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.target(selector)
	if err != nil {
		return err
	}
	return wrap(loc.Fill(text))
}

func (s *session) Select(ctx context.Context, selector string, opt SelectOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.target(selector)
	if err != nil {
		return err
	}

	var values playwright.SelectOptionValues
	switch opt.By {
	case domain.SelectByValue:
		vals := []string{opt.Value}
		values.Values = &vals
	case domain.SelectByIndex:
		idx := []int{opt.Index}
		values.Indexes = &idx
	default:
		labels := []string{opt.Label}
		values.Labels = &labels
	}

	_, err = loc.SelectOption(values)
	return wrap(err)
}

func (s *session) SetChecked(ctx context.Context, selector string, checked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.target(selector)
	if err != nil {
		return err
	}
	if checked {
		return wrap(loc.Check())
	}
	return wrap(loc.Uncheck())
}

func (s *session) Hover(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc, err := s.target(selector)
	if err != nil {
		return err
	}
	return wrap(loc.Hover())
}

func (s *session) Scroll(ctx context.Context, direction string, pixels int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	script := `(args) => {
		const px = args.px;
		switch (args.dir) {
		case "top":
			window.scrollTo(0, 0);
			break;
		case "bottom":
			window.scrollTo(0, document.body.scrollHeight);
			break;
		case "up":
			window.scrollBy(0, -px);
			break;
		default:
			window.scrollBy(0, px);
		}
	}`
	_, err := s.page.Evaluate(script, map[string]any{"dir": direction, "px": pixels})
	return wrap(err)
}

func (s *session) WaitForLoadState(ctx context.Context, state string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var target *playwright.LoadState
	switch state {
	case domain.LoadStateDOMContentLoaded:
		target = playwright.LoadStateDomcontentloaded
	case domain.LoadStateNetworkIdle:
		target = playwright.LoadStateNetworkidle
	default:
		target = playwright.LoadStateLoad
	}
	return wrap(s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   target,
		Timeout: playwright.Float(float64(s.opts.NavigationTimeout.Milliseconds())),
	}))
}

func (s *session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = s.opts.ActionTimeout
	}
	_, err := s.page.WaitForSelector(NormalizeSelector(selector), playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return wrap(err)
}

func (s *session) CountVisible(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, visible, err := s.visibleOne(selector)
	return visible, err
}

func (s *session) InnerText(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc, err := s.target(selector)
	if err != nil {
		return "", err
	}
	text, err := loc.InnerText()
	return text, wrap(err)
}

func (s *session) Attribute(ctx context.Context, selector, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc, err := s.target(selector)
	if err != nil {
		return "", err
	}
	val, err := loc.GetAttribute(name)
	return val, wrap(err)
}

func (s *session) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, visible, err := s.visibleOne(selector)
	if err != nil {
		return false, err
	}
	return visible > 0, nil
}

func (s *session) IsChecked(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc, err := s.target(selector)
	if err != nil {
		return false, err
	}
	checked, err := loc.IsChecked()
	return checked, wrap(err)
}

func (s *session) IsEnabled(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	loc, err := s.target(selector)
	if err != nil {
		return false, err
	}
	enabled, err := loc.IsEnabled()
	return enabled, wrap(err)
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
	return data, wrap(err)
}

func (s *session) FrameSnapshots(ctx context.Context, script string, arg any) ([]FrameSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, err := s.page.Evaluate(script, arg)
	if err != nil {
		return nil, wrap(err)
	}
	snaps := []FrameSnapshot{{FrameID: "", URL: s.page.URL(), Value: val}}

	main := s.page.MainFrame()
	for _, frame := range s.page.Frames() {
		if frame == main {
			continue
		}
		v, err := frame.Evaluate(script, arg)
		if err != nil {
			// Cross-origin frame, skip.
			continue
		}
		id := frame.Name()
		if id == "" {
			id = frame.URL()
		}
		snaps = append(snaps, FrameSnapshot{FrameID: id, URL: frame.URL(), Value: v})
	}
	return snaps, nil
}

func (s *session) Close(ctx context.Context) error {
	_ = ctx
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.context != nil {
		return s.context.Close()
	}
	return nil
}

// IsTimeout reports whether err came from a playwright timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, playwright.ErrTimeout)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}
