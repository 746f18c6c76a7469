package browser

import (
	"context"
	"strings"
	"time"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// NormalizeSelector maps bare XPath expressions to playwright's
// explicit engine syntax. A selector starting with "/" or "(" would
// otherwise be parsed as CSS and match nothing.
func NormalizeSelector(sel string) string {
	s := strings.TrimSpace(sel)
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return "xpath=" + s
	}
	return s
}

// SelectOption identifies a dropdown option by label, value, or index.
type SelectOption struct {
	By    domain.SelectBy
	Label string
	Value string
	Index int
}

// FrameSnapshot is the result of evaluating a script in one frame. The
// main frame has an empty FrameID; child frames are identified by name
// or, when unnamed, by URL.
type FrameSnapshot struct {
	FrameID string
	URL     string
	Value   any
}

// Driver exposes the browser operations the engine needs. All selector
// arguments address the main frame; frame content surfaces only through
// FrameSnapshots.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Title() (string, error)

	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Select(ctx context.Context, selector string, opt SelectOption) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	Hover(ctx context.Context, selector string) error
	Scroll(ctx context.Context, direction string, pixels int) error

	WaitForLoadState(ctx context.Context, state string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	// CountVisible reports how many elements matching selector are
	// currently visible in the main frame.
	CountVisible(ctx context.Context, selector string) (int, error)
	InnerText(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	IsChecked(ctx context.Context, selector string) (bool, error)
	IsEnabled(ctx context.Context, selector string) (bool, error)

	Screenshot(ctx context.Context) ([]byte, error)
	ConsoleMessages() []domain.ConsoleEntry

	// FrameSnapshots evaluates script with arg in the main frame and
	// every reachable child frame. Cross-origin frames that refuse
	// evaluation are skipped.
	FrameSnapshots(ctx context.Context, script string, arg any) ([]FrameSnapshot, error)

	Close(ctx context.Context) error
}
