package report

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

// Renderer renders run summaries as standalone HTML documents.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the report template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("run-report").Funcs(template.FuncMap{
		"statusKey": statusKey,
		"ms":        formatMillis,
		"pct":       func(ratio float64) float64 { return ratio * 100 },
	}).Parse(runReportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the HTML document for s to w.
func (r *Renderer) Render(w io.Writer, s *Summary) error {
	if err := r.tmpl.Execute(w, s); err != nil {
		return fmt.Errorf("rendering run report: %w", err)
	}
	return nil
}

// WriteFile renders the report to path, creating parent directories.
func (r *Renderer) WriteFile(path string, s *Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := r.Render(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// statusKey folds the step, run and visual check statuses into the three
// style groups the template knows.
func statusKey(status string) string {
	switch status {
	case string(domain.StepStatusPassed):
		return "passed"
	case string(domain.StepStatusHealed), domain.VisualCheckLLMOverride:
		return "healed"
	case string(domain.StepStatusSkipped), domain.VisualCheckBaselineCreated:
		return "skipped"
	default:
		return "failed"
	}
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
