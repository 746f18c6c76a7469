package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
)

// BaselineMetadata records the conditions a baseline was captured under.
type BaselineMetadata struct {
	ViewportSize     string    `json:"viewport_size,omitempty"`
	URLCaptured      string    `json:"url_captured,omitempty"`
	SelectorCaptured string    `json:"selector_captured,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// BaselineStore persists baseline screenshots and their metadata as
// <id>.png and <id>.json files under one directory.
type BaselineStore struct {
	dir string
}

// NewBaselineStore creates a store rooted at dir. The directory is created
// on first save.
func NewBaselineStore(dir string) *BaselineStore {
	return &BaselineStore{dir: dir}
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func safeID(id string) string {
	s := unsafeIDChars.ReplaceAllString(id, "_")
	if s == "" {
		s = "baseline"
	}
	return s
}

// ImagePath returns where the baseline image for id lives.
func (s *BaselineStore) ImagePath(id string) string {
	return filepath.Join(s.dir, safeID(id)+".png")
}

func (s *BaselineStore) metaPath(id string) string {
	return filepath.Join(s.dir, safeID(id)+".json")
}

// Load reads a baseline image and its metadata. A missing image reports
// os.ErrNotExist; missing or unreadable metadata yields zero metadata, not
// an error, since the image alone is enough to compare against.
func (s *BaselineStore) Load(id string) ([]byte, *BaselineMetadata, error) {
	img, err := os.ReadFile(s.ImagePath(id))
	if err != nil {
		return nil, nil, err
	}
	meta := &BaselineMetadata{}
	if raw, err := os.ReadFile(s.metaPath(id)); err == nil {
		if err := json.Unmarshal(raw, meta); err != nil {
			*meta = BaselineMetadata{}
		}
	}
	return img, meta, nil
}

// Save writes a baseline image and its metadata.
func (s *BaselineStore) Save(id string, imageBytes []byte, meta BaselineMetadata) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating baseline dir: %w", err)
	}
	if err := os.WriteFile(s.ImagePath(id), imageBytes, 0o644); err != nil {
		return fmt.Errorf("writing baseline image: %w", err)
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling baseline metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(id), raw, 0o644); err != nil {
		return fmt.Errorf("writing baseline metadata: %w", err)
	}
	return nil
}

// Capture is the current screenshot plus the conditions it was taken under.
type Capture struct {
	Image        []byte
	URL          string
	ViewportSize string
	Selector     string
}

// Comparer runs assert_visual_match checks: strict pixel comparison first,
// judge escalation for perceptual equivalence when pixels disagree.
type Comparer struct {
	store     *BaselineStore
	judge     Judge
	threshold float64
	outputDir string
	logger    *zap.Logger
}

// NewComparer creates a comparer. judge may be nil, in which case pixel
// mismatches above the threshold fail without escalation.
func NewComparer(store *BaselineStore, judge Judge, cfg config.VisionConfig, outputDir string, logger *zap.Logger) *Comparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.PixelDiffThreshold
	if threshold <= 0 {
		threshold = 0.02
	}
	return &Comparer{
		store:     store,
		judge:     judge,
		threshold: threshold,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Compare checks the current capture against the stored baseline. A missing
// baseline is seeded from the capture and counts as a pass. The returned
// error covers infrastructure problems only; mismatch outcomes live in the
// check record.
func (c *Comparer) Compare(ctx context.Context, stepID int, baselineID string, capture Capture) (*domain.VisualCheck, error) {
	check := &domain.VisualCheck{
		StepID:         stepID,
		BaselineID:     baselineID,
		PixelThreshold: c.threshold,
	}

	baseline, _, err := c.store.Load(baselineID)
	if errors.Is(err, os.ErrNotExist) {
		meta := BaselineMetadata{
			ViewportSize:     capture.ViewportSize,
			URLCaptured:      capture.URL,
			SelectorCaptured: capture.Selector,
			CreatedAt:        time.Now().UTC(),
		}
		if err := c.store.Save(baselineID, capture.Image, meta); err != nil {
			return nil, fmt.Errorf("seeding baseline %s: %w", baselineID, err)
		}
		check.Status = domain.VisualCheckBaselineCreated
		c.logger.Info("visual baseline created",
			zap.String("baseline_id", baselineID),
			zap.String("url", capture.URL))
		return check, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading baseline %s: %w", baselineID, err)
	}

	baseImg, err := png.Decode(bytes.NewReader(baseline))
	if err != nil {
		return nil, fmt.Errorf("decoding baseline %s: %w", baselineID, err)
	}
	curImg, err := png.Decode(bytes.NewReader(capture.Image))
	if err != nil {
		return nil, fmt.Errorf("decoding current screenshot: %w", err)
	}

	mismatched, total, diff := diffImages(baseImg, curImg)
	check.MismatchedPixels = mismatched
	if total > 0 {
		check.PixelDifferenceRatio = float64(mismatched) / float64(total)
	}

	if check.PixelDifferenceRatio <= c.threshold {
		check.Status = domain.VisualCheckPassed
		return check, nil
	}

	if path, err := c.writeDiff(baselineID, diff); err != nil {
		c.logger.Warn("writing diff image failed", zap.Error(err))
	} else {
		check.DiffImagePath = path
	}

	if c.judge == nil {
		check.Status = domain.VisualCheckFailed
		return check, nil
	}

	verdict, err := c.judge.JudgeScreenshot(ctx, c.escalationPrompt(check), baseline, capture.Image)
	switch {
	case err != nil:
		// Pixel evidence stands when the judge cannot rule.
		c.logger.Warn("visual escalation unavailable",
			zap.String("baseline_id", baselineID),
			zap.Error(err))
		check.Status = domain.VisualCheckFailed
	case verdict.Passed:
		check.Status = domain.VisualCheckLLMOverride
		check.LLMOverride = true
		check.LLMReasoning = verdict.Rationale
		c.logger.Info("visual mismatch overridden by judge",
			zap.String("baseline_id", baselineID),
			zap.Float64("ratio", check.PixelDifferenceRatio))
	default:
		check.Status = domain.VisualCheckFailed
		check.LLMReasoning = verdict.Rationale
	}

	return check, nil
}

func (c *Comparer) escalationPrompt(check *domain.VisualCheck) string {
	return fmt.Sprintf(`Compare two screenshots for a visual regression check. The first image is the stored baseline, the second is the current page. Pixel comparison found %.2f%% of pixels differing (threshold %.2f%%).

Decide whether the current page is semantically equivalent to the baseline.
IGNORE: anti-aliasing, sub-pixel shifts, timestamps and other expected dynamic values.
FOCUS ON: layout changes, color changes, text changes, missing or added elements.`,
		check.PixelDifferenceRatio*100, check.PixelThreshold*100)
}

func (c *Comparer) writeDiff(baselineID string, diff *image.RGBA) (string, error) {
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("visual_diff_%s_%s.png", safeID(baselineID), time.Now().Format("20060102_150405"))
	path := filepath.Join(c.outputDir, name)

	var buf bytes.Buffer
	if err := png.Encode(&buf, diff); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// MismatchReason renders the assertion failure message for a failed check.
func MismatchReason(check *domain.VisualCheck) string {
	msg := fmt.Sprintf("visual mismatch with baseline %s: %.2f%% of pixels differ (threshold %.2f%%)",
		check.BaselineID, check.PixelDifferenceRatio*100, check.PixelThreshold*100)
	if check.LLMReasoning != "" {
		msg += "; judge: " + check.LLMReasoning
	}
	return msg
}

var diffMark = color.RGBA{R: 255, A: 255}

// diffImages counts differing pixels over the union of both bounds. Pixels
// outside either image count as mismatched. The returned diff image fades
// matching pixels and marks mismatches in red.
func diffImages(baseline, current image.Image) (mismatched, total int, diff *image.RGBA) {
	bb, cb := baseline.Bounds(), current.Bounds()

	w, h := bb.Dx(), bb.Dy()
	if cb.Dx() > w {
		w = cb.Dx()
	}
	if cb.Dy() > h {
		h = cb.Dy()
	}

	total = w * h
	diff = image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inBase := x < bb.Dx() && y < bb.Dy()
			inCur := x < cb.Dx() && y < cb.Dy()
			if !inBase || !inCur {
				mismatched++
				diff.Set(x, y, diffMark)
				continue
			}

			br, bg, bbl, ba := baseline.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			cr, cg, cbl, ca := current.At(cb.Min.X+x, cb.Min.Y+y).RGBA()
			if br>>8 != cr>>8 || bg>>8 != cg>>8 || bbl>>8 != cbl>>8 || ba>>8 != ca>>8 {
				mismatched++
				diff.Set(x, y, diffMark)
				continue
			}

			diff.Set(x, y, color.RGBA{
				R: uint8(br>>9) + 128,
				G: uint8(bg>>9) + 128,
				B: uint8(bbl>>9) + 128,
				A: 255,
			})
		}
	}

	return mismatched, total, diff
}
