package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

func strptr(s string) *string { return &s }

func sampleCase(t *testing.T, name string) *domain.TestCase {
	t.Helper()
	tc := domain.NewTestCase(name, "Log in with valid credentials")
	require.NoError(t, tc.AppendStep(domain.Step{
		StepID:      1,
		Action:      domain.ActionNavigate,
		Description: "Navigate to the login page",
		Params:      domain.Params{"url": "https://app.example/login"},
	}))
	require.NoError(t, tc.AppendStep(domain.Step{
		StepID:      2,
		Action:      domain.ActionType,
		Description: "Type the username",
		Selector:    strptr("#username"),
		Params:      domain.Params{"text": "admin"},
		Fallbacks: []domain.SelectorCandidate{
			{Kind: domain.SelectorKindCSSStructural, Selector: "html > body > input", Score: 0.4},
		},
	}))
	return tc
}

func TestFileStore_SaveAndGetByName(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	tc := sampleCase(t, "login flow")
	require.NoError(t, store.Save(ctx, tc))

	// The file name carries the sanitized test name.
	assert.FileExists(t, filepath.Join(store.Dir(), "test_login_flow.json"))

	got, err := store.GetByName(ctx, "login flow")
	require.NoError(t, err)
	assert.Equal(t, tc.Name, got.Name)
	assert.Equal(t, tc.FeatureDescription, got.FeatureDescription)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "#username", got.Steps[1].PrimarySelector())
	require.Len(t, got.Steps[1].Fallbacks, 1)
	assert.Equal(t, domain.SelectorKindCSSStructural, got.Steps[1].Fallbacks[0].Kind)
}

func TestFileStore_GetByNameMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, err := store.GetByName(context.Background(), "never recorded")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFileStore_SaveRejectsInvalidCase(t *testing.T) {
	store := NewFileStore(t.TempDir())

	tc := domain.NewTestCase("broken", "Steps out of order")
	tc.Steps = []domain.Step{{
		StepID:      7,
		Action:      domain.ActionNavigate,
		Description: "Navigate somewhere",
		Params:      domain.Params{"url": "https://app.example"},
	}}

	err := store.Save(context.Background(), tc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contiguous")
}

func TestFileStore_ListSortsByName(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCase(t, "checkout")))
	require.NoError(t, store.Save(ctx, sampleCase(t, "account settings")))
	require.NoError(t, store.Save(ctx, sampleCase(t, "login flow")))

	// Stray files in the output directory are not test cases.
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("scratch"), 0o644))

	cases, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, "account settings", cases[0].Name)
	assert.Equal(t, "checkout", cases[1].Name)
	assert.Equal(t, "login flow", cases[2].Name)
}

func TestFileStore_ListEmptyDir(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist"))

	cases, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cases)
}

func TestFileStore_Delete(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCase(t, "login flow")))
	require.NoError(t, store.Delete(ctx, "login flow"))

	_, err := store.GetByName(ctx, "login flow")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	err = store.Delete(ctx, "login flow")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFileStore_LoadFileParsesWireFormat(t *testing.T) {
	dir := t.TempDir()
	raw := `{
  "test_name": "legacy login",
  "feature_description": "Log in",
  "recorded_at": "2025-05-12T09:30:00Z",
  "steps": [
    {"step_id": 1, "action": "navigate", "description": "Open the page", "parameters": {"url": "https://app.example"}, "selector": null, "wait_after_secs": 1},
    {"step_id": 2, "action": "click", "description": "Open the menu", "parameters": {}, "selector": "#menu", "wait_after_secs": 0}
  ]
}`
	path := filepath.Join(dir, "test_legacy_login.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	tc, err := NewFileStore(dir).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "legacy login", tc.Name)
	require.Len(t, tc.Steps, 2)
	// Files recorded before fallback candidates existed decode cleanly.
	assert.Empty(t, tc.Steps[1].Fallbacks)
	assert.Equal(t, "#menu", tc.Steps[1].PrimarySelector())
}

func TestFileStore_LoadFileRejectsUnknownAction(t *testing.T) {
	dir := t.TempDir()
	raw := `{
  "test_name": "bad action",
  "feature_description": "x",
  "steps": [
    {"step_id": 1, "action": "teleport", "description": "Nope", "parameters": {}}
  ]
}`
	path := filepath.Join(dir, "test_bad_action.json")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := NewFileStore(dir).LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func sampleResult(testName string) *domain.ExecutionResult {
	result := domain.NewExecutionResult(testName)
	result.RecordStep(domain.StepResult{StepID: 1, Action: domain.ActionNavigate, Status: domain.StepStatusPassed})
	result.RecordStep(domain.StepResult{StepID: 2, Action: domain.ActionClick, Status: domain.StepStatusHealed, HealedSelector: "#login-2"})
	result.Finalize()
	return result
}

func TestFileResultStore_SaveAndGetByRunID(t *testing.T) {
	store := NewFileResultStore(t.TempDir())
	ctx := context.Background()

	result := sampleResult("login flow")
	require.NoError(t, store.Save(ctx, result))

	got, err := store.GetByRunID(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, got.RunID)
	assert.Equal(t, domain.RunStatusHealed, got.Status)
	assert.Equal(t, 1, got.HealedSteps)
	require.Len(t, got.StepResults, 2)
	assert.Equal(t, "#login-2", got.StepResults[1].HealedSelector)
}

func TestFileResultStore_GetByRunIDMissing(t *testing.T) {
	store := NewFileResultStore(t.TempDir())

	_, err := store.GetByRunID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFileResultStore_ListByTestNameNewestFirst(t *testing.T) {
	store := NewFileResultStore(t.TempDir())
	ctx := context.Background()

	older := sampleResult("login flow")
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	newer := sampleResult("login flow")
	other := sampleResult("checkout")

	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))
	require.NoError(t, store.Save(ctx, other))

	results, err := store.ListByTestName(ctx, "login flow")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, newer.RunID, results[0].RunID)
	assert.Equal(t, older.RunID, results[1].RunID)
}
