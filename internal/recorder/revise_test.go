package recorder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

type fakeReviser struct {
	steps    []domain.Step
	err      error
	feedback string
}

func (f *fakeReviser) ReviseSteps(_ context.Context, _ *domain.TestCase, feedback string) ([]domain.Step, error) {
	f.feedback = feedback
	return f.steps, f.err
}

func strptr(s string) *string { return &s }

func recordedCase(t *testing.T) *domain.TestCase {
	t.Helper()
	tc := domain.NewTestCase("checkout", "Buy a thing")
	require.NoError(t, tc.AppendStep(domain.Step{
		StepID:      1,
		Action:      domain.ActionNavigate,
		Description: "Navigate to the shop",
		Params:      domain.Params{"url": "https://shop.example"},
	}))
	require.NoError(t, tc.AppendStep(domain.Step{
		StepID:      2,
		Action:      domain.ActionClick,
		Description: "Open the cart",
		Selector:    strptr("#cart"),
	}))
	return tc
}

func TestApplyRevision_ReplacesSteps(t *testing.T) {
	tc := recordedCase(t)
	reviser := &fakeReviser{steps: []domain.Step{
		{
			StepID:      1,
			Action:      domain.ActionNavigate,
			Description: "Navigate to the shop",
			Params:      domain.Params{"url": "https://shop.example"},
		},
		{
			StepID:      2,
			Action:      domain.ActionClick,
			Description: "Open the cart",
			Selector:    strptr("#cart"),
		},
		{
			StepID:      3,
			Action:      domain.ActionAssertVisible,
			Description: "The cart drawer is open",
			Selector:    strptr("#cart-drawer"),
		},
	}}

	err := ApplyRevision(context.Background(), reviser, tc, "also assert the drawer opened")
	require.NoError(t, err)
	assert.Equal(t, "also assert the drawer opened", reviser.feedback)
	require.Len(t, tc.Steps, 3)
	assert.Equal(t, domain.ActionAssertVisible, tc.Steps[2].Action)
}

func TestApplyRevision_NonContiguousIDsLeaveCaseUntouched(t *testing.T) {
	tc := recordedCase(t)
	reviser := &fakeReviser{steps: []domain.Step{
		{
			StepID:      1,
			Action:      domain.ActionNavigate,
			Description: "Navigate to the shop",
			Params:      domain.Params{"url": "https://shop.example"},
		},
		{
			StepID:      5,
			Action:      domain.ActionClick,
			Description: "Open the cart",
			Selector:    strptr("#cart"),
		},
	}}

	err := ApplyRevision(context.Background(), reviser, tc, "renumber everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contiguous")
	require.Len(t, tc.Steps, 2)
	assert.Equal(t, "Open the cart", tc.Steps[1].Description)
}

func TestApplyRevision_InvalidStepLeavesCaseUntouched(t *testing.T) {
	tc := recordedCase(t)
	reviser := &fakeReviser{steps: []domain.Step{
		{
			StepID:      1,
			Action:      domain.ActionType,
			Description: "Type with no target",
		},
	}}

	err := ApplyRevision(context.Background(), reviser, tc, "break it")
	require.Error(t, err)
	require.Len(t, tc.Steps, 2)
}

func TestApplyRevision_ReviserErrorPropagates(t *testing.T) {
	tc := recordedCase(t)
	reviser := &fakeReviser{err: errors.New("model unavailable")}

	err := ApplyRevision(context.Background(), reviser, tc, "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	require.Len(t, tc.Steps, 2)
}
