package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func newResolveEnv() (*testsuite.TestWorkflowEnvironment, *Activities) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RequeryTrade)
	env.RegisterActivity(activities.AbandonTrade)
	return env, activities
}

func TestResolveTradeWorkflow(t *testing.T) {
	input := ResolveTradeInput{
		TradeID:      "8b0f4e1c-3d59-4a8e-9f43-6f2b8e2c1a77",
		Signature:    "sig1",
		PollInterval: 10 * time.Second,
		MaxAttempts:  3,
	}

	tests := []struct {
		name           string
		responses      []*RequeryTradeResult
		expectAbandon  bool
		validateResult func(*testing.T, *ResolveTradeResult)
	}{
		{
			name: "confirmed on first query",
			responses: []*RequeryTradeResult{
				{Resolved: true, State: "confirmed", LedgerStatus: "confirmed", Slot: 55},
			},
			validateResult: func(t *testing.T, result *ResolveTradeResult) {
				assert.True(t, result.Resolved)
				assert.Equal(t, "confirmed", result.State)
				assert.Equal(t, uint64(55), result.Slot)
				assert.Equal(t, 1, result.Attempts)
			},
		},
		{
			name: "failed after pending queries",
			responses: []*RequeryTradeResult{
				{State: "timed_out", LedgerStatus: "timed_out"},
				{State: "timed_out", LedgerStatus: "processed"},
				{Resolved: true, State: "failed", LedgerStatus: "failed", Error: "custom program error"},
			},
			validateResult: func(t *testing.T, result *ResolveTradeResult) {
				assert.True(t, result.Resolved)
				assert.Equal(t, "failed", result.State)
				assert.Equal(t, "custom program error", result.Error)
				assert.Equal(t, 3, result.Attempts)
			},
		},
		{
			name: "gives up after max attempts",
			responses: []*RequeryTradeResult{
				{State: "timed_out", LedgerStatus: "timed_out"},
				{State: "timed_out", LedgerStatus: "timed_out"},
				{State: "timed_out", LedgerStatus: "processed"},
			},
			expectAbandon: true,
			validateResult: func(t *testing.T, result *ResolveTradeResult) {
				assert.False(t, result.Resolved)
				assert.Equal(t, "timed_out", result.State)
				assert.Equal(t, "processed", result.LedgerStatus)
				assert.Equal(t, 3, result.Attempts)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newResolveEnv()

			calls := 0
			env.OnActivity(activities.RequeryTrade, mock.Anything, mock.Anything).Return(
				func(ctx context.Context, in RequeryTradeInput) (*RequeryTradeResult, error) {
					assert.Equal(t, input.Signature, in.Signature)
					assert.Equal(t, input.TradeID, in.TradeID)
					r := tt.responses[calls]
					calls++
					return r, nil
				})

			abandoned := 0
			if tt.expectAbandon {
				env.OnActivity(activities.AbandonTrade, mock.Anything, mock.Anything).Return(
					func(ctx context.Context, in AbandonTradeInput) error {
						abandoned++
						assert.Equal(t, len(tt.responses), in.Attempts)
						return nil
					})
			}

			start := env.Now()
			env.ExecuteWorkflow(ResolveTradeWorkflow, input)

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result ResolveTradeResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)

			assert.Equal(t, len(tt.responses), calls)
			if tt.expectAbandon {
				assert.Equal(t, 1, abandoned)
			}

			waited := env.Now().Sub(start)
			assert.GreaterOrEqual(t, waited, time.Duration(len(tt.responses)-1)*input.PollInterval)
		})
	}
}

func TestResolveTradeWorkflow_TransientErrorCountsAsAttempt(t *testing.T) {
	env, activities := newResolveEnv()

	calls := 0
	env.OnActivity(activities.RequeryTrade, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in RequeryTradeInput) (*RequeryTradeResult, error) {
			calls++
			if calls <= 3 {
				// exhausts the activity retry policy for the first attempt
				return nil, errors.New("rpc unavailable")
			}
			return &RequeryTradeResult{Resolved: true, State: "confirmed", LedgerStatus: "finalized"}, nil
		})

	env.ExecuteWorkflow(ResolveTradeWorkflow, ResolveTradeInput{Signature: "sig1", PollInterval: time.Second, MaxAttempts: 5})

	require.NoError(t, env.GetWorkflowError())
	var result ResolveTradeResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.True(t, result.Resolved)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 4, calls)
}

func TestResolveTradeWorkflow_NonRetryableErrorStops(t *testing.T) {
	env, activities := newResolveEnv()

	env.OnActivity(activities.RequeryTrade, mock.Anything, mock.Anything).
		Return(nil, temporalsdk.NewNonRetryableApplicationError("invalid signature", "InvalidSignature", nil))

	env.ExecuteWorkflow(ResolveTradeWorkflow, ResolveTradeInput{Signature: "garbage", MaxAttempts: 5})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

func TestResolveTradeWorkflow_Defaults(t *testing.T) {
	env, activities := newResolveEnv()

	calls := 0
	env.OnActivity(activities.RequeryTrade, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in RequeryTradeInput) (*RequeryTradeResult, error) {
			calls++
			return &RequeryTradeResult{State: "timed_out", LedgerStatus: "timed_out"}, nil
		})
	env.OnActivity(activities.AbandonTrade, mock.Anything, mock.Anything).Return(nil)

	start := env.Now()
	env.ExecuteWorkflow(ResolveTradeWorkflow, ResolveTradeInput{Signature: "sig1"})

	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, DefaultResolveMaxAttempts, calls)
	assert.GreaterOrEqual(t, env.Now().Sub(start), time.Duration(DefaultResolveMaxAttempts-1)*DefaultResolvePollInterval)
}
