package swarm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/types"
	"github.com/aegiskernel/aegis/pkg/worker"
)

// blockingWorker parks until released, so tests can hold pool slots open
type blockingWorker struct {
	kind    types.WorkerKind
	release chan struct{}
	started chan struct{}
}

func (b *blockingWorker) Describe() types.WorkerDescriptor {
	return types.WorkerDescriptor{Kind: b.kind, RiskLevel: types.TierE, TimeoutDefault: 5 * time.Second}
}

func (b *blockingWorker) Execute(ctx context.Context, task *types.Task) (*types.WorkerResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return &types.WorkerResult{Status: types.ResultSuccess}, nil
	}
}

func testDispatcher(t *testing.T, maxTotal int) (*Dispatcher, *worker.Registry, *worker.Limits) {
	t.Helper()
	reg := worker.NewRegistry()
	require.NoError(t, worker.RegisterBuiltins(reg))
	limits := worker.NewLimits(config.WorkerLimits{MaxTotal: maxTotal, MaxPerKind: map[types.WorkerKind]int{}})
	return NewDispatcher(reg, limits), reg, limits
}

func scoutTask(id string) *types.Task {
	return &types.Task{
		ID:        id,
		MissionID: "m-1",
		Kind:      types.WorkerKindScout,
		Params:    map[string]string{"path": "foo"},
	}
}

func TestStepsForDefaults(t *testing.T) {
	d, _, _ := testDispatcher(t, 4)

	steps, err := d.StepsFor(scoutTask("t-1"))
	require.NoError(t, err)
	assert.Equal(t, []types.WorkerKind{types.WorkerKindScout}, steps)

	steps, err = d.StepsFor(&types.Task{Kind: types.WorkerKindBuilder})
	require.NoError(t, err)
	assert.Equal(t, []types.WorkerKind{
		types.WorkerKindScout, types.WorkerKindBuilder, types.WorkerKindVerify,
	}, steps)
}

func TestStepsForOverride(t *testing.T) {
	d, _, _ := testDispatcher(t, 4)

	task := scoutTask("t-1")
	task.Params[ParamSteps] = "scout,verify"
	steps, err := d.StepsFor(task)
	require.NoError(t, err)
	assert.Equal(t, []types.WorkerKind{types.WorkerKindScout, types.WorkerKindVerify}, steps)

	task.Params[ParamSteps] = "scout,builder,verify,scout"
	_, err = d.StepsFor(task)
	assert.ErrorIs(t, err, ErrTooManySteps)

	task.Params[ParamSteps] = "phantom"
	_, err = d.StepsFor(task)
	assert.Error(t, err)
}

func TestDispatchSingleStep(t *testing.T) {
	d, _, limits := testDispatcher(t, 4)

	res, err := d.Dispatch(context.Background(), scoutTask("t-1"), config.DefaultRuntime())
	require.NoError(t, err)
	assert.Equal(t, types.ResultSuccess, res.Status)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, 0, limits.Utilization().Live)
}

func TestDispatchPipelineMergesStepResults(t *testing.T) {
	d, _, _ := testDispatcher(t, 4)

	task := &types.Task{
		ID:        "t-1",
		MissionID: "m-1",
		Kind:      types.WorkerKindBuilder,
		Params:    map[string]string{},
	}
	res, err := d.Dispatch(context.Background(), task, config.DefaultRuntime())
	require.NoError(t, err)

	assert.Equal(t, types.ResultSuccess, res.Status)
	assert.Len(t, res.Artifacts, 3)
	assert.Equal(t, true, res.Data["built"])
	assert.Equal(t, true, res.Data["verified"])
	assert.Equal(t, int64(4), res.Cost.TimeMS)
}

func TestDispatchMandatoryFailureShortCircuits(t *testing.T) {
	d, _, _ := testDispatcher(t, 4)

	task := &types.Task{
		ID:        "t-1",
		MissionID: "m-1",
		Kind:      types.WorkerKindBuilder,
		Params:    map[string]string{"fail": "true"},
	}
	res, err := d.Dispatch(context.Background(), task, config.DefaultRuntime())
	require.NoError(t, err)

	// scout succeeded, builder failed, verify never ran
	assert.Equal(t, types.ResultPartial, res.Status)
	assert.Len(t, res.Artifacts, 1)
	assert.Nil(t, res.Data["verified"])
}

func TestDispatchOptionalFailureContinues(t *testing.T) {
	d, _, _ := testDispatcher(t, 4)

	task := &types.Task{
		ID:        "t-1",
		MissionID: "m-1",
		Kind:      types.WorkerKindBuilder,
		Params: map[string]string{
			"fail":             "true",
			ParamOptionalSteps: "builder",
		},
	}
	res, err := d.Dispatch(context.Background(), task, config.DefaultRuntime())
	require.NoError(t, err)

	assert.Equal(t, types.ResultPartial, res.Status)
	assert.Equal(t, true, res.Data["verified"])
}

func TestDispatchQueuesWhenSaturated(t *testing.T) {
	reg := worker.NewRegistry()
	blocker := &blockingWorker{
		kind:    types.WorkerKindScout,
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	require.NoError(t, reg.Register(blocker))

	limits := worker.NewLimits(config.WorkerLimits{MaxTotal: 1, MaxPerKind: map[types.WorkerKind]int{}})
	d := NewDispatcher(reg, limits)

	var saturated sync.WaitGroup
	saturated.Add(1)
	d.OnSaturation = func(task *types.Task, kind types.WorkerKind) {
		saturated.Done()
	}

	cfg := config.DefaultRuntime()
	cfg.Workers.MaxTotal = 1

	var wg sync.WaitGroup
	results := make([]*types.WorkerResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.Dispatch(context.Background(), scoutTask("t-1"), cfg)
		}(i)
	}

	<-blocker.started // first dispatch holds the only slot
	saturated.Wait()  // second dispatch reported saturation and is queued
	close(blocker.release)
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, types.ResultSuccess, results[i].Status)
	}
}

func TestDispatchFailsFastWhenQueueingDisabled(t *testing.T) {
	d, _, limits := testDispatcher(t, 1)
	require.NoError(t, limits.RegisterSpawn(types.WorkerKindScout))
	defer limits.Unregister(types.WorkerKindScout)

	cfg := config.DefaultRuntime()
	cfg.Commit.QueueOnSaturation = false

	_, err := d.Dispatch(context.Background(), scoutTask("t-1"), cfg)
	assert.ErrorIs(t, err, worker.ErrCapacity)
}

func TestDispatchCancellation(t *testing.T) {
	reg := worker.NewRegistry()
	blocker := &blockingWorker{
		kind:    types.WorkerKindScout,
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	require.NoError(t, reg.Register(blocker))
	limits := worker.NewLimits(config.WorkerLimits{MaxTotal: 1, MaxPerKind: map[types.WorkerKind]int{}})
	d := NewDispatcher(reg, limits)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, scoutTask("t-1"), config.DefaultRuntime())
		done <- err
	}()

	<-blocker.started
	cancel()
	cancel() // idempotent

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, limits.Utilization().Live)
}

func TestDispatchStepTimeout(t *testing.T) {
	reg := worker.NewRegistry()
	blocker := &blockingWorker{
		kind:    types.WorkerKindScout,
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	require.NoError(t, reg.Register(blocker))
	limits := worker.NewLimits(config.WorkerLimits{MaxTotal: 1, MaxPerKind: map[types.WorkerKind]int{}})
	d := NewDispatcher(reg, limits)

	cfg := config.DefaultRuntime()
	cfg.Workers.MaxExecutionTime = 30 * time.Millisecond

	_, err := d.Dispatch(context.Background(), scoutTask("t-1"), cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMergePolicies(t *testing.T) {
	tests := []struct {
		name    string
		results []*types.WorkerResult
		status  types.ResultStatus
	}{
		{
			name: "all success",
			results: []*types.WorkerResult{
				{Status: types.ResultSuccess},
				{Status: types.ResultSuccess},
			},
			status: types.ResultSuccess,
		},
		{
			name: "all failure",
			results: []*types.WorkerResult{
				{Status: types.ResultFailure},
				{Status: types.ResultFailure},
			},
			status: types.ResultFailure,
		},
		{
			name: "mixed is partial",
			results: []*types.WorkerResult{
				{Status: types.ResultSuccess},
				{Status: types.ResultFailure},
			},
			status: types.ResultPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, Merge(tt.results).Status)
		})
	}
}

func TestMergeDataPolicy(t *testing.T) {
	merged := Merge([]*types.WorkerResult{
		{
			Status: types.ResultSuccess,
			Data: map[string]any{
				"scalar": "first",
				"list":   []any{1, 2},
				"nested": map[string]any{"a": 1, "b": 1},
			},
			Cost: types.Cost{Tokens: 10},
		},
		{
			Status: types.ResultSuccess,
			Data: map[string]any{
				"scalar": "second",
				"list":   []any{3},
				"nested": map[string]any{"b": 2, "c": 3},
			},
			Cost: types.Cost{Tokens: 5, APICalls: 1},
		},
	})

	assert.Equal(t, "second", merged.Data["scalar"])
	assert.Equal(t, []any{1, 2, 3}, merged.Data["list"])
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, merged.Data["nested"])
	assert.Equal(t, int64(15), merged.Cost.Tokens)
	assert.Equal(t, int64(1), merged.Cost.APICalls)
}
