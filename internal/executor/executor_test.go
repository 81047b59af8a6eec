package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/registry"
	"github.com/tidemark/shoregrid/internal/stage"
	"github.com/tidemark/shoregrid/internal/task"
)

func siteList(ids ...string) []config.Site {
	sites := make([]config.Site, len(ids))
	for i, id := range ids {
		sites[i] = config.Site{ID: id, Group: "test"}
	}
	return sites
}

func passthroughResolver(site config.Site) (*task.Input, error) {
	return &task.Input{
		Site:   site.ID,
		Group:  site.Group,
		Params: map[string]cty.Value{},
	}, nil
}

func newExecutor(t *testing.T, op string, h task.Handler, workers int, policy config.FailurePolicy) (*Executor, *stage.Stage) {
	t.Helper()
	reg := registry.New()
	reg.Register(op, h)
	st := &stage.Stage{Name: "test_stage", Scattered: true, Operation: op}
	return New(reg, workers, policy), st
}

func TestRunScatteredGathersPositionally(t *testing.T) {
	sites := siteList("s0", "s1", "s2", "s3", "s4")

	// Completion order is deliberately inverted: earlier sites sleep
	// longer, so s4 finishes first and s0 last.
	handler := func(ctx context.Context, in *task.Input) (*task.Result, error) {
		delay := 0
		for _, s := range sites {
			if s.ID == in.Site {
				break
			}
			delay++
		}
		time.Sleep(time.Duration(50-10*delay) * time.Millisecond)
		return &task.Result{Values: map[string]cty.Value{"site": cty.StringVal(in.Site)}}, nil
	}

	exec, st := newExecutor(t, "op", handler, 5, config.BestEffort)
	results, err := exec.RunScattered(context.Background(), st, sites, passthroughResolver)
	require.NoError(t, err)
	require.Len(t, results, len(sites))

	for i, r := range results {
		assert.Equal(t, sites[i].ID, r.Site, "slot %d must hold site %s", i, sites[i].ID)
		require.Equal(t, task.Succeeded, r.Status)
		assert.Equal(t, sites[i].ID, r.Result.Values["site"].AsString())
	}
}

func TestRunScatteredBestEffortIsolatesFailure(t *testing.T) {
	sites := siteList("alpha", "beta")
	handler := func(ctx context.Context, in *task.Input) (*task.Result, error) {
		if in.Site == "alpha" {
			return nil, errors.New("permanent rejection")
		}
		return &task.Result{}, nil
	}

	exec, st := newExecutor(t, "op", handler, 2, config.BestEffort)
	results, err := exec.RunScattered(context.Background(), st, sites, passthroughResolver)
	require.NoError(t, err, "best-effort stage must not fail on a site failure")

	assert.Equal(t, task.Failed, results[0].Status)
	assert.Error(t, results[0].Err)
	assert.Equal(t, task.Succeeded, results[1].Status)
}

func TestRunScatteredFailFastFailsStage(t *testing.T) {
	sites := siteList("alpha", "beta", "gamma")
	var ran atomic.Int32
	handler := func(ctx context.Context, in *task.Input) (*task.Result, error) {
		ran.Add(1)
		if in.Site == "alpha" {
			return nil, errors.New("boom")
		}
		return &task.Result{}, nil
	}

	exec, st := newExecutor(t, "op", handler, 1, config.FailFast)
	results, err := exec.RunScattered(context.Background(), st, sites, passthroughResolver)
	require.Error(t, err)
	require.Len(t, results, len(sites))

	assert.Equal(t, task.Failed, results[0].Status)
	// With one worker the failure cancels before beta and gamma start.
	assert.Equal(t, int32(1), ran.Load())
	assert.True(t, results[1].Skipped)
	assert.True(t, results[2].Skipped)
}

func TestRunScatteredSkipsSitesFailedUpstream(t *testing.T) {
	sites := siteList("alpha", "beta")
	handler := func(ctx context.Context, in *task.Input) (*task.Result, error) {
		return &task.Result{}, nil
	}
	resolver := func(site config.Site) (*task.Input, error) {
		if site.ID == "alpha" {
			return nil, ErrSkipSite
		}
		return passthroughResolver(site)
	}

	exec, st := newExecutor(t, "op", handler, 2, config.BestEffort)
	results, err := exec.RunScattered(context.Background(), st, sites, resolver)
	require.NoError(t, err)

	assert.True(t, results[0].Skipped)
	assert.Equal(t, task.Failed, results[0].Status)
	assert.Equal(t, task.Succeeded, results[1].Status)
}

func TestRunScatteredCancellationStopsNewAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sites := siteList("a", "b", "c", "d")

	var started atomic.Int32
	handler := func(ctx context.Context, in *task.Input) (*task.Result, error) {
		started.Add(1)
		cancel()
		return &task.Result{}, nil
	}

	exec, st := newExecutor(t, "op", handler, 1, config.BestEffort)
	results, err := exec.RunScattered(ctx, st, sites, passthroughResolver)
	require.Error(t, err)

	// The first task ran to completion; later tasks were never attempted.
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, task.Succeeded, results[0].Status)
	for _, r := range results[1:] {
		assert.True(t, r.Skipped)
	}
}

func TestRunScalarPropagatesFailure(t *testing.T) {
	reg := registry.New()
	reg.Register("fails", func(ctx context.Context, in *task.Input) (*task.Result, error) {
		return nil, errors.New("no good")
	})
	exec := New(reg, 1, config.BestEffort)
	st := &stage.Stage{Name: "scalar_stage", Operation: "fails"}

	_, err := exec.RunScalar(context.Background(), st, &task.Input{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scalar_stage")
}

func TestRunScalarReturnsResult(t *testing.T) {
	reg := registry.New()
	reg.Register("works", func(ctx context.Context, in *task.Input) (*task.Result, error) {
		return &task.Result{Values: map[string]cty.Value{"ok": cty.True}}, nil
	})
	exec := New(reg, 1, config.BestEffort)
	st := &stage.Stage{Name: "scalar_stage", Operation: "works"}

	res, err := exec.RunScalar(context.Background(), st, &task.Input{})
	require.NoError(t, err)
	assert.True(t, res.Values["ok"].True())
}

func TestRunScatteredUnknownOperation(t *testing.T) {
	exec := New(registry.New(), 1, config.BestEffort)
	st := &stage.Stage{Name: "s", Scattered: true, Operation: "missing"}
	_, err := exec.RunScattered(context.Background(), st, siteList("a"), passthroughResolver)
	require.Error(t, err)
}
