package executor

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/registry"
	"github.com/tidemark/shoregrid/internal/stage"
	"github.com/tidemark/shoregrid/internal/task"
)

// ErrSkipSite is returned by an input resolver to mark a site whose
// upstream output is unavailable (the site failed an earlier stage under
// the best-effort policy). The executor records the skip and moves on.
var ErrSkipSite = errors.New("site skipped: upstream output unavailable")

// SiteResult is one slot of a scattered stage's gathered output. Results
// are positional: slot i always belongs to site i of the stage's site
// list, regardless of completion order, and each slot carries the site
// identity so downstream pairing is checked, not assumed.
type SiteResult struct {
	Site     string
	Status   task.Status
	Skipped  bool
	Attempts int
	Result   *task.Result
	Err      error
}

// Resolver produces the resolved input for one site's task, or ErrSkipSite
// when the site cannot run this stage.
type Resolver func(site config.Site) (*task.Input, error)

// Executor runs stages: scalar stages once, scattered stages fanned out
// over the site list under a bounded worker pool.
type Executor struct {
	registry *registry.Registry
	workers  int
	policy   config.FailurePolicy
}

// New creates an executor with concurrency bound W (clamped to >= 1).
func New(reg *registry.Registry, workers int, policy config.FailurePolicy) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{registry: reg, workers: workers, policy: policy}
}

// RunScalar invokes the stage's operation once. A failure is the stage's
// failure.
func (e *Executor) RunScalar(ctx context.Context, st *stage.Stage, in *task.Input) (*task.Result, error) {
	logger := ctxlog.FromContext(ctx).With("stage", st.Name)

	handler, err := e.registry.Handler(st.Operation)
	if err != nil {
		return nil, err
	}

	inst := task.NewInstance(st.Name, "", in)
	inst.SetStatus(task.Running)
	inst.RecordAttempt()
	logger.Debug("Scalar stage started.")

	res, err := handler(ctx, in)
	if err != nil {
		inst.SetStatus(task.Failed)
		inst.Err = err
		logger.Error("Scalar stage failed.", "error", err)
		return nil, errors.Wrapf(err, "stage %s", st.Name)
	}
	inst.SetStatus(task.Succeeded)
	inst.Result = res
	logger.Debug("Scalar stage succeeded.")
	return res, nil
}

// RunScattered expands the stage into one task per site, runs them under
// the worker pool, and gathers results positionally. A site failure never
// aborts sibling tasks; under FailFast it stops new tasks from starting
// and fails the stage, under BestEffort the stage carries on and the
// failure stays recorded against its slot.
func (e *Executor) RunScattered(ctx context.Context, st *stage.Stage, sites []config.Site, resolve Resolver) ([]SiteResult, error) {
	logger := ctxlog.FromContext(ctx).With("stage", st.Name)

	handler, err := e.registry.Handler(st.Operation)
	if err != nil {
		return nil, err
	}

	results := make([]SiteResult, len(sites))
	for i, s := range sites {
		results[i] = SiteResult{Site: s.ID, Status: task.Pending}
	}

	// FailFast cancels this pool only; in-flight handlers observe the
	// cancellation through their context and wind down on their own.
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &pool{
		executor: e,
		stage:    st,
		handler:  handler,
		sites:    sites,
		resolve:  resolve,
		results:  results,
		cancel:   cancel,
	}
	p.run(poolCtx, e.workers)

	if len(results) != len(sites) {
		// The positional contract is checked, never assumed.
		return nil, errors.AssertionFailedf("gathered %d results for %d sites", len(results), len(sites))
	}

	failed := 0
	for i := range results {
		if results[i].Status == task.Failed && !results[i].Skipped {
			failed++
		}
	}
	logger.Debug("Scattered stage gathered.", "sites", len(sites), "failed", failed)

	if failed > 0 && e.policy == config.FailFast {
		for i := range results {
			if results[i].Status == task.Failed && !results[i].Skipped {
				return results, errors.Wrapf(results[i].Err, "stage %s failed for site %s", st.Name, results[i].Site)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return results, errors.Wrapf(err, "stage %s canceled", st.Name)
	}
	return results, nil
}
