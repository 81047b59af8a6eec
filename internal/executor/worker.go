package executor

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/stage"
	"github.com/tidemark/shoregrid/internal/task"
)

// pool fans one scattered stage out over its site list. Workers pull site
// indexes from a channel and write into their own slot of the results
// slice, so gathering is positional by construction and needs no lock.
type pool struct {
	executor *Executor
	stage    *stage.Stage
	handler  task.Handler
	sites    []config.Site
	resolve  Resolver
	results  []SiteResult
	cancel   context.CancelFunc
}

func (p *pool) run(ctx context.Context, workers int) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, jobs, workerID)
		}(w)
	}

	for i := range p.sites {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// worker is the processing loop for one concurrent worker.
func (p *pool) worker(ctx context.Context, jobs <-chan int, workerID int) {
	logger := ctxlog.FromContext(ctx).With("stage", p.stage.Name, "workerID", workerID)

	for i := range jobs {
		site := p.sites[i]
		slot := &p.results[i]
		workerLogger := logger.With("site", site.ID)

		// A canceled run stops issuing new attempts; tasks not yet started
		// are recorded as skipped rather than silently dropped.
		if err := ctx.Err(); err != nil {
			slot.Status = task.Failed
			slot.Skipped = true
			slot.Err = errors.Wrap(err, "not attempted")
			continue
		}

		in, err := p.resolve(site)
		if errors.Is(err, ErrSkipSite) {
			workerLogger.Debug("Site skipped: upstream output unavailable.")
			slot.Status = task.Failed
			slot.Skipped = true
			slot.Err = err
			continue
		}
		if err != nil {
			workerLogger.Error("Input resolution failed.", "error", err)
			p.fail(slot, err)
			continue
		}

		inst := task.NewInstance(p.stage.Name, site.ID, in)
		inst.SetStatus(task.Running)
		slot.Status = task.Running
		inst.RecordAttempt()
		workerLogger.Debug("Worker picked up site task.")

		res, err := p.handler(ctx, in)
		slot.Attempts = inst.Attempts()
		if err != nil {
			workerLogger.Error("Site task failed.", "error", err)
			inst.SetStatus(task.Failed)
			inst.Err = err
			p.fail(slot, err)
			continue
		}

		inst.SetStatus(task.Succeeded)
		inst.Result = res
		slot.Status = task.Succeeded
		slot.Result = res
		workerLogger.Debug("Site task succeeded.")
	}
}

// fail records a genuine (non-skip) failure. Under FailFast it also stops
// new tasks from being attempted; siblings already running finish or time
// out on their own.
func (p *pool) fail(slot *SiteResult, err error) {
	slot.Status = task.Failed
	slot.Err = err
	if p.executor.policy == config.FailFast {
		p.cancel()
	}
}
