package task

import (
	"context"
	"sync/atomic"

	"github.com/zclconf/go-cty/cty"

	"github.com/tidemark/shoregrid/internal/artifact"
	"github.com/tidemark/shoregrid/internal/collection"
)

// Status is the execution state of a task instance.
type Status int32

const (
	// Pending indicates the task is waiting to be picked up by a worker.
	Pending Status = iota
	// Running indicates a worker is currently executing the task.
	Running
	// Succeeded indicates the task completed and its result is valid.
	Succeeded
	// Failed indicates the task failed or was skipped.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Input carries the resolved inputs for one task invocation.
type Input struct {
	// Site is empty for scalar stages.
	Site  string
	Group string

	// Params are the stage's resolved scalar parameters.
	Params map[string]cty.Value

	// Artifacts are the input artifacts, keyed by declared input name.
	Artifacts map[string]artifact.Handle
}

// Result is what a handler produces.
type Result struct {
	// Artifacts are the produced artifacts, keyed by declared output name.
	Artifacts map[string]artifact.Handle

	// Update is the task's contribution to the canonical collection, when
	// the stage's contract includes one.
	Update *collection.PartialUpdate

	// Values are scalar outputs, keyed by declared output name.
	Values map[string]cty.Value
}

// Handler executes one opaque domain operation for one task.
type Handler func(ctx context.Context, in *Input) (*Result, error)

// Instance is one (stage, site-or-none) pair scheduled for execution.
type Instance struct {
	Stage string
	// Site is empty for a scalar stage's single instance.
	Site string

	Input *Input

	// Result and Err hold the outcome once the instance leaves Running.
	Result *Result
	Err    error

	state    atomic.Int32
	attempts atomic.Int32
}

// NewInstance creates a pending instance.
func NewInstance(stageName, site string, in *Input) *Instance {
	return &Instance{Stage: stageName, Site: site, Input: in}
}

// Status atomically reads the instance state.
func (i *Instance) Status() Status {
	return Status(i.state.Load())
}

// SetStatus atomically sets the instance state.
func (i *Instance) SetStatus(s Status) {
	i.state.Store(int32(s))
}

// Attempts returns how many times the instance has been attempted.
func (i *Instance) Attempts() int {
	return int(i.attempts.Load())
}

// RecordAttempt increments the attempt counter.
func (i *Instance) RecordAttempt() {
	i.attempts.Add(1)
}
