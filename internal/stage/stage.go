package stage

// Stage is one named processing step with declared inputs and outputs.
type Stage struct {
	// Name uniquely identifies the stage within a graph.
	Name string

	// Scattered marks a stage that runs once per site rather than once per
	// run.
	Scattered bool

	// Operation names the registered handler that executes this stage's
	// work. The orchestrator treats the operation as opaque.
	Operation string

	// Group restricts a scattered stage to sites of one group. Empty means
	// all sites. Two stage variants with different parameters can cover
	// the full site list by splitting on group.
	Group string

	// Inputs are the names this stage consumes. Each must be produced by
	// an upstream stage's outputs or supplied by run configuration.
	Inputs []string

	// Outputs are the names this stage produces.
	Outputs []string

	// DependsOn lists the stages whose completion this stage waits for.
	DependsOn []string

	// Params carries stage-variant numeric parameters, passed through to
	// the handler untouched.
	Params map[string]float64

	// declIndex is the declaration order, used as the deterministic
	// tie-break in topological ordering.
	declIndex int
}
