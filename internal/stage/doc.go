// Package stage declares the run's stage graph: named processing steps,
// their input/output contracts, and their dependency edges. The graph is
// acyclic by construction and yields a deterministic topological order for
// the executor to follow.
package stage
