// Package executor runs the stage graph's work: scalar stages as a single
// invocation, scattered stages fanned out over the ordered site list under
// a bounded worker pool. Gathered results are positional — slot i belongs
// to site i no matter which task finished first — so downstream stages
// consuming two scattered outputs stay correctly paired by index.
package executor
