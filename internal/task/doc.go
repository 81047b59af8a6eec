// Package task defines the unit of execution: a task instance binds a
// stage (and, for scattered stages, a site) to resolved inputs and tracks
// its lifecycle through an atomic state machine. Handlers are the opaque
// domain operations the orchestrator invokes; it never looks inside them.
package task
