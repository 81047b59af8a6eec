package stage

import "fmt"

// CycleError reports that adding a stage would create a dependency cycle.
type CycleError struct {
	Stage string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected involving stage %q", e.Stage)
}

// UnknownDependencyError reports a dependency on a stage that has not been
// declared.
type UnknownDependencyError struct {
	Stage      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("stage %q depends on undeclared stage %q", e.Stage, e.Dependency)
}

// DuplicateStageError reports a second declaration of an existing stage name.
type DuplicateStageError struct {
	Stage string
}

func (e *DuplicateStageError) Error() string {
	return fmt.Sprintf("stage %q is already declared", e.Stage)
}

// UnsatisfiedInputError reports a declared input that no upstream stage
// output or run-configuration key satisfies.
type UnsatisfiedInputError struct {
	Stage string
	Input string
}

func (e *UnsatisfiedInputError) Error() string {
	return fmt.Sprintf("stage %q declares input %q which no upstream output or configuration key satisfies", e.Stage, e.Input)
}
