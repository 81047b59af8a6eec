package stage

// Graph is the directed acyclic graph of stages for one run. Construction
// is sequential; the graph is read-only once execution begins.
type Graph struct {
	stages []*Stage
	byName map[string]*Stage
}

// NewGraph creates an empty stage graph.
func NewGraph() *Graph {
	return &Graph{byName: make(map[string]*Stage)}
}

// Add declares a stage. It fails with UnknownDependencyError if a named
// dependency has not been declared yet, and with CycleError if adding the
// stage would create a cycle. Because dependencies must already exist,
// edges always point backwards in declaration order; the cycle check still
// runs so the invariant is enforced rather than assumed.
func (g *Graph) Add(s *Stage) error {
	if _, ok := g.byName[s.Name]; ok {
		return &DuplicateStageError{Stage: s.Name}
	}
	for _, dep := range s.DependsOn {
		if dep == s.Name {
			return &CycleError{Stage: s.Name}
		}
		if _, ok := g.byName[dep]; !ok {
			return &UnknownDependencyError{Stage: s.Name, Dependency: dep}
		}
	}

	s.declIndex = len(g.stages)
	g.stages = append(g.stages, s)
	g.byName[s.Name] = s

	if err := g.detectCycles(); err != nil {
		// Roll back so a failed Add leaves the graph unchanged.
		g.stages = g.stages[:len(g.stages)-1]
		delete(g.byName, s.Name)
		return err
	}
	return nil
}

// Stage returns the named stage, or nil.
func (g *Graph) Stage(name string) *Stage {
	return g.byName[name]
}

// Len returns the number of declared stages.
func (g *Graph) Len() int {
	return len(g.stages)
}

// TopologicalOrder returns a deterministic linear order in which every
// stage appears after all stages it depends on. Ties break by declaration
// order, so the same graph always yields the same order.
func (g *Graph) TopologicalOrder() []*Stage {
	indegree := make(map[string]int, len(g.stages))
	dependents := make(map[string][]string, len(g.stages))
	for _, s := range g.stages {
		indegree[s.Name] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	order := make([]*Stage, 0, len(g.stages))
	done := make(map[string]bool, len(g.stages))
	for len(order) < len(g.stages) {
		// Pick the earliest-declared stage whose dependencies are all met.
		var next *Stage
		for _, s := range g.stages {
			if !done[s.Name] && indegree[s.Name] == 0 {
				next = s
				break
			}
		}
		if next == nil {
			// Unreachable for a graph built through Add, which rejects
			// cycles; guards against future construction paths.
			break
		}
		done[next.Name] = true
		order = append(order, next)
		for _, d := range dependents[next.Name] {
			indegree[d]--
		}
	}
	return order
}

// Validate checks that every stage's declared inputs are each satisfied by
// some transitive upstream stage's declared outputs or by a run-level
// configuration key. It fails with UnsatisfiedInputError on the first
// violation, in topological order.
func (g *Graph) Validate(configKeys []string) error {
	fromConfig := make(map[string]bool, len(configKeys))
	for _, k := range configKeys {
		fromConfig[k] = true
	}

	// available[stage] = set of output names visible to that stage.
	available := make(map[string]map[string]bool, len(g.stages))
	for _, s := range g.TopologicalOrder() {
		visible := make(map[string]bool)
		for _, dep := range s.DependsOn {
			up := g.byName[dep]
			for _, out := range up.Outputs {
				visible[out] = true
			}
			for name := range available[dep] {
				visible[name] = true
			}
		}
		available[s.Name] = visible

		for _, in := range s.Inputs {
			if !visible[in] && !fromConfig[in] {
				return &UnsatisfiedInputError{Stage: s.Name, Input: in}
			}
		}
	}
	return nil
}

// detectCycles runs a depth-first search with the classic three-color
// scheme over the dependency edges.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool, len(g.stages))
	temporary := make(map[string]bool, len(g.stages))

	var visit func(s *Stage) error
	visit = func(s *Stage) error {
		if permanent[s.Name] {
			return nil
		}
		if temporary[s.Name] {
			return &CycleError{Stage: s.Name}
		}
		temporary[s.Name] = true
		for _, dep := range s.DependsOn {
			if err := visit(g.byName[dep]); err != nil {
				return err
			}
		}
		delete(temporary, s.Name)
		permanent[s.Name] = true
		return nil
	}

	for _, s := range g.stages {
		if !permanent[s.Name] {
			if err := visit(s); err != nil {
				return err
			}
		}
	}
	return nil
}
