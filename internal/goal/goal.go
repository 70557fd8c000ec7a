package goal

import "gatesmith/internal/gate"

const (
	MinComplexity = 1
	MaxComplexity = 100

	// GenerationsPerComplexity scales a goal's complexity rank into its
	// generation budget.
	GenerationsPerComplexity = 1000
)

// Goal describes a target behavior. Implementations must be immutable for
// the duration of an evolution run, and Fitness(c) == 100 must imply
// IsSolved(c).
type Goal interface {
	Name() string
	Description() string
	Complexity() int
	Fitness(circuit gate.Circuit) int
	IsSolved(circuit gate.Circuit) bool
	Status(circuit gate.Circuit) string
}

// MaxGenerations is the search budget for a goal.
func MaxGenerations(g Goal) int {
	c := g.Complexity()
	if c < MinComplexity {
		c = MinComplexity
	}
	if c > MaxComplexity {
		c = MaxComplexity
	}
	return c * GenerationsPerComplexity
}
