package evo

import (
	"math"
	"math/rand"

	"gatesmith/internal/gate"
)

// Phi is the golden ratio.
const Phi = 1.618033988749895

const (
	goldenUpper = 0.618
	goldenLower = 0.382
)

// Strategy proposes one candidate circuit per generation. Mutate must not
// modify circuit; it works on a copy.
type Strategy interface {
	Name() string
	Mutate(rng *rand.Rand, circuit gate.Circuit, generation int) gate.Circuit
}

// DefaultStrategies returns the three strategies in evaluation order.
func DefaultStrategies() []Strategy {
	return []Strategy{AggressiveStrategy{}, ConservativeStrategy{}, GoldenRatioStrategy{}}
}

// AggressiveStrategy appends 2-3 gates and, once the circuit is longer than
// three gates, removes 1-2.
type AggressiveStrategy struct{}

func (AggressiveStrategy) Name() string {
	return "aggressive"
}

func (AggressiveStrategy) Mutate(rng *rand.Rand, circuit gate.Circuit, _ int) gate.Circuit {
	mutated := circuit.Clone()
	additions := 2 + rng.Intn(2)
	for i := 0; i < additions; i++ {
		mutated = append(mutated, gate.Random(rng))
	}
	if len(mutated) > 3 {
		removals := 1 + rng.Intn(2)
		for i := 0; i < removals; i++ {
			mutated = removeRandom(rng, mutated)
		}
	}
	return mutated
}

// ConservativeStrategy appends or removes a single gate with equal odds. An
// empty circuit always grows.
type ConservativeStrategy struct{}

func (ConservativeStrategy) Name() string {
	return "conservative"
}

func (ConservativeStrategy) Mutate(rng *rand.Rand, circuit gate.Circuit, _ int) gate.Circuit {
	mutated := circuit.Clone()
	if len(mutated) == 0 || rng.Float64() > 0.5 {
		return append(mutated, gate.Random(rng))
	}
	return removeRandom(rng, mutated)
}

// GoldenRatioStrategy decides whether to grow, shrink, or hold from Pulse,
// so its structural trajectory depends only on the generation counter.
type GoldenRatioStrategy struct{}

func (GoldenRatioStrategy) Name() string {
	return "golden_ratio"
}

func (GoldenRatioStrategy) Mutate(rng *rand.Rand, circuit gate.Circuit, generation int) gate.Circuit {
	mutated := circuit.Clone()
	pulse := Pulse(generation)
	switch {
	case pulse > goldenUpper:
		mutated = append(mutated, gate.Random(rng))
	case pulse < goldenLower && len(mutated) > 0:
		mutated = removeRandom(rng, mutated)
	}
	return mutated
}

// Pulse maps a generation onto [0,1] as (sin(generation*Phi)+1)/2.
func Pulse(generation int) float64 {
	return (math.Sin(float64(generation)*Phi) + 1) / 2
}

// removeRandom drops one gate at a random position. It is a no-op on an
// empty circuit.
func removeRandom(rng *rand.Rand, circuit gate.Circuit) gate.Circuit {
	if len(circuit) == 0 {
		return circuit
	}
	i := rng.Intn(len(circuit))
	return append(circuit[:i], circuit[i+1:]...)
}
