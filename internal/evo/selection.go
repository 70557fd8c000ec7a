package evo

import (
	"errors"
	"math"

	"gatesmith/internal/gate"
)

var ErrNoCandidates = errors.New("no candidates to select from")

// Candidate is one strategy's proposal for a generation.
type Candidate struct {
	Strategy  string
	Circuit   gate.Circuit
	Fitness   int
	Resonance float64
}

// Resonance scores fitness with a golden-ratio bonus per ten gates.
func Resonance(fitness, gateCount int) float64 {
	return float64(fitness) * math.Pow(Phi, float64(gateCount)/10)
}

// Selector picks the generation winner.
type Selector interface {
	Name() string
	Pick(candidates []Candidate) (Candidate, error)
}

// ResonanceSelector takes the highest resonance. It starts from the first
// candidate with a zero bar, so ties and an all-zero generation keep the
// earliest candidate. At equal fitness it prefers the larger circuit.
type ResonanceSelector struct{}

func (ResonanceSelector) Name() string {
	return "resonance"
}

func (ResonanceSelector) Pick(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	winner := candidates[0]
	maxResonance := 0.0
	for _, c := range candidates {
		if c.Resonance > maxResonance {
			maxResonance = c.Resonance
			winner = c
		}
	}
	return winner, nil
}

// FitnessFirstSelector takes the highest fitness and breaks ties toward the
// smaller circuit, then the earliest candidate.
type FitnessFirstSelector struct{}

func (FitnessFirstSelector) Name() string {
	return "fitness_first"
}

func (FitnessFirstSelector) Pick(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if c.Fitness > winner.Fitness || (c.Fitness == winner.Fitness && len(c.Circuit) < len(winner.Circuit)) {
			winner = c
		}
	}
	return winner, nil
}
