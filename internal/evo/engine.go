package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gatesmith/internal/gate"
	"gatesmith/internal/goal"
	"gatesmith/internal/library"
	"gatesmith/internal/logging"
	"gatesmith/internal/model"
)

// State is a step of a run's lifecycle. Outcomes always carry a terminal
// state.
type State string

const (
	StateWarmStart State = "WARMSTART"
	StateEvolving  State = "EVOLVING"
	StateSolved    State = "SOLVED"
	StateExhausted State = "EXHAUSTED"
	StateCancelled State = "CANCELLED"
)

const milestoneStep = 25

// Library is the slice of the circuit library the engine depends on.
type Library interface {
	GetBest(goalName string) (model.CircuitRecord, bool)
	SaveRecord(ctx context.Context, record model.CircuitRecord) error
}

// Metrics receives engine instrumentation. The metrics package implements it.
type Metrics interface {
	ObserveGeneration(goalName string)
	ObserveBestFitness(goalName string, fitness int)
	ObserveRun(goalName string, state State, elapsed time.Duration)
}

type Config struct {
	Library  Library
	Selector Selector
	// Strategies replaces DefaultStrategies when non-nil. Each generation
	// draws one candidate per strategy, so the set must not be empty.
	Strategies []Strategy
	// Seed drives every strategy's random source. Zero picks a seed from
	// the clock; the seed used is reported on the outcome.
	Seed     int64
	Parallel bool
	// RunScopedIDs appends a run tag to record ids so independent runs
	// never overwrite each other.
	RunScopedIDs bool
	// MaxGenerations overrides the goal's complexity budget when positive.
	MaxGenerations int
	// ProgressEvery logs a progress line every N generations; zero disables.
	ProgressEvery int
	Logger        *slog.Logger
	Metrics       Metrics
	Now           func() time.Time
}

// Outcome reports how a run ended. Persistence failures never abort a run;
// they are counted here instead.
type Outcome struct {
	RunID           string
	Goal            string
	Seed            int64
	State           State
	Circuit         gate.Circuit
	Fitness         int
	Generations     int
	WarmStarted     bool
	AlreadySolved   bool
	Persisted       []string
	PersistFailures int
	Status          string
	// Improvements lists every generation that raised the best fitness.
	Improvements []Improvement
}

type Improvement struct {
	Generation int    `json:"generation"`
	Fitness    int    `json:"fitness"`
	Gates      int    `json:"gates"`
	Strategy   string `json:"strategy"`
}

func (o Outcome) Solved() bool {
	return o.State == StateSolved
}

// ProgressLost reports that every attempt to persist progress failed.
func (o Outcome) ProgressLost() bool {
	return o.PersistFailures > 0 && len(o.Persisted) == 0
}

type Engine struct {
	cfg        Config
	strategies []Strategy
	logger     *slog.Logger
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Library == nil {
		return nil, fmt.Errorf("library is required")
	}
	if cfg.MaxGenerations < 0 {
		return nil, fmt.Errorf("max generations must be >= 0")
	}
	if cfg.ProgressEvery < 0 {
		return nil, fmt.Errorf("progress interval must be >= 0")
	}
	strategies := DefaultStrategies()
	if cfg.Strategies != nil {
		if len(cfg.Strategies) == 0 {
			return nil, fmt.Errorf("at least one mutation strategy is required")
		}
		for i, strategy := range cfg.Strategies {
			if strategy == nil {
				return nil, fmt.Errorf("mutation strategy %d is nil", i)
			}
		}
		strategies = append([]Strategy(nil), cfg.Strategies...)
	}
	if cfg.Selector == nil {
		cfg.Selector = ResonanceSelector{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := logging.OrDiscard(cfg.Logger)
	return &Engine{
		cfg:        cfg,
		strategies: strategies,
		logger:     logger.With("component", "engine"),
	}, nil
}

// run holds the state owned by one Evolve call.
type run struct {
	goal    goal.Goal
	id      string
	rngs    []*rand.Rand
	outcome Outcome
	logger  *slog.Logger
	lastID  string
}

// Evolve searches for a circuit that solves g. It returns a non-nil error
// only for a nil goal or when ctx is cancelled, in which case the outcome
// still carries the best circuit found and State is CANCELLED.
func (e *Engine) Evolve(ctx context.Context, g goal.Goal) (Outcome, error) {
	if g == nil {
		return Outcome{}, errors.New("goal is required")
	}
	started := e.cfg.Now()

	seed := e.cfg.Seed
	if seed == 0 {
		seed = started.UnixNano()
	}
	r := &run{
		goal: g,
		id:   uuid.NewString(),
		rngs: make([]*rand.Rand, len(e.strategies)),
	}
	for i := range r.rngs {
		r.rngs[i] = rand.New(rand.NewSource(seed + int64(i)))
	}
	r.logger = e.logger.With("goal", g.Name(), "run_id", r.id)
	r.outcome = Outcome{RunID: r.id, Goal: g.Name(), Seed: seed, Circuit: gate.Circuit{}}

	maxGenerations := e.cfg.MaxGenerations
	if maxGenerations == 0 {
		maxGenerations = goal.MaxGenerations(g)
	}

	best, bestFitness := e.warmStart(r)
	if r.outcome.AlreadySolved {
		r.logger.Info("goal already solved", "fitness", bestFitness, "gates", len(best))
		return e.finish(r, StateSolved, best, bestFitness, started), nil
	}
	r.logger.Info("evolution started",
		"max_generations", maxGenerations,
		"warm_start", r.outcome.WarmStarted,
		"fitness", bestFitness,
		"seed", seed,
		"parallel", e.cfg.Parallel,
		"selector", e.cfg.Selector.Name(),
	)

	for generation := 1; generation <= maxGenerations; generation++ {
		if err := ctx.Err(); err != nil {
			return e.cancel(ctx, r, best, bestFitness, started, err)
		}

		candidates, err := e.candidates(ctx, r, best, generation)
		if err != nil {
			return e.cancel(ctx, r, best, bestFitness, started, err)
		}
		winner, err := e.cfg.Selector.Pick(candidates)
		if err != nil {
			return e.cancel(ctx, r, best, bestFitness, started, fmt.Errorf("select generation %d: %w", generation, err))
		}
		r.outcome.Generations = generation
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ObserveGeneration(g.Name())
		}

		if winner.Fitness > bestFitness {
			previous := bestFitness
			best = winner.Circuit.Clone()
			bestFitness = winner.Fitness
			r.outcome.Improvements = append(r.outcome.Improvements, Improvement{
				Generation: generation,
				Fitness:    bestFitness,
				Gates:      len(best),
				Strategy:   winner.Strategy,
			})
			r.logger.Debug("fitness improved", "generation", generation, "fitness", bestFitness, "strategy", winner.Strategy, "gates", len(best))
			if e.cfg.Metrics != nil {
				e.cfg.Metrics.ObserveBestFitness(g.Name(), bestFitness)
			}
			if bestFitness/milestoneStep > previous/milestoneStep || bestFitness == 100 {
				e.persist(ctx, r, best, bestFitness, generation)
			}
		}

		if g.IsSolved(best) {
			e.persist(ctx, r, best, 100, generation)
			r.logger.Info("goal solved", "generation", generation, "gates", len(best), "circuit", best.String())
			return e.finish(r, StateSolved, best, 100, started), nil
		}

		if e.cfg.ProgressEvery > 0 && generation%e.cfg.ProgressEvery == 0 {
			r.logger.Info("evolution progress", "generation", generation, "fitness", bestFitness, "gates", len(best))
		}
	}

	e.persist(ctx, r, best, bestFitness, maxGenerations)
	r.logger.Info("generation budget exhausted", "generations", maxGenerations, "fitness", bestFitness, "status", g.Status(best))
	return e.finish(r, StateExhausted, best, bestFitness, started), nil
}

func (e *Engine) warmStart(r *run) (gate.Circuit, int) {
	record, ok := e.cfg.Library.GetBest(r.goal.Name())
	if !ok {
		return gate.Circuit{}, 0
	}
	circuit, err := record.Gates()
	if err != nil {
		r.logger.Warn("ignoring unreadable warm start record", "id", record.ID, "error", err)
		return gate.Circuit{}, 0
	}
	r.outcome.WarmStarted = true
	r.outcome.AlreadySolved = record.Fitness == 100
	r.logger.Debug("warm start", "id", record.ID, "fitness", record.Fitness, "gates", len(circuit))
	return circuit, record.Fitness
}

// candidates runs each strategy against an immutable snapshot of best. In
// parallel mode the strategies fork and join; each owns its random source,
// so the result matches a sequential run with the same seed.
func (e *Engine) candidates(ctx context.Context, r *run, best gate.Circuit, generation int) ([]Candidate, error) {
	candidates := make([]Candidate, len(e.strategies))
	evaluate := func(i int) {
		strategy := e.strategies[i]
		circuit := strategy.Mutate(r.rngs[i], best, generation)
		fitness := r.goal.Fitness(circuit)
		candidates[i] = Candidate{
			Strategy:  strategy.Name(),
			Circuit:   circuit,
			Fitness:   fitness,
			Resonance: Resonance(fitness, len(circuit)),
		}
	}

	if !e.cfg.Parallel {
		for i := range e.strategies {
			evaluate(i)
		}
		return candidates, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range e.strategies {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			evaluate(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// persist saves a milestone. Failures are logged and counted; the run goes
// on.
func (e *Engine) persist(ctx context.Context, r *run, circuit gate.Circuit, fitness, generation int) {
	record := library.NewRecord(r.goal.Name(), circuit, fitness, generation, r.id, e.cfg.RunScopedIDs, e.cfg.Now())
	if record.ID == r.lastID {
		return
	}
	if err := e.cfg.Library.SaveRecord(ctx, record); err != nil {
		r.outcome.PersistFailures++
		r.logger.Error("milestone not persisted", "id", record.ID, "error", err)
		return
	}
	r.lastID = record.ID
	r.outcome.Persisted = append(r.outcome.Persisted, record.ID)
}

func (e *Engine) cancel(ctx context.Context, r *run, best gate.Circuit, fitness int, started time.Time, cause error) (Outcome, error) {
	if r.outcome.Generations > 0 {
		e.persist(context.WithoutCancel(ctx), r, best, fitness, r.outcome.Generations)
	}
	r.logger.Warn("evolution cancelled", "generation", r.outcome.Generations, "fitness", fitness, "error", cause)
	return e.finish(r, StateCancelled, best, fitness, started), cause
}

func (e *Engine) finish(r *run, state State, best gate.Circuit, fitness int, started time.Time) Outcome {
	r.outcome.State = state
	r.outcome.Circuit = best.Clone()
	r.outcome.Fitness = fitness
	r.outcome.Status = r.goal.Status(best)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ObserveRun(r.goal.Name(), state, e.cfg.Now().Sub(started))
	}
	return r.outcome
}
