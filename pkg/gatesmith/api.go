// Package gatesmith is the public entry point for evolving circuits and
// querying the circuit library.
package gatesmith

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"gatesmith/internal/config"
	"gatesmith/internal/evo"
	"gatesmith/internal/goal"
	"gatesmith/internal/library"
	"gatesmith/internal/logging"
	"gatesmith/internal/metrics"
	"gatesmith/internal/model"
	"gatesmith/internal/stats"
	"gatesmith/internal/storage"
)

const (
	defaultLibraryPath = "evolution_db"
	runsDirName        = "runs"
)

type Options struct {
	StoreKind string
	// Path is the library directory, or the database file for sqlite.
	Path string
	// RunsDir receives run reports. It defaults to "runs" under the library
	// directory for the files backend and is disabled otherwise.
	RunsDir string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Goals   []GoalSpec
	Now     func() time.Time
}

// GoalSpec declares a custom truth-table goal. Outputs follow the binary
// counting order of the inputs, input 0 most significant.
type GoalSpec struct {
	Name        string
	Description string
	Complexity  int
	Inputs      int
	Outputs     []bool
}

type Client struct {
	store     storage.Store
	storeKind string
	runsDir   string
	goals     *goal.Registry
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu      sync.Mutex
	library *library.Library

	// reportMu serializes run index updates across concurrent runs.
	reportMu sync.Mutex
}

type EvolveRequest struct {
	Goal           string
	Seed           int64
	Parallel       bool
	Selection      string
	RunScopedIDs   bool
	MaxGenerations int
	ProgressEvery  int
}

type EvolveSummary struct {
	RunID           string   `json:"run_id"`
	Goal            string   `json:"goal"`
	Seed            int64    `json:"seed"`
	State           string   `json:"state"`
	Circuit         []string `json:"circuit"`
	Diagram         string   `json:"diagram"`
	Fitness         int      `json:"fitness"`
	Generations     int      `json:"generations"`
	WarmStarted     bool     `json:"warm_started"`
	AlreadySolved   bool     `json:"already_solved"`
	Persisted       []string `json:"persisted"`
	PersistFailures int      `json:"persist_failures"`
	ProgressLost    bool     `json:"progress_lost"`
	Status          string   `json:"status"`
	ArtifactsDir    string   `json:"artifacts_dir,omitempty"`
}

type SearchRequest struct {
	Goal       string
	MinFitness int
	Limit      int
}

type GoalItem struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Complexity     int    `json:"complexity"`
	MaxGenerations int    `json:"max_generations"`
	BestFitness    int    `json:"best_fitness"`
	Solved         bool   `json:"solved"`
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	path := opts.Path
	if path == "" && storeKind != storage.KindMemory {
		path = defaultLibraryPath
	}
	logger := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	goals := goal.NewDefaultRegistry()
	for _, spec := range opts.Goals {
		g, err := goal.FromOutputs(spec.Name, spec.Description, spec.Complexity, spec.Inputs, spec.Outputs)
		if err != nil {
			return nil, err
		}
		if err := goals.Register(g); err != nil {
			return nil, err
		}
	}

	store, err := storage.NewStore(storeKind, path, logger)
	if err != nil {
		return nil, err
	}

	runsDir := opts.RunsDir
	if runsDir == "" && storeKind == storage.KindFiles {
		runsDir = filepath.Join(path, runsDirName)
	}

	return &Client{
		store:     store,
		storeKind: storeKind,
		runsDir:   runsDir,
		goals:     goals,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// NewFromConfig builds a client from a loaded configuration, registering
// its custom goals.
func NewFromConfig(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	client, err := New(Options{
		StoreKind: cfg.Library.Backend,
		Path:      cfg.Library.Path,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.RegisterGoals(client.goals); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init loads the library. Every other method calls it on first use.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureLibrary(ctx)
	return err
}

func (c *Client) Evolve(ctx context.Context, req EvolveRequest) (EvolveSummary, error) {
	if req.Goal == "" {
		return EvolveSummary{}, errors.New("goal is required")
	}
	g, err := c.goals.Resolve(req.Goal)
	if err != nil {
		return EvolveSummary{}, err
	}
	selector, err := evo.SelectorFromName(req.Selection)
	if err != nil {
		return EvolveSummary{}, err
	}
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return EvolveSummary{}, err
	}

	var engineMetrics evo.Metrics
	if c.metrics != nil {
		engineMetrics = c.metrics
	}
	engine, err := evo.NewEngine(evo.Config{
		Library:        lib,
		Selector:       selector,
		Seed:           req.Seed,
		Parallel:       req.Parallel,
		RunScopedIDs:   req.RunScopedIDs,
		MaxGenerations: req.MaxGenerations,
		ProgressEvery:  req.ProgressEvery,
		Logger:         c.logger,
		Metrics:        engineMetrics,
		Now:            c.now,
	})
	if err != nil {
		return EvolveSummary{}, err
	}

	started := c.now().UTC()
	outcome, runErr := engine.Evolve(ctx, g)
	if outcome.RunID == "" {
		return EvolveSummary{}, runErr
	}
	summary := summarize(outcome)

	if c.runsDir != "" {
		artifacts := stats.NewRunArtifacts(stats.RunConfig{
			Parallel:       req.Parallel,
			Selection:      selector.Name(),
			RunScopedIDs:   req.RunScopedIDs,
			MaxGenerations: req.MaxGenerations,
			StoreKind:      c.storeKind,
		}, outcome, started.Format(time.RFC3339), c.now().UTC().Format(time.RFC3339))
		dir, err := c.writeRunReport(artifacts)
		if err != nil {
			c.logger.Warn("run report not written", "run_id", outcome.RunID, "error", err)
		} else {
			summary.ArtifactsDir = dir
		}
	}
	return summary, runErr
}

func (c *Client) writeRunReport(artifacts stats.RunArtifacts) (string, error) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	dir, err := stats.WriteRunArtifacts(c.runsDir, artifacts)
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.runsDir, artifacts.IndexEntry()); err != nil {
		return "", err
	}
	return dir, nil
}

func summarize(outcome evo.Outcome) EvolveSummary {
	return EvolveSummary{
		RunID:           outcome.RunID,
		Goal:            outcome.Goal,
		Seed:            outcome.Seed,
		State:           string(outcome.State),
		Circuit:         outcome.Circuit.Names(),
		Diagram:         outcome.Circuit.String(),
		Fitness:         outcome.Fitness,
		Generations:     outcome.Generations,
		WarmStarted:     outcome.WarmStarted,
		AlreadySolved:   outcome.AlreadySolved,
		Persisted:       append([]string{}, outcome.Persisted...),
		PersistFailures: outcome.PersistFailures,
		ProgressLost:    outcome.ProgressLost(),
		Status:          outcome.Status,
	}
}

func (c *Client) Search(ctx context.Context, req SearchRequest) ([]model.CircuitRecord, error) {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return nil, err
	}
	records := lib.Search(req.Goal, req.MinFitness)
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	return records, nil
}

// Best returns the highest-fitness record for goalName; ok is false when
// the library holds none.
func (c *Client) Best(ctx context.Context, goalName string) (model.CircuitRecord, bool, error) {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return model.CircuitRecord{}, false, err
	}
	record, ok := lib.GetBest(goalName)
	return record, ok, nil
}

// Load returns the record stored under id. A missing id is reported as
// library.ErrNotFound.
func (c *Client) Load(ctx context.Context, id string) (model.CircuitRecord, error) {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return model.CircuitRecord{}, err
	}
	if _, err := lib.Load(id); err != nil {
		return model.CircuitRecord{}, err
	}
	record, _ := lib.Record(id)
	return record, nil
}

func (c *Client) Summaries(ctx context.Context, limit int) ([]library.Summary, error) {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return nil, err
	}
	return lib.Summaries(limit), nil
}

func (c *Client) Stats(ctx context.Context) (library.Stats, error) {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return library.Stats{}, err
	}
	return lib.Stats(ctx)
}

// Goals lists every registered goal with the best fitness the library
// holds for it.
func (c *Client) Goals(ctx context.Context) ([]GoalItem, error) {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return nil, err
	}
	registered := c.goals.List()
	items := make([]GoalItem, 0, len(registered))
	for _, g := range registered {
		item := GoalItem{
			Name:           g.Name(),
			Description:    g.Description(),
			Complexity:     g.Complexity(),
			MaxGenerations: goal.MaxGenerations(g),
		}
		if best, ok := lib.GetBest(g.Name()); ok {
			item.BestFitness = best.Fitness
			item.Solved = best.Fitness == 100
		}
		items = append(items, item)
	}
	return items, nil
}

// Runs lists reported runs, newest first, at most limit of them when
// limit > 0.
func (c *Client) Runs(_ context.Context, limit int) ([]stats.RunIndexEntry, error) {
	if c.runsDir == "" {
		return []stats.RunIndexEntry{}, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (c *Client) Run(_ context.Context, runID string) (stats.RunArtifacts, error) {
	if c.runsDir == "" {
		return stats.RunArtifacts{}, fmt.Errorf("%w: %s", stats.ErrRunNotFound, runID)
	}
	return stats.ReadRunArtifacts(c.runsDir, runID)
}

// ExportRun copies a run report into outDir/<runID> and returns that
// directory.
func (c *Client) ExportRun(_ context.Context, runID, outDir string) (string, error) {
	if c.runsDir == "" {
		return "", fmt.Errorf("%w: %s", stats.ErrRunNotFound, runID)
	}
	if outDir == "" {
		return "", errors.New("export directory is required")
	}
	return stats.ExportRunArtifacts(c.runsDir, runID, outDir)
}

// Watch reloads the library whenever another process rewrites its index,
// until ctx is done. Only directory-backed stores support it.
func (c *Client) Watch(ctx context.Context, onReload func(error)) error {
	lib, err := c.ensureLibrary(ctx)
	if err != nil {
		return err
	}
	return lib.Watch(ctx, onReload)
}

func (c *Client) ensureLibrary(ctx context.Context) (*library.Library, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.library != nil {
		return c.library, nil
	}

	opts := library.Options{Logger: c.logger, Now: c.now}
	if c.metrics != nil {
		opts.Observer = c.metrics
	}
	lib, err := library.New(ctx, c.store, opts)
	if err != nil {
		return nil, err
	}
	c.library = lib
	return lib, nil
}
