package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"gatesmith/internal/gate"
	"gatesmith/internal/logging"
	"gatesmith/internal/model"
	"gatesmith/internal/storage"
)

var ErrNotFound = errors.New("circuit record not found")

const (
	SaveResultOK    = "ok"
	SaveResultError = "error"
)

// Observer receives save outcomes. The metrics package implements it.
type Observer interface {
	ObserveSave(result string)
}

type Options struct {
	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
}

// Library is the in-memory index of circuit records backed by a Store.
// Reads are safe concurrently with saves; full-index rewrites are
// serialized.
type Library struct {
	store    storage.Store
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu      sync.RWMutex
	records map[string]model.CircuitRecord

	indexMu sync.Mutex
}

// New initializes store and loads every record it holds. A store that fails
// to initialize or load leaves the library empty rather than failing
// construction; later saves then report their own errors.
func New(ctx context.Context, store storage.Store, opts Options) (*Library, error) {
	if store == nil {
		return nil, errors.New("library store is required")
	}
	logger := logging.OrDiscard(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Library{
		store:    store,
		logger:   logger.With("component", "library"),
		observer: opts.Observer,
		now:      now,
		records:  make(map[string]model.CircuitRecord),
	}
	if err := store.Init(ctx); err != nil {
		l.logger.Warn("library store unavailable, starting empty", "error", err)
		return l, nil
	}
	if err := l.Reload(ctx); err != nil {
		l.logger.Warn("library load failed, starting empty", "error", err)
	}
	return l, nil
}

// Reload merges every record the store currently holds into the index.
// Records saved through this library but not yet visible in the store are
// kept.
func (l *Library) Reload(ctx context.Context) error {
	report, err := l.store.LoadRecords(ctx)
	if err != nil {
		return err
	}
	for _, skipped := range report.Skipped {
		l.logger.Warn("skipping malformed record", "key", skipped.Key, "error", skipped.Err)
	}

	l.mu.Lock()
	for _, record := range report.Records {
		l.records[record.ID] = record.Clone()
	}
	total := len(l.records)
	l.mu.Unlock()

	l.logger.Info("library loaded", "records", len(report.Records), "skipped", len(report.Skipped), "total", total)
	return nil
}

// Save records a milestone under its deterministic id. A second save of the
// same (goal, fitness, generation) overwrites the first.
func (l *Library) Save(ctx context.Context, goalName string, circuit gate.Circuit, fitness, generation int) (model.CircuitRecord, error) {
	record := NewRecord(goalName, circuit, fitness, generation, "", false, l.now())
	return record, l.SaveRecord(ctx, record)
}

// SaveRecord stores record in memory, persists it, and rewrites the index.
// Persistence failures are logged and returned; the in-memory index keeps
// the record either way.
func (l *Library) SaveRecord(ctx context.Context, record model.CircuitRecord) error {
	if err := storage.ValidateRecord(record); err != nil {
		l.observe(SaveResultError)
		return err
	}

	l.mu.Lock()
	l.records[record.ID] = record.Clone()
	l.mu.Unlock()

	var errs []error
	if err := l.store.SaveRecord(ctx, record); err != nil {
		errs = append(errs, fmt.Errorf("save record %s: %w", record.ID, err))
	}
	if err := l.writeIndex(ctx); err != nil {
		errs = append(errs, fmt.Errorf("write index: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		l.observe(SaveResultError)
		l.logger.Error("circuit save failed", "id", record.ID, "error", err)
		return err
	}

	l.observe(SaveResultOK)
	l.logger.Debug("circuit saved", "id", record.ID, "goal", record.GoalName, "fitness", record.Fitness, "generation", record.Generation)
	return nil
}

func (l *Library) writeIndex(ctx context.Context) error {
	l.indexMu.Lock()
	defer l.indexMu.Unlock()

	return l.store.WriteIndex(ctx, l.snapshot())
}

func (l *Library) snapshot() []model.CircuitRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	records := make([]model.CircuitRecord, 0, len(l.records))
	for _, record := range l.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

// Load returns the circuit stored under id. A missing id is logged and
// reported as ErrNotFound with an empty circuit.
func (l *Library) Load(id string) (gate.Circuit, error) {
	l.mu.RLock()
	record, ok := l.records[id]
	l.mu.RUnlock()

	if !ok {
		l.logger.Warn("circuit not found", "id", id)
		return gate.Circuit{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	circuit, err := record.Gates()
	if err != nil {
		l.logger.Error("stored circuit is unreadable", "id", id, "error", err)
		return gate.Circuit{}, err
	}
	return circuit, nil
}

// Record returns a copy of the record stored under id.
func (l *Library) Record(id string) (model.CircuitRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.records[id]
	if !ok {
		return model.CircuitRecord{}, false
	}
	return record.Clone(), true
}

// Search returns records for goalName (any goal when empty, compared
// case-insensitively) with fitness at least minFitness. Results are ordered
// by fitness descending, then generation ascending, then id.
func (l *Library) Search(goalName string, minFitness int) []model.CircuitRecord {
	l.mu.RLock()
	matches := make([]model.CircuitRecord, 0)
	for _, record := range l.records {
		if goalName != "" && !strings.EqualFold(record.GoalName, goalName) {
			continue
		}
		if record.Fitness < minFitness {
			continue
		}
		matches = append(matches, record.Clone())
	}
	l.mu.RUnlock()

	sortRecords(matches)
	return matches
}

// GetBest returns the highest-fitness record for goalName.
func (l *Library) GetBest(goalName string) (model.CircuitRecord, bool) {
	matches := l.Search(goalName, 0)
	if len(matches) == 0 {
		return model.CircuitRecord{}, false
	}
	return matches[0], true
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Library) Store() storage.Store {
	return l.store
}

func (l *Library) observe(result string) {
	if l.observer != nil {
		l.observer.ObserveSave(result)
	}
}

func sortRecords(records []model.CircuitRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Fitness != records[j].Fitness {
			return records[i].Fitness > records[j].Fitness
		}
		if records[i].Generation != records[j].Generation {
			return records[i].Generation < records[j].Generation
		}
		return records[i].ID < records[j].ID
	})
}
