// Package stats writes per-run reports next to the circuit library and keeps
// an index of past runs.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gatesmith/internal/evo"
)

const (
	runIndexFile     = "run_index.json"
	configFile       = "config.json"
	outcomeFile      = "outcome.json"
	improvementsFile = "fitness_history.json"
)

var ErrRunNotFound = errors.New("run not found")

type RunConfig struct {
	RunID          string `json:"run_id"`
	Goal           string `json:"goal"`
	Seed           int64  `json:"seed"`
	Parallel       bool   `json:"parallel"`
	Selection      string `json:"selection"`
	RunScopedIDs   bool   `json:"run_scoped_ids"`
	MaxGenerations int    `json:"max_generations,omitempty"`
	StoreKind      string `json:"store_kind"`
}

type RunOutcome struct {
	State           string   `json:"state"`
	Fitness         int      `json:"fitness"`
	Generations     int      `json:"generations"`
	Circuit         []string `json:"circuit"`
	WarmStarted     bool     `json:"warm_started"`
	AlreadySolved   bool     `json:"already_solved"`
	Persisted       []string `json:"persisted"`
	PersistFailures int      `json:"persist_failures"`
	Status          string   `json:"status"`
	StartedAtUTC    string   `json:"started_at_utc"`
	FinishedAtUTC   string   `json:"finished_at_utc"`
}

type RunArtifacts struct {
	Config       RunConfig         `json:"config"`
	Outcome      RunOutcome        `json:"outcome"`
	Improvements []evo.Improvement `json:"improvements"`
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Goal         string `json:"goal"`
	State        string `json:"state"`
	Seed         int64  `json:"seed"`
	Fitness      int    `json:"fitness"`
	Generations  int    `json:"generations"`
	CreatedAtUTC string `json:"created_at_utc"`
}

// NewRunArtifacts builds a report from an engine outcome.
func NewRunArtifacts(cfg RunConfig, outcome evo.Outcome, startedAtUTC, finishedAtUTC string) RunArtifacts {
	cfg.RunID = outcome.RunID
	cfg.Goal = outcome.Goal
	cfg.Seed = outcome.Seed
	improvements := append([]evo.Improvement{}, outcome.Improvements...)
	return RunArtifacts{
		Config: cfg,
		Outcome: RunOutcome{
			State:           string(outcome.State),
			Fitness:         outcome.Fitness,
			Generations:     outcome.Generations,
			Circuit:         outcome.Circuit.Names(),
			WarmStarted:     outcome.WarmStarted,
			AlreadySolved:   outcome.AlreadySolved,
			Persisted:       append([]string{}, outcome.Persisted...),
			PersistFailures: outcome.PersistFailures,
			Status:          outcome.Status,
			StartedAtUTC:    startedAtUTC,
			FinishedAtUTC:   finishedAtUTC,
		},
		Improvements: improvements,
	}
}

// IndexEntry summarizes artifacts for the run index.
func (a RunArtifacts) IndexEntry() RunIndexEntry {
	return RunIndexEntry{
		RunID:        a.Config.RunID,
		Goal:         a.Config.Goal,
		State:        a.Outcome.State,
		Seed:         a.Config.Seed,
		Fitness:      a.Outcome.Fitness,
		Generations:  a.Outcome.Generations,
		CreatedAtUTC: a.Outcome.FinishedAtUTC,
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, outcomeFile), artifacts.Outcome); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, improvementsFile), map[string]any{"improvements": artifacts.Improvements, "final_fitness": artifacts.Outcome.Fitness}); err != nil {
		return "", err
	}

	return runDir, nil
}

// ReadRunArtifacts loads a report written by WriteRunArtifacts.
func ReadRunArtifacts(baseDir, runID string) (RunArtifacts, error) {
	if runID == "" {
		return RunArtifacts{}, fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)

	var artifacts RunArtifacts
	if err := readJSON(filepath.Join(runDir, configFile), &artifacts.Config); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunArtifacts{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return RunArtifacts{}, err
	}
	if err := readJSON(filepath.Join(runDir, outcomeFile), &artifacts.Outcome); err != nil {
		return RunArtifacts{}, err
	}
	var history struct {
		Improvements []evo.Improvement `json:"improvements"`
	}
	if err := readJSON(filepath.Join(runDir, improvementsFile), &history); err != nil {
		return RunArtifacts{}, err
	}
	artifacts.Improvements = history.Improvements
	return artifacts, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs, newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	var entries []RunIndexEntry
	if err := readJSON(filepath.Join(baseDir, runIndexFile), &entries); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run's report files into outDir/<runID>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	srcDir := filepath.Join(baseDir, runID)
	if _, err := os.Stat(srcDir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return "", err
	}

	dstDir := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	for _, name := range []string{configFile, outcomeFile, improvementsFile} {
		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(dstDir, name)); err != nil {
			return "", fmt.Errorf("export %s: %w", name, err)
		}
	}
	return dstDir, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
