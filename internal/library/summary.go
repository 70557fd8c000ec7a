package library

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"gatesmith/internal/model"
	"gatesmith/internal/storage"
)

// Summary groups the records saved for one goal.
type Summary struct {
	Goal  string                `json:"goal"`
	Count int                   `json:"count"`
	Top   []model.CircuitRecord `json:"top"`
}

// Summaries lists every goal with its record count and its best records,
// at most limit of them (all when limit <= 0). Goals are sorted by name.
func (l *Library) Summaries(limit int) []Summary {
	byGoal := make(map[string][]model.CircuitRecord)
	for _, record := range l.Search("", 0) {
		byGoal[record.GoalName] = append(byGoal[record.GoalName], record)
	}

	goals := make([]string, 0, len(byGoal))
	for name := range byGoal {
		goals = append(goals, name)
	}
	sort.Strings(goals)

	summaries := make([]Summary, 0, len(goals))
	for _, name := range goals {
		records := byGoal[name]
		top := records
		if limit > 0 && len(top) > limit {
			top = top[:limit]
		}
		summaries = append(summaries, Summary{Goal: name, Count: len(records), Top: top})
	}
	return summaries
}

type Stats struct {
	Records int
	Goals   int
	Solved  int
	// Bytes is -1 when the backend cannot report its size.
	Bytes int64
}

// HumanBytes renders Bytes for display.
func (s Stats) HumanBytes() string {
	if s.Bytes < 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(s.Bytes))
}

func (s Stats) String() string {
	return fmt.Sprintf("%d records across %d goals (%d solved), %s on disk", s.Records, s.Goals, s.Solved, s.HumanBytes())
}

func (l *Library) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Bytes: -1}
	goals := make(map[string]struct{})
	solved := make(map[string]struct{})

	l.mu.RLock()
	stats.Records = len(l.records)
	for _, record := range l.records {
		goals[record.GoalName] = struct{}{}
		if record.Fitness == 100 {
			solved[record.GoalName] = struct{}{}
		}
	}
	l.mu.RUnlock()

	stats.Goals = len(goals)
	stats.Solved = len(solved)

	sizer, ok := l.store.(storage.Sizer)
	if !ok {
		return stats, nil
	}
	size, err := sizer.SizeBytes(ctx)
	if err != nil {
		return stats, fmt.Errorf("measure library storage: %w", err)
	}
	stats.Bytes = size
	return stats, nil
}
