package library

import (
	"fmt"
	"strings"
	"time"

	"gatesmith/internal/gate"
	"gatesmith/internal/model"
	"gatesmith/internal/storage"
)

// Slug lower-cases a goal name and maps spaces to '_'. Path separators and
// '%' are percent-escaped so the slug stays a single file name without
// merging distinct goals.
func Slug(goalName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(goalName) {
		switch r {
		case ' ':
			b.WriteByte('_')
		case '/', '\\', '%':
			fmt.Fprintf(&b, "%%%02X", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RecordID is the deterministic id for a milestone. Two runs that reach the
// same (goal, fitness, generation) share it.
func RecordID(goalName string, fitness, generation int) string {
	return fmt.Sprintf("%s_fitness%d_gen%d", Slug(goalName), fitness, generation)
}

// RunScopedID extends RecordID with a short run tag so records from
// independent runs never collide.
func RunScopedID(goalName string, fitness, generation int, runID string) string {
	tag := strings.ReplaceAll(runID, "-", "")
	if len(tag) > 8 {
		tag = tag[:8]
	}
	return RecordID(goalName, fitness, generation) + "_run" + tag
}

// NewRecord snapshots circuit into a persistable record. runID is stored on
// the record either way; scoped selects RunScopedID over RecordID.
func NewRecord(goalName string, circuit gate.Circuit, fitness, generation int, runID string, scoped bool, now time.Time) model.CircuitRecord {
	id := RecordID(goalName, fitness, generation)
	if scoped && runID != "" {
		id = RunScopedID(goalName, fitness, generation, runID)
	}
	names := circuit.Names()
	return model.CircuitRecord{
		VersionedRecord: storage.Versioned(),
		ID:              id,
		GoalName:        goalName,
		Fitness:         fitness,
		Generation:      generation,
		Timestamp:       now.UnixMilli(),
		GateCount:       len(names),
		Circuit:         names,
		RunID:           runID,
	}
}
