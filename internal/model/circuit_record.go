package model

import (
	"fmt"

	"gatesmith/internal/gate"
)

// VersionedRecord stamps persisted data with its schema and codec versions.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// CircuitRecord is an immutable snapshot of a circuit at a fitness milestone.
type CircuitRecord struct {
	VersionedRecord
	ID         string   `json:"id"`
	GoalName   string   `json:"goal_name"`
	Fitness    int      `json:"fitness"`
	Generation int      `json:"generation"`
	Timestamp  int64    `json:"timestamp"`
	GateCount  int      `json:"gate_count"`
	Circuit    []string `json:"circuit"`
	RunID      string   `json:"run_id,omitempty"`
}

// Gates decodes the persisted gate names.
func (r CircuitRecord) Gates() (gate.Circuit, error) {
	return gate.ParseCircuit(r.Circuit)
}

// Clone returns a copy that shares no slices with r.
func (r CircuitRecord) Clone() CircuitRecord {
	r.Circuit = append([]string(nil), r.Circuit...)
	return r
}

func (r CircuitRecord) String() string {
	return fmt.Sprintf("Circuit[%s] Fitness=%d%% Gates=%d Gen=%d", r.ID, r.Fitness, r.GateCount, r.Generation)
}
