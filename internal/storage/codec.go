package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gatesmith/internal/gate"
	"gatesmith/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrInvalidRecord   = errors.New("invalid circuit record")
)

type indexEnvelope struct {
	model.VersionedRecord
	Records map[string]json.RawMessage `json:"records"`
}

// Versioned stamps the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRecord(r model.CircuitRecord) ([]byte, error) {
	if err := ValidateRecord(r); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func DecodeRecord(data []byte) (model.CircuitRecord, error) {
	var record model.CircuitRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.CircuitRecord{}, err
	}
	if err := ValidateRecord(record); err != nil {
		return model.CircuitRecord{}, err
	}
	return record, nil
}

// EncodeIndex writes records keyed by id, sorted for stable output.
func EncodeIndex(records []model.CircuitRecord) ([]byte, error) {
	sorted := append([]model.CircuitRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	env := indexEnvelope{VersionedRecord: Versioned(), Records: make(map[string]json.RawMessage, len(sorted))}
	for _, record := range sorted {
		payload, err := EncodeRecord(record)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", record.ID, err)
		}
		env.Records[record.ID] = payload
	}
	return json.MarshalIndent(env, "", "  ")
}

// DecodeIndex returns every well-formed record in an index payload. Entries
// that fail to decode, or whose key disagrees with the record id, are
// reported as skipped rather than failing the whole index.
func DecodeIndex(data []byte) ([]model.CircuitRecord, []SkippedRecord, error) {
	var env indexEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}
	if err := checkVersion(env.VersionedRecord); err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(env.Records))
	for key := range env.Records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]model.CircuitRecord, 0, len(keys))
	var skipped []SkippedRecord
	for _, key := range keys {
		record, err := DecodeRecord(env.Records[key])
		if err != nil {
			skipped = append(skipped, SkippedRecord{Key: key, Err: err})
			continue
		}
		if record.ID != key {
			skipped = append(skipped, SkippedRecord{Key: key, Err: fmt.Errorf("%w: key %q holds record %q", ErrInvalidRecord, key, record.ID)})
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

// ValidateRecord checks the persisted schema: versions, id, fitness range,
// gate names and gate count.
func ValidateRecord(r model.CircuitRecord) error {
	if err := checkVersion(r.VersionedRecord); err != nil {
		return err
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if r.GoalName == "" {
		return fmt.Errorf("%w: %s: goal name is required", ErrInvalidRecord, r.ID)
	}
	if r.Fitness < 0 || r.Fitness > 100 {
		return fmt.Errorf("%w: %s: fitness %d out of range", ErrInvalidRecord, r.ID, r.Fitness)
	}
	if r.Generation < 0 {
		return fmt.Errorf("%w: %s: negative generation", ErrInvalidRecord, r.ID)
	}
	if r.GateCount != len(r.Circuit) {
		return fmt.Errorf("%w: %s: gate count %d does not match circuit length %d", ErrInvalidRecord, r.ID, r.GateCount, len(r.Circuit))
	}
	if _, err := gate.ParseCircuit(r.Circuit); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r.ID, err)
	}
	return nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
