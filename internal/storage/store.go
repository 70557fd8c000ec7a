package storage

import (
	"context"

	"gatesmith/internal/model"
)

// Store persists circuit records behind a library's in-memory index.
type Store interface {
	Init(ctx context.Context) error
	LoadRecords(ctx context.Context) (LoadReport, error)
	SaveRecord(ctx context.Context, record model.CircuitRecord) error
	// WriteIndex replaces the flat index with the given snapshot. Backends
	// whose records already form a queryable index treat it as a no-op.
	WriteIndex(ctx context.Context, records []model.CircuitRecord) error
}

// LoadReport carries the records a backend could decode and the entries it
// had to skip.
type LoadReport struct {
	Records []model.CircuitRecord
	Skipped []SkippedRecord
}

type SkippedRecord struct {
	Key string
	Err error
}

// Sizer is implemented by backends that can report their footprint.
type Sizer interface {
	SizeBytes(ctx context.Context) (int64, error)
}

// Rooted is implemented by backends that live in a watchable directory.
type Rooted interface {
	Root() string
	IndexPath() string
}
