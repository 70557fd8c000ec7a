package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gatesmith/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string]model.CircuitRecord
	index       []model.CircuitRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.records = make(map[string]model.CircuitRecord)
	return nil
}

func (s *MemoryStore) LoadRecords(_ context.Context) (LoadReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return LoadReport{}, errors.New("store is not initialized")
	}
	records := make([]model.CircuitRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return LoadReport{Records: records}, nil
}

func (s *MemoryStore) SaveRecord(_ context.Context, record model.CircuitRecord) error {
	if err := ValidateRecord(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *MemoryStore) WriteIndex(_ context.Context, records []model.CircuitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.CircuitRecord, len(records))
	for i, record := range records {
		copied[i] = record.Clone()
	}
	s.index = copied
	return nil
}

// Index returns the last snapshot handed to WriteIndex.
func (s *MemoryStore) Index() []model.CircuitRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]model.CircuitRecord, len(s.index))
	for i, record := range s.index {
		copied[i] = record.Clone()
	}
	return copied
}
