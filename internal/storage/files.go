package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gatesmith/internal/model"
)

const (
	circuitsDir = "circuits"
	indexFile   = "library.json"
)

// FileStore keeps one JSON file per record under <root>/circuits and a flat
// index at <root>/library.json.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) Root() string      { return s.root }
func (s *FileStore) IndexPath() string { return filepath.Join(s.root, indexFile) }

func (s *FileStore) recordPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: unsafe record id %q", ErrInvalidRecord, id)
	}
	return filepath.Join(s.root, circuitsDir, id+".json"), nil
}

func (s *FileStore) Init(_ context.Context) error {
	if s.root == "" {
		return errors.New("store root is required")
	}
	return os.MkdirAll(filepath.Join(s.root, circuitsDir), 0o755)
}

// LoadRecords reads the index, then recovers any per-record files the index
// does not mention (a save whose index rewrite failed).
func (s *FileStore) LoadRecords(ctx context.Context) (LoadReport, error) {
	var report LoadReport
	seen := make(map[string]struct{})

	data, err := os.ReadFile(s.IndexPath())
	switch {
	case err == nil:
		records, skipped, err := DecodeIndex(data)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRecord{Key: indexFile, Err: err})
		}
		for _, record := range records {
			seen[record.ID] = struct{}{}
		}
		report.Records = append(report.Records, records...)
		report.Skipped = append(report.Skipped, skipped...)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return LoadReport{}, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, circuitsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, nil
		}
		return report, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if _, ok := seen[id]; ok {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(s.root, circuitsDir, name))
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRecord{Key: name, Err: err})
			continue
		}
		record, err := DecodeRecord(payload)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedRecord{Key: name, Err: err})
			continue
		}
		if record.ID != id {
			report.Skipped = append(report.Skipped, SkippedRecord{Key: name, Err: fmt.Errorf("%w: file holds record %q", ErrInvalidRecord, record.ID)})
			continue
		}
		seen[id] = struct{}{}
		report.Records = append(report.Records, record)
	}

	sort.Slice(report.Records, func(i, j int) bool { return report.Records[i].ID < report.Records[j].ID })
	return report, nil
}

func (s *FileStore) SaveRecord(_ context.Context, record model.CircuitRecord) error {
	path, err := s.recordPath(record.ID)
	if err != nil {
		return err
	}
	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(payload, '\n'))
}

func (s *FileStore) WriteIndex(_ context.Context, records []model.CircuitRecord) error {
	payload, err := EncodeIndex(records)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.IndexPath(), append(payload, '\n'))
}

// SizeBytes counts the index and the record files only; anything else kept
// under the root is not library storage.
func (s *FileStore) SizeBytes(_ context.Context) (int64, error) {
	var total int64
	info, err := os.Stat(s.IndexPath())
	switch {
	case err == nil:
		total += info.Size()
	case !errors.Is(err, fs.ErrNotExist):
		return 0, err
	}

	err = filepath.WalkDir(filepath.Join(s.root, circuitsDir), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return total, nil
	}
	return total, err
}

// writeFileAtomic writes through a temp file in the target directory so
// readers never observe a half-written index.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
