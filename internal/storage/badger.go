package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"gatesmith/internal/model"
)

const badgerRecordPrefix = "circuit/"

// BadgerStore keeps each record under circuit/<id> in an embedded badger
// database. The key space is the index, so WriteIndex has nothing to do.
type BadgerStore struct {
	path     string
	inMemory bool
	logger   *slog.Logger
	db       *badger.DB
}

// NewBadgerStore opens lazily on Init. An empty path selects in-memory mode.
func NewBadgerStore(path string, logger *slog.Logger) *BadgerStore {
	return &BadgerStore{path: path, inMemory: path == "", logger: logger}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (s *BadgerStore) Init(_ context.Context) error {
	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.path, 0o750); err != nil {
			return fmt.Errorf("create badger directory %s: %w", s.path, err)
		}
		opts = badger.DefaultOptions(s.path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if s.logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: s.logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) LoadRecords(ctx context.Context) (LoadReport, error) {
	if s.db == nil {
		return LoadReport{}, errors.New("badger store is not initialized")
	}

	var report LoadReport
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(badgerRecordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			payload, err := item.ValueCopy(nil)
			if err != nil {
				report.Skipped = append(report.Skipped, SkippedRecord{Key: key, Err: err})
				continue
			}
			record, err := DecodeRecord(payload)
			if err != nil {
				report.Skipped = append(report.Skipped, SkippedRecord{Key: key, Err: err})
				continue
			}
			if badgerRecordPrefix+record.ID != key {
				report.Skipped = append(report.Skipped, SkippedRecord{Key: key, Err: fmt.Errorf("%w: key holds record %q", ErrInvalidRecord, record.ID)})
				continue
			}
			report.Records = append(report.Records, record)
		}
		return nil
	})
	if err != nil {
		return LoadReport{}, err
	}
	return report, nil
}

func (s *BadgerStore) SaveRecord(_ context.Context, record model.CircuitRecord) error {
	if s.db == nil {
		return errors.New("badger store is not initialized")
	}
	payload, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerRecordPrefix+record.ID), payload)
	})
}

func (s *BadgerStore) WriteIndex(_ context.Context, _ []model.CircuitRecord) error {
	return nil
}

func (s *BadgerStore) SizeBytes(_ context.Context) (int64, error) {
	if s.db == nil {
		return 0, errors.New("badger store is not initialized")
	}
	lsm, vlog := s.db.Size()
	return lsm + vlog, nil
}

func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
