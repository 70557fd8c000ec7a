package storage

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrUnsupportedBackend = errors.New("unsupported store backend")
	ErrSQLiteUnavailable  = errors.New("sqlite backend unavailable in this build")
)

const (
	KindFiles  = "files"
	KindMemory = "memory"
	KindBadger = "badger"
	KindSQLite = "sqlite"
)

// DefaultStoreKind is the backend used when none is configured.
func DefaultStoreKind() string {
	return KindFiles
}

// NewStore builds an uninitialized backend. path is the library directory
// for files and badger, and the database file for sqlite.
func NewStore(kind, path string, logger *slog.Logger) (Store, error) {
	switch kind {
	case "", KindFiles:
		if path == "" {
			return nil, fmt.Errorf("files backend requires a path")
		}
		return NewFileStore(path), nil
	case KindMemory:
		return NewMemoryStore(), nil
	case KindBadger:
		return NewBadgerStore(path, logger), nil
	case KindSQLite:
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
