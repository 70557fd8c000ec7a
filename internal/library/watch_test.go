package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatesmith/internal/gate"
	"gatesmith/internal/storage"
)

func TestWatchReloadsExternalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root := t.TempDir()

	watched, err := New(ctx, storage.NewFileStore(root), Options{})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	writer, err := New(ctx, storage.NewFileStore(root), Options{})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	reloaded := make(chan error, 16)
	done := make(chan error, 1)
	go func() {
		done <- watched.Watch(ctx, func(err error) {
			select {
			case reloaded <- err:
			default:
			}
		})
	}()

	deadline := time.After(5 * time.Second)
	for gen := 1; ; gen++ {
		// Keep writing until the watcher has registered and seen one.
		if _, err := writer.Save(ctx, "xor", gate.Circuit{gate.XOR}, 100, gen); err != nil {
			t.Fatalf("save: %v", err)
		}
		select {
		case err := <-reloaded:
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
		case <-time.After(100 * time.Millisecond):
			continue
		case <-deadline:
			t.Fatal("watcher never reloaded")
		}
		break
	}

	if _, ok := watched.GetBest("xor"); !ok {
		t.Fatal("expected watched library to see the external save")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchUnsupportedStore(t *testing.T) {
	lib := newMemoryLibrary(t)
	if err := lib.Watch(context.Background(), nil); !errors.Is(err, ErrWatchUnsupported) {
		t.Fatalf("expected unsupported watch error, got %v", err)
	}
}
