package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gatesmith/internal/model"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	records := []model.CircuitRecord{
		testRecord("xor_fitness100_gen5", "XOR", 100, 5, "XOR"),
		testRecord("xor_fitness50_gen1", "XOR", 50, 1, "AND"),
	}
	for _, record := range records {
		if err := store.SaveRecord(ctx, record); err != nil {
			t.Fatalf("save %s: %v", record.ID, err)
		}
	}
	if err := store.WriteIndex(ctx, records); err != nil {
		t.Fatalf("write index: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "circuits", "xor_fitness100_gen5.json")); err != nil {
		t.Fatalf("expected per-record file: %v", err)
	}
	if _, err := os.Stat(store.IndexPath()); err != nil {
		t.Fatalf("expected index file: %v", err)
	}

	reopened := NewFileStore(root)
	if err := reopened.Init(ctx); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	report, err := reopened.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(report.Records) != 2 || len(report.Skipped) != 0 {
		t.Fatalf("unexpected load report: records=%d skipped=%+v", len(report.Records), report.Skipped)
	}
	if report.Records[0].ID != "xor_fitness100_gen5" {
		t.Fatalf("expected records sorted by id, got %s first", report.Records[0].ID)
	}
}

func TestFileStoreRecoversRecordsMissingFromIndex(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	indexed := testRecord("xor_fitness25_gen1", "XOR", 25, 1, "AND")
	orphan := testRecord("xor_fitness50_gen2", "XOR", 50, 2, "OR")
	for _, record := range []model.CircuitRecord{indexed, orphan} {
		if err := store.SaveRecord(ctx, record); err != nil {
			t.Fatalf("save %s: %v", record.ID, err)
		}
	}
	if err := store.WriteIndex(ctx, []model.CircuitRecord{indexed}); err != nil {
		t.Fatalf("write index: %v", err)
	}

	report, err := store.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(report.Records) != 2 {
		t.Fatalf("expected orphan record to be recovered, got %+v", report.Records)
	}
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewFileStore(root)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.SaveRecord(ctx, testRecord("xor_fitness100_gen5", "XOR", 100, 5, "XOR")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "circuits", "garbage.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := os.WriteFile(store.IndexPath(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt index: %v", err)
	}

	report, err := store.LoadRecords(ctx)
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(report.Records) != 1 {
		t.Fatalf("expected the valid record to survive, got %+v", report.Records)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("expected corrupt index and file to be skipped, got %+v", report.Skipped)
	}
}

func TestFileStoreLoadsMissingDirectory(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent"))
	report, err := store.LoadRecords(context.Background())
	if err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(report.Records) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestFileStoreRejectsUnsafeIDs(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, id := range []string{"../escape", "a/b", `a\b`, ".."} {
		record := testRecord(id, "XOR", 100, 1, "XOR")
		if err := store.SaveRecord(ctx, record); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected %q to be rejected, got %v", id, err)
		}
	}
}

func TestFileStoreSizeBytes(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	empty, err := store.SizeBytes(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if err := store.SaveRecord(ctx, testRecord("xor_fitness100_gen5", "XOR", 100, 5, "XOR")); err != nil {
		t.Fatalf("save: %v", err)
	}
	size, err := store.SizeBytes(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size <= empty {
		t.Fatalf("expected size to grow past %d, got %d", empty, size)
	}

	runDir := filepath.Join(store.Root(), "runs", "run-1")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "outcome.json"), make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write run report: %v", err)
	}
	withReport, err := store.SizeBytes(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if withReport != size {
		t.Fatalf("files outside the library layout must not count: %d != %d", withReport, size)
	}
}
