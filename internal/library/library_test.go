package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gatesmith/internal/gate"
	"gatesmith/internal/model"
	"gatesmith/internal/storage"
)

func newMemoryLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := New(context.Background(), storage.NewMemoryStore(), Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	return lib
}

func fixedNow() time.Time {
	return time.UnixMilli(1735689600000)
}

func TestRecordID(t *testing.T) {
	cases := map[string]string{
		"XOR":             "xor_fitness100_gen7",
		"Full Adder":      "full_adder_fitness100_gen7",
		"Full Adder (v2)": "full_adder_(v2)_fitness100_gen7",
		"a.b":             "a.b_fitness100_gen7",
		"../etc/passwd":   "..%2Fetc%2Fpasswd_fitness100_gen7",
		`a\b`:             "a%5Cb_fitness100_gen7",
		"50%":             "50%25_fitness100_gen7",
	}
	for name, want := range cases {
		if got := RecordID(name, 100, 7); got != want {
			t.Fatalf("RecordID(%q) = %q, want %q", name, got, want)
		}
	}
	scoped := RunScopedID("XOR", 50, 2, "0f8fad5b-d9cb-469f-a165-70867728950e")
	if scoped != "xor_fitness50_gen2_run0f8fad5b" {
		t.Fatalf("unexpected run-scoped id: %s", scoped)
	}
}

func TestDistinctGoalsKeepDistinctIDs(t *testing.T) {
	ctx := context.Background()
	lib := newMemoryLibrary(t)
	for _, name := range []string{"a.b", "a_b", "a/b", "a%2Fb"} {
		if _, err := lib.Save(ctx, name, gate.Circuit{gate.XOR}, 50, 3); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	if lib.Len() != 4 {
		t.Fatalf("expected 4 records, got %d", lib.Len())
	}
	for _, name := range []string{"a.b", "a_b", "a/b", "a%2Fb"} {
		best, ok := lib.GetBest(name)
		if !ok || best.GoalName != name {
			t.Fatalf("GetBest(%q) = %+v, %t", name, best, ok)
		}
	}
}

func TestLibraryRoundTrip(t *testing.T) {
	ctx := context.Background()
	lib := newMemoryLibrary(t)

	record, err := lib.Save(ctx, "G", gate.Circuit{gate.XOR}, 100, 1)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if record.ID != "g_fitness100_gen1" || record.Timestamp != 1735689600000 {
		t.Fatalf("unexpected record: %+v", record)
	}

	best, ok := lib.GetBest("G")
	if !ok {
		t.Fatal("expected a best record")
	}
	if best.Fitness != 100 {
		t.Fatalf("unexpected best fitness: %d", best.Fitness)
	}
	circuit, err := best.Gates()
	if err != nil {
		t.Fatalf("decode circuit: %v", err)
	}
	if !circuit.Equal(gate.Circuit{gate.XOR}) {
		t.Fatalf("unexpected circuit: %v", circuit)
	}

	loaded, err := lib.Load(best.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Equal(circuit) {
		t.Fatalf("load mismatch: %v", loaded)
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	lib := newMemoryLibrary(t)
	for i := 0; i < 2; i++ {
		if _, err := lib.Save(ctx, "xor", gate.Circuit{gate.OR}, 75, 3); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if got := lib.Search("xor", 0); len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
}

func TestSearchFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	lib := newMemoryLibrary(t)
	saves := []struct {
		goal       string
		fitness    int
		generation int
	}{
		{"xor", 25, 1},
		{"xor", 75, 9},
		{"XOR", 75, 4},
		{"xor", 100, 12},
		{"and", 100, 2},
	}
	for _, s := range saves {
		if _, err := lib.Save(ctx, s.goal, gate.Circuit{gate.AND}, s.fitness, s.generation); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got := lib.Search("Xor", 50)
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	for i, record := range got {
		if record.Fitness < 50 {
			t.Fatalf("record below min fitness: %+v", record)
		}
		if i > 0 && got[i-1].Fitness < record.Fitness {
			t.Fatalf("results not sorted by fitness: %+v", got)
		}
	}
	if got[1].Generation != 4 || got[2].Generation != 9 {
		t.Fatalf("expected equal fitness ordered by generation, got %+v", got)
	}

	if all := lib.Search("", 0); len(all) != 5 {
		t.Fatalf("expected 5 records in total, got %d", len(all))
	}
}

func TestGetBestMissingGoal(t *testing.T) {
	lib := newMemoryLibrary(t)
	if _, ok := lib.GetBest("nothing"); ok {
		t.Fatal("expected no best record")
	}
}

func TestLoadMissingID(t *testing.T) {
	lib := newMemoryLibrary(t)
	circuit, err := lib.Load("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if circuit == nil || len(circuit) != 0 {
		t.Fatalf("expected empty circuit, got %v", circuit)
	}
}

func TestSaveWritesIndexSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	lib, err := New(ctx, store, Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	for _, fitness := range []int{50, 25} {
		if _, err := lib.Save(ctx, "xor", gate.Circuit{gate.XOR}, fitness, fitness); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	index := store.Index()
	if len(index) != 2 || index[0].ID != "xor_fitness25_gen25" {
		t.Fatalf("unexpected index: %+v", index)
	}
}

func TestLibraryReloadsFromFileStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	first, err := New(ctx, storage.NewFileStore(root), Options{})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	if _, err := first.Save(ctx, "parity", gate.Circuit{gate.XOR, gate.XOR}, 100, 40); err != nil {
		t.Fatalf("save: %v", err)
	}

	second, err := New(ctx, storage.NewFileStore(root), Options{})
	if err != nil {
		t.Fatalf("reopen library: %v", err)
	}
	best, ok := second.GetBest("parity")
	if !ok || best.ID != "parity_fitness100_gen40" {
		t.Fatalf("expected persisted record, got %+v (ok=%v)", best, ok)
	}
}

type failingStore struct {
	*storage.MemoryStore
	loadErr error
	saveErr error
}

func (s *failingStore) LoadRecords(ctx context.Context) (storage.LoadReport, error) {
	if s.loadErr != nil {
		return storage.LoadReport{}, s.loadErr
	}
	return s.MemoryStore.LoadRecords(ctx)
}

func (s *failingStore) SaveRecord(ctx context.Context, record model.CircuitRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.SaveRecord(ctx, record)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveSave(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[result]++
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), loadErr: errors.New("disk on fire")}
	lib, err := New(context.Background(), store, Options{})
	if err != nil {
		t.Fatalf("load failure must not fail construction: %v", err)
	}
	if lib.Len() != 0 {
		t.Fatalf("expected empty library, got %d records", lib.Len())
	}
}

func TestStoreInitFailureStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	lib, err := New(ctx, storage.NewFileStore(blocker), Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("init failure must not fail construction: %v", err)
	}
	if lib.Len() != 0 {
		t.Fatalf("expected empty library, got %d records", lib.Len())
	}
	if _, err := lib.Save(ctx, "xor", gate.Circuit{gate.XOR}, 100, 1); err == nil {
		t.Fatal("expected the save to report the unusable store")
	}
	if _, ok := lib.GetBest("xor"); !ok {
		t.Fatal("expected the record to stay in memory")
	}
}

func TestSaveFailureIsReportedAndKeptInMemory(t *testing.T) {
	ctx := context.Background()
	diskErr := errors.New("disk full")
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), saveErr: diskErr}
	observer := &countingObserver{}
	lib, err := New(ctx, store, Options{Observer: observer})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}

	if _, err := lib.Save(ctx, "xor", gate.Circuit{gate.XOR}, 100, 1); !errors.Is(err, diskErr) {
		t.Fatalf("expected disk error, got %v", err)
	}
	if _, ok := lib.GetBest("xor"); !ok {
		t.Fatal("expected the record to stay in memory")
	}
	if observer.counts[SaveResultError] != 1 {
		t.Fatalf("expected one failed save observed, got %+v", observer.counts)
	}
}

func TestConcurrentSavesAndReads(t *testing.T) {
	ctx := context.Background()
	lib, err := New(ctx, storage.NewFileStore(t.TempDir()), Options{})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}

	var wg sync.WaitGroup
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			goalName := fmt.Sprintf("goal%d", worker)
			for gen := 0; gen < 10; gen++ {
				if _, err := lib.Save(ctx, goalName, gate.Circuit{gate.AND}, gen*10, gen); err != nil {
					t.Errorf("save: %v", err)
					return
				}
				lib.Search("", 0)
				lib.GetBest(goalName)
			}
		}(worker)
	}
	wg.Wait()

	reopened, err := New(ctx, storage.NewFileStore(lib.Store().(storage.Rooted).Root()), Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Len() != 40 {
		t.Fatalf("expected 40 records after concurrent saves, got %d", reopened.Len())
	}
}

func TestSummariesAndStats(t *testing.T) {
	ctx := context.Background()
	lib, err := New(ctx, storage.NewFileStore(t.TempDir()), Options{})
	if err != nil {
		t.Fatalf("new library: %v", err)
	}
	for gen, fitness := range []int{25, 50, 75, 100} {
		if _, err := lib.Save(ctx, "xor", gate.Circuit{gate.XOR}, fitness, gen); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if _, err := lib.Save(ctx, "and", gate.Circuit{gate.OR}, 75, 1); err != nil {
		t.Fatalf("save: %v", err)
	}

	summaries := lib.Summaries(3)
	if len(summaries) != 2 || summaries[0].Goal != "and" || summaries[1].Goal != "xor" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
	if summaries[1].Count != 4 || len(summaries[1].Top) != 3 || summaries[1].Top[0].Fitness != 100 {
		t.Fatalf("unexpected xor summary: %+v", summaries[1])
	}

	stats, err := lib.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records != 5 || stats.Goals != 2 || stats.Solved != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Bytes <= 0 || stats.HumanBytes() == "unknown" {
		t.Fatalf("expected measured size, got %+v", stats)
	}
}

func TestStatsWithoutSizer(t *testing.T) {
	lib := newMemoryLibrary(t)
	stats, err := lib.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Bytes != -1 || stats.HumanBytes() != "unknown" {
		t.Fatalf("expected unknown size, got %+v", stats)
	}
}
