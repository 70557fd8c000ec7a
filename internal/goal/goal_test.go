package goal

import (
	"errors"
	"strings"
	"testing"

	"gatesmith/internal/gate"
)

// enumerate yields every circuit up to maxLen gates.
func enumerate(maxLen int) []gate.Circuit {
	out := []gate.Circuit{{}}
	frontier := []gate.Circuit{{}}
	for l := 1; l <= maxLen; l++ {
		var next []gate.Circuit
		for _, prefix := range frontier {
			for _, g := range gate.All() {
				c := append(prefix.Clone(), g)
				next = append(next, c)
			}
		}
		out = append(out, next...)
		frontier = next
	}
	return out
}

func TestGoalSelfConsistency(t *testing.T) {
	circuits := enumerate(4)
	for _, g := range Builtins() {
		for _, c := range circuits {
			fitness := g.Fitness(c)
			if fitness < 0 || fitness > 100 {
				t.Fatalf("%s: fitness out of range for %v: %d", g.Name(), c, fitness)
			}
			if fitness == 100 && !g.IsSolved(c) {
				t.Fatalf("%s: fitness 100 but not solved for %v", g.Name(), c)
			}
			if g.IsSolved(c) && fitness != 100 {
				t.Fatalf("%s: solved but fitness %d for %v", g.Name(), fitness, c)
			}
		}
	}
}

func TestXORSolvedBySingleGate(t *testing.T) {
	xor, err := NewDefaultRegistry().Resolve("XOR")
	if err != nil {
		t.Fatalf("resolve xor: %v", err)
	}
	c := gate.Circuit{gate.XOR}
	if got := xor.Fitness(c); got != 100 {
		t.Fatalf("expected fitness 100, got %d", got)
	}
	if !xor.IsSolved(c) {
		t.Fatal("expected [XOR] to solve xor")
	}
	if got := xor.Status(c); got != "xor: 4/4 rows correct" {
		t.Fatalf("unexpected status: %q", got)
	}
}

func TestEmptyCircuitScoresZero(t *testing.T) {
	for _, g := range Builtins() {
		if got := g.Fitness(gate.Circuit{}); got != 0 {
			t.Fatalf("%s: expected empty circuit fitness 0, got %d", g.Name(), got)
		}
		if g.IsSolved(gate.Circuit{}) {
			t.Fatalf("%s: empty circuit must not be solved", g.Name())
		}
	}
}

func TestPartialFitnessQuantized(t *testing.T) {
	xor, err := NewDefaultRegistry().Resolve("xor")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// AND only agrees with xor on (0,0).
	if got := xor.Fitness(gate.Circuit{gate.AND}); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	// OR matches three rows.
	if got := xor.Fitness(gate.Circuit{gate.OR}); got != 75 {
		t.Fatalf("expected 75, got %d", got)
	}
}

func TestBuiltinSolutions(t *testing.T) {
	reg := NewDefaultRegistry()
	solutions := map[string]gate.Circuit{
		"xnor":           {gate.XOR, gate.NOT},
		"and":            {gate.AND},
		"or":             {gate.OR},
		"nand":           {gate.NAND},
		"nor":            {gate.OR, gate.NOT},
		"full_adder_sum": {gate.XOR, gate.XOR},
		"parity4":        {gate.XOR, gate.XOR, gate.XOR},
	}
	for name, c := range solutions {
		g, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if !g.IsSolved(c) {
			t.Fatalf("%s: expected %v to solve, status=%s", name, c, g.Status(c))
		}
	}
}

func TestMaxGenerations(t *testing.T) {
	g, err := FromFunc("id", "", 7, 1, func(in []bool) bool { return in[0] })
	if err != nil {
		t.Fatalf("from func: %v", err)
	}
	if got := MaxGenerations(g); got != 7000 {
		t.Fatalf("expected 7000, got %d", got)
	}
}

func TestTruthTableValidation(t *testing.T) {
	if _, err := NewTruthTable("", "", 1, 2, []Row{{In: []bool{true, true}}}); err == nil {
		t.Fatal("expected empty name error")
	}
	if _, err := NewTruthTable("g", "", 0, 2, []Row{{In: []bool{true, true}}}); err == nil {
		t.Fatal("expected complexity error")
	}
	if _, err := NewTruthTable("g", "", 1, 2, nil); err == nil {
		t.Fatal("expected rows error")
	}
	if _, err := NewTruthTable("g", "", 1, 2, []Row{{In: []bool{true}}}); err == nil {
		t.Fatal("expected row width error")
	}
	if _, err := FromOutputs("g", "", 1, 2, []bool{true, false}); err == nil {
		t.Fatal("expected output count error")
	}
}

func TestFromOutputsRowOrder(t *testing.T) {
	imply, err := FromOutputs("imply", "a implies b", 5, 2, []bool{true, true, false, true})
	if err != nil {
		t.Fatalf("from outputs: %v", err)
	}
	rows := imply.Rows()
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[2].In[0] != true || rows[2].In[1] != false || rows[2].Out != false {
		t.Fatalf("unexpected row 2: %+v", rows[2])
	}
	rows[0].In[0] = true
	if imply.Rows()[0].In[0] {
		t.Fatal("Rows must return a copy")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	g, err := FromFunc("Custom", "", 3, 2, func(in []bool) bool { return in[0] })
	if err != nil {
		t.Fatalf("from func: %v", err)
	}
	if err := reg.Register(g); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(g); !errors.Is(err, ErrGoalExists) {
		t.Fatalf("expected ErrGoalExists, got %v", err)
	}
	if _, err := reg.Resolve("custom"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := reg.Resolve("missing"); !errors.Is(err, ErrGoalNotFound) {
		t.Fatalf("expected ErrGoalNotFound, got %v", err)
	}
	if err := reg.Register(nil); err == nil {
		t.Fatal("expected nil goal error")
	}

	list := NewDefaultRegistry().List()
	if len(list) != len(Builtins()) {
		t.Fatalf("expected %d goals, got %d", len(Builtins()), len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Complexity() > list[i].Complexity() {
			t.Fatalf("list not sorted by complexity: %s before %s", list[i-1].Name(), list[i].Name())
		}
	}
	if !strings.HasPrefix(list[0].Name(), "and") {
		t.Fatalf("expected lowest complexity goal first, got %s", list[0].Name())
	}
}
