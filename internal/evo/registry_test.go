package evo

import (
	"errors"
	"reflect"
	"testing"
)

type firstSelector struct{}

func (firstSelector) Name() string { return "first" }

func (firstSelector) Pick(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}
	return candidates[0], nil
}

func TestSelectorFromNameBuiltins(t *testing.T) {
	resetSelectorRegistryForTests()
	t.Cleanup(resetSelectorRegistryForTests)

	cases := map[string]string{
		"":               "resonance",
		"resonance":      "resonance",
		" Fitness_First": "fitness_first",
	}
	for name, want := range cases {
		selector, err := SelectorFromName(name)
		if err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
		if selector.Name() != want {
			t.Fatalf("resolve %q: got %s, want %s", name, selector.Name(), want)
		}
	}
	if _, err := SelectorFromName("roulette"); !errors.Is(err, ErrSelectorNotFound) {
		t.Fatalf("expected ErrSelectorNotFound, got %v", err)
	}
}

func TestRegisterSelector(t *testing.T) {
	resetSelectorRegistryForTests()
	t.Cleanup(resetSelectorRegistryForTests)

	if err := RegisterSelector(firstSelector{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterSelector(firstSelector{}); !errors.Is(err, ErrSelectorExists) {
		t.Fatalf("expected ErrSelectorExists, got %v", err)
	}
	if err := RegisterSelector(nil); err == nil {
		t.Fatal("expected nil selector error")
	}
	want := []string{"first", "fitness_first", "resonance"}
	if got := ListSelectors(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected selectors: %v", got)
	}
}
