package goal

import (
	"errors"
	"fmt"

	"gatesmith/internal/gate"
)

type Row struct {
	In  []bool
	Out bool
}

// TruthTable scores a circuit by the share of rows it reproduces. An empty
// circuit always scores zero so fresh runs start from the bottom.
type TruthTable struct {
	name        string
	description string
	complexity  int
	inputs      int
	rows        []Row
}

func NewTruthTable(name, description string, complexity, inputs int, rows []Row) (*TruthTable, error) {
	if name == "" {
		return nil, errors.New("goal name is required")
	}
	if complexity < MinComplexity || complexity > MaxComplexity {
		return nil, fmt.Errorf("goal %s: complexity must be in [%d, %d], got %d", name, MinComplexity, MaxComplexity, complexity)
	}
	if inputs <= 0 {
		return nil, fmt.Errorf("goal %s: inputs must be > 0", name)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("goal %s: at least one row is required", name)
	}
	copied := make([]Row, len(rows))
	for i, row := range rows {
		if len(row.In) != inputs {
			return nil, fmt.Errorf("goal %s: row %d has %d inputs, want %d", name, i, len(row.In), inputs)
		}
		copied[i] = Row{In: append([]bool(nil), row.In...), Out: row.Out}
	}
	return &TruthTable{
		name:        name,
		description: description,
		complexity:  complexity,
		inputs:      inputs,
		rows:        copied,
	}, nil
}

// FromFunc enumerates all 2^inputs rows in binary counting order with input
// 0 as the most significant bit.
func FromFunc(name, description string, complexity, inputs int, fn func(in []bool) bool) (*TruthTable, error) {
	if inputs <= 0 || inputs > 16 {
		return nil, fmt.Errorf("goal %s: inputs must be in [1, 16], got %d", name, inputs)
	}
	rows := make([]Row, 0, 1<<inputs)
	for n := 0; n < 1<<inputs; n++ {
		in := make([]bool, inputs)
		for bit := 0; bit < inputs; bit++ {
			in[bit] = n&(1<<(inputs-1-bit)) != 0
		}
		rows = append(rows, Row{In: in, Out: fn(in)})
	}
	return NewTruthTable(name, description, complexity, inputs, rows)
}

// FromOutputs builds a table from the output column alone, rows ordered as
// in FromFunc.
func FromOutputs(name, description string, complexity, inputs int, outputs []bool) (*TruthTable, error) {
	if inputs > 0 && inputs <= 16 && len(outputs) != 1<<inputs {
		return nil, fmt.Errorf("goal %s: expected %d outputs for %d inputs, got %d", name, 1<<inputs, inputs, len(outputs))
	}
	idx := 0
	return FromFunc(name, description, complexity, inputs, func([]bool) bool {
		out := outputs[idx]
		idx++
		return out
	})
}

func (t *TruthTable) Name() string        { return t.name }
func (t *TruthTable) Description() string { return t.description }
func (t *TruthTable) Complexity() int     { return t.complexity }
func (t *TruthTable) Inputs() int         { return t.inputs }

func (t *TruthTable) Rows() []Row {
	rows := make([]Row, len(t.rows))
	for i, row := range t.rows {
		rows[i] = Row{In: append([]bool(nil), row.In...), Out: row.Out}
	}
	return rows
}

func (t *TruthTable) correct(circuit gate.Circuit) int {
	if len(circuit) == 0 {
		return 0
	}
	n := 0
	for _, row := range t.rows {
		if circuit.Run(row.In) == row.Out {
			n++
		}
	}
	return n
}

func (t *TruthTable) Fitness(circuit gate.Circuit) int {
	return t.correct(circuit) * 100 / len(t.rows)
}

func (t *TruthTable) IsSolved(circuit gate.Circuit) bool {
	return len(circuit) > 0 && t.correct(circuit) == len(t.rows)
}

func (t *TruthTable) Status(circuit gate.Circuit) string {
	return fmt.Sprintf("%s: %d/%d rows correct", t.name, t.correct(circuit), len(t.rows))
}
