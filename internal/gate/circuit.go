package gate

import "strings"

// Circuit is an ordered gate pipeline. Holders own their copy; use Clone
// before handing a circuit to anything that may mutate it.
type Circuit []Gate

func (c Circuit) Clone() Circuit {
	if c == nil {
		return Circuit{}
	}
	return append(Circuit(make([]Gate, 0, len(c))), c...)
}

func (c Circuit) Len() int {
	return len(c)
}

func (c Circuit) Equal(other Circuit) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Names returns the persisted gate identifiers.
func (c Circuit) Names() []string {
	names := make([]string, len(c))
	for i, g := range c {
		names[i] = g.String()
	}
	return names
}

// ParseCircuit is the inverse of Names.
func ParseCircuit(names []string) (Circuit, error) {
	circuit := make(Circuit, 0, len(names))
	for _, name := range names {
		g, err := Parse(name)
		if err != nil {
			return nil, err
		}
		circuit = append(circuit, g)
	}
	return circuit, nil
}

// Run feeds inputs through the pipeline. The signal starts at inputs[0] and
// gate k reads side input inputs[1+k%(len(inputs)-1)]; with a single input
// every gate sees that input as its side input.
func (c Circuit) Run(inputs []bool) bool {
	if len(inputs) == 0 {
		return false
	}
	signal := inputs[0]
	sides := inputs[1:]
	if len(sides) == 0 {
		sides = inputs
	}
	for k, g := range c {
		signal = g.Process(signal, sides[k%len(sides)])
	}
	return signal
}

func (c Circuit) String() string {
	if len(c) == 0 {
		return "[EMPTY]"
	}
	var b strings.Builder
	b.WriteString("INPUT → ")
	for _, g := range c {
		b.WriteString(g.Symbol())
		b.WriteString(" → ")
	}
	b.WriteString("OUTPUT")
	return b.String()
}
