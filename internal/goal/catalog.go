package goal

func parity(in []bool) bool {
	odd := false
	for _, v := range in {
		odd = odd != v
	}
	return odd
}

// Builtins returns fresh instances of the stock goals. majority3 cannot be
// expressed by a single-signal pipeline of the available gates and is kept as
// an exhaustion benchmark.
func Builtins() []Goal {
	type def struct {
		name, description string
		complexity        int
		inputs            int
		fn                func([]bool) bool
	}
	defs := []def{
		{"xor", "exclusive or of two inputs", 5, 2, func(in []bool) bool { return in[0] != in[1] }},
		{"xnor", "equivalence of two inputs", 5, 2, func(in []bool) bool { return in[0] == in[1] }},
		{"and", "conjunction of two inputs", 2, 2, func(in []bool) bool { return in[0] && in[1] }},
		{"or", "disjunction of two inputs", 2, 2, func(in []bool) bool { return in[0] || in[1] }},
		{"nand", "negated conjunction of two inputs", 3, 2, func(in []bool) bool { return !(in[0] && in[1]) }},
		{"nor", "negated disjunction of two inputs", 4, 2, func(in []bool) bool { return !(in[0] || in[1]) }},
		{"full_adder_sum", "sum bit of a one-bit full adder (a, b, carry-in)", 15, 3, parity},
		{"parity4", "odd parity over four inputs", 20, 4, parity},
		{"majority3", "majority vote of three inputs", 10, 3, func(in []bool) bool {
			n := 0
			for _, v := range in {
				if v {
					n++
				}
			}
			return n >= 2
		}},
	}

	goals := make([]Goal, 0, len(defs))
	for _, d := range defs {
		g, err := FromFunc(d.name, d.description, d.complexity, d.inputs, d.fn)
		if err != nil {
			panic(err)
		}
		goals = append(goals, g)
	}
	return goals
}
