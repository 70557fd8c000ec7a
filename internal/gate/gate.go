package gate

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

var ErrUnknownGate = errors.New("unknown gate")

// Gate is a stateless binary logic operation applied to a running signal and
// a side input.
type Gate uint8

const (
	AND Gate = iota
	OR
	XOR
	NAND
	NOT
)

var all = []Gate{AND, OR, XOR, NAND, NOT}

// All returns every gate in declaration order.
func All() []Gate {
	return append([]Gate(nil), all...)
}

func (g Gate) Valid() bool {
	return g <= NOT
}

func (g Gate) String() string {
	switch g {
	case AND:
		return "AND"
	case OR:
		return "OR"
	case XOR:
		return "XOR"
	case NAND:
		return "NAND"
	case NOT:
		return "NOT"
	default:
		return fmt.Sprintf("Gate(%d)", uint8(g))
	}
}

func (g Gate) Symbol() string {
	switch g {
	case AND:
		return "∧"
	case OR:
		return "∨"
	case XOR:
		return "⊕"
	case NAND:
		return "⊼"
	case NOT:
		return "¬"
	default:
		return "?"
	}
}

// Process maps the running signal and side input to the next signal. NOT
// ignores the side input.
func (g Gate) Process(signal, side bool) bool {
	switch g {
	case AND:
		return signal && side
	case OR:
		return signal || side
	case XOR:
		return signal != side
	case NAND:
		return !(signal && side)
	case NOT:
		return !signal
	default:
		return false
	}
}

// Parse resolves a persisted gate name, case-insensitively.
func Parse(name string) (Gate, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "AND":
		return AND, nil
	case "OR":
		return OR, nil
	case "XOR":
		return XOR, nil
	case "NAND":
		return NAND, nil
	case "NOT":
		return NOT, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownGate, name)
	}
}

// Random draws a gate uniformly.
func Random(rng *rand.Rand) Gate {
	return all[rng.Intn(len(all))]
}
