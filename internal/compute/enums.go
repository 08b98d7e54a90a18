package compute

import (
	"fmt"
	"strings"
)

// PoolMode selects the reduction used by Pooling.
type PoolMode int

const (
	PoolMax PoolMode = iota
	PoolAverage
)

func (m PoolMode) String() string {
	switch m {
	case PoolMax:
		return "max"
	case PoolAverage:
		return "ave"
	default:
		return fmt.Sprintf("pool(%d)", int(m))
	}
}

// ParsePoolMode accepts "max", "ave" and "average".
func ParsePoolMode(s string) (PoolMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max":
		return PoolMax, nil
	case "ave", "avg", "average":
		return PoolAverage, nil
	default:
		return 0, fmt.Errorf("unknown pooling mode %q", s)
	}
}

// Activation is the closed set of elementwise nonlinearities.
type Activation int

const (
	Linear Activation = iota
	ReLU
	Leaky
	Logistic
	Tanh
)

// LeakySlope is the negative-side slope of the Leaky activation.
const LeakySlope = 0.1

var activationNames = [...]string{
	Linear:   "linear",
	ReLU:     "relu",
	Leaky:    "leaky",
	Logistic: "logistic",
	Tanh:     "tanh",
}

func (a Activation) String() string {
	if a >= 0 && int(a) < len(activationNames) {
		return activationNames[a]
	}
	return fmt.Sprintf("activation(%d)", int(a))
}

// ParseActivation maps a name to its Activation.
func ParseActivation(s string) (Activation, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "identity" {
		return Linear, nil
	}
	if name == "sigmoid" {
		return Logistic, nil
	}
	for i, n := range activationNames {
		if n == name {
			return Activation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activation %q", s)
}

// EltwiseOp is the binary operation applied by Eltwise.
type EltwiseOp int

const (
	EltwiseProd EltwiseOp = iota
	EltwiseSum
	EltwiseMax
)

func (op EltwiseOp) String() string {
	switch op {
	case EltwiseProd:
		return "prod"
	case EltwiseSum:
		return "sum"
	case EltwiseMax:
		return "max"
	default:
		return fmt.Sprintf("eltwise(%d)", int(op))
	}
}

// ParseEltwiseOp accepts "prod", "sum" and "max".
func ParseEltwiseOp(s string) (EltwiseOp, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "mul":
		return EltwiseProd, nil
	case "sum", "add":
		return EltwiseSum, nil
	case "max":
		return EltwiseMax, nil
	default:
		return 0, fmt.Errorf("unknown eltwise operation %q", s)
	}
}
