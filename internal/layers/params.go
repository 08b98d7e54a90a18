package layers

import (
	"fmt"
	"math"

	"github.com/samcharles93/shadow/internal/check"
)

// Params holds a layer's named arguments as decoded from a topology file:
// numbers arrive as float64, lists as []any. Go callers may also use int,
// float32 and typed slices. A value of the wrong type is a
// ConfigurationError.
type Params map[string]any

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := toInt(v)
	if err != nil {
		check.Failf(check.ConfigurationError, "param %s: %v", key, err)
	}
	return n
}

// RequireInt is Int for parameters without a default.
func (p Params) RequireInt(key string) int {
	if !p.Has(key) {
		check.Failf(check.ConfigurationError, "missing required param %s", key)
	}
	return p.Int(key, 0)
}

func (p Params) Float(key string, def float32) float32 {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, err := toFloat(v)
	if err != nil {
		check.Failf(check.ConfigurationError, "param %s: %v", key, err)
	}
	return f
}

func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		check.Failf(check.ConfigurationError, "param %s: want bool, got %T", key, v)
	}
	return b
}

func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		check.Failf(check.ConfigurationError, "param %s: want string, got %T", key, v)
	}
	return s
}

// Ints reads a list of integers. A single number is a one-element list.
func (p Params) Ints(key string) []int {
	v, ok := p[key]
	if !ok {
		return nil
	}
	var out []int
	err := eachElem(v, func(e any) error {
		n, err := toInt(e)
		out = append(out, n)
		return err
	})
	if err != nil {
		check.Failf(check.ConfigurationError, "param %s: %v", key, err)
	}
	return out
}

// Floats reads a list of numbers. A single number is a one-element list.
func (p Params) Floats(key string) []float32 {
	v, ok := p[key]
	if !ok {
		return nil
	}
	var out []float32
	err := eachElem(v, func(e any) error {
		f, err := toFloat(e)
		out = append(out, f)
		return err
	})
	if err != nil {
		check.Failf(check.ConfigurationError, "param %s: %v", key, err)
	}
	return out
}

func eachElem(v any, fn func(any) error) error {
	switch s := v.(type) {
	case []any:
		for _, e := range s {
			if err := fn(e); err != nil {
				return err
			}
		}
	case []int:
		for _, e := range s {
			if err := fn(e); err != nil {
				return err
			}
		}
	case []float32:
		for _, e := range s {
			if err := fn(e); err != nil {
				return err
			}
		}
	case []float64:
		for _, e := range s {
			if err := fn(e); err != nil {
				return err
			}
		}
	default:
		return fn(v)
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

func toFloat(v any) (float32, error) {
	switch n := v.(type) {
	case float32:
		return n, nil
	case float64:
		return float32(n), nil
	case int:
		return float32(n), nil
	case int32:
		return float32(n), nil
	case int64:
		return float32(n), nil
	default:
		return 0, fmt.Errorf("want number, got %T", v)
	}
}
