package compute

import (
	"strconv"
	"strings"
)

// Shape is an ordered list of non-negative dimensions.
type Shape []int

// NumAxes is len(s).
func (s Shape) NumAxes() int { return len(s) }

// Count is the product of the dims in [start, end).
func (s Shape) Count(start, end int) int {
	n := 1
	for i := start; i < end; i++ {
		n *= s[i]
	}
	return n
}

// CountFrom is the product of the dims from start to the last axis.
func (s Shape) CountFrom(start int) int {
	return s.Count(start, len(s))
}

// Size is the total number of elements.
func (s Shape) Size() int {
	return s.Count(0, len(s))
}

// Clone returns a copy that does not share storage with s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both shapes have the same dims.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Steps returns the row-major stride of every axis.
func (s Shape) Steps() []int {
	steps := make([]int, len(s))
	for i := range s {
		steps[i] = s.CountFrom(i + 1)
	}
	return steps
}

// String formats the shape as "(1,3,224,224)".
func (s Shape) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, d := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(d))
	}
	b.WriteByte(')')
	return b.String()
}
