package workflow

import (
	"slices"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var matrixLog = logger.New("workflow:matrix")

// Axis is one named matrix dimension.
type Axis struct {
	Name   string
	Values []string
}

// Matrix is an ordered set of axes. A job with a matrix is instantiated once
// per element of the cross product of its axes.
type Matrix struct {
	Axes []Axis
}

// Axis returns the axis with the given name.
func (m *Matrix) Axis(name string) (Axis, bool) {
	if m == nil {
		return Axis{}, false
	}
	for _, axis := range m.Axes {
		if axis.Name == name {
			return axis, true
		}
	}
	return Axis{}, false
}

// Size returns the number of combinations. A nil or axis-less matrix has
// exactly one, empty, combination.
func (m *Matrix) Size() int {
	if m == nil {
		return 1
	}
	size := 1
	for _, axis := range m.Axes {
		size *= len(axis.Values)
	}
	return size
}

// Expand returns the cross product of the axes in declaration order; the
// last axis varies fastest.
func (m *Matrix) Expand() []Combination {
	combos := []Combination{{}}
	if m == nil {
		return combos
	}
	for _, axis := range m.Axes {
		next := make([]Combination, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, value := range axis.Values {
				c := make(Combination, len(combo), len(combo)+1)
				copy(c, combo)
				next = append(next, append(c, AxisValue{Axis: axis.Name, Value: value}))
			}
		}
		combos = next
	}
	matrixLog.Printf("Expanded matrix with %d axes into %d combinations", len(m.Axes), len(combos))
	return combos
}

func (m *Matrix) clone() *Matrix {
	clone := &Matrix{Axes: make([]Axis, len(m.Axes))}
	for i, axis := range m.Axes {
		clone.Axes[i] = Axis{Name: axis.Name, Values: slices.Clone(axis.Values)}
	}
	return clone
}

// AxisValue binds one axis to one of its values.
type AxisValue struct {
	Axis  string
	Value string
}

// Combination is one element of a matrix cross product.
type Combination []AxisValue

// Get returns the value bound to an axis.
func (c Combination) Get(axis string) (string, bool) {
	for _, av := range c {
		if av.Axis == axis {
			return av.Value, true
		}
	}
	return "", false
}

// Values returns the bound values in axis order.
func (c Combination) Values() []string {
	values := make([]string, len(c))
	for i, av := range c {
		values[i] = av.Value
	}
	return values
}

// String renders the combination as "os=ubuntu-latest, rust=stable".
func (c Combination) String() string {
	parts := make([]string, len(c))
	for i, av := range c {
		parts[i] = av.Axis + "=" + av.Value
	}
	return strings.Join(parts, ", ")
}
