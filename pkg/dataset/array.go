// Package dataset holds dense numeric arrays and the containers that pair
// them with a geometry: AcquisitionData for projection stacks and sinograms,
// ImageData for reconstructed volumes.
//
// Arrays are row-major. A container is never modified after it has been
// handed to another component; transforms allocate a new one.
package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DType is the precision an array's values are representable in.
type DType int

const (
	Float64 DType = iota
	Float32
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// Array is a dense N-dimensional array of real values.
type Array struct {
	shape   []int
	strides []int
	data    []float64
	dtype   DType
}

// NewArray allocates a zeroed array.
func NewArray(shape ...int) *Array {
	n := 1
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("dataset: invalid shape %v", shape))
		}
		n *= s
	}
	return &Array{
		shape:   append([]int(nil), shape...),
		strides: stridesOf(shape),
		data:    make([]float64, n),
	}
}

// FromSlice wraps a copy of data in an array of the given shape.
func FromSlice(data []float64, shape ...int) (*Array, error) {
	n := 1
	for _, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("invalid shape %v", shape)
		}
		n *= s
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, len(data))
	}
	a := NewArray(shape...)
	copy(a.data, data)
	return a, nil
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// Shape returns a copy of the array extent.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Dims returns the number of axes.
func (a *Array) Dims() int { return len(a.shape) }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.data) }

// DType returns the precision of the values.
func (a *Array) DType() DType { return a.dtype }

// Data returns the backing slice in row-major order, not a copy. Only the
// producer of an array may write through it, and only before handing the
// array on; everyone else treats it as read-only and calls Clone to edit.
func (a *Array) Data() []float64 { return a.data }

// Offset returns the flat index of a multi-index.
func (a *Array) Offset(idx ...int) int {
	off := 0
	for i, v := range idx {
		off += v * a.strides[i]
	}
	return off
}

// At returns the value at a multi-index.
func (a *Array) At(idx ...int) float64 { return a.data[a.Offset(idx...)] }

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	c := NewArray(a.shape...)
	copy(c.data, a.data)
	c.dtype = a.dtype
	return c
}

// AsType returns a copy whose values are rounded to the given precision.
func (a *Array) AsType(d DType) *Array {
	c := a.Clone()
	c.dtype = d
	if d == Float32 {
		for i, v := range c.data {
			c.data[i] = float64(float32(v))
		}
	}
	return c
}

// Transpose returns a copy with axes permuted so that output axis i is
// input axis perm[i].
func (a *Array) Transpose(perm []int) (*Array, error) {
	if len(perm) != len(a.shape) {
		return nil, fmt.Errorf("permutation %v does not match %d axes", perm, len(a.shape))
	}
	seen := make([]bool, len(perm))
	shape := make([]int, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
		shape[i] = a.shape[p]
	}

	out := NewArray(shape...)
	out.dtype = a.dtype
	idx := make([]int, len(shape))
	for o := range out.data {
		src := 0
		for i, v := range idx {
			src += v * a.strides[perm[i]]
		}
		out.data[o] = a.data[src]

		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

// Index returns a copy of the sub-array at position i along the leading
// axis.
func (a *Array) Index(i int) (*Array, error) {
	if len(a.shape) < 2 {
		return nil, fmt.Errorf("cannot index a %d-d array", len(a.shape))
	}
	if i < 0 || i >= a.shape[0] {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, a.shape[0])
	}
	sub := NewArray(a.shape[1:]...)
	sub.dtype = a.dtype
	copy(sub.data, a.data[i*a.strides[0]:(i+1)*a.strides[0]])
	return sub, nil
}

// MinMax returns the smallest and largest finite values.
func (a *Array) MinMax() (lo, hi float64) {
	finite := make([]float64, 0, len(a.data))
	for _, v := range a.data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 0, 0
	}
	return floats.Min(finite), floats.Max(finite)
}

// Equal reports whether two arrays have the same shape, dtype and values.
func (a *Array) Equal(b *Array) bool {
	if a.dtype != b.dtype || len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return floats.Equal(a.data, b.data)
}

// SameShape reports whether a has the given extent.
func (a *Array) SameShape(shape []int) bool {
	if len(a.shape) != len(shape) {
		return false
	}
	for i := range shape {
		if a.shape[i] != shape[i] {
			return false
		}
	}
	return true
}
