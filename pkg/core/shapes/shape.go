// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape and associated tools.
//
// Shape represents the shape (rank, dimensions and DType) of a tensor -- either a
// concrete host tensor or the declared global shape of a distributed one. DType
// indicates the type of the unit element of a tensor, and is defined in
// github.com/gomlx/gopjrt/dtypes.
//
// By convention, for training-example leaves, axis 0 is the batch axis.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: the index of a dimension on a multidimensional Tensor.
//   - Dimension: the size of a Tensor in one of its axes.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape of a tensor.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
//
// It panics if any dimension is <= 0 -- use CheckDims for a version that returns an error.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T dtypes.Supported]() Shape {
	return Shape{DType: dtypes.FromGenericsType[T]()}
}

// Ok returns whether this is a valid Shape. A "zero" shape, with DType set to InvalidDType, is invalid.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is, it has rank 0.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can be negative, in which
// case it is taken from the end -- e.g. Dim(-1) is the last dimension.
func (s Shape) Dim(axis int) int {
	if axis < 0 {
		axis = len(s.Dimensions) + axis
	}
	if axis < 0 || axis >= len(s.Dimensions) {
		exceptions.Panicf("shapes.Dim(%d): axis out of range for %s", axis, s)
	}
	return s.Dimensions[axis]
}

// Size returns the number of elements of the shape: the product of all dimensions.
// A scalar has size 1.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes needed to store the corresponding tensor.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Clone makes a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && slices.Equal(s.Dimensions, s2.Dimensions)
}

// EqualDimensions compares two shapes for equality of dimensions only, ignoring the DType.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// WithBatch returns a new shape with the given batch dimension prepended as axis 0.
// Used when declaring the global batched shape of example leaves.
func (s Shape) WithBatch(batchSize int) Shape {
	if batchSize <= 0 {
		exceptions.Panicf("shapes.WithBatch(%d): batch dimension must be > 0", batchSize)
	}
	dims := make([]int, 0, len(s.Dimensions)+1)
	dims = append(dims, batchSize)
	dims = append(dims, s.Dimensions...)
	return Shape{DType: s.DType, Dimensions: dims}
}

// String implements fmt.Stringer, pretty-printing the shape as e.g. "(Float32)[8 128]".
func (s Shape) String() string {
	if !s.Ok() {
		return "(INVALID SHAPE)"
	}
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "(%s)[", s.DType)
	for i, dim := range s.Dimensions {
		if i > 0 {
			sb.WriteByte(' ')
		}
		_, _ = fmt.Fprintf(&sb, "%d", dim)
	}
	sb.WriteByte(']')
	return sb.String()
}
