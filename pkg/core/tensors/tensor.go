// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host-local multidimensional array: a Shape and
// its flat data, stored row-major.
//
// This package only handles data on the host: the per-device placement of
// buffers is the concern of the distributed package, which holds one host
// tensor per device shard. Because the data pipeline carves batches along
// axis 0, Tensor provides row-level operations (Rows, Stack) in addition to
// the usual flat accessors.
package tensors

import (
	"bytes"
	"fmt"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor holds a host tensor: a shape and its flat data in row-major order.
//
// Tensors are created fully initialized (FromShape zero-initializes) and their
// shape never changes. The data buffer is mutable through MutableBytes and the
// typed accessors.
type Tensor struct {
	shape shapes.Shape
	flat  []byte
}

// FromShape returns a zero-initialized Tensor of the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	return &Tensor{
		shape: shape.Clone(),
		flat:  make([]byte, shape.Memory()),
	}
}

// FromFlatDataAndDimensions creates a Tensor with the given flat data and dimensions.
// The data is copied. It panics if len(data) doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(): shape %s needs %d values, got %d",
			shape, shape.Size(), len(data))
	}
	t := FromShape(shape)
	copy(t.flat, unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), shape.Memory()))
	return t
}

// FromValue creates a scalar tensor from a Go value.
func FromValue[T dtypes.Supported](value T) *Tensor {
	t := FromShape(shapes.Scalar[T]())
	MustMutableFlatData(t, func(flat []T) { flat[0] = value })
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements of the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// ConstBytes gives read-only access to the raw data.
// The slice must not be modified nor retained by accessFn.
func (t *Tensor) ConstBytes(accessFn func(data []byte)) {
	accessFn(t.flat)
}

// MutableBytes gives mutable access to the raw data.
// The slice must not be retained by accessFn.
func (t *Tensor) MutableBytes(accessFn func(data []byte)) {
	accessFn(t.flat)
}

// ConstFlatData gives read-only access to the flat data as a slice of the Go
// type corresponding to the tensor's DType. The slice must not be modified nor
// retained by accessFn. It returns an error if T doesn't match the DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		return errors.Errorf("tensors.ConstFlatData[%s]: tensor has dtype %s",
			dtypes.FromGenericsType[T](), t.shape.DType)
	}
	accessFn(unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(t.flat))), t.Size()))
	return nil
}

// MustConstFlatData is like ConstFlatData but panics on dtype mismatch.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := ConstFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MutableFlatData gives mutable access to the flat data as a slice of the Go
// type corresponding to the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		return errors.Errorf("tensors.MutableFlatData[%s]: tensor has dtype %s",
			dtypes.FromGenericsType[T](), t.shape.DType)
	}
	accessFn(unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(t.flat))), t.Size()))
	return nil
}

// MustMutableFlatData is like MutableFlatData but panics on dtype mismatch.
func MustMutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := MutableFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MustCopyFlatData returns a copy of the flat data as a slice of the Go type
// corresponding to the tensor's DType. It panics on dtype mismatch.
func MustCopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var data []T
	MustConstFlatData(t, func(flat []T) {
		data = make([]T, len(flat))
		copy(data, flat)
	})
	return data
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape)
	copy(clone.flat, t.flat)
	return clone
}

// Equal compares shape and data of two tensors.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil {
		return t == nil
	}
	return t.shape.Equal(other.shape) && bytes.Equal(t.flat, other.flat)
}

// rowBytes returns the number of bytes per axis-0 row.
func (t *Tensor) rowBytes() int {
	return int(t.Memory()) / t.shape.Dim(0)
}

// Rows returns a copy of the rows [from, to) along axis 0.
// The tensor must have rank >= 1 and 0 <= from < to <= Dim(0).
func (t *Tensor) Rows(from, to int) (*Tensor, error) {
	if t.Rank() == 0 {
		return nil, errors.Errorf("Tensor.Rows: cannot slice a scalar %s", t.shape)
	}
	if from < 0 || to <= from || to > t.shape.Dim(0) {
		return nil, errors.Errorf("Tensor.Rows(%d, %d): out of range for %s", from, to, t.shape)
	}
	dims := make([]int, t.Rank())
	copy(dims, t.shape.Dimensions)
	dims[0] = to - from
	out := FromShape(shapes.Make(t.shape.DType, dims...))
	rb := t.rowBytes()
	copy(out.flat, t.flat[from*rb:to*rb])
	return out, nil
}

// SetRows copies the rows of src into rows [at, at+src.Dim(0)) of t along axis 0.
// Both tensors must share dtype and non-batch dimensions.
func (t *Tensor) SetRows(at int, src *Tensor) error {
	if t.Rank() == 0 || src.Rank() != t.Rank() {
		return errors.Errorf("Tensor.SetRows: rank mismatch between %s and %s", t.shape, src.shape)
	}
	if t.shape.DType != src.shape.DType {
		return errors.Errorf("Tensor.SetRows: dtype mismatch between %s and %s", t.shape, src.shape)
	}
	for axis := 1; axis < t.Rank(); axis++ {
		if t.shape.Dim(axis) != src.shape.Dim(axis) {
			return errors.Errorf("Tensor.SetRows: dimensions mismatch between %s and %s", t.shape, src.shape)
		}
	}
	if at < 0 || at+src.shape.Dim(0) > t.shape.Dim(0) {
		return errors.Errorf("Tensor.SetRows(%d): %d rows don't fit in %s", at, src.shape.Dim(0), t.shape)
	}
	rb := t.rowBytes()
	copy(t.flat[at*rb:], src.flat)
	return nil
}

// Stack creates a new tensor with one extra leading axis, stacking the given
// tensors -- they must all share the same shape.
func Stack(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.New("tensors.Stack: no tensors to stack")
	}
	elemShape := parts[0].shape
	for i, part := range parts {
		if !part.shape.Equal(elemShape) {
			return nil, errors.Errorf("tensors.Stack: tensor #%d has shape %s, expected %s",
				i, part.shape, elemShape)
		}
	}
	out := FromShape(elemShape.WithBatch(len(parts)))
	elemBytes := int(elemShape.Memory())
	for i, part := range parts {
		copy(out.flat[i*elemBytes:], part.flat)
	}
	return out, nil
}

// String implements fmt.Stringer: it prints the shape only, not the data.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s)", t.shape)
}
