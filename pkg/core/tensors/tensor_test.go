package tensors_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/gomlx/meshdata/pkg/core/tensors"
	"github.com/gomlx/meshdata/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlatDataAndDimensions(t *testing.T) {
	data := xslices.Iota(int32(0), 6)
	tensor := tensors.FromFlatDataAndDimensions(data, 2, 3)
	assert.Equal(t, dtypes.Int32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Shape().Dimensions)
	assert.Equal(t, data, tensors.MustCopyFlatData[int32](tensor))

	// Data is copied, not aliased.
	data[0] = 100
	assert.Equal(t, int32(0), tensors.MustCopyFlatData[int32](tensor)[0])

	require.Panics(t, func() { tensors.FromFlatDataAndDimensions(data, 7) })
}

func TestFromShapeIsZeroInitialized(t *testing.T) {
	tensor := tensors.FromShape(shapes.Make(dtypes.Float64, 4))
	assert.Equal(t, []float64{0, 0, 0, 0}, tensors.MustCopyFlatData[float64](tensor))
}

func TestFlatDataDTypeMismatch(t *testing.T) {
	tensor := tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2)
	err := tensors.ConstFlatData(tensor, func(flat []float32) {})
	require.Error(t, err)
	require.Panics(t, func() {
		tensors.MustConstFlatData(tensor, func(flat []float32) {})
	})
}

func TestMutableFlatData(t *testing.T) {
	tensor := tensors.FromShape(shapes.Make(dtypes.Int32, 3))
	tensors.MustMutableFlatData(tensor, func(flat []int32) {
		for i := range flat {
			flat[i] = int32(10 * i)
		}
	})
	assert.Equal(t, []int32{0, 10, 20}, tensors.MustCopyFlatData[int32](tensor))
}

func TestEqual(t *testing.T) {
	a := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	b := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	c := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 5}, 2, 2)
	d := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 4)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
}

func TestRows(t *testing.T) {
	tensor := tensors.FromFlatDataAndDimensions(xslices.Iota(int32(0), 8), 4, 2)
	rows, err := tensor.Rows(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, rows.Shape().Dimensions)
	assert.Equal(t, []int32{2, 3, 4, 5}, tensors.MustCopyFlatData[int32](rows))

	// Rows copies: mutating the slice doesn't touch the source.
	tensors.MustMutableFlatData(rows, func(flat []int32) { flat[0] = -1 })
	assert.Equal(t, int32(2), tensors.MustCopyFlatData[int32](tensor)[2])

	_, err = tensor.Rows(3, 3)
	require.Error(t, err)
	_, err = tensor.Rows(2, 5)
	require.Error(t, err)
	_, err = tensors.FromValue(int32(7)).Rows(0, 1)
	require.Error(t, err)
}

func TestSetRows(t *testing.T) {
	dst := tensors.FromShape(shapes.Make(dtypes.Int32, 4, 2))
	src := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, dst.SetRows(1, src))
	assert.Equal(t, []int32{0, 0, 1, 2, 3, 4, 0, 0}, tensors.MustCopyFlatData[int32](dst))

	require.Error(t, dst.SetRows(3, src))
	wrongDims := tensors.FromFlatDataAndDimensions([]int32{1, 2, 3}, 1, 3)
	require.Error(t, dst.SetRows(0, wrongDims))
	wrongDType := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 1, 2)
	require.Error(t, dst.SetRows(0, wrongDType))
}

func TestStack(t *testing.T) {
	parts := []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2),
		tensors.FromFlatDataAndDimensions([]int32{3, 4}, 2),
		tensors.FromFlatDataAndDimensions([]int32{5, 6}, 2),
	}
	stacked, err := tensors.Stack(parts)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, stacked.Shape().Dimensions)
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, tensors.MustCopyFlatData[int32](stacked))

	_, err = tensors.Stack(nil)
	require.Error(t, err)
	_, err = tensors.Stack([]*tensors.Tensor{parts[0], tensors.FromFlatDataAndDimensions([]int32{1}, 1)})
	require.Error(t, err)
}
