package multihost_test

import (
	"io"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/gomlx/meshdata/pkg/core/tensors"
	"github.com/gomlx/meshdata/pkg/core/trees"
	"github.com/gomlx/meshdata/pkg/ml/datasets"
	"github.com/gomlx/meshdata/pkg/ml/multihost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSequenceDataset builds a restartable dataset of n examples with one
// "inputs" leaf of shape [rowLen]; example i holds rows filled with the value i.
func newSequenceDataset(n, rowLen int) datasets.Dataset {
	examples := make([]datasets.Example, n)
	for i := range examples {
		row := make([]int32, rowLen)
		for j := range row {
			row[j] = int32(i)
		}
		examples[i] = trees.New[*tensors.Tensor]().
			Add("inputs", tensors.FromFlatDataAndDimensions(row, rowLen))
	}
	return datasets.InMemory("sequence", examples...)
}

func TestPipeline(t *testing.T) {
	t.Run("TwoHostsRoundTrip", func(t *testing.T) {
		// 1D mesh of 4 devices on 2 hosts, global batch 8 over 8 examples.
		// Running both hosts' pipelines and merging their shards must
		// reassemble a full global batch: host 0 reads elements 0,2,4,6 and
		// host 1 reads 1,3,5,7, so the global row order is
		// [0 2 4 6 1 3 5 7].
		mesh, err := distributed.NewDeviceMesh([]int{4}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShape := shapes.Make(dtypes.Int32, 8, 2)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", globalShape)
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)

		merged := make(map[int]*tensors.Tensor)
		for process := 0; process < 2; process++ {
			topology, err := distributed.NewTopology(process, 2, []int{0, 0, 1, 1})
			require.NoError(t, err)
			pipeline, err := multihost.New(newSequenceDataset(8, 2), globalShapes, specs, mesh, topology).
				Epochs(1).Build()
			require.NoError(t, err)
			assert.Equal(t, 2, pipeline.Plan().NumShards)
			assert.Equal(t, 4, pipeline.Plan().LocalBufferSize)

			batch, err := pipeline.Next()
			require.NoError(t, err)
			leaf, found := batch.Get("inputs")
			require.True(t, found)
			for device, shard := range leaf.Shards() {
				merged[device] = shard
			}
		}

		dt, err := distributed.NewTensor(mesh, spec, globalShape, merged)
		require.NoError(t, err)
		global, err := dt.Reassemble()
		require.NoError(t, err)
		assert.Equal(t, []int32{
			0, 0, 2, 2, 4, 4, 6, 6,
			1, 1, 3, 3, 5, 5, 7, 7,
		}, tensors.MustCopyFlatData[int32](global))
	})

	t.Run("SinglePassExhaustion", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 4, 2))
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)
		topology, err := distributed.NewTopology(0, 1, []int{0, 0})
		require.NoError(t, err)

		pipeline, err := multihost.New(newSequenceDataset(8, 2), globalShapes, specs, mesh, topology).
			Epochs(1).Build()
		require.NoError(t, err)
		// 8 elements, one shard, buffer of 4: exactly two pulls.
		for pull := 0; pull < 2; pull++ {
			_, err := pipeline.Next()
			require.NoError(t, err, "pull %d", pull)
		}
		_, err = pipeline.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("RepeatsForeverByDefault", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 4, 2))
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)
		topology, err := distributed.NewTopology(0, 1, []int{0, 0})
		require.NoError(t, err)

		pipeline, err := multihost.New(newSequenceDataset(4, 2), globalShapes, specs, mesh, topology).Build()
		require.NoError(t, err)
		// The 4-element source holds one buffer; pulls keep delivering.
		for pull := 0; pull < 5; pull++ {
			batch, err := pipeline.Next()
			require.NoError(t, err, "pull %d", pull)
			leaf, _ := batch.Get("inputs")
			shard := leaf.Shard(0)
			require.NotNil(t, shard)
			assert.Equal(t, []int32{0, 0, 1, 1}, tensors.MustCopyFlatData[int32](shard))
		}
	})

	t.Run("RemainderDrop", func(t *testing.T) {
		// 12 elements over 2 shards of 6, buffer of 5: one full local batch,
		// then the short remainder of 1 is dropped.
		mesh, err := distributed.NewDeviceMesh([]int{2}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 10, 2))
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)
		topology, err := distributed.NewTopology(0, 2, []int{0, 1})
		require.NoError(t, err)

		pipeline, err := multihost.New(newSequenceDataset(12, 2), globalShapes, specs, mesh, topology).
			Epochs(1).Build()
		require.NoError(t, err)
		require.Equal(t, 5, pipeline.Plan().LocalBufferSize)
		batch, err := pipeline.Next()
		require.NoError(t, err)
		leaf, _ := batch.Get("inputs")
		assert.Equal(t, []int32{0, 0, 2, 2, 4, 4, 6, 6, 8, 8},
			tensors.MustCopyFlatData[int32](leaf.Shard(0)))
		_, err = pipeline.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("SharedLocalBuffers", func(t *testing.T) {
		// Both local devices own the same global rows: they must share the
		// same physical shard.
		mesh, err := distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "model"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 8, 2))
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)
		// Host 0 holds devices 0,1: both at "data" coordinate 0.
		topology, err := distributed.NewTopology(0, 2, []int{0, 0, 1, 1})
		require.NoError(t, err)

		pipeline, err := multihost.New(newSequenceDataset(8, 2), globalShapes, specs, mesh, topology).Build()
		require.NoError(t, err)
		assert.Equal(t, 4, pipeline.Plan().LocalBufferSize)

		batch, err := pipeline.Next()
		require.NoError(t, err)
		leaf, _ := batch.Get("inputs")
		assert.Same(t, leaf.Shard(0), leaf.Shard(1))
	})

	t.Run("DevicelessHostYieldsNoData", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 4, 2))
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)
		topology, err := distributed.NewTopology(2, 3, []int{0, 1})
		require.NoError(t, err)

		pipeline, err := multihost.New(newSequenceDataset(4, 2), globalShapes, specs, mesh, topology).Build()
		require.NoError(t, err)
		assert.Equal(t, -1, pipeline.Plan().LocalShard)
		_, err = pipeline.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("BuildFailsFast", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		topology, err := distributed.NewTopology(0, 1, []int{0, 0})
		require.NoError(t, err)
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)

		t.Run("WrongLeafName", func(t *testing.T) {
			globalShapes := trees.New[shapes.Shape]().Add("tokens", shapes.Make(dtypes.Int32, 4, 2))
			badSpecs := trees.New[*distributed.ShardSpec]().Add("tokens", spec)
			_, err := multihost.New(newSequenceDataset(4, 2), globalShapes, badSpecs, mesh, topology).Build()
			require.ErrorIs(t, err, multihost.ErrStructuralMismatch)
		})

		t.Run("WrongRowLength", func(t *testing.T) {
			globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 4, 3))
			_, err := multihost.New(newSequenceDataset(4, 2), globalShapes, specs, mesh, topology).Build()
			require.ErrorIs(t, err, multihost.ErrStructuralMismatch)
		})

		t.Run("WrongDType", func(t *testing.T) {
			globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Float32, 4, 2))
			_, err := multihost.New(newSequenceDataset(4, 2), globalShapes, specs, mesh, topology).Build()
			require.ErrorIs(t, err, multihost.ErrStructuralMismatch)
		})

		t.Run("EmptySource", func(t *testing.T) {
			globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 4, 2))
			_, err := multihost.New(datasets.InMemory("empty"), globalShapes, specs, mesh, topology).Build()
			require.Error(t, err)
		})
	})

	t.Run("ValidationExampleIsRedelivered", func(t *testing.T) {
		// Build pulls one example to validate; the first Next must still see
		// element 0.
		mesh, err := distributed.NewDeviceMesh([]int{1}, []string{"data"})
		require.NoError(t, err)
		spec, err := distributed.BuildSpec(mesh).S("data").R().Done()
		require.NoError(t, err)
		globalShapes := trees.New[shapes.Shape]().Add("inputs", shapes.Make(dtypes.Int32, 2, 2))
		specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec)
		topology, err := distributed.NewTopology(0, 1, []int{0})
		require.NoError(t, err)

		pipeline, err := multihost.New(newSequenceDataset(4, 2), globalShapes, specs, mesh, topology).
			Epochs(1).Build()
		require.NoError(t, err)
		batch, err := pipeline.Next()
		require.NoError(t, err)
		leaf, _ := batch.Get("inputs")
		assert.Equal(t, []int32{0, 0, 1, 1}, tensors.MustCopyFlatData[int32](leaf.Shard(0)))
	})
}
