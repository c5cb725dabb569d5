package distributed_test

import (
	"testing"

	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceMesh(t *testing.T) {
	t.Run("NewDeviceMesh_Valid", func(t *testing.T) {
		tests := []struct {
			name      string
			sizes     []int
			axisNames []string
			wantRank  int
			wantNum   int
		}{
			{
				name:      "1D mesh",
				sizes:     []int{8},
				axisNames: []string{"data"},
				wantRank:  1,
				wantNum:   8,
			},
			{
				name:      "2D mesh",
				sizes:     []int{2, 4},
				axisNames: []string{"data", "worker"},
				wantRank:  2,
				wantNum:   8,
			},
			{
				name:      "3D mesh",
				sizes:     []int{2, 2, 2},
				axisNames: []string{"x", "y", "z"},
				wantRank:  3,
				wantNum:   8,
			},
			{
				name:      "single device",
				sizes:     []int{1},
				axisNames: []string{"data"},
				wantRank:  1,
				wantNum:   1,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mesh, err := distributed.NewDeviceMesh(tt.sizes, tt.axisNames)
				require.NoError(t, err)
				assert.Equal(t, tt.wantRank, mesh.Rank())
				assert.Equal(t, tt.wantNum, mesh.NumDevices())
				assert.Equal(t, tt.axisNames, mesh.AxesNames())
				assert.Equal(t, tt.sizes, mesh.AxesSizes())
			})
		}
	})

	t.Run("NewDeviceMesh_Errors", func(t *testing.T) {
		_, err := distributed.NewDeviceMesh([]int{2}, []string{"a", "b"})
		require.Error(t, err)
		_, err = distributed.NewDeviceMesh(nil, nil)
		require.Error(t, err)
		_, err = distributed.NewDeviceMesh([]int{2, 2}, []string{"data", "data"})
		require.Error(t, err)
		_, err = distributed.NewDeviceMesh([]int{2}, []string{"1data"})
		require.Error(t, err)
		_, err = distributed.NewDeviceMesh([]int{0}, []string{"data"})
		require.Error(t, err)
	})

	t.Run("AxisSize", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2, 4}, []string{"data", "worker"})
		require.NoError(t, err)
		size, err := mesh.AxisSize("worker")
		require.NoError(t, err)
		assert.Equal(t, 4, size)
		_, err = mesh.AxisSize("model")
		require.Error(t, err)
	})

	t.Run("Coordinates", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh([]int{2, 3}, []string{"data", "worker"})
		require.NoError(t, err)
		// Row-major: the last axis varies fastest.
		wantCoords := [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
		for device, want := range wantCoords {
			coords, err := mesh.Coordinates(device)
			require.NoError(t, err)
			assert.Equal(t, want, coords, "device %d", device)
		}
		_, err = mesh.Coordinates(6)
		require.Error(t, err)
		_, err = mesh.Coordinates(-1)
		require.Error(t, err)
	})
}

func TestComputeReplicaGroups(t *testing.T) {
	mesh, err := distributed.NewDeviceMesh([]int{2, 2}, []string{"batch", "data"})
	require.NoError(t, err)

	batchGroups, err := mesh.ComputeReplicaGroups([]string{"batch"})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 2}, {1, 3}}, batchGroups)

	dataGroups, err := mesh.ComputeReplicaGroups([]string{"data"})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, dataGroups)

	globalGroups, err := mesh.ComputeReplicaGroups([]string{"batch", "data"})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0, 1, 2, 3}}, globalGroups)

	_, err = mesh.ComputeReplicaGroups([]string{"unknown"})
	require.Error(t, err)
	_, err = mesh.ComputeReplicaGroups([]string{"data", "data"})
	require.Error(t, err)
}

func TestTopology(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		topology, err := distributed.NewTopology(1, 2, []int{0, 0, 1, 1})
		require.NoError(t, err)
		assert.Equal(t, 2, topology.NumProcesses())
		assert.Equal(t, 4, topology.NumDevices())
		assert.Equal(t, 1, topology.LocalProcess())
		assert.Equal(t, []int{0, 1}, topology.Devices(0))
		assert.Equal(t, []int{2, 3}, topology.LocalDevices())
		process, err := topology.Process(2)
		require.NoError(t, err)
		assert.Equal(t, 1, process)
		_, err = topology.Process(4)
		require.Error(t, err)
	})

	t.Run("EmptyProcess", func(t *testing.T) {
		topology, err := distributed.NewTopology(2, 3, []int{0, 0, 1, 1})
		require.NoError(t, err)
		assert.Empty(t, topology.LocalDevices())
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := distributed.NewTopology(0, 0, []int{0})
		require.Error(t, err)
		_, err = distributed.NewTopology(2, 2, []int{0, 1})
		require.Error(t, err)
		_, err = distributed.NewTopology(0, 2, nil)
		require.Error(t, err)
		_, err = distributed.NewTopology(0, 2, []int{0, 2})
		require.Error(t, err)
	})
}
