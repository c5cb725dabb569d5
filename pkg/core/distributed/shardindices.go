package distributed

import (
	"fmt"

	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Interval is a half-open index range [Start, Stop) along one tensor axis.
type Interval struct {
	Start, Stop int
}

// Size returns the number of indices in the interval.
func (i Interval) Size() int { return i.Stop - i.Start }

// String implements fmt.Stringer.
func (i Interval) String() string { return fmt.Sprintf("[%d, %d)", i.Start, i.Stop) }

// DeviceIntervals holds, for each device ordinal of a mesh, the per-axis
// Interval of the global tensor that the device owns. First index is the device
// ordinal, second is the tensor axis.
type DeviceIntervals [][]Interval

// ShardIndices computes, for every device in the mesh, the slice of the global
// tensor it owns under the given ShardSpec.
//
// For a replicated tensor axis every device gets the full range [0, dim). For a
// sharded axis, the device's block is selected by its mesh coordinates along
// the sharding mesh axes, combined row-major in the order they appear in the
// AxisSpec. The dimension must be evenly divisible by the number of shards.
//
// It is a pure function of its inputs: every process computes identical results
// from the globally known shape, spec and mesh.
func ShardIndices(shape shapes.Shape, spec *ShardSpec, mesh *DeviceMesh) (DeviceIntervals, error) {
	if spec == nil {
		spec = NewReplicatedShardSpec(mesh)
	}
	if spec.Mesh != mesh {
		return nil, errors.Errorf("ShardSpec is defined over mesh %q, not over %s", spec.Mesh.name, mesh)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.Rank() > shape.Rank() {
		return nil, errors.Errorf("ShardSpec %s has more axes (%d) than tensor shape %s",
			spec, spec.Rank(), shape)
	}
	for axis := range spec.Axes {
		numShards := spec.NumDevicesShardingAxis(axis)
		if shape.Dim(axis)%numShards != 0 {
			return nil, errors.Errorf(
				"tensor axis %d of %s has dimension %d, not divisible by its %d shards (spec %s)",
				axis, shape, shape.Dim(axis), numShards, spec)
		}
	}

	intervals := make(DeviceIntervals, mesh.NumDevices())
	for device := 0; device < mesh.NumDevices(); device++ {
		coords, err := mesh.Coordinates(device)
		if err != nil {
			return nil, err
		}
		perAxis := make([]Interval, shape.Rank())
		for axis := 0; axis < shape.Rank(); axis++ {
			dim := shape.Dim(axis)
			var meshAxes AxisSpec
			if axis < len(spec.Axes) {
				meshAxes = spec.Axes[axis]
			}
			if len(meshAxes) == 0 {
				perAxis[axis] = Interval{0, dim} // Replicated.
				continue
			}
			// Combined shard position: the mesh axes in the AxisSpec are
			// treated as one flattened axis, in order, first axis slowest.
			pos := 0
			numShards := 1
			for _, meshAxis := range meshAxes {
				axisIdx := mesh.nameToAxis[meshAxis]
				pos = pos*mesh.axesSizes[axisIdx] + coords[axisIdx]
				numShards *= mesh.axesSizes[axisIdx]
			}
			block := dim / numShards
			perAxis[axis] = Interval{pos * block, (pos + 1) * block}
		}
		intervals[device] = perAxis
	}
	return intervals, nil
}

// BatchInterval returns the batch-axis (axis 0) interval of the given device.
func (di DeviceIntervals) BatchInterval(device int) Interval {
	return di[device][0]
}
