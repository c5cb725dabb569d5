package distributed

import (
	"github.com/pkg/errors"
)

// ShardSpec (also known as PartitionSpec in JAX) defines how a logical tensor is sharded
// (partitioned) across a DeviceMesh.
//
// The definition is per axis of the logical tensor -- and not per axis of the Mesh, a common confusion.
// If not all axes of the tensor are defined, the tail axes are considered simply to be replicated across the whole
// mesh.
//
// Each tensor axis can be replicated or sharded across one or more mesh axes.
//
// Example:
//
//	mesh, _ := NewDeviceMesh([]int{2, 2}, []string{"data", "worker"})
//
//	// Batch axis sharded across both the "data" and "worker" axes of the mesh,
//	// remaining axes replicated.
//	inputsSpec, _ := BuildSpec(mesh).S("data", "worker").R().Done()
//
//	// Fully replicated.
//	maskSpec := NewReplicatedShardSpec(mesh)
type ShardSpec struct {
	Mesh *DeviceMesh
	Axes []AxisSpec
}

// AxisSpec specifies how a tensor axis is to be sharded (or replicated).
// See details in ShardSpec.
//
// It's a list of mesh axes names, in order. An empty list means the axis is replicated.
type AxisSpec []string

// ReplicatedAxis is a special AxisSpec that means the tensor axis is replicated.
var ReplicatedAxis = AxisSpec(nil)

// NewShardSpec creates a new ShardSpec for a tensor, defined over the given mesh axes.
//
// It takes an axisSpec for each axis of the tensor (omitted axes are assumed to be replicated).
//
// There is also the BuildSpec function for a more ergonomic spec creation.
func NewShardSpec(mesh *DeviceMesh, axisSpec ...AxisSpec) (*ShardSpec, error) {
	s := &ShardSpec{mesh, axisSpec}
	err := s.Validate()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewReplicatedShardSpec creates a new ShardSpec that is replicated across all mesh axes.
// It's the simplest sharding spec.
func NewReplicatedShardSpec(mesh *DeviceMesh) *ShardSpec {
	return &ShardSpec{mesh, nil}
}

// Validate the spec returning an error if something is invalid.
func (s *ShardSpec) Validate() error {
	if s.Mesh == nil {
		return errors.New("ShardSpec has no mesh")
	}
	meshAxesUsed := make(map[string]bool)
	for axisIdx, tensorAxisSpec := range s.Axes {
		for _, axisName := range tensorAxisSpec {
			if _, ok := s.Mesh.nameToAxis[axisName]; !ok {
				return errors.Errorf("ShardSpec axis #%d refers to unknown mesh axis %q", axisIdx, axisName)
			}
			if meshAxesUsed[axisName] {
				return errors.Errorf("mesh axis %q used more than once in ShardSpec", axisName)
			}
			meshAxesUsed[axisName] = true
		}
	}
	return nil
}

// Rank returns the number of tensor axes this ShardSpec describes.
// It may be smaller than the rank of the tensor using it: tail axes are replicated.
func (s *ShardSpec) Rank() int {
	return len(s.Axes)
}

// IsReplicated returns true if the tensor is fully replicated
// (i.e., not sharded along any axis).
func (s *ShardSpec) IsReplicated() bool {
	for _, meshAxes := range s.Axes {
		if len(meshAxes) > 0 {
			return false
		}
	}
	return true
}

// NumDevicesShardingAxis returns the number of shards the given tensor axis is split into:
// the product of the sizes of the mesh axes sharding it. If the axis is replicated, it returns 1.
//
// Notice this is about the tensor axis, not the mesh axis. A tensor axis can be sharded across multiple mesh axes.
func (s *ShardSpec) NumDevicesShardingAxis(axis int) int {
	if axis >= len(s.Axes) {
		return 1 // Replicated.
	}
	meshAxes := s.Axes[axis]
	if len(meshAxes) == 0 {
		return 1 // Replicated.
	}
	size := 1
	for _, meshAxis := range meshAxes {
		size *= s.Mesh.axesSizes[s.Mesh.nameToAxis[meshAxis]]
	}
	return size
}

// String returns a human-readable string representation of the ShardSpec.
// Returns "ShardSpec<nil>" if s is nil.
func (s *ShardSpec) String() string {
	if s == nil {
		return "ShardSpec<nil>"
	}
	if len(s.Axes) == 0 {
		return "ShardSpec{mesh=" + s.Mesh.name + ", axes=[]}"
	}
	result := "ShardSpec{mesh=" + s.Mesh.name + ", axes=["
	for i, axisSpec := range s.Axes {
		if i > 0 {
			result += ", "
		}
		if len(axisSpec) == 0 {
			result += "R"
		} else {
			result += "S("
			for j, meshAxis := range axisSpec {
				if j > 0 {
					result += ","
				}
				result += meshAxis
			}
			result += ")"
		}
	}
	result += "]}"
	return result
}

// SpecBuilder is a more ergonomic way of building ShardSpec.
type SpecBuilder struct {
	spec *ShardSpec
}

// BuildSpec is a more ergonomic way of building ShardSpec.
//
// Example:
//
//	spec, err := distributed.BuildSpec(mesh).S("data", "worker").R().Done()
func BuildSpec(mesh *DeviceMesh) *SpecBuilder {
	return &SpecBuilder{spec: &ShardSpec{Mesh: mesh}}
}

// R adds a replicated axis to the ShardSpec being built.
func (b *SpecBuilder) R() *SpecBuilder {
	b.spec.Axes = append(b.spec.Axes, ReplicatedAxis)
	return b
}

// S adds a sharded axis along the meshAxes to the ShardSpec being built.
func (b *SpecBuilder) S(meshAxes ...string) *SpecBuilder {
	b.spec.Axes = append(b.spec.Axes, meshAxes)
	return b
}

// Done builds the ShardSpec according to the builder specification.
func (b *SpecBuilder) Done() (*ShardSpec, error) {
	err := b.spec.Validate()
	if err != nil {
		return nil, err
	}
	return b.spec, nil
}
