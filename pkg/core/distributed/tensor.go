// Package distributed defines the objects describing cross-device data placement:
//
//   - DeviceMesh: the logical topology of a set of devices, in terms of axes and their sizes.
//   - Topology: the process (host) each mesh device is attached to.
//   - ShardSpec: how a logical tensor is sharded across a DeviceMesh.
//   - ShardIndices: for every device, the slice of the global tensor it owns.
//   - Tensor: a logical tensor distributed across multiple devices organized as a DeviceMesh.
package distributed

import (
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/gomlx/meshdata/pkg/core/tensors"
	"github.com/gomlx/meshdata/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Tensor is a logical tensor distributed across multiple devices organized as
// a DeviceMesh.
//
// It holds the physical tensor shards (one per device) and the sharding
// specification as a ShardSpec. On a multi-process run each process holds only
// the shards of its locally attached devices; the logical value is the union
// of all shards across processes.
//
// Tensors are created fresh on every pipeline pull and are not reused.
type Tensor struct {
	// mesh is the DeviceMesh this tensor is distributed on.
	mesh *DeviceMesh

	// spec defines how this tensor is sharded across the mesh.
	spec *ShardSpec

	// globalShape is the declared logical shape of the whole tensor.
	globalShape shapes.Shape

	// shards holds the physical tensor data per device.
	// The map key is the device's global ordinal index (0 to NumDevices-1).
	shards map[int]*tensors.Tensor
}

// NewTensor creates a distributed Tensor from per-device shards.
//
// shards may cover only a subset of the mesh devices (the locally attached
// ones); it cannot be empty.
func NewTensor(mesh *DeviceMesh, spec *ShardSpec, globalShape shapes.Shape, shards map[int]*tensors.Tensor) (*Tensor, error) {
	if spec == nil {
		spec = NewReplicatedShardSpec(mesh)
	}
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid ShardSpec")
	}
	if len(shards) == 0 {
		return nil, errors.New("distributed.NewTensor: no shards given")
	}
	for device, shard := range shards {
		if device < 0 || device >= mesh.NumDevices() {
			return nil, errors.Errorf("shard device ordinal %d out of range for %s", device, mesh)
		}
		if shard == nil {
			return nil, errors.Errorf("shard for device %d is nil", device)
		}
		if shard.DType() != globalShape.DType {
			return nil, errors.Errorf("shard for device %d has dtype %s, global shape is %s",
				device, shard.DType(), globalShape)
		}
		if shard.Rank() != globalShape.Rank() {
			return nil, errors.Errorf("shard for device %d has shape %s, rank differs from global shape %s",
				device, shard.Shape(), globalShape)
		}
	}
	return &Tensor{
		mesh:        mesh,
		spec:        spec,
		globalShape: globalShape.Clone(),
		shards:      shards,
	}, nil
}

// Mesh returns the DeviceMesh for this tensor.
func (dt *Tensor) Mesh() *DeviceMesh { return dt.mesh }

// ShardSpec returns the sharding specification for this tensor.
func (dt *Tensor) ShardSpec() *ShardSpec { return dt.spec }

// GlobalShape returns the declared logical shape of the whole tensor.
func (dt *Tensor) GlobalShape() shapes.Shape { return dt.globalShape }

// Shards returns the map of physical tensor shards, keyed by device ordinal.
func (dt *Tensor) Shards() map[int]*tensors.Tensor { return dt.shards }

// Shard returns the physical tensor held for the given device, or nil if this
// process doesn't hold it.
func (dt *Tensor) Shard(device int) *tensors.Tensor { return dt.shards[device] }

// Devices returns the ordinals of the devices whose shards this process holds,
// in ascending order.
func (dt *Tensor) Devices() []int {
	return xslices.SortedKeys(dt.shards)
}

// Reassemble reconstructs the logical (unsharded) tensor from the shards held,
// placing each device's batch rows at its global batch interval.
//
// Every batch row of the global shape must be covered by some held shard,
// otherwise it returns an error (on a multi-process run only the process
// holding all the shards of a replica group can reassemble). Devices holding
// the same interval must hold it replicated; later devices (in ascending
// ordinal order) overwrite earlier ones, which is lossless by the sharding
// invariant. Non-batch axes must not be partitioned.
func (dt *Tensor) Reassemble() (*tensors.Tensor, error) {
	intervals, err := ShardIndices(dt.globalShape, dt.spec, dt.mesh)
	if err != nil {
		return nil, err
	}
	global := tensors.FromShape(dt.globalShape)
	batchSize := dt.globalShape.Dim(0)
	covered := make([]bool, batchSize)
	for _, device := range dt.Devices() {
		shard := dt.shards[device]
		perAxis := intervals[device]
		for axis := 1; axis < dt.globalShape.Rank(); axis++ {
			if perAxis[axis].Start != 0 || perAxis[axis].Stop != dt.globalShape.Dim(axis) {
				return nil, errors.Errorf(
					"Reassemble: device %d owns %s of non-batch axis %d, only batch-axis sharding is supported",
					device, perAxis[axis], axis)
			}
		}
		batch := perAxis[0]
		if shard.Shape().Dim(0) != batch.Size() {
			return nil, errors.Errorf("Reassemble: device %d shard has %d batch rows, its interval %s needs %d",
				device, shard.Shape().Dim(0), batch, batch.Size())
		}
		if err := global.SetRows(batch.Start, shard); err != nil {
			return nil, err
		}
		for row := batch.Start; row < batch.Stop; row++ {
			covered[row] = true
		}
	}
	for row, ok := range covered {
		if !ok {
			return nil, errors.Errorf("Reassemble: batch row %d of %s is not covered by any held shard",
				row, dt.globalShape)
		}
	}
	return global, nil
}
