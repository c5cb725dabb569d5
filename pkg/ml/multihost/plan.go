package multihost

import (
	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/gomlx/meshdata/pkg/core/trees"
	"github.com/gomlx/meshdata/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Plan is the complete, deterministic per-cluster loading plan: which dataset
// shard each process reads, how many distinct shards exist, and how the local
// process carves its loaded buffer into per-device slices.
//
// Every process computes an identical Plan from the globally known inputs
// (shapes, specs, mesh, topology) -- no communication is involved. A Plan is
// computed once per pipeline construction and is read-only afterwards.
type Plan struct {
	Mesh     *distributed.DeviceMesh
	Topology *distributed.Topology

	// BatchSize is the global batch dimension shared by all leaves.
	BatchSize int

	// NumShards is the number of distinct dataset shards needed cluster-wide.
	NumShards int

	// ProcessShard maps each process id to the shard index it reads.
	// Processes with no devices have no entry.
	ProcessShard map[int]int

	// LocalShard is the shard index of the local process, or -1 if it has no
	// devices.
	LocalShard int

	// LocalBufferSize is the number of examples the local process loads per
	// step: the sum of the sizes of the distinct intervals its devices need.
	LocalBufferSize int

	// DeviceLocal maps each local device ordinal to its sub-slice of the local
	// buffer. Devices needing the same global interval share a sub-slice.
	DeviceLocal map[int]distributed.Interval

	// batchIntervals is the representative per-device batch interval
	// assignment all batch-sharded leaves share.
	batchIntervals []distributed.Interval
}

// ComputePlan derives the loading plan for the given example structure.
//
// globalShapes declares the global (batched) shape of every leaf and specs how
// each leaf is sharded over mesh. The two trees must have the same structure.
// It validates, resolves the per-device slice of every leaf, deduplicates the
// per-host requirements into shards and lays out the local buffer. Pure: no
// data is read.
func ComputePlan(
	globalShapes *trees.Tree[shapes.Shape],
	specs *trees.Tree[*distributed.ShardSpec],
	mesh *distributed.DeviceMesh,
	topology *distributed.Topology,
) (*Plan, error) {
	if err := trees.SameStructure(globalShapes, specs); err != nil {
		return nil, errors.WithMessagef(ErrStructuralMismatch, "%v", err)
	}
	if globalShapes.NumLeaves() == 0 {
		return nil, errors.WithMessage(ErrStructuralMismatch, "example structure has no leaves")
	}
	if topology.NumDevices() != mesh.NumDevices() {
		return nil, errors.WithMessagef(ErrShardCountMismatch,
			"topology has %d devices but %s has %d", topology.NumDevices(), mesh, mesh.NumDevices())
	}

	// All leaves must agree on the batch dimension.
	batchSize := globalShapes.Leaves()[0].Dim(0)
	for i, name := range globalShapes.Names() {
		shape := globalShapes.Leaves()[i]
		if shape.Rank() == 0 {
			return nil, errors.WithMessagef(ErrStructuralMismatch,
				"leaf %q has scalar shape %s, every leaf needs a batch axis", name, shape)
		}
		if shape.Dim(0) != batchSize {
			return nil, errors.WithMessagef(ErrStructuralMismatch,
				"leaf %q has batch dimension %d, leaf %q has %d -- all batch axes must be equal",
				name, shape.Dim(0), globalShapes.Names()[0], batchSize)
		}
	}

	// Resolve per-device intervals per leaf, and find the representative
	// batch assignment that all batch-sharded leaves must share.
	localDevices := topology.LocalDevices()
	var batchIntervals []distributed.Interval
	var representative string
	for i, name := range globalShapes.Names() {
		shape := globalShapes.Leaves()[i]
		spec := specs.Leaves()[i]
		leafIntervals, err := distributed.ShardIndices(shape, spec, mesh)
		if err != nil {
			return nil, errors.WithMessagef(err, "resolving shards of leaf %q", name)
		}

		// Partitioning along non-batch axes defeats the contiguous local
		// buffer layout, so it is rejected rather than silently mishandled.
		for _, device := range localDevices {
			for axis := 1; axis < shape.Rank(); axis++ {
				interval := leafIntervals[device][axis]
				if interval.Start != 0 || interval.Stop != shape.Dim(axis) {
					return nil, errors.WithMessagef(ErrUnsupportedSharding,
						"leaf %q (shape %s, spec %s): device %d owns %s of axis %d",
						name, shape, spec, device, interval, axis)
				}
			}
		}

		if spec.NumDevicesShardingAxis(0) == 1 {
			continue // Replicated on the batch axis, doesn't constrain the assignment.
		}
		leafBatch := make([]distributed.Interval, mesh.NumDevices())
		for device := range leafBatch {
			leafBatch[device] = leafIntervals.BatchInterval(device)
		}
		if batchIntervals == nil {
			batchIntervals = leafBatch
			representative = name
			continue
		}
		for device, interval := range leafBatch {
			if interval != batchIntervals[device] {
				return nil, errors.WithMessagef(ErrStructuralMismatch,
					"leaf %q assigns %s of the batch axis to device %d, leaf %q assigns %s -- "+
						"all batch-sharded leaves must share the same assignment",
					name, interval, device, representative, batchIntervals[device])
			}
		}
	}
	if batchIntervals == nil {
		// No leaf shards the batch axis: every device owns the full batch.
		batchIntervals = xslices.SliceWithValue(mesh.NumDevices(), distributed.Interval{Start: 0, Stop: batchSize})
	}

	processShard, numShards := UniqueShards(topology, batchIntervals)
	if numShards > topology.NumProcesses() {
		return nil, errors.WithMessagef(ErrShardCountMismatch,
			"%d distinct shards for %d processes", numShards, topology.NumProcesses())
	}

	plan := &Plan{
		Mesh:           mesh,
		Topology:       topology,
		BatchSize:      batchSize,
		NumShards:      numShards,
		ProcessShard:   processShard,
		LocalShard:     -1,
		batchIntervals: batchIntervals,
	}
	if len(localDevices) > 0 {
		plan.LocalShard = processShard[topology.LocalProcess()]
		plan.DeviceLocal, plan.LocalBufferSize = LocalLayout(localDevices, batchIntervals)
	}
	if klog.V(1).Enabled() {
		klog.Infof("multihost plan: batch=%d, %d shard(s) for %d process(es), local process %d reads shard %d "+
			"with buffer of %d example(s) across %d device(s)",
			plan.BatchSize, plan.NumShards, topology.NumProcesses(), topology.LocalProcess(),
			plan.LocalShard, plan.LocalBufferSize, len(localDevices))
	}
	return plan, nil
}

// LocalDeviceInterval returns the local-buffer sub-slice assigned to the given
// local device.
func (p *Plan) LocalDeviceInterval(device int) (distributed.Interval, bool) {
	interval, found := p.DeviceLocal[device]
	return interval, found
}
