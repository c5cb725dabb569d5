// Package multihost builds per-host data pipelines for device meshes.
//
// On a cluster where each process ("host") drives a disjoint set of devices of
// one global DeviceMesh, every global batch is distributed: each device owns a
// slice of it, dictated by the per-leaf ShardSpec. This package computes, with
// zero cross-host communication, which part of the upstream dataset each host
// must read so that no host reads the whole dataset and hosts needing
// identical data share one shard; then it streams host-local batches carved
// into per-device buffers, assembled as distributed.Tensor values.
//
// The three building blocks -- distributed.ShardIndices, UniqueShards and
// LocalLayout -- are pure functions of globally known values (shapes, specs,
// mesh, topology), so all hosts independently agree on the plan. Pipeline
// glues them onto a datasets.Dataset.
package multihost

import (
	"fmt"
	"io"

	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/gomlx/meshdata/pkg/core/tensors"
	"github.com/gomlx/meshdata/pkg/core/trees"
	"github.com/gomlx/meshdata/pkg/ml/datasets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config configures a Pipeline before Build. Create it with New, adjust the
// options and call Build.
type Config struct {
	ds           datasets.Dataset
	globalShapes *trees.Tree[shapes.Shape]
	specs        *trees.Tree[*distributed.ShardSpec]
	mesh         *distributed.DeviceMesh
	topology     *distributed.Topology

	remainder datasets.RemainderPolicy
	epochs    int
}

// New starts the configuration of a per-host Pipeline over the given dataset.
//
//   - ds: upstream dataset of unbatched examples; every example is a tree of
//     named leaf tensors matching the structure of globalShapes.
//   - globalShapes: the declared global (batched) shape per leaf; axis 0 is
//     the batch axis.
//   - specs: how each leaf is sharded over mesh.
//   - mesh, topology: the cluster layout, identical on every process.
//
// Defaults: infinite repeat (Epochs(0)) and RemainderDrop. Call Build to
// construct the Pipeline.
func New(
	ds datasets.Dataset,
	globalShapes *trees.Tree[shapes.Shape],
	specs *trees.Tree[*distributed.ShardSpec],
	mesh *distributed.DeviceMesh,
	topology *distributed.Topology,
) *Config {
	return &Config{
		ds:           ds,
		globalShapes: globalShapes,
		specs:        specs,
		mesh:         mesh,
		topology:     topology,
		remainder:    datasets.RemainderDrop,
	}
}

// Remainder sets the policy for a final short local batch. Default is
// datasets.RemainderDrop.
func (c *Config) Remainder(policy datasets.RemainderPolicy) *Config {
	c.remainder = policy
	return c
}

// Epochs sets how many times the underlying shard is iterated: n == 1 is
// single-pass (exhaustion surfaces as io.EOF), n > 1 iterates n times, and
// n <= 0 repeats forever. Default is 0 (repeat forever).
func (c *Config) Epochs(n int) *Config {
	c.epochs = n
	return c
}

// Build validates the configuration, computes the Plan and returns the
// streaming Pipeline.
//
// Build pulls one example from the dataset to validate its structure against
// the declared shapes (the example is re-delivered by the pipeline, nothing is
// lost). All configuration errors -- ErrStructuralMismatch,
// ErrUnsupportedSharding, ErrShardCountMismatch -- are detected here, before
// any data is read for training; no partial Pipeline is returned on error.
func (c *Config) Build() (*Pipeline, error) {
	example, err := c.ds.Yield()
	if err != nil {
		return nil, errors.WithMessagef(err, "pulling one example from %q to validate the pipeline structure", c.ds.Name())
	}
	if err := c.validateExample(example); err != nil {
		return nil, err
	}

	plan, err := ComputePlan(c.globalShapes, c.specs, c.mesh, c.topology)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		name:         fmt.Sprintf("multihost(%s)", c.ds.Name()),
		plan:         plan,
		globalShapes: c.globalShapes,
		specs:        c.specs,
	}
	if plan.LocalShard < 0 {
		klog.Warningf("process %d has no local devices: %s will yield no data",
			c.topology.LocalProcess(), p.name)
		return p, nil
	}

	// The validated example is element 0 of the stream; re-deliver it so the
	// round-robin shard partition is computed over the full sequence.
	source := prepend(example, c.ds)
	sharded := datasets.Shard(source, plan.NumShards, plan.LocalShard)
	batched := datasets.Batch(sharded, plan.LocalBufferSize, c.remainder)
	if c.epochs == 1 {
		p.source = batched
	} else {
		p.source = datasets.Repeat(batched, c.epochs)
	}
	return p, nil
}

// validateExample checks one raw (unbatched) example against the declared
// global shapes: same tree structure, and per leaf the same dtype and the
// global dimensions minus the batch axis.
func (c *Config) validateExample(example datasets.Example) error {
	if err := trees.SameStructure(example, c.globalShapes); err != nil {
		return errors.WithMessagef(ErrStructuralMismatch, "%v", err)
	}
	for i, name := range c.globalShapes.Names() {
		declared := c.globalShapes.Leaves()[i]
		leaf := example.Leaves()[i]
		if leaf.DType() != declared.DType {
			return errors.WithMessagef(ErrStructuralMismatch,
				"leaf %q has dtype %s, declared global shape is %s", name, leaf.DType(), declared)
		}
		if leaf.Rank() != declared.Rank()-1 {
			return errors.WithMessagef(ErrStructuralMismatch,
				"leaf %q has shape %s, expected the declared global shape %s minus its batch axis",
				name, leaf.Shape(), declared)
		}
		for axis := 0; axis < leaf.Rank(); axis++ {
			if leaf.Shape().Dim(axis) != declared.Dim(axis+1) {
				return errors.WithMessagef(ErrStructuralMismatch,
					"leaf %q has shape %s, expected the declared global shape %s minus its batch axis",
					name, leaf.Shape(), declared)
			}
		}
	}
	return nil
}

// Pipeline is the streaming side of a built per-host pipeline: a pull-based
// sequence of trees of distributed tensors.
//
// A Pipeline never goes back to configuring: the plan and the source chain are
// fixed at Build. It is driven from a single goroutine; the only blocking
// point is pulling from the underlying dataset.
type Pipeline struct {
	name         string
	plan         *Plan
	globalShapes *trees.Tree[shapes.Shape]
	specs        *trees.Tree[*distributed.ShardSpec]

	// source is the host-local chain (shard -> batch -> repeat); nil when the
	// local process has no devices.
	source datasets.Dataset
}

// Name identifies the pipeline.
func (p *Pipeline) Name() string { return p.name }

// Plan returns the computed loading plan. Read-only.
func (p *Pipeline) Plan() *Plan { return p.plan }

// Next pulls the next host-local batch and assembles it into one
// distributed.Tensor per leaf, carved per local device.
//
// It returns io.EOF when the underlying shard is exhausted and the epoch
// policy allows no further iteration (or when this process has no devices).
// Buffering beyond the one in-flight element must not be assumed.
func (p *Pipeline) Next() (*trees.Tree[*distributed.Tensor], error) {
	if p.source == nil {
		return nil, io.EOF
	}
	batch, err := p.source.Yield()
	if err != nil {
		return nil, err
	}
	out := trees.New[*distributed.Tensor]()
	for i, name := range p.globalShapes.Names() {
		leaf := batch.Leaves()[i]
		if leaf.Shape().Dim(0) != p.plan.LocalBufferSize {
			return nil, errors.Errorf("pipeline %q: leaf %q batch has %d rows, local buffer needs %d",
				p.name, name, leaf.Shape().Dim(0), p.plan.LocalBufferSize)
		}
		// Devices sharing a local interval share the same buffer.
		byInterval := make(map[distributed.Interval]*tensors.Tensor)
		shards := make(map[int]*tensors.Tensor, len(p.plan.DeviceLocal))
		for device, interval := range p.plan.DeviceLocal {
			buffer, found := byInterval[interval]
			if !found {
				buffer, err = leaf.Rows(interval.Start, interval.Stop)
				if err != nil {
					return nil, errors.WithMessagef(err, "carving leaf %q for device %d", name, device)
				}
				byInterval[interval] = buffer
			}
			shards[device] = buffer
		}
		dt, err := distributed.NewTensor(p.plan.Mesh, p.specs.Leaves()[i], p.globalShapes.Leaves()[i], shards)
		if err != nil {
			return nil, errors.WithMessagef(err, "assembling leaf %q", name)
		}
		out.Add(name, dt)
	}
	return out, nil
}

// prependDataset re-delivers one already-pulled example before continuing with
// the underlying dataset.
type prependDataset struct {
	first datasets.Example
	used  bool
	ds    datasets.Dataset
}

func prepend(first datasets.Example, ds datasets.Dataset) datasets.Dataset {
	return &prependDataset{first: first, ds: ds}
}

// Name implements datasets.Dataset.
func (ds *prependDataset) Name() string { return ds.ds.Name() }

// Reset implements datasets.Dataset. After a successful reset the underlying
// dataset replays its full sequence, including the prepended example, so the
// stored copy is not re-delivered.
func (ds *prependDataset) Reset() error {
	if err := ds.ds.Reset(); err != nil {
		return err
	}
	ds.used = true
	return nil
}

// Yield implements datasets.Dataset.
func (ds *prependDataset) Yield() (datasets.Example, error) {
	if !ds.used {
		ds.used = true
		return ds.first, nil
	}
	return ds.ds.Yield()
}
