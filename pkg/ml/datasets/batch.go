package datasets

import (
	"fmt"
	"io"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/meshdata/pkg/core/tensors"
	"github.com/gomlx/meshdata/pkg/core/trees"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RemainderPolicy selects what Batch does with a final short batch, when the
// underlying dataset size is not a multiple of the batch size.
type RemainderPolicy int

const (
	// RemainderDrop drops the final short batch.
	RemainderDrop RemainderPolicy = iota

	// RemainderPad pads the final short batch with zero-valued examples up to
	// the batch size.
	RemainderPad
)

// String implements fmt.Stringer.
func (p RemainderPolicy) String() string {
	switch p {
	case RemainderDrop:
		return "drop"
	case RemainderPad:
		return "pad"
	}
	return fmt.Sprintf("RemainderPolicy(%d)", int(p))
}

// batchedDataset implements a Dataset that batches results from the underlying
// dataset. See details in Batch, the function used to create it.
type batchedDataset struct {
	ds        Dataset
	batchSize int
	policy    RemainderPolicy

	buffer []Example
	mu     sync.Mutex // Protects buffer.

	logPolicyOnce sync.Once
}

// Batch creates a dataset that batches `ds` into batches of exactly batchSize
// examples, stacking every leaf with a new leading (batch) axis.
//
// Every example yielded by `ds` must have the same structure and leaf shapes.
// The remainder policy is explicit: a final short batch is either dropped or
// zero-padded, never silently emitted short. The active policy is logged once
// the first time it takes effect.
func Batch(ds Dataset, batchSize int, policy RemainderPolicy) Dataset {
	if batchSize <= 0 {
		exceptions.Panicf("datasets.Batch(%q, batchSize=%d): batchSize must be > 0", ds.Name(), batchSize)
	}
	return &batchedDataset{
		ds:        ds,
		batchSize: batchSize,
		policy:    policy,
	}
}

// Name implements Dataset.
func (ds *batchedDataset) Name() string {
	return fmt.Sprintf("%s [Batch %d]", ds.ds.Name(), ds.batchSize)
}

// Reset implements Dataset.
func (ds *batchedDataset) Reset() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.buffer = ds.buffer[:0]
	return ds.ds.Reset()
}

// Yield implements Dataset.
func (ds *batchedDataset) Yield() (Example, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for len(ds.buffer) < ds.batchSize {
		example, err := ds.ds.Yield()
		if err == io.EOF {
			if len(ds.buffer) == 0 {
				return nil, io.EOF
			}
			return ds.lockedFinishShortBatch()
		}
		if err != nil {
			return nil, err
		}
		if len(ds.buffer) > 0 {
			if err := sameExampleShapes(ds.buffer[0], example); err != nil {
				return nil, errors.WithMessagef(err, "dataset %q yielded examples with varying shapes", ds.ds.Name())
			}
		}
		ds.buffer = append(ds.buffer, example)
	}
	return ds.lockedStackBuffer()
}

// lockedFinishShortBatch applies the remainder policy to a non-empty, short buffer.
// It must be called with ds.mu locked.
func (ds *batchedDataset) lockedFinishShortBatch() (Example, error) {
	missing := ds.batchSize - len(ds.buffer)
	ds.logPolicyOnce.Do(func() {
		klog.V(1).Infof("dataset %q: short final batch of %d examples, remainder policy %q",
			ds.ds.Name(), len(ds.buffer), ds.policy)
	})
	switch ds.policy {
	case RemainderDrop:
		ds.buffer = ds.buffer[:0]
		return nil, io.EOF
	case RemainderPad:
		zero, err := trees.Map(ds.buffer[0], func(name string, leaf *tensors.Tensor) (*tensors.Tensor, error) {
			return tensors.FromShape(leaf.Shape()), nil
		})
		if err != nil {
			return nil, err
		}
		for i := 0; i < missing; i++ {
			ds.buffer = append(ds.buffer, zero)
		}
		return ds.lockedStackBuffer()
	}
	return nil, errors.Errorf("unknown remainder policy %v", ds.policy)
}

// lockedStackBuffer stacks the buffered examples leaf-wise into one batched
// example and clears the buffer. It must be called with ds.mu locked.
func (ds *batchedDataset) lockedStackBuffer() (Example, error) {
	first := ds.buffer[0]
	batched := trees.New[*tensors.Tensor]()
	for i, name := range first.Names() {
		parts := make([]*tensors.Tensor, 0, len(ds.buffer))
		for _, example := range ds.buffer {
			parts = append(parts, example.Leaves()[i])
		}
		stacked, err := tensors.Stack(parts)
		if err != nil {
			return nil, errors.WithMessagef(err, "batching leaf %q", name)
		}
		batched.Add(name, stacked)
	}
	ds.buffer = ds.buffer[:0]
	return batched, nil
}

// sameExampleShapes checks two examples share structure and leaf shapes.
func sameExampleShapes(a, b Example) error {
	_, err := trees.Map2(a, b, func(name string, leafA, leafB *tensors.Tensor) (struct{}, error) {
		if !leafA.Shape().Equal(leafB.Shape()) {
			return struct{}{}, errors.Errorf("leaf %q has shape %s in one example and %s in another",
				name, leafA.Shape(), leafB.Shape())
		}
		return struct{}{}, nil
	})
	return err
}
