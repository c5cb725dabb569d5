package datasets

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// shardDataset implements a Dataset that keeps one of numShards disjoint,
// deterministic partitions of the underlying dataset.
type shardDataset struct {
	ds               Dataset
	numShards, index int
	next             int
}

// Shard partitions `ds` into numShards disjoint shards by round-robin on the
// element index, and returns the shard with the given index.
//
// The partition depends only on element positions, so every process that
// shards the same upstream sequence the same way sees disjoint data. This is
// the only I/O reduction mechanism of the per-host pipeline: a host only ever
// pulls the elements of its own shard.
func Shard(ds Dataset, numShards, index int) Dataset {
	if numShards <= 0 || index < 0 || index >= numShards {
		exceptions.Panicf("datasets.Shard(%q, numShards=%d, index=%d): index must be in [0, numShards)",
			ds.Name(), numShards, index)
	}
	return &shardDataset{ds: ds, numShards: numShards, index: index}
}

// Name implements Dataset.
func (ds *shardDataset) Name() string {
	return fmt.Sprintf("%s [Shard %d/%d]", ds.ds.Name(), ds.index, ds.numShards)
}

// Reset implements Dataset.
func (ds *shardDataset) Reset() error {
	if err := ds.ds.Reset(); err != nil {
		return err
	}
	ds.next = 0
	return nil
}

// Yield implements Dataset.
func (ds *shardDataset) Yield() (Example, error) {
	for {
		example, err := ds.ds.Yield()
		if err != nil {
			return nil, err
		}
		keep := ds.next%ds.numShards == ds.index
		ds.next++
		if keep {
			return example, nil
		}
	}
}
