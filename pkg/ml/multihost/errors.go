package multihost

import (
	"github.com/pkg/errors"
)

// Configuration errors detected while building a Pipeline. They all abort the
// build: no partial pipeline is ever returned. Use errors.Is to test for them;
// the wrapped message carries the offending shapes and specs.
var (
	// ErrStructuralMismatch indicates the example structure, the declared
	// global shapes and the sharding specs disagree with each other (different
	// field trees, different batch dimensions, or mismatched leaf shapes).
	ErrStructuralMismatch = errors.New("structural mismatch between example, global shapes and sharding specs")

	// ErrUnsupportedSharding indicates a sharding spec partitions local device
	// data along a non-batch axis, which the local layout cannot reduce to a
	// single contiguous buffer.
	ErrUnsupportedSharding = errors.New("unsupported sharding: local devices are partitioned along a non-batch axis")

	// ErrShardCountMismatch indicates the computed shard assignment is
	// inconsistent with the number of processes present.
	ErrShardCountMismatch = errors.New("computed shard count is inconsistent with the cluster topology")
)
