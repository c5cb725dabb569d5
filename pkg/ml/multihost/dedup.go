package multihost

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/gomlx/meshdata/pkg/support/sets"
)

// shardKey returns a canonical, order-independent key for the set of batch
// intervals a host's devices require.
//
// The distinct intervals are sorted by (start, stop) before keying, so two
// hosts enumerating their devices in different orders still produce the same
// key. Two hosts with equal keys must read identical data.
func shardKey(intervals []distributed.Interval) string {
	distinct := sets.MakeWith(intervals...)
	sorted := make([]distributed.Interval, 0, len(distinct))
	for interval := range distinct {
		sorted = append(sorted, interval)
	}
	slices.SortFunc(sorted, func(a, b distributed.Interval) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.Stop - b.Stop
	})
	var sb strings.Builder
	for _, interval := range sorted {
		_, _ = fmt.Fprintf(&sb, "%d:%d;", interval.Start, interval.Stop)
	}
	return sb.String()
}

// UniqueShards looks at the set of batch intervals each process's devices
// need, deduplicates by content, and assigns each process a dataset shard.
//
// It returns the shard index per process and the total number of distinct
// shards. Processes are walked in ascending id order and the first process to
// need a given set of intervals gets the next fresh shard index, starting at
// 0; later processes needing the same set reuse it. Processes with no devices
// are excluded: they load nothing and get no entry.
//
// The walk order and the canonical shardKey make the result a pure function of
// (topology, intervals): every process computes the identical assignment
// independently, with no communication. intervals must hold the batch-axis
// interval per device ordinal, as computed by distributed.ShardIndices on the
// representative leaf.
func UniqueShards(topology *distributed.Topology, intervals []distributed.Interval) (processShard map[int]int, numShards int) {
	processShard = make(map[int]int, topology.NumProcesses())
	keyShard := make(map[string]int)
	for process := 0; process < topology.NumProcesses(); process++ {
		devices := topology.Devices(process)
		if len(devices) == 0 {
			continue
		}
		needed := make([]distributed.Interval, 0, len(devices))
		for _, device := range devices {
			needed = append(needed, intervals[device])
		}
		key := shardKey(needed)
		shard, found := keyShard[key]
		if !found {
			shard = len(keyShard)
			keyShard[key] = shard
		}
		processShard[process] = shard
	}
	return processShard, len(keyShard)
}
