package multihost

import (
	"github.com/gomlx/meshdata/pkg/core/distributed"
)

// LocalLayout converts the global batch intervals of this host's devices into
// a compact local layout: a contiguous local buffer and, per device, the
// sub-slice of that buffer it reads.
//
// Devices requiring the same global interval share the same local sub-slice --
// the host only loads each distinct interval once. Distinct intervals are laid
// out contiguously in first-seen order walking localDevices (callers pass them
// in ascending ordinal order, making the layout deterministic). localBufferSize
// is the total number of examples the host must load per step.
//
// intervals must hold the batch-axis interval per device ordinal of the
// representative leaf, as computed by distributed.ShardIndices.
func LocalLayout(localDevices []int, intervals []distributed.Interval) (deviceLocal map[int]distributed.Interval, localBufferSize int) {
	deviceLocal = make(map[int]distributed.Interval, len(localDevices))
	globalToLocal := make(map[distributed.Interval]distributed.Interval, len(localDevices))
	for _, device := range localDevices {
		global := intervals[device]
		local, found := globalToLocal[global]
		if !found {
			local = distributed.Interval{Start: localBufferSize, Stop: localBufferSize + global.Size()}
			globalToLocal[global] = local
			localBufferSize += global.Size()
		}
		deviceLocal[device] = local
	}
	return deviceLocal, localBufferSize
}
