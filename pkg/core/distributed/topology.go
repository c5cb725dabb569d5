package distributed

import (
	"slices"

	"github.com/gomlx/meshdata/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Topology describes which process (host) each mesh device is attached to, and
// which process is the local one.
//
// It is assumed to be known identically to every process before the pipeline
// runs -- typically established once at startup (see pkg/ml/startup) -- and is
// immutable afterwards. All the per-host planning in pkg/ml/multihost is a pure
// function of the Topology plus globally known values, which is what allows
// every process to agree on the plan without exchanging messages.
type Topology struct {
	numProcesses  int
	localProcess  int
	deviceProcess []int // device ordinal -> process id.
}

// NewTopology creates a Topology.
//
//   - localProcess: the id of the calling process, in [0, numProcesses).
//   - numProcesses: total number of processes in the cluster.
//   - deviceProcess: for each device ordinal (matching the DeviceMesh device
//     ordering), the id of the process its device is attached to.
//
// A process may own zero devices: it will simply not load any data.
func NewTopology(localProcess, numProcesses int, deviceProcess []int) (*Topology, error) {
	if numProcesses <= 0 {
		return nil, errors.Errorf("numProcesses must be > 0, got %d", numProcesses)
	}
	if localProcess < 0 || localProcess >= numProcesses {
		return nil, errors.Errorf("localProcess %d out of range [0, %d)", localProcess, numProcesses)
	}
	if len(deviceProcess) == 0 {
		return nil, errors.New("deviceProcess cannot be empty: the mesh needs at least one device")
	}
	seen := sets.Make[int](numProcesses)
	for device, process := range deviceProcess {
		if process < 0 || process >= numProcesses {
			return nil, errors.Errorf("device %d is assigned to process %d, out of range [0, %d)",
				device, process, numProcesses)
		}
		seen.Insert(process)
	}
	if len(seen) < numProcesses && klog.V(1).Enabled() {
		for process := 0; process < numProcesses; process++ {
			if !seen.Has(process) {
				klog.Infof("process %d has no devices attached, it will not load data", process)
			}
		}
	}
	return &Topology{
		numProcesses:  numProcesses,
		localProcess:  localProcess,
		deviceProcess: slices.Clone(deviceProcess),
	}, nil
}

// NumProcesses returns the total number of processes in the cluster.
func (t *Topology) NumProcesses() int { return t.numProcesses }

// NumDevices returns the total number of devices in the cluster.
func (t *Topology) NumDevices() int { return len(t.deviceProcess) }

// LocalProcess returns the id of the calling process.
func (t *Topology) LocalProcess() int { return t.localProcess }

// Process returns the process id the given device is attached to.
func (t *Topology) Process(device int) (int, error) {
	if device < 0 || device >= len(t.deviceProcess) {
		return 0, errors.Errorf("device ordinal %d out of range [0, %d)", device, len(t.deviceProcess))
	}
	return t.deviceProcess[device], nil
}

// Devices returns the device ordinals attached to the given process, in
// ascending order.
func (t *Topology) Devices(process int) []int {
	var devices []int
	for device, p := range t.deviceProcess {
		if p == process {
			devices = append(devices, device)
		}
	}
	return devices
}

// LocalDevices returns the device ordinals attached to the local process, in
// ascending order.
func (t *Topology) LocalDevices() []int {
	return t.Devices(t.localProcess)
}
