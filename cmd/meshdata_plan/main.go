// Command meshdata_plan prints the per-host data-loading plan for a run
// configuration, without reading any data.
//
// Usage:
//
//	meshdata_plan [flags] <config.yaml> [key=value ...]
//
// The configuration must define mesh_shape, mesh_axes, num_processes,
// per_device_batch_size and max_target_length. Every process's shard
// assignment and local buffer is shown, which makes a misconfigured sharding
// diagnosable before launching a training job.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/gomlx/meshdata/pkg/core/shapes"
	"github.com/gomlx/meshdata/pkg/core/trees"
	"github.com/gomlx/meshdata/pkg/ml/config"
	"github.com/gomlx/meshdata/pkg/ml/multihost"
	"github.com/gomlx/meshdata/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	shardStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() < 1 {
		klog.Exitf("usage: %s [flags] <config.yaml> [key=value ...]", os.Args[0])
	}
	cfg := must.M1(config.Load(flag.Arg(0), flag.Args()[1:]))

	meshSizes := parseInts(must.M1(cfg.String("mesh_shape")))
	meshAxes := strings.Split(must.M1(cfg.String("mesh_axes")), ",")
	numProcesses := must.M1(cfg.Int("num_processes"))
	perDeviceBatch := must.M1(cfg.Int("per_device_batch_size"))
	maxTargetLength := must.M1(cfg.Int("max_target_length"))

	mesh := must.M1(distributed.NewDeviceMesh(meshSizes, meshAxes))
	numDevices := mesh.NumDevices()
	if numDevices%numProcesses != 0 {
		klog.Exitf("%d devices cannot be evenly attached to %d processes", numDevices, numProcesses)
	}
	// Devices are attached to processes in contiguous blocks.
	devicesPerProcess := numDevices / numProcesses
	deviceProcess := xslices.Map(xslices.Iota(0, numDevices), func(device int) int {
		return device / devicesPerProcess
	})

	batchSize := perDeviceBatch * numDevices
	exampleShape := shapes.Make(dtypes.Int32, batchSize, maxTargetLength)
	spec := must.M1(distributed.BuildSpec(mesh).S(meshAxes...).R().Done())
	globalShapes := trees.New[shapes.Shape]().Add("inputs", exampleShape).Add("targets", exampleShape)
	specs := trees.New[*distributed.ShardSpec]().Add("inputs", spec).Add("targets", spec)

	fmt.Println(headerStyle.Render(fmt.Sprintf("Sharding plan for %s, global batch %d:", mesh, batchSize)))
	fmt.Println(headerStyle.Render(fmt.Sprintf("%8s %16s %8s %12s %12s", "process", "devices", "shard", "local rows", "bytes/pull")))
	for process := 0; process < numProcesses; process++ {
		topology := must.M1(distributed.NewTopology(process, numProcesses, deviceProcess))
		plan := must.M1(multihost.ComputePlan(globalShapes, specs, mesh, topology))
		bytesPerPull := uint64(0)
		for _, shape := range globalShapes.Leaves() {
			rowBytes := int(shape.Memory()) / shape.Dim(0)
			bytesPerPull += uint64(plan.LocalBufferSize * rowBytes)
		}
		devices := topology.LocalDevices()
		fmt.Printf("%8d %16s %8s %12d %12s\n",
			process, formatDevices(devices),
			shardStyle.Render(fmt.Sprintf("%d/%d", plan.LocalShard, plan.NumShards)),
			plan.LocalBufferSize, humanize.Bytes(bytesPerPull))
	}
}

func parseInts(csv string) []int {
	return xslices.Map(strings.Split(csv, ","), func(s string) int {
		return must.M1(strconv.Atoi(strings.TrimSpace(s)))
	})
}

func formatDevices(devices []int) string {
	parts := xslices.Map(devices, strconv.Itoa)
	return strings.Join(parts, ",")
}
