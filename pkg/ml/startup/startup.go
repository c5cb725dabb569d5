// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package startup establishes the cluster topology once, before any pipeline
// is built.
//
// The coordinator-address discovery itself is an external concern (each
// deployment wires its own Coordinator implementation); this package only
// models the boundary: resolve the address, then freeze the process/device
// topology into an immutable distributed.Topology that every process sees
// identically.
package startup

import (
	"context"
	"os"

	"github.com/gomlx/meshdata/pkg/core/distributed"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Coordinator resolves the address processes rendezvous at. Implementations
// may block (cloud metadata lookups, broadcasts), hence the context.
type Coordinator interface {
	Address(ctx context.Context) (string, error)
}

// staticCoordinator returns a fixed address.
type staticCoordinator struct {
	addr string
}

// NewStatic returns a Coordinator with a fixed, preconfigured address.
func NewStatic(addr string) Coordinator {
	return staticCoordinator{addr: addr}
}

// Address implements Coordinator.
func (c staticCoordinator) Address(_ context.Context) (string, error) {
	if c.addr == "" {
		return "", errors.New("static coordinator address is empty")
	}
	return c.addr, nil
}

// EnvCoordinatorAddr is the environment variable read by FromEnv.
const EnvCoordinatorAddr = "MESHDATA_COORDINATOR_ADDR"

// envCoordinator reads the coordinator address from the environment.
type envCoordinator struct{}

// FromEnv returns a Coordinator that reads EnvCoordinatorAddr.
func FromEnv() Coordinator {
	return envCoordinator{}
}

// Address implements Coordinator.
func (envCoordinator) Address(_ context.Context) (string, error) {
	addr := os.Getenv(EnvCoordinatorAddr)
	if addr == "" {
		return "", errors.Errorf("environment variable %s is not set", EnvCoordinatorAddr)
	}
	return addr, nil
}

// Initialize resolves the coordinator address and freezes the cluster
// topology. It is invoked once per process, before building any pipeline.
//
//   - localProcess, numProcesses: this process's id and the cluster size.
//   - deviceProcess: for each mesh device ordinal, the process it is attached
//     to -- must be passed identically by every process.
func Initialize(ctx context.Context, coordinator Coordinator, localProcess, numProcesses int, deviceProcess []int) (*distributed.Topology, error) {
	addr, err := coordinator.Address(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "resolving coordinator address")
	}
	klog.V(1).Infof("process %d/%d coordinating at %s", localProcess, numProcesses, addr)
	topology, err := distributed.NewTopology(localProcess, numProcesses, deviceProcess)
	if err != nil {
		return nil, errors.WithMessage(err, "building cluster topology")
	}
	return topology, nil
}
