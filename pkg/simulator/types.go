// Package simulator wraps xcrun simctl for the launchers and the CLI.
package simulator

import (
	"github.com/devicelab-dev/device-agent/pkg/core"
)

// Simulator states reported by simctl.
const (
	StateBooted   = "Booted"
	StateShutdown = "Shutdown"
)

// SimulatorDevice represents an available iOS simulator from simctl list.
type SimulatorDevice struct {
	Name        string // e.g., "iPhone 15 Pro"
	UDID        string // e.g., "A1B2C3D4-E5F6-..."
	Runtime     string // e.g., "com.apple.CoreSimulator.SimRuntime.iOS-17-2"
	OSVersion   string // e.g., "17.2" (extracted from Runtime)
	State       string // "Shutdown", "Booted", etc.
	IsAvailable bool
}

// Booted returns true if simctl reports the simulator as booted.
func (s SimulatorDevice) Booted() bool {
	return s.State == StateBooted
}

// Device converts to the descriptor sessions work with.
func (s SimulatorDevice) Device() core.Device {
	return core.Device{
		UDID:      s.UDID,
		Name:      s.Name,
		Simulator: true,
		OSVersion: s.OSVersion,
	}
}
