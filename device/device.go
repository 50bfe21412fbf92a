// Package device resolves the compute device a run executes on. The
// tensor kernels are CPU implementations; the capability check guards
// against hosts without the vector extensions they are tuned for.
package device

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Device identifies a resolved compute device.
type Device struct {
	Kind    string // "cpu"
	Name    string
	Threads int
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %d threads)", d.Kind, d.Name, d.Threads)
}

// Resolve maps a configured device selector to a concrete device.
// "cpu" always succeeds; "auto" requires a CPU with SIMD support wide
// enough for the convolution kernels and fails otherwise, mirroring the
// no-accelerator fatal condition.
func Resolve(selector string) (Device, error) {
	dev := Device{
		Kind:    "cpu",
		Name:    cpuid.CPU.BrandName,
		Threads: runtime.NumCPU(),
	}
	if dev.Name == "" {
		dev.Name = runtime.GOARCH
	}

	switch strings.ToLower(selector) {
	case "cpu":
		return dev, nil
	case "auto", "":
		if !hasSIMD() {
			return Device{}, fmt.Errorf("no suitable compute device: CPU lacks SIMD support (%s)", dev.Name)
		}
		return dev, nil
	default:
		return Device{}, fmt.Errorf("unsupported device selector %q", selector)
	}
}

func hasSIMD() bool {
	if runtime.GOARCH == "arm64" {
		// NEON is baseline on arm64
		return true
	}
	return cpuid.CPU.Supports(cpuid.AVX2) || cpuid.CPU.Supports(cpuid.SSE42)
}
