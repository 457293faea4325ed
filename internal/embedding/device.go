package embedding

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Device is the execution target selected once when an encoder is built.
type Device string

const (
	DeviceCPU    Device = "cpu"
	DeviceCUDA   Device = "cuda"
	DeviceCoreML Device = "coreml"
)

// Accelerated reports whether d is not the CPU.
func (d Device) Accelerated() bool {
	return d != DeviceCPU
}

// DetectDevice checks the host for an accelerator.
func DetectDevice() Device {
	if isCUDA() {
		return DeviceCUDA
	}
	if isAppleSilicon() {
		return DeviceCoreML
	}
	return DeviceCPU
}

// ResolveDevice maps a configured device name to a Device; "auto" or an
// unknown name checks the host.
func ResolveDevice(name string) Device {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return DeviceCPU
	case "cuda", "gpu":
		return DeviceCUDA
	case "coreml", "mps":
		return DeviceCoreML
	}
	return DetectDevice()
}

func isAppleSilicon() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

func isCUDA() bool {
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return true
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	return false
}
