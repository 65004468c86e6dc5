//go:build !nonvml
// +build !nonvml

package nvml

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/NikolausDemmel/curfil/internal/domain"
)

type NVMLProvider struct{}

func NewNVMLProvider() *NVMLProvider {
	return &NVMLProvider{}
}

func (p *NVMLProvider) Init() error {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML init failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) Shutdown() error {
	ret := nvml.Shutdown()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (p *NVMLProvider) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

func (p *NVMLProvider) FreeMemory(deviceID int) (uint64, error) {
	device, ret := nvml.DeviceGetHandleByIndex(deviceID)
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get handle for device %d: %v", deviceID, nvml.ErrorString(ret))
	}

	memInfo, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get memory info for device %d: %v", deviceID, nvml.ErrorString(ret))
	}

	return memInfo.Free, nil
}

// Compile-time interface check
var _ domain.DeviceProvider = (*NVMLProvider)(nil)
