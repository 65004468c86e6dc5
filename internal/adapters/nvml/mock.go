package nvml

import (
	"fmt"

	"github.com/NikolausDemmel/curfil/internal/domain"
)

// MockDeviceProvider provides synthetic memory readings for testing
type MockDeviceProvider struct {
	FreeMemoryByDevice map[int]uint64
	InitErr            error
}

func NewMockDeviceProvider(freeMemoryByDevice map[int]uint64) *MockDeviceProvider {
	return &MockDeviceProvider{FreeMemoryByDevice: freeMemoryByDevice}
}

func (p *MockDeviceProvider) Init() error {
	return p.InitErr
}

func (p *MockDeviceProvider) Shutdown() error {
	return nil
}

func (p *MockDeviceProvider) DeviceCount() (int, error) {
	return len(p.FreeMemoryByDevice), nil
}

func (p *MockDeviceProvider) FreeMemory(deviceID int) (uint64, error) {
	free, ok := p.FreeMemoryByDevice[deviceID]
	if !ok {
		return 0, fmt.Errorf("no such device: %d", deviceID)
	}
	return free, nil
}

// Compile-time interface check
var _ domain.DeviceProvider = (*MockDeviceProvider)(nil)
