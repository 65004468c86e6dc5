package domain

// DeviceProvider abstracts GPU memory queries for testing
type DeviceProvider interface {
	// Init initializes the provider (NVML or mock)
	Init() error
	// Shutdown cleanly shuts down the provider
	Shutdown() error
	// DeviceCount returns number of GPUs
	DeviceCount() (int, error)
	// FreeMemory returns current free memory in bytes for one device
	FreeMemory(deviceID int) (uint64, error)
}
