package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinFreeMemory_WorstDeviceGoverns(t *testing.T) {
	devices := []Device{
		{ID: 0, FreeMemoryBytes: 8_000_000_000},
		{ID: 1, FreeMemoryBytes: 2_000_000_000},
		{ID: 2, FreeMemoryBytes: 4_000_000_000},
	}

	assert.Equal(t, uint64(2_000_000_000), MinFreeMemory(devices))
}

func TestMinFreeMemory_SingleDevice(t *testing.T) {
	devices := []Device{{ID: 0, FreeMemoryBytes: 1234}}

	assert.Equal(t, uint64(1234), MinFreeMemory(devices))
}

func TestMinFreeMemory_NoDevices(t *testing.T) {
	assert.Equal(t, uint64(0), MinFreeMemory(nil))
}
