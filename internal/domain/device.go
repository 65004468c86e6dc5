package domain

// Device is a read-only snapshot of one GPU's free memory at query time.
// It is consumed by the budget calculator and never persisted.
type Device struct {
	ID              int
	FreeMemoryBytes uint64
}

// MinFreeMemory returns the smallest free-memory reading across the given
// devices. The worst device governs the shared training budget.
func MinFreeMemory(devices []Device) uint64 {
	var min uint64
	for _, d := range devices {
		if min == 0 || d.FreeMemoryBytes < min {
			min = d.FreeMemoryBytes
		}
	}
	return min
}
