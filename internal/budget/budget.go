// Package budget computes the device-memory budget for a training run.
//
// Device memory is a hard, non-recoverable resource: overshooting it fails the
// run mid-training, after compute has already been spent. All feasibility
// checks therefore happen here, up front, before any training starts.
package budget

import "fmt"

const (
	// autoCacheFraction of the free device memory is used for the image
	// cache when no explicit cache size is requested. The remaining ~34%
	// is headroom for runtime state and batch buffers.
	autoCacheFraction = 0.66

	// marginDivisor splits the memory left after the image cache three
	// ways: working buffers, kernel scratch, and fragmentation.
	marginDivisor = 3

	// histogramBuffers is the number of histogram counter buffers the
	// split-evaluation kernel keeps resident.
	histogramBuffers = 10

	// MaxSamplesPerBatchCeiling is the absolute upper bound on the batch
	// size, regardless of how much memory is available.
	MaxSamplesPerBatchCeiling = 50000

	// MinSamplesPerBatch is the floor below which a computed batch size is
	// rejected as infeasible rather than silently clamped.
	MinSamplesPerBatch = 1000
)

// Input carries everything the calculator needs. MinFreeMemory is the minimum
// free-memory reading across the selected devices. WeightSize and
// FeatureResponseSize are the byte widths of the training kernel's internal
// numeric types, supplied as constants by the engine package.
type Input struct {
	MinFreeMemory       uint64
	CacheSizeMB         int // 0 means automatic sizing
	DatasetCount        int
	BytesPerImage       uint64
	FeatureCount        int
	ThresholdCount      int
	WeightSize          int
	FeatureResponseSize int
}

// ResourceBudget is the feasible budget for one training run, assuming a
// single active trainer.
type ResourceBudget struct {
	ImageCacheCount    int
	MaxSamplesPerBatch int
}

// InfeasibleError reports a budget that cannot fit in device memory, together
// with the offending computed values.
type InfeasibleError struct {
	Reason             string
	CacheBytes         uint64
	MinFreeMemory      uint64
	MaxSamplesPerBatch int
}

func (e *InfeasibleError) Error() string {
	switch e.Reason {
	case "image cache size too large":
		return fmt.Sprintf("infeasible resource budget: %s (cache %d bytes, free %d bytes)",
			e.Reason, e.CacheBytes, e.MinFreeMemory)
	default:
		return fmt.Sprintf("infeasible resource budget: %s (max samples per batch %d, need at least %d). try to decrease image cache size manually",
			e.Reason, e.MaxSamplesPerBatch, MinSamplesPerBatch)
	}
}

// Compute resolves the image cache size and the maximum samples-per-batch for
// the given memory readings and hyperparameters. Pure and deterministic; a
// synthetic MinFreeMemory reading is all it takes to exercise it.
func Compute(in Input) (ResourceBudget, error) {
	// A negative request would wrap through the unsigned conversion below
	// into an enormous cache size.
	if in.CacheSizeMB < 0 {
		return ResourceBudget{}, fmt.Errorf("image cache size must not be negative: %d MB", in.CacheSizeMB)
	}

	var cacheBytes uint64
	if in.CacheSizeMB == 0 {
		cacheBytes = uint64(autoCacheFraction * float64(in.MinFreeMemory))
	} else {
		cacheBytes = uint64(in.CacheSizeMB) * 1024 * 1024
	}

	if cacheBytes >= in.MinFreeMemory {
		return ResourceBudget{}, &InfeasibleError{
			Reason:        "image cache size too large",
			CacheBytes:    cacheBytes,
			MinFreeMemory: in.MinFreeMemory,
		}
	}

	imageCacheCount := in.DatasetCount
	if fits := int(cacheBytes / in.BytesPerImage); fits < imageCacheCount {
		imageCacheCount = fits
	}

	// Very defensive estimate to avoid out-of-memory failures mid-run.
	remaining := int64((in.MinFreeMemory - cacheBytes) / marginDivisor)
	remaining -= int64(histogramBuffers * 2 * in.WeightSize * in.FeatureCount * in.ThresholdCount)

	perSample := int64(2 * in.FeatureResponseSize * in.FeatureCount)

	maxSamplesPerBatch := int(remaining / perSample)
	if maxSamplesPerBatch > MaxSamplesPerBatchCeiling {
		maxSamplesPerBatch = MaxSamplesPerBatchCeiling
	}

	if maxSamplesPerBatch < MinSamplesPerBatch {
		return ResourceBudget{}, &InfeasibleError{
			Reason:             "memory headroom on device too low",
			CacheBytes:         cacheBytes,
			MinFreeMemory:      in.MinFreeMemory,
			MaxSamplesPerBatch: maxSamplesPerBatch,
		}
	}

	return ResourceBudget{
		ImageCacheCount:    imageCacheCount,
		MaxSamplesPerBatch: maxSamplesPerBatch,
	}, nil
}

// CacheBytes reports the resolved byte size of the image cache for logging.
func CacheBytes(in Input) uint64 {
	if in.CacheSizeMB == 0 {
		return uint64(autoCacheFraction * float64(in.MinFreeMemory))
	}
	return uint64(in.CacheSizeMB) * 1024 * 1024
}
