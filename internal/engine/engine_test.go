package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikolausDemmel/curfil/internal/budget"
	"github.com/NikolausDemmel/curfil/internal/dataset"
	"github.com/NikolausDemmel/curfil/internal/training"
)

// twoClassDataset builds 8x8 images whose left half is dark and labeled 0
// and whose right half is bright and labeled 1. Trivially separable by
// color features.
func twoClassDataset(images int) *dataset.Dataset {
	ds := &dataset.Dataset{
		Palette: []dataset.RGB{{}, {R: 255, G: 255, B: 255}},
	}
	for i := 0; i < images; i++ {
		im := dataset.LabeledImage{
			Name:   "synthetic",
			Width:  8,
			Height: 8,
			Color:  make([]float32, 8*8*3),
			Labels: make([]uint8, 8*8),
		}
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				if x >= 4 {
					for ch := 0; ch < 3; ch++ {
						im.Color[(y*8+x)*3+ch] = 1.0
					}
					im.Labels[y*8+x] = 1
				}
			}
		}
		ds.Images = append(ds.Images, im)
	}
	return ds
}

func engineConfig(t *testing.T, mode string) *training.TrainingConfiguration {
	t.Helper()
	cfg, err := training.NewConfiguration(training.Params{
		TreeCount:       1,
		RandomSeed:      4711,
		SamplesPerImage: 32,
		FeatureCount:    100,
		MinSampleCount:  2,
		MaxDepth:        6,
		BoxRadius:       4,
		RegionSize:      2,
		ThresholdCount:  10,
		NumThreads:      2,
		Mode:            mode,
		DeviceIDs:       []int{0},
		SubsamplingType: training.SubsampleClassUniform,
	}, budget.ResourceBudget{ImageCacheCount: 2, MaxSamplesPerBatch: 1000})
	require.NoError(t, err)
	return cfg
}

func trainTree(t *testing.T, cfg *training.TrainingConfiguration, ds *dataset.Dataset, seed int64) *Tree {
	t.Helper()
	e := New(hclog.NewNullLogger())
	tree, err := e.Train(context.Background(), ds, cfg, seed)
	require.NoError(t, err)
	return tree.(*Tree)
}

func TestTrain_GrowsSeparatingTree(t *testing.T) {
	cfg := engineConfig(t, "gpu")
	tree := trainTree(t, cfg, twoClassDataset(2), 1)

	assert.GreaterOrEqual(t, tree.Depth(), 2, "separable data must produce at least one split")
	assert.LessOrEqual(t, tree.Depth(), cfg.MaxDepth())

	counts := tree.CountFeatures()
	assert.Greater(t, counts[FeatureColor], 0)
	_, hasDepth := counts[FeatureDepth]
	assert.False(t, hasDepth, "no depth channel, no depth features")
}

func TestTrain_DeterministicForSameSeed(t *testing.T) {
	cfg := engineConfig(t, "gpu")
	ds := twoClassDataset(2)

	first := trainTree(t, cfg, ds, 42)
	second := trainTree(t, cfg, ds, 42)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTrain_CPUAndGPUPathsAgree(t *testing.T) {
	ds := twoClassDataset(2)

	gpu := trainTree(t, engineConfig(t, "gpu"), ds, 7)
	cpu := trainTree(t, engineConfig(t, "cpu"), ds, 7)

	a, err := json.Marshal(gpu)
	require.NoError(t, err)
	b, err := json.Marshal(cpu)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTrain_CompareModeMatchesDevicePath(t *testing.T) {
	ds := twoClassDataset(2)

	gpu := trainTree(t, engineConfig(t, "gpu"), ds, 7)
	compare := trainTree(t, engineConfig(t, "compare"), ds, 7)

	a, err := json.Marshal(gpu)
	require.NoError(t, err)
	b, err := json.Marshal(compare)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTrain_SmallBatchesMatchLargeBatches(t *testing.T) {
	// The batched path must produce the same tree whether responses fit
	// in one batch or many.
	ds := twoClassDataset(2)

	large := trainTree(t, engineConfig(t, "gpu"), ds, 9)

	small, err := training.NewConfiguration(training.Params{
		TreeCount:       1,
		RandomSeed:      4711,
		SamplesPerImage: 32,
		FeatureCount:    100,
		MinSampleCount:  2,
		MaxDepth:        6,
		BoxRadius:       4,
		RegionSize:      2,
		ThresholdCount:  10,
		NumThreads:      2,
		Mode:            "gpu",
		DeviceIDs:       []int{0},
		SubsamplingType: training.SubsampleClassUniform,
	}, budget.ResourceBudget{ImageCacheCount: 2, MaxSamplesPerBatch: 5})
	require.NoError(t, err)
	batched := trainTree(t, small, ds, 9)

	a, err := json.Marshal(large)
	require.NoError(t, err)
	b, err := json.Marshal(batched)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestTrain_RespectsMaxDepth(t *testing.T) {
	cfg, err := training.NewConfiguration(training.Params{
		TreeCount:       1,
		RandomSeed:      4711,
		SamplesPerImage: 32,
		FeatureCount:    100,
		MinSampleCount:  2,
		MaxDepth:        1,
		BoxRadius:       4,
		RegionSize:      2,
		ThresholdCount:  10,
		NumThreads:      2,
		Mode:            "gpu",
		DeviceIDs:       []int{0},
		SubsamplingType: training.SubsampleClassUniform,
	}, budget.ResourceBudget{ImageCacheCount: 2, MaxSamplesPerBatch: 1000})
	require.NoError(t, err)

	tree := trainTree(t, cfg, twoClassDataset(2), 1)

	assert.Equal(t, 1, tree.Depth())
	assert.Empty(t, tree.CountFeatures())
	assert.NotEmpty(t, tree.Root.Histogram)
}

func TestTrain_IgnoredColorsAreNeverSampled(t *testing.T) {
	cfg, err := training.NewConfiguration(training.Params{
		TreeCount:       1,
		RandomSeed:      4711,
		SamplesPerImage: 32,
		FeatureCount:    100,
		MinSampleCount:  2,
		MaxDepth:        6,
		BoxRadius:       4,
		RegionSize:      2,
		ThresholdCount:  10,
		NumThreads:      2,
		Mode:            "gpu",
		DeviceIDs:       []int{0},
		SubsamplingType: training.SubsampleClassUniform,
		IgnoredColors:   []string{"255,255,255"},
	}, budget.ResourceBudget{ImageCacheCount: 2, MaxSamplesPerBatch: 1000})
	require.NoError(t, err)

	// With label 1 ignored only label 0 remains: the node is pure and
	// the tree is a single leaf.
	tree := trainTree(t, cfg, twoClassDataset(2), 1)

	assert.Equal(t, 1, tree.Depth())
	require.NotEmpty(t, tree.Root.Histogram)
	assert.Zero(t, tree.Root.Histogram[1])
	assert.Greater(t, tree.Root.Histogram[0], 0)
}

func TestTrain_AllColorsIgnoredFails(t *testing.T) {
	cfg, err := training.NewConfiguration(training.Params{
		TreeCount:       1,
		RandomSeed:      4711,
		SamplesPerImage: 32,
		FeatureCount:    100,
		MinSampleCount:  2,
		MaxDepth:        6,
		BoxRadius:       4,
		RegionSize:      2,
		ThresholdCount:  10,
		NumThreads:      2,
		Mode:            "gpu",
		DeviceIDs:       []int{0},
		SubsamplingType: training.SubsampleClassUniform,
		IgnoredColors:   []string{"0,0,0", "255,255,255"},
	}, budget.ResourceBudget{ImageCacheCount: 2, MaxSamplesPerBatch: 1000})
	require.NoError(t, err)

	e := New(hclog.NewNullLogger())
	_, err = e.Train(context.Background(), twoClassDataset(1), cfg, 1)

	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestTrain_PixelUniformSubsampling(t *testing.T) {
	cfg, err := training.NewConfiguration(training.Params{
		TreeCount:       1,
		RandomSeed:      4711,
		SamplesPerImage: 32,
		FeatureCount:    100,
		MinSampleCount:  2,
		MaxDepth:        6,
		BoxRadius:       4,
		RegionSize:      2,
		ThresholdCount:  10,
		NumThreads:      2,
		Mode:            "cpu",
		DeviceIDs:       []int{0},
		SubsamplingType: training.SubsamplePixelUniform,
	}, budget.ResourceBudget{ImageCacheCount: 2, MaxSamplesPerBatch: 1000})
	require.NoError(t, err)

	tree := trainTree(t, cfg, twoClassDataset(2), 3)

	assert.NotNil(t, tree.Root)
	assert.LessOrEqual(t, tree.Depth(), 6)
}

func TestTrain_DepthFeaturesUsedWhenDepthPresent(t *testing.T) {
	ds := twoClassDataset(2)
	for i := range ds.Images {
		im := &ds.Images[i]
		im.Depth = make([]float32, im.Width*im.Height)
		for y := 0; y < im.Height; y++ {
			for x := 0; x < im.Width; x++ {
				if x >= 4 {
					im.Depth[y*im.Width+x] = 3.0
				} else {
					im.Depth[y*im.Width+x] = 1.0
				}
			}
		}
	}

	cfg := engineConfig(t, "gpu")
	tree := trainTree(t, cfg, ds, 1)

	counts := tree.CountFeatures()
	total := counts[FeatureColor] + counts[FeatureDepth]
	assert.Greater(t, total, 0)
}
