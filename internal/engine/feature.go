package engine

import (
	"math/rand"

	"github.com/NikolausDemmel/curfil/internal/dataset"
	"github.com/NikolausDemmel/curfil/internal/training"
)

// response evaluates the feature on one pixel of one image.
func (f *Feature) response(im *dataset.LabeledImage, x, y int) float32 {
	a := f.regionMean(im, x+f.OffsetX1, y+f.OffsetY1, f.RegionW1, f.RegionH1)
	b := f.regionMean(im, x+f.OffsetX2, y+f.OffsetY2, f.RegionW2, f.RegionH2)
	return a - b
}

// regionMean averages the feature's channel over a w*h region centered at
// (cx, cy), clamping coordinates to the image.
func (f *Feature) regionMean(im *dataset.LabeledImage, cx, cy, w, h int) float32 {
	var sum float32
	var n int
	for dy := -h / 2; dy <= h/2; dy++ {
		for dx := -w / 2; dx <= w/2; dx++ {
			x := clamp(cx+dx, 0, im.Width-1)
			y := clamp(cy+dy, 0, im.Height-1)
			if f.Type == FeatureDepth {
				sum += im.DepthAt(x, y)
			} else {
				sum += im.ColorAt(f.Channel, x, y)
			}
			n++
		}
	}
	return sum / float32(n)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// randomFeature draws one candidate feature. Depth features are only drawn
// when the dataset carries a depth channel.
func randomFeature(rng *rand.Rand, cfg *training.TrainingConfiguration, hasDepth bool) Feature {
	f := Feature{Type: FeatureColor}
	if hasDepth && rng.Intn(2) == 0 {
		f.Type = FeatureDepth
	} else {
		f.Channel = rng.Intn(3)
	}

	radius := cfg.BoxRadius()
	region := cfg.RegionSize()
	f.OffsetX1 = rng.Intn(2*radius+1) - radius
	f.OffsetY1 = rng.Intn(2*radius+1) - radius
	f.OffsetX2 = rng.Intn(2*radius+1) - radius
	f.OffsetY2 = rng.Intn(2*radius+1) - radius
	f.RegionW1 = 1 + rng.Intn(region)
	f.RegionH1 = 1 + rng.Intn(region)
	f.RegionW2 = 1 + rng.Intn(region)
	f.RegionH2 = 1 + rng.Intn(region)
	return f
}
