package engine

import (
	"math/rand"

	"github.com/NikolausDemmel/curfil/internal/dataset"
	"github.com/NikolausDemmel/curfil/internal/training"
)

// sample is one labeled pixel position.
type sample struct {
	image int
	x, y  int
	label uint8
}

// ignoredLabels maps the configured ignored-color triples to label indices.
// Colors that never occur in the dataset have nothing to ignore.
func ignoredLabels(ds *dataset.Dataset, cfg *training.TrainingConfiguration) (map[uint8]bool, error) {
	ignored := make(map[uint8]bool)
	for _, s := range cfg.IgnoredColors() {
		c, err := dataset.ParseRGB(s)
		if err != nil {
			return nil, err
		}
		if label, ok := ds.LabelFor(c); ok {
			ignored[label] = true
		}
	}
	return ignored, nil
}

// drawSamples draws samplesPerImage pixel samples from every image according
// to the configured subsampling policy. Pixels of ignored colors are never
// sampled.
func drawSamples(ds *dataset.Dataset, cfg *training.TrainingConfiguration,
	rng *rand.Rand, ignored map[uint8]bool) []sample {

	var samples []sample
	for i := range ds.Images {
		im := &ds.Images[i]
		if cfg.SubsamplingType() == training.SubsampleClassUniform {
			samples = append(samples, classUniform(im, i, cfg.SamplesPerImage(), rng, ignored)...)
		} else {
			samples = append(samples, pixelUniform(im, i, cfg.SamplesPerImage(), rng, ignored)...)
		}
	}
	return samples
}

// pixelUniform draws pixels uniformly at random. Attempts are bounded so an
// image consisting mostly of ignored colors cannot stall the sampler.
func pixelUniform(im *dataset.LabeledImage, image, count int, rng *rand.Rand, ignored map[uint8]bool) []sample {
	samples := make([]sample, 0, count)
	for attempts := 0; len(samples) < count && attempts < 4*count; attempts++ {
		x := rng.Intn(im.Width)
		y := rng.Intn(im.Height)
		label := im.LabelAt(x, y)
		if ignored[label] {
			continue
		}
		samples = append(samples, sample{image: image, x: x, y: y, label: label})
	}
	return samples
}

// classUniform balances draws across the classes present in the image,
// cycling through them so rare classes are as represented as common ones.
func classUniform(im *dataset.LabeledImage, image, count int, rng *rand.Rand, ignored map[uint8]bool) []sample {
	buckets := make(map[uint8][]int)
	for i, label := range im.Labels {
		if ignored[label] {
			continue
		}
		buckets[label] = append(buckets[label], i)
	}
	if len(buckets) == 0 {
		return nil
	}

	// Stable class order: map iteration order must not leak into results.
	classes := make([]uint8, 0, len(buckets))
	for label := 0; label < 256; label++ {
		if _, ok := buckets[uint8(label)]; ok {
			classes = append(classes, uint8(label))
		}
	}

	samples := make([]sample, 0, count)
	for n := 0; n < count; n++ {
		label := classes[n%len(classes)]
		bucket := buckets[label]
		pos := bucket[rng.Intn(len(bucket))]
		samples = append(samples, sample{
			image: image,
			x:     pos % im.Width,
			y:     pos / im.Width,
			label: label,
		})
	}
	return samples
}
