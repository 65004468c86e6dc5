package engine

import (
	"context"
	"math"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/NikolausDemmel/curfil/internal/dataset"
	"github.com/NikolausDemmel/curfil/internal/training"
)

// candidate is one feature with its evaluated thresholds.
type candidate struct {
	feature    Feature
	thresholds []float32
}

// splitChoice identifies the winning candidate split at a node.
type splitChoice struct {
	candidate int
	threshold float32
	score     float64
}

// evaluator scores all candidate splits over a node's samples and picks the
// best one. Implementations must be deterministic for fixed inputs: ties
// break towards the lower candidate index, then the lower threshold index,
// so the direct and batched paths agree exactly.
type evaluator interface {
	name() string
	bestSplit(ctx context.Context, ds *dataset.Dataset, samples []sample,
		candidates []candidate, cfg *training.TrainingConfiguration) (splitChoice, bool, error)
}

func evaluatorFor(cfg *training.TrainingConfiguration, log hclog.Logger) evaluator {
	switch cfg.Mode() {
	case training.CPU:
		return &directEvaluator{}
	case training.Compare:
		return &compareEvaluator{
			device: &batchedEvaluator{},
			host:   &directEvaluator{},
			log:    log,
		}
	default:
		return &batchedEvaluator{}
	}
}

// candidateResult is the best threshold for one candidate feature.
type candidateResult struct {
	valid     bool
	threshold float32
	score     float64
}

// directEvaluator scores each candidate over all samples in one pass, the
// straightforward host-side path.
type directEvaluator struct{}

func (e *directEvaluator) name() string { return "cpu" }

func (e *directEvaluator) bestSplit(ctx context.Context, ds *dataset.Dataset, samples []sample,
	candidates []candidate, cfg *training.TrainingConfiguration) (splitChoice, bool, error) {

	parent := labelHistogram(ds.LabelCount(), samples)

	results := make([]candidateResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.NumThreads())
	for ci := range candidates {
		ci := ci
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := &candidates[ci]
			counts := newSplitCounts(len(c.thresholds), ds.LabelCount())
			for _, s := range samples {
				r := c.feature.response(&ds.Images[s.image], s.x, s.y)
				counts.add(r, c.thresholds, s.label)
			}
			results[ci] = counts.best(parent, len(samples), c.thresholds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return splitChoice{}, false, err
	}

	return reduceResults(results)
}

// batchedEvaluator mirrors the device kernel layout: responses are produced
// in batches of at most MaxSamplesPerBatch and accumulated into per-feature,
// per-threshold histogram counters.
type batchedEvaluator struct{}

func (e *batchedEvaluator) name() string { return "gpu" }

func (e *batchedEvaluator) bestSplit(ctx context.Context, ds *dataset.Dataset, samples []sample,
	candidates []candidate, cfg *training.TrainingConfiguration) (splitChoice, bool, error) {

	parent := labelHistogram(ds.LabelCount(), samples)

	counters := make([]*splitCounts, len(candidates))
	for ci := range candidates {
		counters[ci] = newSplitCounts(len(candidates[ci].thresholds), ds.LabelCount())
	}

	batchSize := cfg.Budget().MaxSamplesPerBatch
	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batch := samples[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.NumThreads())
		for ci := range candidates {
			ci := ci
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				c := &candidates[ci]
				for _, s := range batch {
					r := c.feature.response(&ds.Images[s.image], s.x, s.y)
					counters[ci].add(r, c.thresholds, s.label)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return splitChoice{}, false, err
		}
	}

	results := make([]candidateResult, len(candidates))
	for ci := range candidates {
		results[ci] = counters[ci].best(parent, len(samples), candidates[ci].thresholds)
	}

	return reduceResults(results)
}

// compareEvaluator runs both paths and reports any disagreement on the
// chosen split. The device-path result is the one used.
type compareEvaluator struct {
	device evaluator
	host   evaluator
	log    hclog.Logger
}

func (e *compareEvaluator) name() string { return "compare" }

func (e *compareEvaluator) bestSplit(ctx context.Context, ds *dataset.Dataset, samples []sample,
	candidates []candidate, cfg *training.TrainingConfiguration) (splitChoice, bool, error) {

	deviceChoice, deviceOK, err := e.device.bestSplit(ctx, ds, samples, candidates, cfg)
	if err != nil {
		return splitChoice{}, false, err
	}
	hostChoice, hostOK, err := e.host.bestSplit(ctx, ds, samples, candidates, cfg)
	if err != nil {
		return splitChoice{}, false, err
	}

	if deviceOK != hostOK || (deviceOK && (deviceChoice.candidate != hostChoice.candidate ||
		deviceChoice.threshold != hostChoice.threshold)) {
		e.log.Warn("split evaluation mismatch between gpu and cpu paths",
			"gpuCandidate", deviceChoice.candidate, "gpuThreshold", deviceChoice.threshold,
			"cpuCandidate", hostChoice.candidate, "cpuThreshold", hostChoice.threshold)
	}

	return deviceChoice, deviceOK, nil
}

// splitCounts holds the left-branch class histogram per threshold. The right
// branch is derived from the parent histogram.
type splitCounts struct {
	left  [][]int // [threshold][label]
	leftN []int
}

func newSplitCounts(thresholds, labels int) *splitCounts {
	left := make([][]int, thresholds)
	for i := range left {
		left[i] = make([]int, labels)
	}
	return &splitCounts{left: left, leftN: make([]int, thresholds)}
}

func (c *splitCounts) add(response float32, thresholds []float32, label uint8) {
	for ti, thr := range thresholds {
		if response <= thr {
			c.left[ti][label]++
			c.leftN[ti]++
		}
	}
}

// best scores every threshold by information gain and returns the winner.
func (c *splitCounts) best(parent []int, total int, thresholds []float32) candidateResult {
	parentEntropy := entropy(parent, total)

	var result candidateResult
	for ti := range thresholds {
		leftN := c.leftN[ti]
		rightN := total - leftN
		if leftN == 0 || rightN == 0 {
			continue
		}

		right := make([]int, len(parent))
		for l := range parent {
			right[l] = parent[l] - c.left[ti][l]
		}

		gain := parentEntropy -
			float64(leftN)/float64(total)*entropy(c.left[ti], leftN) -
			float64(rightN)/float64(total)*entropy(right, rightN)

		if gain > 0 && (!result.valid || gain > result.score) {
			result = candidateResult{valid: true, threshold: thresholds[ti], score: gain}
		}
	}
	return result
}

// reduceResults picks the winning candidate deterministically.
func reduceResults(results []candidateResult) (splitChoice, bool, error) {
	var choice splitChoice
	found := false
	for ci, r := range results {
		if !r.valid {
			continue
		}
		if !found || r.score > choice.score {
			choice = splitChoice{candidate: ci, threshold: r.threshold, score: r.score}
			found = true
		}
	}
	return choice, found, nil
}

func labelHistogram(labels int, samples []sample) []int {
	hist := make([]int, labels)
	for _, s := range samples {
		hist[s.label]++
	}
	return hist
}

func entropy(hist []int, total int) float64 {
	var h float64
	for _, n := range hist {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		h -= p * math.Log(p)
	}
	return h
}
