// Package engine is the reference split-finding implementation behind the
// orchestrator's TreeTrainer interface. It induces one decision tree per
// call over per-image pixel samples, evaluating candidate splits either
// directly or through the budget-bounded batched path that mirrors the
// device kernel layout.
package engine

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/NikolausDemmel/curfil/internal/dataset"
	"github.com/NikolausDemmel/curfil/internal/training"
)

// Byte widths of the numeric types the split-evaluation kernel keeps on the
// device. The budget calculator sizes histogram counters and response
// buffers from these.
const (
	WeightSize          = 4
	FeatureResponseSize = 4
)

// ErrNoSamples is returned when subsampling yields nothing to train on,
// e.g. when every pixel has an ignored color.
var ErrNoSamples = errors.New("no trainable samples in dataset")

type Engine struct {
	log hclog.Logger
}

func New(log hclog.Logger) *Engine {
	return &Engine{log: log}
}

// Train grows one tree from the shared configuration and a per-tree seed.
// Deterministic for fixed inputs: all randomness is drawn from the seed
// before candidate scoring, and scoring itself is pure.
func (e *Engine) Train(ctx context.Context, ds *dataset.Dataset,
	cfg *training.TrainingConfiguration, seed int64) (training.Tree, error) {

	rng := rand.New(rand.NewSource(seed))

	ignored, err := ignoredLabels(ds, cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	samples := drawSamples(ds, cfg, rng, ignored)
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if cfg.Profiling() {
		e.log.Debug("subsampling done", "samples", len(samples), "duration", time.Since(start).String())
	}

	candidates := genCandidates(ds, cfg, rng, samples)
	eval := evaluatorFor(cfg, e.log)

	root, err := e.grow(ctx, ds, samples, candidates, cfg, eval, 1)
	if err != nil {
		return nil, err
	}
	if cfg.Profiling() {
		e.log.Debug("tree grown", "duration", time.Since(start).String(), "evaluator", eval.name())
	}

	return &Tree{Root: root}, nil
}

// genCandidates draws the candidate features and, per feature, thresholds
// sampled from responses of randomly chosen samples.
func genCandidates(ds *dataset.Dataset, cfg *training.TrainingConfiguration,
	rng *rand.Rand, samples []sample) []candidate {

	candidates := make([]candidate, cfg.FeatureCount())
	for i := range candidates {
		f := randomFeature(rng, cfg, ds.HasDepth())
		thresholds := make([]float32, cfg.ThresholdCount())
		for t := range thresholds {
			s := samples[rng.Intn(len(samples))]
			thresholds[t] = f.response(&ds.Images[s.image], s.x, s.y)
		}
		candidates[i] = candidate{feature: f, thresholds: thresholds}
	}
	return candidates
}

func (e *Engine) grow(ctx context.Context, ds *dataset.Dataset, samples []sample,
	candidates []candidate, cfg *training.TrainingConfiguration, eval evaluator, depth int) (*Node, error) {

	node := &Node{Samples: len(samples)}
	hist := labelHistogram(ds.LabelCount(), samples)

	if depth >= cfg.MaxDepth() || len(samples) < 2*cfg.MinSampleCount() || isPure(hist) {
		node.Histogram = hist
		return node, nil
	}

	choice, ok, err := eval.bestSplit(ctx, ds, samples, candidates, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		node.Histogram = hist
		return node, nil
	}

	feature := candidates[choice.candidate].feature
	left, right := partition(ds, samples, &feature, choice.threshold)
	if len(left) < cfg.MinSampleCount() || len(right) < cfg.MinSampleCount() {
		node.Histogram = hist
		return node, nil
	}

	node.Feature = &feature
	node.Threshold = choice.threshold
	if node.Left, err = e.grow(ctx, ds, left, candidates, cfg, eval, depth+1); err != nil {
		return nil, err
	}
	if node.Right, err = e.grow(ctx, ds, right, candidates, cfg, eval, depth+1); err != nil {
		return nil, err
	}
	return node, nil
}

func partition(ds *dataset.Dataset, samples []sample, f *Feature, threshold float32) (left, right []sample) {
	for _, s := range samples {
		if f.response(&ds.Images[s.image], s.x, s.y) <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	return left, right
}

func isPure(hist []int) bool {
	classes := 0
	for _, n := range hist {
		if n > 0 {
			classes++
		}
	}
	return classes <= 1
}

// Compile-time interface check
var _ training.TreeTrainer = (*Engine)(nil)
