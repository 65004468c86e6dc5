package training

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/NikolausDemmel/curfil/internal/dataset"
)

// Tree is the read-only query capability a trained tree exposes to this
// layer. Everything else about a tree is opaque here.
type Tree interface {
	// CountFeatures tallies split nodes per feature-type label.
	CountFeatures() map[string]int
}

// TreeTrainer is the per-tree training engine. Split finding and histogram
// kernels live behind this interface.
type TreeTrainer interface {
	Train(ctx context.Context, ds *dataset.Dataset, cfg *TrainingConfiguration, seed int64) (Tree, error)
}

// Ensemble is an ordered sequence of trained trees.
type Ensemble struct {
	Trees []Tree
}

// seedStream hands out per-tree seeds from one shared pseudo-random stream.
// Sequential training draws in tree order, so runs with the same seed
// reproduce each tree exactly. Concurrent training draws in scheduling
// order, which makes per-tree outputs non-deterministic across runs even
// with a fixed seed. That asymmetry is intentional and documented.
type seedStream struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSeedStream(seed int64) *seedStream {
	return &seedStream{rng: rand.New(rand.NewSource(seed))}
}

func (s *seedStream) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int63()
}

// Orchestrator drives ensemble training against one configuration. Any
// feasibility or device error aborts the entire run; this is a one-shot
// batch job with no retry and no partial-ensemble recovery.
type Orchestrator struct {
	trainer TreeTrainer
	log     hclog.Logger
}

func NewOrchestrator(trainer TreeTrainer, log hclog.Logger) *Orchestrator {
	return &Orchestrator{trainer: trainer, log: log}
}

// Train builds and trains an ensemble of treeCount trees bound to the shared
// configuration, timing the full pass.
//
// Sequential mode trains trees strictly one after another; each tree's
// transient device allocations are released before the next starts, so peak
// device-memory usage never exceeds the single-tree budget. Parallel mode
// trains all trees concurrently against that same un-partitioned budget and
// may oversubscribe it; it is best-effort and experimental.
func (o *Orchestrator) Train(ctx context.Context, ds *dataset.Dataset, treeCount int,
	cfg *TrainingConfiguration, parallel bool) (*Ensemble, error) {

	if treeCount <= 0 {
		return nil, &ConfigurationError{Field: "trees", Reason: "must be greater than zero"}
	}

	o.log.Info("training", "trees", treeCount, "parallel", parallel, "mode", cfg.Mode().String())

	seeds := newSeedStream(cfg.RandomSeed())
	trees := make([]Tree, treeCount)

	start := time.Now()

	if parallel {
		o.log.Warn("parallel tree training is experimental: trees contend for the single-tree memory budget")

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < treeCount; i++ {
			i := i
			g.Go(func() error {
				// Seeds are drawn inside the goroutine, in scheduling
				// order: per-tree reproducibility is not a guarantee
				// of this mode.
				tree, err := o.trainer.Train(gctx, ds, cfg, seeds.next())
				if err != nil {
					return fmt.Errorf("training tree %d failed: %w", i, err)
				}
				trees[i] = tree
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := 0; i < treeCount; i++ {
			o.log.Info("training tree", "tree", i)
			tree, err := o.trainer.Train(ctx, ds, cfg, seeds.next())
			if err != nil {
				return nil, fmt.Errorf("training tree %d failed: %w", i, err)
			}
			trees[i] = tree
		}
	}

	elapsed := time.Since(start)
	o.log.Info("training finished",
		"duration", elapsed.Round(time.Millisecond).String(),
		"minutes", fmt.Sprintf("%.3f", elapsed.Minutes()))

	return &Ensemble{Trees: trees}, nil
}
