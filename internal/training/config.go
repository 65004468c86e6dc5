// Package training holds the training configuration, the ensemble
// orchestrator, and feature-usage diagnostics.
package training

import (
	"encoding/json"
	"fmt"

	"github.com/NikolausDemmel/curfil/internal/budget"
	"github.com/NikolausDemmel/curfil/internal/dataset"
)

// AccelerationMode controls where split-evaluation compute executes.
type AccelerationMode int

const (
	GPU AccelerationMode = iota
	CPU
	Compare
)

func (m AccelerationMode) String() string {
	switch m {
	case GPU:
		return "gpu"
	case CPU:
		return "cpu"
	case Compare:
		return "compare"
	}
	return fmt.Sprintf("AccelerationMode(%d)", int(m))
}

// UnknownModeError reports an acceleration-mode label outside the three
// recognized strings. Matching is case-sensitive and exact.
type UnknownModeError struct {
	Label string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown acceleration mode: %q (expected \"gpu\", \"cpu\" or \"compare\")", e.Label)
}

// ParseAccelerationMode parses one of "gpu", "cpu" or "compare".
func ParseAccelerationMode(label string) (AccelerationMode, error) {
	switch label {
	case "gpu":
		return GPU, nil
	case "cpu":
		return CPU, nil
	case "compare":
		return Compare, nil
	}
	return 0, &UnknownModeError{Label: label}
}

// Subsampling policy labels.
const (
	SubsamplePixelUniform = "pixelUniform"
	SubsampleClassUniform = "classUniform"
)

// ConfigurationError reports a missing or out-of-domain hyperparameter.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Params carries the user-supplied hyperparameters for one training run.
// TreeCount is validated here but handed to the orchestrator separately;
// it is not part of the configuration shared with each tree.
type Params struct {
	TreeCount       int
	RandomSeed      int64
	SamplesPerImage int
	FeatureCount    int
	MinSampleCount  int
	MaxDepth        int
	BoxRadius       int
	RegionSize      int
	ThresholdCount  int
	NumThreads      int
	MaxImages       int
	Mode            string
	UseCIELab       bool
	UseDepthFilling bool
	DeviceIDs       []int
	SubsamplingType string
	IgnoredColors   []string
	Profiling       bool
}

// Validate checks every hyperparameter without touching any device. A
// configuration error here aborts the run before any resource query.
func (p Params) Validate() error {
	positive := []struct {
		field string
		value int
	}{
		{"trees", p.TreeCount},
		{"samplesPerImage", p.SamplesPerImage},
		{"featureCount", p.FeatureCount},
		{"minSampleCount", p.MinSampleCount},
		{"maxDepth", p.MaxDepth},
		{"boxRadius", p.BoxRadius},
		{"regionSize", p.RegionSize},
		{"numThresholds", p.ThresholdCount},
		{"numThreads", p.NumThreads},
	}
	for _, c := range positive {
		if c.value <= 0 {
			return &ConfigurationError{Field: c.field, Reason: "must be greater than zero"}
		}
	}
	if p.MaxImages < 0 {
		return &ConfigurationError{Field: "maxImages", Reason: "must not be negative"}
	}
	if _, err := ParseAccelerationMode(p.Mode); err != nil {
		return err
	}
	if p.SubsamplingType != SubsamplePixelUniform && p.SubsamplingType != SubsampleClassUniform {
		return &ConfigurationError{
			Field:  "subsamplingType",
			Reason: fmt.Sprintf("must be %q or %q", SubsamplePixelUniform, SubsampleClassUniform),
		}
	}
	if len(p.DeviceIDs) == 0 {
		return &ConfigurationError{Field: "deviceId", Reason: "at least one device is required"}
	}
	for _, id := range p.DeviceIDs {
		if id < 0 {
			return &ConfigurationError{Field: "deviceId", Reason: "must not be negative"}
		}
	}
	for _, c := range p.IgnoredColors {
		if _, err := dataset.ParseRGB(c); err != nil {
			return &ConfigurationError{Field: "ignoreColor", Reason: err.Error()}
		}
	}
	return nil
}

// TrainingConfiguration is the immutable value object shared read-only by
// every tree during a run. Reconfiguration means building a new one.
type TrainingConfiguration struct {
	randomSeed      int64
	samplesPerImage int
	featureCount    int
	minSampleCount  int
	maxDepth        int
	boxRadius       int
	regionSize      int
	thresholdCount  int
	numThreads      int
	maxImages       int
	mode            AccelerationMode
	useCIELab       bool
	useDepthFilling bool
	deviceIDs       []int
	subsamplingType string
	ignoredColors   []string
	profiling       bool
	budget          budget.ResourceBudget
}

// NewConfiguration validates params and assembles a configuration around the
// resolved resource budget. Exactly one configuration per invocation; no
// field is ever mutated afterwards.
func NewConfiguration(p Params, b budget.ResourceBudget) (*TrainingConfiguration, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	mode, err := ParseAccelerationMode(p.Mode)
	if err != nil {
		return nil, err
	}

	cfg := &TrainingConfiguration{
		randomSeed:      p.RandomSeed,
		samplesPerImage: p.SamplesPerImage,
		featureCount:    p.FeatureCount,
		minSampleCount:  p.MinSampleCount,
		maxDepth:        p.MaxDepth,
		boxRadius:       p.BoxRadius,
		regionSize:      p.RegionSize,
		thresholdCount:  p.ThresholdCount,
		numThreads:      p.NumThreads,
		maxImages:       p.MaxImages,
		mode:            mode,
		useCIELab:       p.UseCIELab,
		useDepthFilling: p.UseDepthFilling,
		deviceIDs:       append([]int(nil), p.DeviceIDs...),
		subsamplingType: p.SubsamplingType,
		ignoredColors:   append([]string(nil), p.IgnoredColors...),
		profiling:       p.Profiling,
		budget:          b,
	}
	return cfg, nil
}

func (c *TrainingConfiguration) RandomSeed() int64       { return c.randomSeed }
func (c *TrainingConfiguration) SamplesPerImage() int    { return c.samplesPerImage }
func (c *TrainingConfiguration) FeatureCount() int       { return c.featureCount }
func (c *TrainingConfiguration) MinSampleCount() int     { return c.minSampleCount }
func (c *TrainingConfiguration) MaxDepth() int           { return c.maxDepth }
func (c *TrainingConfiguration) BoxRadius() int          { return c.boxRadius }
func (c *TrainingConfiguration) RegionSize() int         { return c.regionSize }
func (c *TrainingConfiguration) ThresholdCount() int     { return c.thresholdCount }
func (c *TrainingConfiguration) NumThreads() int         { return c.numThreads }
func (c *TrainingConfiguration) MaxImages() int          { return c.maxImages }
func (c *TrainingConfiguration) Mode() AccelerationMode  { return c.mode }
func (c *TrainingConfiguration) UseCIELab() bool         { return c.useCIELab }
func (c *TrainingConfiguration) UseDepthFilling() bool   { return c.useDepthFilling }
func (c *TrainingConfiguration) SubsamplingType() string { return c.subsamplingType }
func (c *TrainingConfiguration) Profiling() bool         { return c.profiling }

// DeviceIDs returns a copy of the selected device identifiers.
func (c *TrainingConfiguration) DeviceIDs() []int {
	return append([]int(nil), c.deviceIDs...)
}

// IgnoredColors returns a copy of the ignored-color triples.
func (c *TrainingConfiguration) IgnoredColors() []string {
	return append([]string(nil), c.ignoredColors...)
}

// Budget returns the resolved resource budget.
func (c *TrainingConfiguration) Budget() budget.ResourceBudget {
	return c.budget
}

// MarshalJSON exposes the configuration for export metadata.
func (c *TrainingConfiguration) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"randomSeed":         c.randomSeed,
		"samplesPerImage":    c.samplesPerImage,
		"featureCount":       c.featureCount,
		"minSampleCount":     c.minSampleCount,
		"maxDepth":           c.maxDepth,
		"boxRadius":          c.boxRadius,
		"regionSize":         c.regionSize,
		"numThresholds":      c.thresholdCount,
		"numThreads":         c.numThreads,
		"maxImages":          c.maxImages,
		"mode":               c.mode.String(),
		"useCIELab":          c.useCIELab,
		"useDepthFilling":    c.useDepthFilling,
		"deviceIds":          c.deviceIDs,
		"subsamplingType":    c.subsamplingType,
		"ignoredColors":      c.ignoredColors,
		"imageCacheSize":     c.budget.ImageCacheCount,
		"maxSamplesPerBatch": c.budget.MaxSamplesPerBatch,
	})
}
