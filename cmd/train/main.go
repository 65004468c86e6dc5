package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/NikolausDemmel/curfil/internal/adapters/nvml"
	"github.com/NikolausDemmel/curfil/internal/budget"
	"github.com/NikolausDemmel/curfil/internal/cli"
	"github.com/NikolausDemmel/curfil/internal/dataset"
	"github.com/NikolausDemmel/curfil/internal/domain"
	"github.com/NikolausDemmel/curfil/internal/engine"
	"github.com/NikolausDemmel/curfil/internal/export"
	"github.com/NikolausDemmel/curfil/internal/training"
	"github.com/NikolausDemmel/curfil/internal/version"
)

type options struct {
	folderTraining       string
	outputFolder         string
	trees                int
	samplesPerImage      int
	featureCount         int
	minSampleCount       int
	maxDepth             int
	boxRadius            int
	regionSize           int
	numThresholds        int
	numThreads           int
	useCIELab            bool
	useDepthFilling      bool
	deviceIDs            []int
	subsamplingType      string
	maxImages            int
	imageCacheSizeMB     int
	mode                 string
	profile              bool
	randomSeed           int64
	ignoredColors        []string
	verboseTree          bool
	trainTreesInParallel bool
	showVersion          bool
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curfil-train",
		Short: "Train a random forest on labeled RGB-D images",
		Long: "curfil-train trains an ensemble of decision trees on labeled RGB-D images.\n" +
			"Before training starts it budgets the available device memory: how many\n" +
			"images fit in the on-device image cache and how many candidate samples may\n" +
			"be evaluated per batch, under conservative safety margins.",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvDefaults(cmd.Flags())

			p := buildParams(opts)
			if err := p.Validate(); err != nil {
				return err
			}

			// Flags are valid; later failures are runtime errors and
			// should not re-print usage.
			cmd.SilenceUsage = true
			return run(opts, p)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.folderTraining, "folderTraining", "", "folder with training images")
	f.IntVar(&opts.trees, "trees", 0, "number of trees to train")
	f.IntVar(&opts.samplesPerImage, "samplesPerImage", 0, "samples per image")
	f.IntVar(&opts.featureCount, "featureCount", 0, "feature count")
	f.IntVar(&opts.minSampleCount, "minSampleCount", 0, "minimum samples per leaf")
	f.IntVar(&opts.maxDepth, "maxDepth", 0, "maximum tree depth")
	f.IntVar(&opts.boxRadius, "boxRadius", 0, "box radius for feature offsets")
	f.IntVar(&opts.regionSize, "regionSize", 0, "maximum feature region extent")
	f.IntVar(&opts.numThresholds, "numThresholds", 0, "number of thresholds to evaluate")
	f.StringVar(&opts.outputFolder, "outputFolder", "", "folder to output trained trees")
	f.IntVar(&opts.numThreads, "numThreads", runtime.NumCPU(), "number of threads")
	f.BoolVar(&opts.useCIELab, "useCIELab", true, "convert images to CIELab color space")
	f.BoolVar(&opts.useDepthFilling, "useDepthFilling", false, "whether to do simple depth filling")
	f.IntSliceVar(&opts.deviceIDs, "deviceId", nil, "GPU device id (repeatable)")
	f.StringVar(&opts.subsamplingType, "subsamplingType", training.SubsampleClassUniform,
		"subsampling type: 'pixelUniform' or 'classUniform'")
	f.IntVar(&opts.maxImages, "maxImages", 0,
		"maximum number of images to load for training. set to 0 if all images should be loaded")
	f.IntVar(&opts.imageCacheSizeMB, "imageCacheSize", 0,
		"image cache size on device in MB. 0 means automatic adjustment")
	f.StringVar(&opts.mode, "mode", "gpu", "acceleration mode: 'gpu' (default), 'cpu' or 'compare'")
	f.BoolVar(&opts.profile, "profile", false, "profiling")
	f.Int64Var(&opts.randomSeed, "randomSeed", 4711, "random seed")
	f.StringArrayVar(&opts.ignoredColors, "ignoreColor", nil,
		"do not sample pixels of this color. format: R,G,B where 0 <= R,G,B <= 255")
	f.BoolVar(&opts.verboseTree, "verboseTree", false,
		"whether to write verbose trees including profiling and debugging information")
	f.BoolVar(&opts.trainTreesInParallel, "trainTreesInParallel", false,
		"whether to train multiple trees sequentially (default) or in parallel (experimental)")
	f.BoolVar(&opts.showVersion, "version", false, "show version and exit")

	for _, required := range []string{
		"folderTraining", "trees", "samplesPerImage", "featureCount",
		"minSampleCount", "maxDepth", "boxRadius", "regionSize", "numThresholds",
	} {
		_ = cmd.MarkFlagRequired(required)
	}

	return cmd
}

// versionRequested reports whether the raw arguments ask for the version
// banner. This must be decided before cobra parses flags: required-flag
// validation runs first and would reject a bare version request.
func versionRequested(args []string) bool {
	for _, a := range args {
		if a == "--" {
			break
		}
		if a == "--version" {
			return true
		}
	}
	return false
}

// envDefaults maps every optional flag to the environment variable that may
// supply its default. Explicit command-line values always win.
var envDefaults = map[string]string{
	"outputFolder":         "CURFIL_OUTPUT_FOLDER",
	"numThreads":           "CURFIL_NUM_THREADS",
	"useCIELab":            "CURFIL_USE_CIELAB",
	"useDepthFilling":      "CURFIL_USE_DEPTH_FILLING",
	"deviceId":             "CURFIL_DEVICE_ID",
	"subsamplingType":      "CURFIL_SUBSAMPLING_TYPE",
	"maxImages":            "CURFIL_MAX_IMAGES",
	"imageCacheSize":       "CURFIL_IMAGE_CACHE_SIZE",
	"mode":                 "CURFIL_MODE",
	"profile":              "CURFIL_PROFILE",
	"randomSeed":           "CURFIL_RANDOM_SEED",
	"ignoreColor":          "CURFIL_IGNORE_COLOR",
	"verboseTree":          "CURFIL_VERBOSE_TREE",
	"trainTreesInParallel": "CURFIL_TRAIN_TREES_IN_PARALLEL",
}

// applyEnvDefaults lets a .env file or the environment supply optional values
// that were not set on the command line.
func applyEnvDefaults(f *pflag.FlagSet) {
	for flag, env := range envDefaults {
		if f.Changed(flag) {
			continue
		}
		if v := os.Getenv(env); v != "" {
			_ = f.Set(flag, v)
		}
	}
}

func buildParams(opts *options) training.Params {
	deviceIDs := opts.deviceIDs
	if len(deviceIDs) == 0 {
		deviceIDs = []int{0}
	}
	return training.Params{
		TreeCount:       opts.trees,
		RandomSeed:      opts.randomSeed,
		SamplesPerImage: opts.samplesPerImage,
		FeatureCount:    opts.featureCount,
		MinSampleCount:  opts.minSampleCount,
		MaxDepth:        opts.maxDepth,
		BoxRadius:       opts.boxRadius,
		RegionSize:      opts.regionSize,
		ThresholdCount:  opts.numThresholds,
		NumThreads:      opts.numThreads,
		MaxImages:       opts.maxImages,
		Mode:            opts.mode,
		UseCIELab:       opts.useCIELab,
		UseDepthFilling: opts.useDepthFilling,
		DeviceIDs:       deviceIDs,
		SubsamplingType: opts.subsamplingType,
		IgnoredColors:   opts.ignoredColors,
		Profiling:       opts.profile,
	}
}

func run(opts *options, p training.Params) error {
	level := hclog.Info
	if opts.profile {
		level = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{Name: "curfil", Level: level})

	version.LogInfo(logger)
	if len(opts.deviceIDs) == 0 {
		logger.Info("no GPU device ID specified. using device 0")
	}
	logger.Info("acceleration mode", "mode", opts.mode)
	logger.Info("preprocessing", "CIELab", opts.useCIELab, "depthFilling", opts.useDepthFilling)

	provider := nvml.NewNVMLProvider()
	if err := provider.Init(); err != nil {
		return fmt.Errorf("device memory query failed: %w", err)
	}
	defer provider.Shutdown()

	devices := make([]domain.Device, 0, len(p.DeviceIDs))
	for _, id := range p.DeviceIDs {
		free, err := provider.FreeMemory(id)
		if err != nil {
			return fmt.Errorf("device memory query failed: %w", err)
		}
		devices = append(devices, domain.Device{ID: id, FreeMemoryBytes: free})
	}
	minFree := domain.MinFreeMemory(devices)
	logger.Info("device memory", "devices", len(devices), "minFree", humanize.IBytes(minFree))

	ds, err := dataset.Load(opts.folderTraining, dataset.LoadOptions{
		UseCIELab:       opts.useCIELab,
		UseDepthFilling: opts.useDepthFilling,
		MaxImages:       opts.maxImages,
	})
	if err != nil {
		return err
	}
	logger.Info("loaded dataset",
		"images", ds.Count(),
		"perImage", humanize.IBytes(ds.BytesPerImage()),
		"labels", ds.LabelCount(),
		"depth", ds.HasDepth())

	in := budget.Input{
		MinFreeMemory:       minFree,
		CacheSizeMB:         opts.imageCacheSizeMB,
		DatasetCount:        ds.Count(),
		BytesPerImage:       ds.BytesPerImage(),
		FeatureCount:        opts.featureCount,
		ThresholdCount:      opts.numThresholds,
		WeightSize:          engine.WeightSize,
		FeatureResponseSize: engine.FeatureResponseSize,
	}
	b, err := budget.Compute(in)
	if err != nil {
		return err
	}
	logger.Info("resource budget",
		"imageCacheSize", b.ImageCacheCount,
		"cache", humanize.IBytes(uint64(b.ImageCacheCount)*ds.BytesPerImage()),
		"maxSamplesPerBatch", b.MaxSamplesPerBatch)

	cfg, err := training.NewConfiguration(p, b)
	if err != nil {
		return err
	}

	orch := training.NewOrchestrator(engine.New(logger.Named("engine")), logger.Named("train"))

	start := time.Now()
	ens, err := orch.Train(context.Background(), ds, opts.trees, cfg, opts.trainTreesInParallel)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	cli.PrintRunSummary(len(ens.Trees), elapsed)
	cli.PrintFeatureUsage(training.CountFeatureUsage(ens))

	if opts.outputFolder != "" {
		exporter := export.NewExporter(cfg, opts.outputFolder, opts.folderTraining,
			opts.verboseTree, logger.Named("export"))
		if err := exporter.WriteJSON(ens); err != nil {
			return err
		}
	} else {
		logger.Warn("no output folder given. skipping JSON export")
	}

	logger.Info("finished")
	return nil
}

func main() {
	// A .env file may provide CURFIL_* defaults for optional flags.
	_ = godotenv.Load()

	// Decided before cobra runs so a version request is not rejected for
	// missing required flags. Informational exits are not success,
	// matching the original tool's convention.
	if versionRequested(os.Args[1:]) {
		fmt.Println(version.String())
		os.Exit(1)
	}

	opts := &options{}
	cmd := newRootCmd(opts)

	if len(os.Args) <= 1 {
		_ = cmd.Help()
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}

	// An explicit help request prints help and exits non-zero by this
	// tool's convention.
	if help, _ := cmd.Flags().GetBool("help"); help {
		os.Exit(1)
	}
}
