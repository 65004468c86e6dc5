// Package export persists a trained ensemble plus run metadata as JSON.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/cpuid/v2"

	"github.com/NikolausDemmel/curfil/internal/training"
	"github.com/NikolausDemmel/curfil/internal/version"
)

// Exporter writes one JSON file per tree into the output folder. Export only
// happens after a fully successful training pass; no partial output.
type Exporter struct {
	cfg            *training.TrainingConfiguration
	outputFolder   string
	trainingFolder string
	verbose        bool
	log            hclog.Logger
}

func NewExporter(cfg *training.TrainingConfiguration, outputFolder, trainingFolder string,
	verbose bool, log hclog.Logger) *Exporter {
	return &Exporter{
		cfg:            cfg,
		outputFolder:   outputFolder,
		trainingFolder: trainingFolder,
		verbose:        verbose,
		log:            log,
	}
}

type environment struct {
	Hostname  string `json:"hostname"`
	GoVersion string `json:"goVersion"`
	CPU       string `json:"cpu"`
}

type treeFile struct {
	Version        string                          `json:"version"`
	TrainingFolder string                          `json:"trainingFolder"`
	Timestamp      string                          `json:"timestamp"`
	Configuration  *training.TrainingConfiguration `json:"configuration"`
	Tree           training.Tree                   `json:"tree"`
	Environment    *environment                    `json:"environment,omitempty"`
}

// WriteJSON serializes every tree of the ensemble to
// <outputFolder>/tree<N>.json along with the configuration metadata.
func (e *Exporter) WriteJSON(ens *training.Ensemble) error {
	if err := os.MkdirAll(e.outputFolder, 0755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	var env *environment
	if e.verbose {
		hostname, _ := os.Hostname()
		env = &environment{
			Hostname:  hostname,
			GoVersion: runtime.Version(),
			CPU:       cpuid.CPU.BrandName,
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	for i, tree := range ens.Trees {
		out := treeFile{
			Version:        version.Version,
			TrainingFolder: e.trainingFolder,
			Timestamp:      timestamp,
			Configuration:  e.cfg,
			Tree:           tree,
			Environment:    env,
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize tree %d: %w", i, err)
		}

		path := filepath.Join(e.outputFolder, fmt.Sprintf("tree%d.json", i))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		e.log.Info("wrote tree", "path", path, "bytes", len(data))
	}

	return nil
}
