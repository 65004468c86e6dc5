// Package version identifies the build and the host it runs on.
package version

import (
	"fmt"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/cpuid/v2"
)

// Version is the release version, overridable at link time.
var Version = "0.1.0-dev"

// String returns a one-line version banner.
func String() string {
	return fmt.Sprintf("curfil-train %s (%s)", Version, runtime.Version())
}

// LogInfo logs version and host identification at startup.
func LogInfo(log hclog.Logger) {
	log.Info("curfil-train", "version", Version, "go", runtime.Version())
	log.Info("host", "cpu", cpuid.CPU.BrandName, "cores", runtime.NumCPU())
}
