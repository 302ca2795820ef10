// Command vcam-interposer builds as a cgo c-shared library exporting
// the camera-module symbol (HMI) the platform's HAL loader discovers
// on the standard search path. It has no CLI surface of its own: all
// behavior is driven by the exported hooks in internal/interpose.
package main

import (
	"net/http"
	"os"

	"github.com/pixel4a/vcam/internal/interpose"
	"github.com/pixel4a/vcam/internal/logger"
	"github.com/pixel4a/vcam/internal/metrics"
)

// interposerMetricsAddr is where this process (the host camera process,
// with the interposer library loaded into it) exposes its own capture-
// result counters on /metrics, independent of the feeder daemon's own
// metrics endpoint.
const interposerMetricsAddr = ":9091"

func init() {
	logger.Init(logger.INFO, os.Stderr, false)

	m := metrics.New()
	interpose.SetMetrics(m)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		if err := http.ListenAndServe(interposerMetricsAddr, mux); err != nil {
			logger.Warn("Interpose", "metrics server stopped: %v", err)
		}
	}()

	logger.Info("Interpose", "vcam interposer loaded into host process")
}

// main is required by the c-shared build mode but is never invoked:
// the platform loader calls directly into the exported HMI symbol and
// its hooks.
func main() {}
