// Package metrics exposes the feeder daemon's and interposer's
// Prometheus counters and gauges.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge this core publishes.
type Metrics struct {
	// Feeder-side.
	FramesAssembled       atomic.Uint64 // complete frames received and published
	PartialFramesDropped  atomic.Uint64 // producer disconnected mid-frame
	BytesReceived         atomic.Uint64
	ProducerConnects      atomic.Uint64
	ProducerDisconnects   atomic.Uint64
	RendezvousHandshakes  atomic.Uint64
	RendezvousFailures    atomic.Uint64

	// Interposer-side (best-effort: the interposer runs inside the host
	// camera process, so these are exported on a small local endpoint in
	// that process, not the feeder's own; the feeder's operator console
	// does not read that endpoint).
	CaptureResultsSeen          atomic.Uint64
	CaptureResultsInjected      atomic.Uint64
	CaptureResultsPassedThrough atomic.Uint64
	CaptureResultsStale         atomic.Uint64
	ForeignMmapFailures         atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with every gauge registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauge := func(name, help string, get func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help}, get,
		))
	}

	gauge("vcam_frames_assembled_total", "Complete frames received from the TCP source and published to the ring",
		func() float64 { return float64(m.FramesAssembled.Load()) })
	gauge("vcam_partial_frames_dropped_total", "Frames abandoned because the producer disconnected mid-frame",
		func() float64 { return float64(m.PartialFramesDropped.Load()) })
	gauge("vcam_bytes_received_total", "Raw bytes received from the TCP source",
		func() float64 { return float64(m.BytesReceived.Load()) })
	gauge("vcam_producer_connects_total", "TCP producer connections accepted",
		func() float64 { return float64(m.ProducerConnects.Load()) })
	gauge("vcam_producer_disconnects_total", "TCP producer disconnects observed",
		func() float64 { return float64(m.ProducerDisconnects.Load()) })
	gauge("vcam_rendezvous_handshakes_total", "Successful FD rendezvous handshakes",
		func() float64 { return float64(m.RendezvousHandshakes.Load()) })
	gauge("vcam_rendezvous_failures_total", "Failed FD rendezvous attempts",
		func() float64 { return float64(m.RendezvousFailures.Load()) })

	gauge("vcam_capture_results_total", "Capture results observed by the interposer callback hook",
		func() float64 { return float64(m.CaptureResultsSeen.Load()) })
	gauge("vcam_capture_results_injected_total", "Capture results whose output buffers were overwritten from the ring",
		func() float64 { return float64(m.CaptureResultsInjected.Load()) })
	gauge("vcam_capture_results_passthrough_total", "Capture results forwarded unchanged (injection disabled or ring stale)",
		func() float64 { return float64(m.CaptureResultsPassedThrough.Load()) })
	gauge("vcam_capture_results_stale_total", "Capture results skipped because the ring was stale",
		func() float64 { return float64(m.CaptureResultsStale.Load()) })
	gauge("vcam_foreign_mmap_failures_total", "Failed mmaps of a vendor output buffer handle",
		func() float64 { return float64(m.ForeignMmapFailures.Load()) })
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
