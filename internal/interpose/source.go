package interpose

import (
	"os"
	"sync"
	"time"

	"github.com/pixel4a/vcam/internal/fdpass"
	"github.com/pixel4a/vcam/internal/logger"
	"github.com/pixel4a/vcam/internal/metrics"
	"github.com/pixel4a/vcam/internal/ring"
)

// FlagFilePath is the injection flag file. Its mere presence enables
// pixel overwrite in capture results; its absence disables it. Checked
// on every capture result.
const FlagFilePath = "/data/local/tmp/vcam_enable"

// VendorModulePath is the real camera HAL the interposer wraps and
// forwards all pass-through calls to.
const VendorModulePath = "/vendor/lib64/hw/camera.qcom.orig.so"

// DeviceStride is the row pitch, in pixels, the capture-result hook
// assumes for output buffers. The platform's actual stream
// configuration determines the true stride per-stream; since querying
// that is out of scope here, the hook uses this fixed guess. Because it
// equals ring.Width, the hook always maps DeviceStride*height*3/2 bytes
// and takes InjectNV21's flat-copy path; a buffer whose real stride
// differs does not get its rows placed at that stride.
const DeviceStride = ring.Width

var activeMetrics *metrics.Metrics

// SetMetrics installs the metrics sink the cgo hooks report to. Safe to
// call once at startup before any capture result arrives.
func SetMetrics(m *metrics.Metrics) {
	activeMetrics = m
}

// RingSource lazily maps the ring segment on first use, guarded by a
// single mutex; ShouldInject then decides, per capture result, whether
// injection proceeds. It never unmaps once mapped: the ring FD and
// mapping live for the interposer's process lifetime, same as the
// device-ops/callback registry.
type RingSource struct {
	mu  sync.Mutex
	seg *ring.Segment
}

// Mapped reports whether the ring has already been mapped.
func (s *RingSource) Mapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seg != nil
}

// EnsureMapped returns the mapped ring segment, performing rendezvous
// and a read-only mmap on first call. A failed rendezvous attempt
// leaves the source unmapped; the next capture result will simply
// retry, per the design's "no retries with backoff" rule.
func (s *RingSource) EnsureMapped() (*ring.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seg != nil {
		return s.seg, nil
	}

	fd, err := fdpass.DialDefault()
	if err != nil {
		return nil, err
	}

	seg, err := ring.Open(fd)
	if err != nil {
		return nil, err
	}
	s.seg = seg
	logger.Info("Interpose", "ring mapped via rendezvous")
	return seg, nil
}

// flagPath is the path InjectionEnabled checks. It defaults to
// FlagFilePath; tests override it via overrideFlagPath to avoid
// touching the real filesystem path.
var flagPath = FlagFilePath

// InjectionEnabled reports whether the flag file is currently present.
func InjectionEnabled() bool {
	_, err := os.Stat(flagPath)
	return err == nil
}

// ShouldInject combines the flag-file check with the ring's staleness
// check (spec §4.1/§4.4 step 3): injection proceeds only when the flag
// file is present AND the ring has been updated within the last second.
func ShouldInject(seg *ring.Segment, now time.Time) bool {
	if !InjectionEnabled() {
		return false
	}
	return !seg.Stale(now)
}
