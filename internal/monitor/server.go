// Package monitor implements the operator console: a small HTTP server
// exposing liveness, status, a JPEG preview snapshot, and a WebRTC
// data-channel preview feed, all read directly off the live ring
// segment.
package monitor

import (
	"io"
	"net/http"
	"time"

	"github.com/pixel4a/vcam/internal/metrics"
	"github.com/pixel4a/vcam/internal/ring"
)

// DefaultJPEGQuality matches the teacher's own MJPEG stream quality
// choice for a reasonable preview/bandwidth tradeoff.
const DefaultJPEGQuality = 80

// Server serves the operator console endpoints against a live ring
// segment.
type Server struct {
	seg       *ring.Segment
	metrics   *metrics.Metrics
	rtc       *rtcServer
	startedAt time.Time
}

// NewServer wires a console server to seg. m may be nil if metrics
// aren't available to the caller (e.g. a standalone vcamctl viewer).
func NewServer(seg *ring.Segment, m *metrics.Metrics) *Server {
	s := &Server{seg: seg, metrics: m, startedAt: time.Now()}
	s.rtc = newRTCServer(s.latestPreviewJPEG)
	return s
}

// Handler returns the console's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/preview.jpg", s.handlePreview)
	mux.HandleFunc("/offer", s.handleOffer)
	return mux
}

func (s *Server) latestPreviewJPEG() ([]byte, error) {
	now := time.Now()
	writeIndex := s.seg.WriteIndex()
	age := time.Duration(now.UnixMilli()-s.seg.LastUpdateMs()) * time.Millisecond
	src := s.seg.SlotBytes(writeIndex)
	return EncodeJPEG(src, writeIndex, age, DefaultJPEGQuality)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	jpegBytes, err := s.latestPreviewJPEG()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(jpegBytes)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.handleOffer(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}
