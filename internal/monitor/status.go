package monitor

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pixel4a/vcam/internal/ring"
)

// statusSnapshot is the operator-facing view of ring and capture-path
// state. It is built fresh on every request from the live segment and
// metrics rather than cached, since the whole point of the endpoint is
// to reflect current liveness.
func (s *Server) statusSnapshot() map[string]any {
	now := time.Now()
	writeIndex := s.seg.WriteIndex()
	lastUpdate := s.seg.LastUpdateMs()
	age := now.UnixMilli() - lastUpdate

	payload := map[string]any{
		"write_index":     float64(writeIndex),
		"num_frames":      float64(ring.NumFrames),
		"frame_size":      float64(ring.FrameSize),
		"width":           float64(ring.Width),
		"height":          float64(ring.Height),
		"last_update_ms":  float64(lastUpdate),
		"age_ms":          float64(age),
		"stale":           s.seg.Stale(now),
		"injection_ready": age < 1000,
		"uptime_seconds":  now.Sub(s.startedAt).Seconds(),
		"preview_clients": float64(s.rtc.clientCount()),
	}

	if s.metrics != nil {
		payload["frames_assembled"] = float64(s.metrics.FramesAssembled.Load())
		payload["partial_frames_dropped"] = float64(s.metrics.PartialFramesDropped.Load())
		payload["producer_connects"] = float64(s.metrics.ProducerConnects.Load())
		payload["producer_disconnects"] = float64(s.metrics.ProducerDisconnects.Load())
		payload["capture_results_seen"] = float64(s.metrics.CaptureResultsSeen.Load())
		payload["capture_results_injected"] = float64(s.metrics.CaptureResultsInjected.Load())
	}

	return payload
}

// wantsProtobuf implements the same Accept-header content negotiation
// the teacher's detection-event stream uses, extended to the status
// endpoint.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") || strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := s.statusSnapshot()

	if wantsProtobuf(r) {
		st, err := structpb.NewStruct(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body, err := proto.Marshal(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}
