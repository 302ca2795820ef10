package monitor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/pixel4a/vcam/internal/logger"
)

// previewFPS is the rate at which connected WebRTC clients receive a
// fresh JPEG preview frame over their data channel. The ring carries
// raw NV21 stills with no encoder in this core, so a real video track
// isn't an option; an ordered data channel carrying whole JPEGs is the
// closest equivalent preview experience.
const previewFPS = 5

type rtcClient struct {
	id       string
	peerConn *webrtc.PeerConnection
	channel  *webrtc.DataChannel
	closeCh  chan struct{}
}

// rtcServer manages WebRTC peer connections that receive a live preview
// over a data channel, adapted from the teacher's video-track client
// registry shape.
type rtcServer struct {
	mu      sync.RWMutex
	clients map[string]*rtcClient
	config  webrtc.Configuration
	source  func() ([]byte, error)
}

func newRTCServer(source func() ([]byte, error)) *rtcServer {
	return &rtcServer{
		clients: make(map[string]*rtcClient),
		config: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		source: source,
	}
}

// handleOffer mirrors the teacher's HandleOffer: parse the client's
// offer, stand up a peer connection and a "preview" data channel, and
// return a JSON-encoded answer.
func (s *rtcServer) handleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("parse offer: %w", err)
	}

	peerConn, err := webrtc.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	channel, err := peerConn.CreateDataChannel("preview", nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	client := &rtcClient{
		id:       fmt.Sprintf("client-%d", randomID()),
		peerConn: peerConn,
		channel:  channel,
		closeCh:  make(chan struct{}),
	}

	channel.OnOpen(func() {
		go s.pushPreview(client)
	})

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			s.removeClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	logger.Info("Monitor", "webrtc preview client %s connected", client.id)
	return json.Marshal(answer)
}

func (s *rtcServer) pushPreview(c *rtcClient) {
	ticker := time.NewTicker(time.Second / previewFPS)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			jpegBytes, err := s.source()
			if err != nil {
				continue
			}
			if err := c.channel.Send(jpegBytes); err != nil {
				logger.Warn("Monitor", "preview send to %s failed: %v", c.id, err)
				return
			}
		}
	}
}

func (s *rtcServer) removeClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return
	}
	close(c.closeCh)
	c.peerConn.Close()
	delete(s.clients, id)
	logger.Info("Monitor", "webrtc preview client %s disconnected", id)
}

func (s *rtcServer) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

var idCounter uint64
var idMu sync.Mutex

// randomID hands out a process-unique, monotonically increasing id.
func randomID() uint64 {
	idMu.Lock()
	defer idMu.Unlock()
	idCounter++
	return idCounter
}
