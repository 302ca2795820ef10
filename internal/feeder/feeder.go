// Package feeder implements the feeder daemon: it owns the ring
// segment, the FD rendezvous listener, and the TCP source listener, and
// drives them all from a single cooperative, select-based event loop
// with a 500 ms timeout and strictly non-blocking receives.
package feeder

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pixel4a/vcam/internal/fdpass"
	"github.com/pixel4a/vcam/internal/logger"
	"github.com/pixel4a/vcam/internal/metrics"
	"github.com/pixel4a/vcam/internal/ring"
)

// pollTimeout is the select() timeout the event loop waits on when
// nothing is ready. No operation in the loop blocks indefinitely.
const pollTimeout = 500 * time.Millisecond

// DefaultTCPPort is the spec-mandated fixed listening port for the raw
// NV21 video source.
const DefaultTCPPort = 5555

// Daemon is the feeder: it holds the ring segment, the rendezvous
// listener, and the TCP listener/producer, and drives the single-
// threaded cooperative event loop described by the spec.
type Daemon struct {
	seg    *ring.Segment
	segFD  int
	rendez *fdpass.Server
	tcpFD  int

	metrics *metrics.Metrics

	producerFD int // -1 when no source is connected
	next       uint32
	received   int
}

// New creates the ring segment and the rendezvous/TCP listeners, but
// does not start serving yet. port is typically 5555.
func New(port int, m *metrics.Metrics) (*Daemon, error) {
	seg, fd, err := ring.Create()
	if err != nil {
		return nil, fmt.Errorf("feeder: create ring: %w", err)
	}

	rendez, err := fdpass.Listen(fd)
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("feeder: rendezvous listen: %w", err)
	}

	tcpFD, err := listenTCP(port)
	if err != nil {
		rendez.Close()
		seg.Close()
		return nil, fmt.Errorf("feeder: tcp listen: %w", err)
	}

	d := &Daemon{
		seg:        seg,
		segFD:      fd,
		rendez:     rendez,
		tcpFD:      tcpFD,
		metrics:    m,
		producerFD: -1,
		next:       ring.Next(seg.WriteIndex()),
	}
	return d, nil
}

func listenTCP(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Segment exposes the ring for components (the monitor console, tests)
// that need to read it in-process.
func (d *Daemon) Segment() *ring.Segment {
	return d.seg
}

// RendezvousPath returns the socket path the rendezvous listener bound.
func (d *Daemon) RendezvousPath() string {
	return d.rendez.Path()
}

// Close releases every resource the daemon owns.
func (d *Daemon) Close() error {
	if d.producerFD >= 0 {
		unix.Close(d.producerFD)
		d.producerFD = -1
	}
	unix.Close(d.tcpFD)
	d.rendez.Close()
	err := d.seg.Close()
	unix.Close(d.segFD)
	return err
}

// Run drives the event loop until stop is closed or a fatal select(2)
// error occurs.
func (d *Daemon) Run(stop <-chan struct{}) error {
	rendezFD := d.rendez.FD()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		var fds unix.FdSet
		fdZero(&fds)
		fdSet(&fds, rendezFD)
		fdSet(&fds, d.tcpFD)
		maxFD := maxInt(rendezFD, d.tcpFD)

		if d.producerFD >= 0 {
			fdSet(&fds, d.producerFD)
			maxFD = maxInt(maxFD, d.producerFD)
		}

		timeout := unix.NsecToTimeval(pollTimeout.Nanoseconds())
		n, err := unix.Select(maxFD+1, &fds, nil, nil, &timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("feeder: select: %w", err)
		}
		if n == 0 {
			continue // timeout, nothing ready
		}

		if fdIsSet(&fds, rendezFD) {
			d.handleRendezvous()
		}
		if fdIsSet(&fds, d.tcpFD) {
			d.handleNewProducer()
		}
		if d.producerFD >= 0 && fdIsSet(&fds, d.producerFD) {
			d.handleProducerReadable()
		}
	}
}

func (d *Daemon) handleRendezvous() {
	if err := d.rendez.AcceptAndSend(); err != nil {
		d.metrics.RendezvousFailures.Add(1)
		logger.Warn("Feeder", "rendezvous handshake failed: %v", err)
		return
	}
	d.metrics.RendezvousHandshakes.Add(1)
}

func (d *Daemon) handleNewProducer() {
	connFD, _, err := unix.Accept(d.tcpFD)
	if err != nil {
		logger.Warn("Feeder", "tcp accept failed: %v", err)
		return
	}
	if err := unix.SetNonblock(connFD, true); err != nil {
		logger.Warn("Feeder", "set nonblocking failed: %v", err)
	}

	if d.producerFD >= 0 {
		logger.Info("Feeder", "replacing existing video source connection")
		unix.Close(d.producerFD)
		d.metrics.ProducerDisconnects.Add(1)
	}
	d.producerFD = connFD
	d.received = 0
	d.metrics.ProducerConnects.Add(1)
	logger.Info("Feeder", "video source connected")
}

func (d *Daemon) handleProducerReadable() {
	target := d.seg.SlotBytes(d.next)

	n, err := unix.Read(d.producerFD, target[d.received:])
	switch {
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
		return
	case err != nil:
		d.abandonProducer("recv error: %v", err)
		return
	case n == 0:
		logger.Info("Feeder", "video source disconnected")
		unix.Close(d.producerFD)
		d.producerFD = -1
		d.metrics.ProducerDisconnects.Add(1)
		if d.received > 0 {
			d.metrics.PartialFramesDropped.Add(1)
		}
		d.received = 0
		return
	}

	d.received += n
	d.metrics.BytesReceived.Add(uint64(n))

	if d.received == ring.FrameSize {
		now := time.Now()
		d.seg.PublishSlot(d.next, now)
		d.metrics.FramesAssembled.Add(1)
		d.next = ring.Next(d.next)
		d.received = 0
	}
}

func (d *Daemon) abandonProducer(format string, args ...interface{}) {
	logger.Warn("Feeder", "producer error: "+format, args...)
	if d.producerFD >= 0 {
		unix.Close(d.producerFD)
		d.producerFD = -1
	}
	if d.received > 0 {
		d.metrics.PartialFramesDropped.Add(1)
	}
	d.received = 0
	d.metrics.ProducerDisconnects.Add(1)
}

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
