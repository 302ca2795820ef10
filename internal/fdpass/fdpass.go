// Package fdpass implements the one-shot FD rendezvous protocol: a local
// stream socket on which the feeder hands a single file descriptor to
// any client that connects, via SCM_RIGHTS ancillary data.
//
// The server half is built on raw unix sockets (rather than net.Listener)
// so its listening fd can be multiplexed directly by the feeder's
// select-based event loop alongside the TCP listener and producer fds.
// The client half, used by the (separate-process) interposer, has no
// such constraint and uses the net package for simplicity.
package fdpass

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pixel4a/vcam/internal/logger"
)

const (
	// PrimaryPath is the preferred socket path.
	PrimaryPath = "/dev/socket/vcam_ipc"
	// FallbackPath is used when binding PrimaryPath fails.
	FallbackPath = "/data/local/tmp/vcam_ipc"

	// payload is the single byte sent alongside the ancillary fd. Its
	// value carries no meaning; only its presence (and the ancillary
	// data's presence) matters to the client.
	payload = 0x01
)

// Server listens on the rendezvous socket and hands out a single fd (the
// ring segment's fd) to every client that connects.
type Server struct {
	listenFD int
	path     string
	ringFD   int
}

// Listen binds the rendezvous socket, trying PrimaryPath first and
// FallbackPath if that bind fails, and chmods it 0777 so unprivileged
// consumers can connect. ringFD is the descriptor handed to every
// client; the server does not take ownership of it and will not close
// it.
func Listen(ringFD int) (*Server, error) {
	fd, path, err := listenWithFallback()
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0777); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fdpass: chmod %s: %w", path, err)
	}
	return &Server{listenFD: fd, path: path, ringFD: ringFD}, nil
}

func bindAndListen(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	os.Remove(path)
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 10); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func listenWithFallback() (int, string, error) {
	fd, err := bindAndListen(PrimaryPath)
	if err == nil {
		return fd, PrimaryPath, nil
	}
	logger.Warn("FDPass", "bind %s failed (%v), trying fallback %s", PrimaryPath, err, FallbackPath)

	fd, err = bindAndListen(FallbackPath)
	if err != nil {
		return -1, "", fmt.Errorf("fdpass: bind both %s and %s: %w", PrimaryPath, FallbackPath, err)
	}
	return fd, FallbackPath, nil
}

// Path returns the socket path actually bound (primary or fallback).
func (s *Server) Path() string {
	return s.path
}

// FD returns the raw listening socket fd, for the event loop's select
// set.
func (s *Server) FD() int {
	return s.listenFD
}

// Close closes the listening socket.
func (s *Server) Close() error {
	return unix.Close(s.listenFD)
}

// AcceptAndSend accepts a single pending connection, sends the ring fd
// as ancillary data with a one-byte payload, and closes the connection.
// Any failure here is operational-transient: the caller logs and moves
// on, the next client will simply retry.
func (s *Server) AcceptAndSend() error {
	connFD, _, err := unix.Accept(s.listenFD)
	if err != nil {
		return fmt.Errorf("fdpass: accept: %w", err)
	}
	defer unix.Close(connFD)

	rights := unix.UnixRights(s.ringFD)
	if err := unix.Sendmsg(connFD, []byte{payload}, rights, nil, 0); err != nil {
		return fmt.Errorf("fdpass: sendmsg: %w", err)
	}
	return nil
}

// Dial connects to the rendezvous socket at path and receives the ring
// fd. On any failure (connect refused, no ancillary data, malformed
// payload) it returns an error and the caller should abort rendezvous
// silently, retrying on the next capture that needs it.
func Dial(path string) (int, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return -1, fmt.Errorf("fdpass: dial %s: %w", path, err)
	}
	defer conn.Close()

	buf := make([]byte, 1)
	oob := make([]byte, syscall.CmsgSpace(4))

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, fmt.Errorf("fdpass: recvmsg: %w", err)
	}
	if n != 1 {
		return -1, fmt.Errorf("fdpass: unexpected payload size %d", n)
	}

	cmsgs, err := syscall.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("fdpass: parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return -1, fmt.Errorf("fdpass: no ancillary data")
	}

	fds, err := syscall.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("fdpass: parse rights: %w", err)
	}
	if len(fds) != 1 {
		return -1, fmt.Errorf("fdpass: expected 1 fd, got %d", len(fds))
	}

	return fds[0], nil
}

// DialDefault tries PrimaryPath then FallbackPath.
func DialDefault() (int, error) {
	fd, err := Dial(PrimaryPath)
	if err == nil {
		return fd, nil
	}
	return Dial(FallbackPath)
}
