package fdpass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// listenAt is a test helper that binds the rendezvous server to an
// arbitrary path instead of the fixed primary/fallback paths, so tests
// don't need root or a real /dev/socket directory.
func listenAt(t *testing.T, path string, ringFD int) *Server {
	t.Helper()
	fd, err := bindAndListen(path)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0777))
	s := &Server{listenFD: fd, path: path, ringFD: ringFD}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRendezvousHandsOutWorkingFD(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "vcam_ipc")

	memFD, err := unix.MemfdCreate("fdpass-test", 0)
	require.NoError(t, err)
	defer unix.Close(memFD)
	require.NoError(t, unix.Ftruncate(memFD, 4096))

	marker := []byte("hello-ring")
	_, err = unix.Pwrite(memFD, marker, 0)
	require.NoError(t, err)

	srv := listenAt(t, sockPath, memFD)

	done := make(chan error, 1)
	go func() { done <- srv.AcceptAndSend() }()

	fd, err := Dial(sockPath)
	require.NoError(t, err)
	defer unix.Close(fd)

	require.NoError(t, <-done)

	buf := make([]byte, len(marker))
	n, err := unix.Pread(fd, buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(marker), n)
	require.Equal(t, marker, buf)
}

func TestDialFailsWhenNoServerListening(t *testing.T) {
	dir := t.TempDir()
	_, err := Dial(filepath.Join(dir, "nobody-home"))
	require.Error(t, err)
}

func TestDialDefaultTriesFallback(t *testing.T) {
	// Neither default path is reachable in a sandboxed test run; this
	// just exercises that both attempts fail cleanly rather than
	// panicking or hanging.
	_, err := DialDefault()
	require.Error(t, err)
}
