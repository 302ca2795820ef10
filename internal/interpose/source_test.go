package interpose

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"

	"github.com/pixel4a/vcam/internal/ring"
)

func overrideFlagPath(t *testing.T, path string) func() {
	t.Helper()
	prev := flagPath
	flagPath = path
	return func() { flagPath = prev }
}

func newFreshSegment(t *testing.T) (*ring.Segment, int) {
	t.Helper()
	seg, fd, err := ring.Create()
	require.NoError(t, err)
	return seg, fd
}

func closeFD(fd int) {
	unix.Close(fd)
}

func TestShouldInjectFalseWhenFlagFileAbsent(t *testing.T) {
	dir := t.TempDir()
	restore := overrideFlagPath(t, filepath.Join(dir, "vcam_enable"))
	defer restore()

	seg, fd := newFreshSegment(t)
	defer func() { seg.Close(); closeFD(fd) }()
	seg.PublishSlot(0, time.Now())

	require.False(t, ShouldInject(seg, time.Now()))
}

func TestShouldInjectTrueWhenFlagPresentAndFresh(t *testing.T) {
	dir := t.TempDir()
	flagFile := filepath.Join(dir, "vcam_enable")
	restore := overrideFlagPath(t, flagFile)
	defer restore()
	require.NoError(t, os.WriteFile(flagFile, nil, 0644))

	seg, fd := newFreshSegment(t)
	defer func() { seg.Close(); closeFD(fd) }()
	now := time.Now()
	seg.PublishSlot(0, now)

	require.True(t, ShouldInject(seg, now))
}

func TestShouldInjectFalseWhenStale(t *testing.T) {
	dir := t.TempDir()
	flagFile := filepath.Join(dir, "vcam_enable")
	restore := overrideFlagPath(t, flagFile)
	defer restore()
	require.NoError(t, os.WriteFile(flagFile, nil, 0644))

	seg, fd := newFreshSegment(t)
	defer func() { seg.Close(); closeFD(fd) }()
	stale := time.Now().Add(-2 * time.Second)
	seg.PublishSlot(0, stale)

	require.False(t, ShouldInject(seg, time.Now()))
}
