package feeder

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixel4a/vcam/internal/metrics"
	"github.com/pixel4a/vcam/internal/ring"
)

// testBasePort is a fixed high base port; each test adds its own offset.
// The spec fixes the
// feeder's production port at 5555, but tests use a different port so
// they don't collide with a real feeder instance on the same host.
const testBasePort = 15955

func newTestDaemon(t *testing.T, port int) *Daemon {
	t.Helper()
	d, err := New(port, metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func runDaemon(t *testing.T, d *Daemon) chan<- struct{} {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(stop)
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
	return stop
}

func dialProducer(t *testing.T, port int) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func TestFullFrameSingleChunkAdvancesWriteIndex(t *testing.T) {
	port := testBasePort + 1
	d := newTestDaemon(t, port)
	runDaemon(t, d)

	conn := dialProducer(t, port)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond) // allow accept to land in select loop

	frame := make([]byte, ring.FrameSize)
	for i := range frame {
		frame[i] = byte(i)
	}
	_, err := conn.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Segment().WriteIndex() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.InDelta(t, time.Now().UnixMilli(), d.Segment().LastUpdateMs(), 200)
}

func TestFullFrameThreeChunksMatchesSingleChunk(t *testing.T) {
	port := testBasePort + 2
	d := newTestDaemon(t, port)
	runDaemon(t, d)

	conn := dialProducer(t, port)
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	frame := make([]byte, ring.FrameSize)
	for i := range frame {
		frame[i] = byte(i * 7)
	}

	chunks := [][]byte{
		frame[:1000000],
		frame[1000000:2000000],
		frame[2000000:],
	}
	for _, c := range chunks {
		_, err := conn.Write(c)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return d.Segment().WriteIndex() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, frame, d.Segment().SlotBytes(1))
}

func TestPartialFrameThenDisconnectDoesNotAdvance(t *testing.T) {
	port := testBasePort + 3
	d := newTestDaemon(t, port)
	runDaemon(t, d)

	conn := dialProducer(t, port)
	time.Sleep(50 * time.Millisecond)

	_, err := conn.Write(make([]byte, ring.FrameSize-1))
	require.NoError(t, err)
	conn.Close()

	time.Sleep(200 * time.Millisecond)
	require.EqualValues(t, 0, d.Segment().WriteIndex())
	lastUpdate := d.Segment().LastUpdateMs()
	require.EqualValues(t, 0, lastUpdate)
}

func TestShortDisconnectThenReconnectStartsFreshAssembly(t *testing.T) {
	port := testBasePort + 4
	d := newTestDaemon(t, port)
	runDaemon(t, d)

	conn1 := dialProducer(t, port)
	time.Sleep(50 * time.Millisecond)
	_, err := conn1.Write(make([]byte, 500000))
	require.NoError(t, err)
	conn1.Close()
	time.Sleep(100 * time.Millisecond)

	conn2 := dialProducer(t, port)
	defer conn2.Close()
	time.Sleep(50 * time.Millisecond)

	frame := make([]byte, ring.FrameSize)
	_, err = conn2.Write(frame)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return d.Segment().WriteIndex() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
