package interpose

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixel4a/vcam/internal/ring"
)

func sampleFrame() []byte {
	frame := make([]byte, ring.FrameSize)
	for i := range frame {
		frame[i] = byte(i * 31)
	}
	return frame
}

func TestInjectNV21MatchingStrideIsFlatCopy(t *testing.T) {
	src := sampleFrame()
	dst := make([]byte, ring.FrameSize)

	InjectNV21(dst, ring.Width, src)

	require.Equal(t, src, dst)
}

func TestInjectNV21WiderStridePreservesRowLayout(t *testing.T) {
	src := sampleFrame()
	stride := ring.Width + 64
	dstSize := stride*ring.Height + stride*(ring.Height/2)
	dst := make([]byte, dstSize)
	for i := range dst {
		dst[i] = 0xAA // sentinel padding, must survive untouched
	}

	InjectNV21(dst, stride, src)

	for row := 0; row < ring.Height; row++ {
		srcRow := src[row*ring.Width : row*ring.Width+ring.Width]
		dstRow := dst[row*stride : row*stride+ring.Width]
		require.Equal(t, srcRow, dstRow, "y row %d", row)

		padding := dst[row*stride+ring.Width : row*stride+stride]
		for _, b := range padding {
			require.Equal(t, byte(0xAA), b, "y row %d padding clobbered", row)
		}
	}

	ySize := ring.Width * ring.Height
	vuPlaneOff := stride * ring.Height
	for row := 0; row < ring.Height/2; row++ {
		srcRow := src[ySize+row*ring.Width : ySize+row*ring.Width+ring.Width]
		dstRow := dst[vuPlaneOff+row*stride : vuPlaneOff+row*stride+ring.Width]
		require.Equal(t, srcRow, dstRow, "vu row %d", row)
	}
}

func TestInjectNV21PanicsOnShortSource(t *testing.T) {
	dst := make([]byte, ring.FrameSize)
	require.Panics(t, func() {
		InjectNV21(dst, ring.Width, make([]byte, ring.FrameSize-1))
	})
}
