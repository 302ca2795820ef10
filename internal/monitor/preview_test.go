package monitor

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixel4a/vcam/internal/ring"
)

func TestEncodeJPEGProducesDecodableImageAtRingDimensions(t *testing.T) {
	frame := make([]byte, ring.FrameSize)
	for i := range frame {
		frame[i] = byte(i)
	}

	out, err := EncodeJPEG(frame, 2, 150*time.Millisecond, 80)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, ring.Width, img.Bounds().Dx())
	require.Equal(t, ring.Height, img.Bounds().Dy())
}

func TestNV21ToYCbCrPreservesLumaSamples(t *testing.T) {
	frame := make([]byte, ring.FrameSize)
	for i := 0; i < ring.Width*ring.Height; i++ {
		frame[i] = byte(i % 256)
	}

	img := nv21ToYCbCr(frame)
	require.Equal(t, frame[:ring.Width*ring.Height], img.Y)
}
