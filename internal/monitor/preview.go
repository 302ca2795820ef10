package monitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pixel4a/vcam/internal/ring"
)

// nv21ToYCbCr de-interleaves a flat NV21 buffer (Y plane, then VU
// interleaved at half resolution) into the planar representation
// image.YCbCr expects.
func nv21ToYCbCr(src []byte) *image.YCbCr {
	rect := image.Rect(0, 0, ring.Width, ring.Height)
	img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
	copy(img.Y, src[:ring.Width*ring.Height])

	ySize := ring.Width * ring.Height
	chromaSamples := len(img.Cb)
	for i := 0; i < chromaSamples; i++ {
		v := src[ySize+2*i]
		u := src[ySize+2*i+1]
		img.Cb[i] = u
		img.Cr[i] = v
	}
	return img
}

// renderOverlay draws a small status strip (write index, frame age) in
// the top-left corner of img using a fixed bitmap font, the same way an
// operator console annotates a raw preview frame with state that isn't
// visible in the pixels themselves.
func renderOverlay(img *image.RGBA, writeIndex uint32, age time.Duration) {
	label := fmt.Sprintf("slot=%d age=%dms", writeIndex, age.Milliseconds())

	bg := image.Rect(0, 0, 7*len(label)+8, 18)
	draw.Draw(img, bg, image.NewUniform(color.Black), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 13),
	}
	d.DrawString(label)
}

// EncodeJPEG renders slot src (a tightly-packed NV21 frame) into a JPEG
// still with a status overlay, at the given ring write index and frame
// age.
func EncodeJPEG(src []byte, writeIndex uint32, age time.Duration, quality int) ([]byte, error) {
	ycbcr := nv21ToYCbCr(src)

	rgba := image.NewRGBA(ycbcr.Bounds())
	draw.Draw(rgba, rgba.Bounds(), ycbcr, image.Point{}, draw.Src)

	renderOverlay(rgba, writeIndex, age)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
