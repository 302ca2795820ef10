package interpose

import "github.com/pixel4a/vcam/internal/ring"

// InjectNV21 copies an NV21 frame of ring.Width x ring.Height out of src
// (a flat, tightly-packed ring.FrameSize buffer) into dst, which is laid
// out with the vendor's own row stride and may be larger than the
// logical frame. When dstStride equals ring.Width this degenerates to a
// single flat copy of ring.FrameSize bytes; otherwise each row is placed
// independently so that trailing padding bytes the vendor allocated for
// alignment are left untouched.
//
// dst must be at least dstStride*ring.Height + dstStride*(ring.Height/2)
// bytes (Y plane plus a half-height interleaved VU plane), the same
// layout android camera HALs use for NV21 gralloc buffers.
func InjectNV21(dst []byte, dstStride int, src []byte) {
	if len(src) != ring.FrameSize {
		panic("interpose: source frame is not a full NV21 frame")
	}
	if dstStride == ring.Width {
		copy(dst, src)
		return
	}

	ySize := ring.Width * ring.Height
	for row := 0; row < ring.Height; row++ {
		srcOff := row * ring.Width
		dstOff := row * dstStride
		copy(dst[dstOff:dstOff+ring.Width], src[srcOff:srcOff+ring.Width])
	}

	vuRows := ring.Height / 2
	vuPlaneOff := dstStride * ring.Height
	for row := 0; row < vuRows; row++ {
		srcOff := ySize + row*ring.Width
		dstOff := vuPlaneOff + row*dstStride
		copy(dst[dstOff:dstOff+ring.Width], src[srcOff:srcOff+ring.Width])
	}
}
