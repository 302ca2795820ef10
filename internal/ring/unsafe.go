package ring

import "unsafe"

// ptr32 and ptr64 give typed pointers into the header's byte slice so the
// write_index and last_update_ms cells can be touched with sync/atomic.
// The header layout guarantees both offsets are aligned on their natural
// width (see the offset constants in ring.go), which atomic access on
// every platform this core targets requires.

func ptr32(b []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&b[off])
}

func ptr64(b []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&b[off])
}
