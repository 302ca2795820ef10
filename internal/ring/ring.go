// Package ring implements the shared-memory frame ring: a fixed-size
// memory region split into a header page and N fixed-size NV21 frame
// slots, written by a single producer and read by any number of
// consumers with no per-consumer bookkeeping.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// NumFrames is the fixed slot count. With N=3 a consumer can safely
	// read the slot named by write_index while the producer fills the
	// next one and still keep one slot of headroom.
	NumFrames = 3

	// Width and Height are the fixed NV21 frame dimensions this core
	// supports (spec Non-goal: no multi-resolution negotiation).
	Width  = 1920
	Height = 1080

	// FrameSize is the NV21 byte size for Width x Height: a full-
	// resolution Y plane plus a half-resolution interleaved VU plane.
	FrameSize = Width * Height * 3 / 2

	// HeaderSize is the reserved, page-aligned header region. The ring
	// region begins at exactly this offset.
	HeaderSize = 4096

	// SegmentSize is the total ring segment size: header plus N slots.
	SegmentSize = HeaderSize + NumFrames*FrameSize

	// SharedBufferName is the name the feeder advertises its ring under.
	SharedBufferName = "vcam_shared_buffer"

	// StaleAfter is the liveness threshold: if the ring has not been
	// updated within this duration, consumers must not inject.
	StaleAfter = time.Second
)

// Header field byte offsets within the reserved header page. All fields
// are little-endian and aligned on their natural width.
const (
	offWriteIndex    = 0
	offNumFrames     = 4
	offFrameSize     = 8
	offWidth         = 12
	offHeight        = 16
	offLastUpdateMs  = 24 // 8-byte aligned
)

// Segment is a mapped view of the ring: the header page plus the N frame
// slots. The same type backs both the producer's read-write mapping and a
// consumer's read-only mapping.
type Segment struct {
	mem []byte
}

// Create allocates a fresh, anonymous memory-backed segment (via
// memfd_create, so the resulting fd can be handed to a consumer over a
// local socket exactly like a shared-memory object fd would be), maps it
// read-write, writes the header, and fills every slot with a neutral
// gray frame (Y=0, UV=128). It returns the segment and the backing fd;
// the caller owns the fd and must keep it open for the feeder's
// lifetime (and hand duplicates of it to consumers via fdpass).
func Create() (*Segment, int, error) {
	fd, err := unix.MemfdCreate(SharedBufferName, 0)
	if err != nil {
		return nil, -1, fmt.Errorf("ring: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, SegmentSize); err != nil {
		unix.Close(fd)
		return nil, -1, fmt.Errorf("ring: ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, -1, fmt.Errorf("ring: mmap: %w", err)
	}

	s := &Segment{mem: mem}
	s.initHeader()
	s.fillNeutral()

	return s, fd, nil
}

// Open maps an existing ring segment fd read-only. This is the consumer
// side of the FD rendezvous protocol: once mapped, the header and any
// slot can be read immediately.
func Open(fd int) (*Segment, error) {
	mem, err := unix.Mmap(fd, 0, SegmentSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap (read-only): %w", err)
	}
	return &Segment{mem: mem}, nil
}

// Close unmaps the segment. It does not close the backing fd.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	return err
}

func (s *Segment) initHeader() {
	binary.LittleEndian.PutUint32(s.mem[offNumFrames:], NumFrames)
	binary.LittleEndian.PutUint32(s.mem[offFrameSize:], FrameSize)
	binary.LittleEndian.PutUint32(s.mem[offWidth:], Width)
	binary.LittleEndian.PutUint32(s.mem[offHeight:], Height)
	s.storeWriteIndex(0)
	s.storeLastUpdateMs(0)
}

func (s *Segment) fillNeutral() {
	for i := 0; i < NumFrames; i++ {
		slot := s.slotBytes(uint32(i))
		y := slot[:Width*Height]
		for j := range y {
			y[j] = 0
		}
		uv := slot[Width*Height:]
		for j := range uv {
			uv[j] = 128
		}
	}
}

// NumFramesField returns the header's num_frames field.
func (s *Segment) NumFramesField() uint32 {
	return binary.LittleEndian.Uint32(s.mem[offNumFrames:])
}

// FrameSizeField returns the header's frame_size field.
func (s *Segment) FrameSizeField() uint32 {
	return binary.LittleEndian.Uint32(s.mem[offFrameSize:])
}

// WidthField returns the header's width field.
func (s *Segment) WidthField() uint32 {
	return binary.LittleEndian.Uint32(s.mem[offWidth:])
}

// HeightField returns the header's height field.
func (s *Segment) HeightField() uint32 {
	return binary.LittleEndian.Uint32(s.mem[offHeight:])
}

// WriteIndex performs an acquire load of write_index. Consumers use this
// as the "latest valid" slot.
func (s *Segment) WriteIndex() uint32 {
	return atomic.LoadUint32((*uint32)(ptr32(s.mem, offWriteIndex)))
}

// storeWriteIndex performs a release store of write_index. Only the
// producer calls this, and only after the target slot's pixel bytes are
// fully written.
func (s *Segment) storeWriteIndex(v uint32) {
	atomic.StoreUint32((*uint32)(ptr32(s.mem, offWriteIndex)), v)
}

// LastUpdateMs performs an acquire load of last_update_ms.
func (s *Segment) LastUpdateMs() int64 {
	return atomic.LoadInt64((*int64)(ptr64(s.mem, offLastUpdateMs)))
}

func (s *Segment) storeLastUpdateMs(v int64) {
	atomic.StoreInt64((*int64)(ptr64(s.mem, offLastUpdateMs)), v)
}

// Stale reports whether the ring has not been updated within StaleAfter
// of now. Consumers MUST NOT inject when Stale returns true; this is the
// dead switch that makes the camera fall back to vendor output when the
// feeder is absent or wedged.
func (s *Segment) Stale(now time.Time) bool {
	last := s.LastUpdateMs()
	return now.UnixMilli()-last > StaleAfter.Milliseconds()
}

// SlotBytes returns a byte view onto slot index, 0 <= index < NumFrames.
// The producer mutates this slice directly; consumers should treat it as
// read-only and copy out anything they need to keep past their next
// call into this segment.
func (s *Segment) SlotBytes(index uint32) []byte {
	return s.slotBytes(index)
}

func (s *Segment) slotBytes(index uint32) []byte {
	start := HeaderSize + int(index)*FrameSize
	return s.mem[start : start+FrameSize]
}

// PublishSlot performs the producer's publish step for the given slot:
// stamp last_update_ms to now, then release-store write_index. The
// caller must have finished writing the slot's pixel bytes before
// calling this.
func (s *Segment) PublishSlot(index uint32, now time.Time) {
	s.storeLastUpdateMs(now.UnixMilli())
	s.storeWriteIndex(index)
}

// Next returns the slot the producer should target after the current
// write_index, i.e. (write_index + 1) mod NumFrames. The writer always
// targets this slot and only advances write_index once it is complete,
// so the producer and any consumer reading the slot named by
// write_index never touch the same slot concurrently.
func Next(writeIndex uint32) uint32 {
	return (writeIndex + 1) % NumFrames
}
