// Package staging implements the runtime's persistently-mapped ring
// staging heaps: one for CPU->GPU uploads, one for GPU->CPU downloads
// (spec §4.3, C4). Both share the same allocation protocol and safe-offset
// rule; direction-specific behavior (what the GPU copy moves and which way)
// lives in the submission engine that drives this package.
package staging

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Align is the byte alignment both ring heaps round allocations and their
// total size up to.
const Align = 256

// ErrOverflow is returned by Alloc when the caller is writing faster than
// the GPU is retiring: the requested range would cross the ring's safe
// offset.
var ErrOverflow = errors.New("staging: ring heap overflow")

// Ring is one persistently-mapped circular CPU-visible buffer. head is a
// strictly monotonic absolute counter (never wrapped); the mapped byte
// offset for any operation is head mod size. safeOffset is the furthest
// absolute head value the CPU may reach without overtaking in-flight GPU
// work; it is raised by the submission engine as submits retire.
type Ring struct {
	buf        hal.Buffer
	size       uint32
	head       uint32
	safeOffset uint32
}

// usage distinguishes the buffer usage flags for upload vs download rings;
// everything else about the two is identical.
type usage int

const (
	Upload usage = iota
	Download
)

// New creates a ring heap of the given size (rounded up to Align) backed by
// a persistently-mapped staging buffer, mirroring CreateStagingBuffer's
// direction-specific usage flags.
func New(device hal.Device, size uint32, dir usage) (*Ring, error) {
	aligned := alignUp(size, Align)
	var u gputypes.BufferUsage
	if dir == Upload {
		u = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	} else {
		u = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label:            "gpurt.ring",
		Size:             uint64(aligned),
		Usage:            u,
		MappedAtCreation: dir == Upload,
	})
	if err != nil {
		return nil, fmt.Errorf("staging: create buffer: %w", err)
	}
	return &Ring{buf: buf, size: aligned}, nil
}

// Buffer returns the backing device buffer for copy commands.
func (r *Ring) Buffer() hal.Buffer { return r.buf }

// Size returns the ring's total size in bytes.
func (r *Ring) Size() uint32 { return r.size }

// Head returns the current absolute (unwrapped) head.
func (r *Ring) Head() uint32 { return r.head }

// Alloc reserves n bytes (rounded up to Align) and returns the mapped byte
// offset the caller should write/read at. Implements the exact protocol
// from spec §4.3:
//  1. begin = head, beginMapped = begin mod size.
//  2. If beginMapped+n > size, wrap: begin rounds up to the next multiple
//     of size (beginMapped becomes 0).
//  3. end = begin+n; fail if end >= safeOffset.
//  4. Commit head = end.
func (r *Ring) Alloc(n uint32) (mappedOffset uint32, absoluteBegin uint32, err error) {
	aligned := alignUp(n, Align)

	begin := r.head
	beginMapped := begin % r.size
	if beginMapped+aligned > r.size {
		begin = alignUp(begin, r.size)
		beginMapped = 0
	}

	end := begin + aligned
	if end >= r.safeOffset {
		return 0, 0, fmt.Errorf("%w: end=%d safe_offset=%d", ErrOverflow, end, r.safeOffset)
	}

	r.head = end
	return beginMapped, begin, nil
}

// RaiseSafeOffset advances the safe offset to at least retiredHead+size,
// the "one full ring width ahead is safe" rule from spec §4.3. It never
// lowers the safe offset.
func (r *Ring) RaiseSafeOffset(retiredHead uint32) {
	candidate := retiredHead + r.size
	if candidate > r.safeOffset {
		r.safeOffset = candidate
	}
}

// SafeOffset returns the current safe offset.
func (r *Ring) SafeOffset() uint32 { return r.safeOffset }

// Write copies data into the ring's persistently mapped buffer at
// mappedOffset (as returned by Alloc), mirroring internal/gpu's
// Buffer.GetMappedRange-backed host write.
func (r *Ring) Write(mappedOffset uint32, data []byte) error {
	dst, err := r.buf.GetMappedRange(uint64(mappedOffset), uint64(len(data)))
	if err != nil {
		return fmt.Errorf("staging: get mapped range: %w", err)
	}
	copy(dst, data)
	return nil
}

// Read copies n bytes out of the ring's persistently mapped buffer starting
// at mappedOffset. The caller must only call Read once the GPU copy that
// fills this range has retired; Read itself does not check this (the
// façade's GetDownloaded checks the ticket's submit index first).
func (r *Ring) Read(mappedOffset, n uint32) ([]byte, error) {
	src, err := r.buf.GetMappedRange(uint64(mappedOffset), uint64(n))
	if err != nil {
		return nil, fmt.Errorf("staging: get mapped range: %w", err)
	}
	out := make([]byte, n)
	copy(out, src)
	return out, nil
}

func alignUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
