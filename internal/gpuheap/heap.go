// Package gpuheap implements the runtime's single GPU-resident heap: a bump
// pointer allocator over a flat 32-bit address space backed by one
// hal.Buffer (spec §4.2, C3). It deliberately never frees; any future
// replacement allocator must preserve the reserved prefix, the alignment,
// and the null-pointer convention this package establishes.
package gpuheap

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// SystemReserved is the number of bytes at the start of the heap reserved
// for runtime internals (e.g. timestamp scratch). User allocations never
// land below this offset.
const SystemReserved = 8 * 1024 * 1024

// Align is the byte alignment every allocation is rounded up to.
const Align = 64

// NullPtr is the sentinel GpuPtr value meaning "no allocation".
const NullPtr uint32 = 0

// ErrExhausted is returned by Alloc when the heap would overflow.
var ErrExhausted = errors.New("gpuheap: heap exhausted")

// Heap is a bump-pointer allocator over a single device buffer of fixed
// size. Heap is not safe for concurrent use (see spec §5: single-threaded
// façade).
type Heap struct {
	buf  hal.Buffer
	size uint32
	head uint32
}

// Stats reports heap utilization, mirroring the budget-accounting shape of
// the teacher's MemoryManager.Stats.
type Stats struct {
	TotalBytes uint32
	UsedBytes  uint32
}

// New creates a heap of the given size backed by a newly created storage
// buffer. size is clamped to [SystemReserved, math.MaxUint32] by the caller
// (the façade) before this constructor runs; New itself only rejects a size
// that cannot even hold the reserved prefix.
func New(device hal.Device, size uint32) (*Heap, error) {
	if size < SystemReserved {
		return nil, fmt.Errorf("gpuheap: size %d below reserved prefix %d", size, SystemReserved)
	}
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpurt.heap",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpuheap: create buffer: %w", err)
	}
	return &Heap{buf: buf, size: size, head: SystemReserved}, nil
}

// Buffer returns the backing device buffer for binding into a kernel's bind
// group or for copy commands.
func (h *Heap) Buffer() hal.Buffer { return h.buf }

// Size returns the heap's total size in bytes.
func (h *Heap) Size() uint32 { return h.size }

// Alloc rounds n up to Align and bumps the head, returning the offset the
// allocation starts at. Returns (NullPtr, ErrExhausted) if the heap would
// overflow.
func (h *Heap) Alloc(n uint32) (uint32, error) {
	aligned := alignUp(n, Align)
	if aligned < n { // overflow of n itself
		return NullPtr, ErrExhausted
	}
	next := h.head + aligned
	if next < h.head || next > h.size { // overflow or exhaustion
		return NullPtr, ErrExhausted
	}
	ptr := h.head
	h.head = next
	return ptr, nil
}

// Free is a documented no-op (spec §4.2, §9: bump allocator, never frees).
func (h *Heap) Free(uint32) {}

// Stats returns current utilization.
func (h *Heap) Stats() Stats {
	return Stats{TotalBytes: h.size, UsedBytes: h.head}
}

func alignUp(n, align uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}
