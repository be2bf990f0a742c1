// Package descriptor implements the runtime's bindless RW-texture
// descriptor table (spec §4.4, C5): a fixed-capacity array of texture views
// addressed by integer slot, with typed-null defaults so an out-of-bounds or
// unused slot is always well-formed. Slot 0 is permanently null; slot 1 is
// reserved for the swapchain manager's virtual render target.
package descriptor

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/gputypes"
)

// NullSlot is the reserved slot that always reads as a null UAV.
const NullSlot uint32 = 0

// SwapchainSlot is the reserved slot the swapchain manager writes its
// virtual render target's view into.
const SwapchainSlot uint32 = 1

// reserved is the number of slots at the start of the table that are never
// handed out by Alloc.
const reserved = 2

// MinCapacity and MaxCapacity bound the table size (spec §6:
// max_num_textures_per_type clamped to [1, 16384]); a table must also be
// able to hold the two reserved slots.
const (
	MinCapacity = reserved
	MaxCapacity = 16384
)

var (
	// ErrCapacityTooSmall is returned by New when capacity cannot even hold
	// the reserved slots.
	ErrCapacityTooSmall = errors.New("descriptor: capacity too small for reserved slots")
	// ErrTableFull is returned by Alloc when no free slot remains.
	ErrTableFull = errors.New("descriptor: table full")
	// ErrInvalidSlot is returned by Write/Release for an out-of-range or
	// reserved slot.
	ErrInvalidSlot = errors.New("descriptor: invalid slot")
)

// Table is the descriptor table itself: a slice of texture views, one per
// slot, all pointing at a shared 1x1 null texture until written. Table is
// not safe for concurrent use (see spec §5).
type Table struct {
	device   hal.Device
	nullTex  hal.Texture
	nullView hal.TextureView
	views    []hal.TextureView
	free     []uint32
}

// New allocates a table of the given capacity (clamped down to MaxCapacity;
// below MinCapacity it returns ErrCapacityTooSmall) and fills every slot
// with a null UAV.
func New(device hal.Device, capacity uint32) (*Table, error) {
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	}
	if capacity < MinCapacity {
		return nil, fmt.Errorf("%w: capacity=%d min=%d", ErrCapacityTooSmall, capacity, MinCapacity)
	}

	nullTex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:     "gpurt.descriptor.null",
		Size:      gputypes.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		Format:    gputypes.TextureFormatRGBA32Float,
		Dimension: gputypes.TextureDimension2D,
		Usage:     gputypes.TextureUsageStorageBinding,
	})
	if err != nil {
		return nil, fmt.Errorf("descriptor: create null texture: %w", err)
	}
	nullView, err := nullTex.CreateView(nil)
	if err != nil {
		return nil, fmt.Errorf("descriptor: create null view: %w", err)
	}

	t := &Table{
		device:   device,
		nullTex:  nullTex,
		nullView: nullView,
		views:    make([]hal.TextureView, capacity),
	}
	t.reset()
	return t, nil
}

func (t *Table) reset() {
	for i := range t.views {
		t.views[i] = t.nullView
	}
	t.free = t.free[:0]
	for i := uint32(len(t.views)); i > reserved; i-- {
		t.free = append(t.free, i-1)
	}
}

// Capacity returns the table's total slot count.
func (t *Table) Capacity() uint32 { return uint32(len(t.views)) }

// Alloc reserves the next free non-reserved slot.
func (t *Table) Alloc() (uint32, error) {
	if len(t.free) == 0 {
		return 0, ErrTableFull
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	return slot, nil
}

// Release returns a previously allocated slot to the free list and writes a
// null UAV into it. Releasing a reserved slot is an error.
func (t *Table) Release(slot uint32) error {
	if slot < reserved || slot >= uint32(len(t.views)) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	t.views[slot] = t.nullView
	t.free = append(t.free, slot)
	return nil
}

// Write points slot at view. The write is visible to the next command list
// that references the table; it does not itself touch any in-flight GPU
// work (mirrors the distilled spec's VOLATILE descriptor-range semantics).
func (t *Table) Write(slot uint32, view hal.TextureView) error {
	if slot < reserved || slot >= uint32(len(t.views)) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	t.views[slot] = view
	return nil
}

// WriteSwapchain writes the swapchain manager's current virtual render
// target view into the reserved swapchain slot.
func (t *Table) WriteSwapchain(view hal.TextureView) {
	t.views[SwapchainSlot] = view
}

// Views returns the live backing slice for building the bind group's
// texture-view-array binding. Callers must not retain it across a Write.
func (t *Table) Views() []hal.TextureView { return t.views }
