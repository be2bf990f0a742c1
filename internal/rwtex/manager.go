// Package rwtex implements the texture manager (spec §4.5, C6): allocation,
// destruction, and swapchain-relative resize of the bindless RW textures
// that live behind descriptor table slots ≥ 2.
package rwtex

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/internal/descriptor"
	"github.com/gogpu/gpurt/internal/gpufmt"
	"github.com/gogpu/gpurt/internal/handle"
)

// ErrInvalidDesc is returned by Init/SetScale/SetFixedHeight when a
// resolution rule is malformed (spec §4.5: swapchain-relative textures need
// exactly one of {fixed_height, scale} non-zero).
var ErrInvalidDesc = errors.New("rwtex: invalid resolution descriptor")

// ErrInvalidHandle is returned when h does not name a live texture.
var ErrInvalidHandle = errors.New("rwtex: invalid handle")

// Desc describes a texture to allocate: its pixel format and the rule used
// to compute its resolution, fixed or swapchain-relative.
type Desc struct {
	Format gpufmt.Format
	Res    gpufmt.ResDesc
}

func (d Desc) validate() error {
	if !d.Res.SwapchainRelative {
		return nil
	}
	hasHeight := d.Res.FixedHeight != 0
	hasScale := d.Res.Scale != 0
	if hasHeight == hasScale {
		return fmt.Errorf("%w: swapchain-relative texture needs exactly one of fixed_height/scale", ErrInvalidDesc)
	}
	return nil
}

type entry struct {
	desc   Desc
	slot   uint32
	width  uint32
	height uint32
	tex    hal.Texture
	view   hal.TextureView
}

// Manager owns every user RW texture and the table slots they occupy.
// Manager is not safe for concurrent use (see spec §5).
type Manager struct {
	device  hal.Device
	table   *descriptor.Table
	pool    *handle.Pool[*entry]
	swapW   uint32
	swapH   uint32
}

// New creates a texture manager over the given device and descriptor table.
// capacity pre-sizes the handle pool; the pool grows past it on demand, and
// the descriptor table's free slots are what bound the live texture count.
func New(device hal.Device, table *descriptor.Table, capacity int) *Manager {
	return &Manager{
		device: device,
		table:  table,
		pool:   handle.New[*entry](capacity),
	}
}

// SetSwapchainRes records the swapchain's current resolution; it does not
// itself rebuild any texture (the caller, normally the swapchain manager's
// resize path, does that by calling RebuildSwapchainRelative).
func (m *Manager) SetSwapchainRes(width, height uint32) {
	m.swapW, m.swapH = width, height
}

// Init allocates a texture + descriptor slot per desc.
func (m *Manager) Init(desc Desc) (handle.Handle, error) {
	if err := desc.validate(); err != nil {
		return handle.Handle{}, err
	}

	slot, err := m.table.Alloc()
	if err != nil {
		return handle.Handle{}, fmt.Errorf("rwtex: alloc descriptor slot: %w", err)
	}

	e := &entry{desc: desc, slot: slot}
	if err := m.rebuild(e); err != nil {
		m.table.Release(slot)
		return handle.Handle{}, err
	}

	return m.pool.Insert(e), nil
}

// Destroy releases h's descriptor slot (writing a null UAV back into it)
// and removes it from the pool.
func (m *Manager) Destroy(h handle.Handle) error {
	e, ok := m.pool.Get(h)
	if !ok {
		return ErrInvalidHandle
	}
	if err := m.table.Release(e.slot); err != nil {
		return fmt.Errorf("rwtex: release descriptor slot: %w", err)
	}
	return m.pool.Remove(h)
}

// SetScale changes a swapchain-relative texture's scale factor and rebuilds
// it in place (same slot, new resource, new descriptor).
func (m *Manager) SetScale(h handle.Handle, scale float32) error {
	e, ok := m.pool.Get(h)
	if !ok {
		return ErrInvalidHandle
	}
	next := e.desc
	next.Res.SwapchainRelative = true
	next.Res.Scale = scale
	next.Res.FixedHeight = 0
	if err := next.validate(); err != nil {
		return err
	}
	if next.Res == e.desc.Res {
		return nil
	}
	e.desc = next
	return m.rebuild(e)
}

// SetFixedHeight changes a swapchain-relative texture's fixed-height rule
// and rebuilds it in place.
func (m *Manager) SetFixedHeight(h handle.Handle, height uint32) error {
	e, ok := m.pool.Get(h)
	if !ok {
		return ErrInvalidHandle
	}
	next := e.desc
	next.Res.SwapchainRelative = true
	next.Res.FixedHeight = height
	next.Res.Scale = 0
	if err := next.validate(); err != nil {
		return err
	}
	if next.Res == e.desc.Res {
		return nil
	}
	e.desc = next
	return m.rebuild(e)
}

// Desc returns h's current resolution rule.
func (m *Manager) Desc(h handle.Handle) (Desc, bool) {
	e, ok := m.pool.Get(h)
	if !ok {
		return Desc{}, false
	}
	return e.desc, true
}

// Res returns h's current resolved width and height.
func (m *Manager) Res(h handle.Handle) (width, height uint32, ok bool) {
	e, found := m.pool.Get(h)
	if !found {
		return 0, 0, false
	}
	return e.width, e.height, true
}

// Texture returns h's current backing texture, for the submission engine to
// build a hazard barrier against.
func (m *Manager) Texture(h handle.Handle) (hal.Texture, bool) {
	e, ok := m.pool.Get(h)
	if !ok {
		return nil, false
	}
	return e.tex, true
}

// Textures returns every live texture, for an all-RW-textures barrier.
func (m *Manager) Textures() []hal.Texture {
	textures := make([]hal.Texture, 0, m.pool.Len())
	m.pool.Each(func(_ handle.Handle, e *entry) {
		textures = append(textures, e.tex)
	})
	return textures
}

// RebuildSwapchainRelative rebuilds, in place, every live texture whose
// descriptor marks it swapchain-relative. Called by the swapchain manager
// after a present-time resize (spec §4.9).
func (m *Manager) RebuildSwapchainRelative(swapW, swapH uint32) error {
	m.SetSwapchainRes(swapW, swapH)
	var first error
	m.pool.Each(func(_ handle.Handle, e *entry) {
		if !e.desc.Res.SwapchainRelative {
			return
		}
		if err := m.rebuild(e); err != nil && first == nil {
			first = err
		}
	})
	return first
}

func (m *Manager) rebuild(e *entry) error {
	w, h := gpufmt.CalcRes(m.swapW, m.swapH, e.desc.Res)
	format, err := gpufmt.ToWGPU(e.desc.Format)
	if err != nil {
		return fmt.Errorf("rwtex: resolve format: %w", err)
	}

	tex, err := m.device.CreateTexture(&hal.TextureDescriptor{
		Label:     "gpurt.rwtex",
		Size:      gputypes.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		Format:    format,
		Dimension: gputypes.TextureDimension2D,
		Usage:     gputypes.TextureUsageStorageBinding | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("rwtex: create texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return fmt.Errorf("rwtex: create view: %w", err)
	}

	if err := m.table.Write(e.slot, view); err != nil {
		return fmt.Errorf("rwtex: write descriptor: %w", err)
	}

	old := e.tex
	e.tex, e.view, e.width, e.height = tex, view, w, h
	if old != nil {
		m.device.DestroyTexture(old)
	}
	return nil
}
