// Package swapchain implements the swapchain manager (spec §4.8, C9): the
// optional presentable surface, the virtual swapchain render target that
// kernels write into through descriptor slot 1, and the present-time resize
// detection that rebuilds every swapchain-relative texture in place.
package swapchain

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/core"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/internal/descriptor"
	"github.com/gogpu/gpurt/internal/gpufmt"
	"github.com/gogpu/gpurt/internal/rwtex"
	"github.com/gogpu/gpurt/internal/submit"
)

// virtualFormat is the abstract pixel format of the virtual swapchain RT.
// It must match the bindless array's element format (rgba32float, spec
// §4.6's prolog), so every kernel indexes it the same way it indexes any
// other RW texture.
const virtualFormat = gpufmt.FormatRGBA_F32

// ErrNoWindow is returned by New when windowHandle is zero: the runtime can
// run headless (no presentable surface), in which case the façade never
// constructs a Manager at all.
var ErrNoWindow = errors.New("swapchain: window handle is zero")

// ErrBackendRuntime wraps surface/swapchain failures (spec §7 level 8).
var ErrBackendRuntime = errors.New("swapchain: backend runtime failure")

// WindowSizeFunc reports the host window's current client-rectangle size in
// pixels. The manager calls it once per Present to detect a resize; the
// caller owns whatever platform window-system call that requires.
type WindowSizeFunc func() (width, height uint32)

// Manager owns the presentable surface, the virtual render target, and the
// resize-detection state machine. Manager is not safe for concurrent use
// (see spec §5).
type Manager struct {
	device  hal.Device
	adapter core.AdapterID
	surface core.Surface
	format  gputypes.TextureFormat

	engine   *submit.Engine
	textures *rwtex.Manager
	table    *descriptor.Table
	windowSize WindowSizeFunc

	width, height   uint32
	configuredVsync bool
	allowTearing    bool

	virtualTex  hal.Texture
	virtualView hal.TextureView

	acquired     hal.Texture
	acquiredView hal.TextureView
}

// New creates a swapchain manager against the host window identified by
// windowHandle, sized width×height, and installs the present-time blit into
// engine. engine, textures, and table must already exist; New registers
// itself as engine's present blit via SetPresentBlit.
func New(
	instance *core.Instance,
	adapter core.AdapterID,
	device hal.Device,
	windowHandle uintptr,
	width, height uint32,
	allowTearing bool,
	engine *submit.Engine,
	textures *rwtex.Manager,
	table *descriptor.Table,
	windowSize WindowSizeFunc,
) (*Manager, error) {
	if windowHandle == 0 {
		return nil, ErrNoWindow
	}

	surface, err := instance.CreateSurface(&gputypes.SurfaceDescriptor{
		Label:        "gpurt.swapchain",
		WindowHandle: windowHandle,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create surface: %v", ErrBackendRuntime, err)
	}
	caps := surface.GetCapabilities(adapter)
	if len(caps.Formats) == 0 {
		return nil, fmt.Errorf("%w: surface reports no supported formats", ErrBackendRuntime)
	}

	m := &Manager{
		device:     device,
		adapter:    adapter,
		surface:    surface,
		format:     caps.Formats[0],
		engine:     engine,
		textures:   textures,
		table:      table,
		windowSize: windowSize,
		width:      width,
		height:     height,
		allowTearing: allowTearing,
	}

	if err := m.configure(width, height, false); err != nil {
		return nil, err
	}
	if err := m.rebuildVirtualRT(width, height); err != nil {
		return nil, err
	}
	textures.SetSwapchainRes(width, height)

	engine.SetPresentBlit(m.blit)
	return m, nil
}

// GetRes returns the swapchain's current resolution.
func (m *Manager) GetRes() (width, height uint32, ok bool) {
	if m == nil {
		return 0, 0, false
	}
	return m.width, m.height, true
}

// choosePresentMode maps the runtime's (vsync, allowTearing) pair onto a
// concrete wgpu present mode: Fifo always waits for vblank; dropping vsync
// prefers Immediate (true tearing) when the surface was configured to allow
// it, and falls back to Mailbox (uncapped but non-tearing) otherwise.
func choosePresentMode(vsync, allowTearing bool) gputypes.PresentMode {
	if vsync {
		return gputypes.PresentModeFifo
	}
	if allowTearing {
		return gputypes.PresentModeImmediate
	}
	return gputypes.PresentModeMailbox
}

func (m *Manager) configure(width, height uint32, vsync bool) error {
	presentMode := choosePresentMode(vsync, m.allowTearing)
	caps := m.surface.GetCapabilities(m.adapter)
	alphaMode := gputypes.CompositeAlphaModeOpaque
	if len(caps.AlphaModes) > 0 {
		alphaMode = caps.AlphaModes[0]
	}
	if err := m.surface.Configure(m.device, &gputypes.SurfaceConfiguration{
		Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopyDst,
		Format:      m.format,
		Width:       width,
		Height:      height,
		PresentMode: presentMode,
		AlphaMode:   alphaMode,
	}); err != nil {
		return fmt.Errorf("%w: configure surface: %v", ErrBackendRuntime, err)
	}
	m.configuredVsync = vsync
	return nil
}

// rebuildVirtualRT allocates a fresh virtual RT sized width×height and
// writes its view into the reserved swapchain descriptor slot. It bypasses
// internal/rwtex's handle pool entirely: the virtual RT is not a
// user-destroyable resource and its own resize sequencing (drop, then
// rebuild) differs from RebuildSwapchainRelative's in-place rebuild.
func (m *Manager) rebuildVirtualRT(width, height uint32) error {
	format, err := gpufmt.ToWGPU(virtualFormat)
	if err != nil {
		return fmt.Errorf("swapchain: resolve virtual RT format: %w", err)
	}
	tex, err := m.device.CreateTexture(&hal.TextureDescriptor{
		Label:     "gpurt.swapchain.virtual_rt",
		Size:      gputypes.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		Format:    format,
		Dimension: gputypes.TextureDimension2D,
		Usage:     gputypes.TextureUsageStorageBinding | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("swapchain: create virtual rt: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		return fmt.Errorf("swapchain: create virtual rt view: %w", err)
	}
	m.table.WriteSwapchain(view)
	m.virtualTex, m.virtualView = tex, view
	return nil
}

func (m *Manager) dropVirtualRT() {
	if m.virtualTex == nil {
		return
	}
	m.device.DestroyTexture(m.virtualTex)
	m.virtualTex, m.virtualView = nil, nil
}

// blit is installed on the submission engine via SetPresentBlit. It runs
// inside Engine.Submit, right before the command list closes: it acquires
// the current backbuffer if none has been acquired since the last Present,
// then records the barriers and whole-resource copy that
// move the virtual RT's contents into the backbuffer (spec §4.8).
func (m *Manager) blit(encoder hal.CommandEncoder) error {
	if m.virtualTex == nil {
		return nil
	}
	if m.acquired == nil {
		tex, err := m.surface.GetCurrentTexture()
		if err != nil {
			return fmt.Errorf("acquire backbuffer: %w", err)
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			return fmt.Errorf("create backbuffer view: %w", err)
		}
		m.acquired, m.acquiredView = tex, view
	}

	encoder.TransitionTextures([]hal.TextureBarrier{
		{
			Texture: m.virtualTex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageStorageBinding,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		},
		{
			Texture: m.acquired,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageCopyDst,
			},
		},
	})
	if err := encoder.CopyTextureToTexture(
		&hal.ImageCopyTexture{Texture: m.virtualTex},
		&hal.ImageCopyTexture{Texture: m.acquired},
		gputypes.Extent3D{Width: m.width, Height: m.height, DepthOrArrayLayers: 1},
	); err != nil {
		return fmt.Errorf("copy virtual rt to backbuffer: %w", err)
	}
	encoder.TransitionTextures([]hal.TextureBarrier{
		{
			Texture: m.virtualTex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageStorageBinding,
			},
		},
	})
	return nil
}

// Present implements spec §4.8's present(vsync): reconfigures the surface
// if the vsync mode changed, presents the frame acquired during the most
// recent Submit, then checks the window's client rectangle against the
// stored resolution. On mismatch it flushes, drops the virtual RT, resizes
// the surface, allocates a new virtual RT, and rebuilds every
// swapchain-relative user texture.
func (m *Manager) Present(vsync bool) error {
	if vsync != m.configuredVsync {
		if err := m.configure(m.width, m.height, vsync); err != nil {
			return err
		}
	}

	if m.acquired != nil {
		if err := m.surface.Present(); err != nil {
			return fmt.Errorf("%w: present: %v", ErrBackendRuntime, err)
		}
		m.acquired, m.acquiredView = nil, nil
	}

	curW, curH := m.windowSize()
	if curW == m.width && curH == m.height {
		return nil
	}

	if err := m.engine.Flush(); err != nil {
		return err
	}
	m.dropVirtualRT()
	if err := m.configure(curW, curH, vsync); err != nil {
		return err
	}
	m.width, m.height = curW, curH
	if err := m.rebuildVirtualRT(curW, curH); err != nil {
		return err
	}
	return m.textures.RebuildSwapchainRelative(curW, curH)
}

// Close releases the manager's own GPU objects. Callers must Flush the
// engine before Close so no in-flight command buffer references the virtual
// RT or an acquired backbuffer.
func (m *Manager) Close() {
	m.dropVirtualRT()
}
