package gpurt

import "github.com/gogpu/gpurt/internal/handle"

// GpuPtr is an offset into the single GPU-resident heap (spec §4.2, §3).
// GpuNullPtr never refers to a live allocation; Malloc returns it on
// exhaustion instead of a Go error, mirroring the distilled spec's call
// table.
type GpuPtr uint32

// GpuNullPtr is the sentinel "no allocation" pointer.
const GpuNullPtr GpuPtr = 0

// GpuKernel, GpuRWTex, and GpuTicket each wrap an internal/handle.Handle
// specialized to one object pool. They are distinct named types so the
// compiler rejects passing, say, a kernel handle where a texture handle is
// expected, even though all three share the same (index, generation) layout.
type (
	GpuKernel struct{ h handle.Handle }
	GpuRWTex  struct{ h handle.Handle }
	GpuTicket struct{ h handle.Handle }
)

// IsNil reports whether h is the zero handle, which no successful
// KernelInit, RWTexInit, or QueueMemcpyDownload call returns.
func (h GpuKernel) IsNil() bool { return h.h.IsNil() }
func (h GpuRWTex) IsNil() bool  { return h.h.IsNil() }
func (h GpuTicket) IsNil() bool { return h.h.IsNil() }

// KernelDesc describes a kernel to compile (spec §4.6).
type KernelDesc struct {
	// Source is WGSL-flavored kernel source; the compiler prepends the
	// runtime's fixed prolog (global heap binding, bindless RW-texture
	// array binding, accessor helpers) before parsing.
	Source string
	// Defines are prepended to the source as WGSL `const NAME = VALUE;`
	// declarations before parsing; an empty Value becomes 1. At most
	// kernel.MaxDefines entries, each with Name and Value together at most
	// kernel.DefineMaxLen bytes.
	Defines []KernelDefine
}

// KernelDefine is one NAME=VALUE define, emitted as a WGSL const.
type KernelDefine struct {
	Name  string
	Value string
}

// PixelFormat is the runtime's abstract RW-texture pixel format,
// independent of any backend's own format enumeration (spec §4.5).
type PixelFormat int

const (
	PixelFormatR_U8Unorm PixelFormat = iota
	PixelFormatR_U8
	PixelFormatR_U16
	PixelFormatR_I32
	PixelFormatR_F16
	PixelFormatR_F32
	PixelFormatRG_U8Unorm
	PixelFormatRG_U8
	PixelFormatRG_U16
	PixelFormatRG_I32
	PixelFormatRG_F16
	PixelFormatRG_F32
	PixelFormatRGBA_U8Unorm
	PixelFormatRGBA_U8
	PixelFormatRGBA_U16
	PixelFormatRGBA_I32
	PixelFormatRGBA_F16
	PixelFormatRGBA_F32
)

// RWTexDesc describes an RW texture to allocate (spec §4.5). Exactly one of
// three resolution modes applies: fixed (Width/Height), swapchain-relative
// scale (SwapchainRelative + Scale), or swapchain-relative fixed height
// (SwapchainRelative + FixedHeight).
type RWTexDesc struct {
	Format PixelFormat

	// Width, Height size a fixed-resolution texture. Ignored when
	// SwapchainRelative is true.
	Width, Height uint32

	// SwapchainRelative marks this texture as resized in place whenever the
	// swapchain resizes. Exactly one of FixedHeight or Scale must be
	// non-zero.
	SwapchainRelative bool
	FixedHeight       uint32
	Scale             float32
}
