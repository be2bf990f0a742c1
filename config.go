package gpurt

import (
	"fmt"
	"math"

	"github.com/gogpu/gpurt/internal/descriptor"
	"github.com/gogpu/gpurt/internal/gpuheap"
	"github.com/gogpu/gpurt/internal/staging"
	"github.com/gogpu/gpurt/internal/swapchain"
)

// Default capacities and sizes used when the corresponding Config field is
// left at its zero value.
const (
	DefaultGPUHeapSizeBytes      = 256 * 1024 * 1024
	DefaultUploadHeapSizeBytes   = 32 * 1024 * 1024
	DefaultDownloadHeapSizeBytes = 32 * 1024 * 1024
	DefaultMaxConcurrentDownloads = 64
	DefaultMaxTexturesPerType    = 256
	DefaultMaxKernels            = 256
)

// Config configures a Runtime at Init. The zero value is a valid headless
// config: every size/capacity field defaults to the corresponding Default*
// constant when left at zero. A non-zero NativeWindowHandle requires
// WindowSize to be set as well.
type Config struct {
	// GPUHeapSizeBytes is the size of the single GPU-resident heap (spec
	// §4.2). Clamped to [gpuheap.SystemReserved, math.MaxUint32].
	GPUHeapSizeBytes uint32

	// UploadHeapSizeBytes and DownloadHeapSizeBytes size the persistently
	// mapped staging rings (spec §4.3). Rounded up to staging.Align.
	UploadHeapSizeBytes   uint32
	DownloadHeapSizeBytes uint32

	// MaxConcurrentDownloads sizes the initial capacity of the download
	// ticket pool. Not a hard limit: the pool grows past it on demand.
	MaxConcurrentDownloads int

	// MaxTexturesPerType sizes the descriptor table (spec §4.4). Clamped to
	// [descriptor.MinCapacity, descriptor.MaxCapacity].
	MaxTexturesPerType uint32

	// MaxKernels sizes the initial capacity of the kernel pool. Not a hard
	// limit: the pool grows past it on demand.
	MaxKernels int

	// NativeWindowHandle, when non-zero, enables the swapchain manager
	// against the given platform window handle (HWND, NSView*, etc). Must
	// be paired with WindowSize so the runtime can detect resizes at
	// present time.
	NativeWindowHandle uintptr

	// WindowSize reports the host window's current client-rectangle size.
	// Required when NativeWindowHandle is non-zero.
	WindowSize swapchain.WindowSizeFunc

	// AllowTearing permits an uncapped, tearing present mode when vsync is
	// disabled (spec §4.8). Ignored headless.
	AllowTearing bool

	// DebugMode and DebugShaderValidation are accepted but not read by
	// Init or any subsystem: neither enables a backend validation layer or
	// extra kernel-source validation.
	DebugMode             bool
	DebugShaderValidation bool
}

// resolved is cfg with every zero field filled in from its default and every
// provided field clamped into range. It never mutates cfg.
func (cfg Config) resolved() (Config, error) {
	r := cfg

	if r.GPUHeapSizeBytes == 0 {
		r.GPUHeapSizeBytes = DefaultGPUHeapSizeBytes
	}
	if r.GPUHeapSizeBytes < gpuheap.SystemReserved {
		r.GPUHeapSizeBytes = gpuheap.SystemReserved
	}
	// uint32 is already bounded by math.MaxUint32; the clamp exists to
	// document the spec's stated range rather than to do any work.
	if uint64(r.GPUHeapSizeBytes) > math.MaxUint32 {
		r.GPUHeapSizeBytes = math.MaxUint32
	}

	if r.UploadHeapSizeBytes == 0 {
		r.UploadHeapSizeBytes = DefaultUploadHeapSizeBytes
	}
	r.UploadHeapSizeBytes = alignUp(r.UploadHeapSizeBytes, staging.Align)

	if r.DownloadHeapSizeBytes == 0 {
		r.DownloadHeapSizeBytes = DefaultDownloadHeapSizeBytes
	}
	r.DownloadHeapSizeBytes = alignUp(r.DownloadHeapSizeBytes, staging.Align)

	if r.MaxConcurrentDownloads <= 0 {
		r.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if r.MaxKernels <= 0 {
		r.MaxKernels = DefaultMaxKernels
	}

	if r.MaxTexturesPerType == 0 {
		r.MaxTexturesPerType = DefaultMaxTexturesPerType
	}
	if r.MaxTexturesPerType > descriptor.MaxCapacity {
		r.MaxTexturesPerType = descriptor.MaxCapacity
	}
	if r.MaxTexturesPerType < descriptor.MinCapacity {
		r.MaxTexturesPerType = descriptor.MinCapacity
	}

	if r.NativeWindowHandle != 0 && r.WindowSize == nil {
		return Config{}, fmt.Errorf("%w: NativeWindowHandle set without WindowSize", ErrInvalidConfig)
	}

	return r, nil
}

func alignUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
