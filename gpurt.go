// Package gpurt implements a CUDA-style GPU compute runtime on top of
// wgpu/hal: a flat GPU heap, compiled compute kernels, a bindless RW-texture
// array, and an optional presentable swapchain, all driven from a single OS
// thread (spec §5). Init constructs a Runtime; every other entry point is a
// method on it.
package gpurt

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/core"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/internal/descriptor"
	"github.com/gogpu/gpurt/internal/gpufmt"
	"github.com/gogpu/gpurt/internal/gpuheap"
	"github.com/gogpu/gpurt/internal/handle"
	"github.com/gogpu/gpurt/internal/kernel"
	"github.com/gogpu/gpurt/internal/rwtex"
	"github.com/gogpu/gpurt/internal/staging"
	"github.com/gogpu/gpurt/internal/submit"
	"github.com/gogpu/gpurt/internal/swapchain"
)

// ticketEntry is the payload behind a GpuTicket: where in the download ring
// its bytes land, how many bytes, and the submit index it becomes readable
// after (spec §3's GpuTicket lifecycle: allocated at enqueue, freed when the
// host reads it).
type ticketEntry struct {
	mappedOffset uint32
	n            uint32
	submitIdx    uint64
}

// Runtime is a fully initialized GPU compute runtime. Runtime is not safe
// for concurrent use: every method must be called from the single thread
// that called Init (spec §5).
type Runtime struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	heap      *gpuheap.Heap
	uploads   *staging.Ring
	downloads *staging.Ring
	table     *descriptor.Table
	kernels   *kernel.Compiler
	textures  *rwtex.Manager
	engine    *submit.Engine
	swap      *swapchain.Manager

	tickets *handle.Pool[ticketEntry]
}

// Init selects a GPU, brings up every runtime subsystem, and performs the
// one submit()+present(false) warmup spec §4.9 requires so the first real
// frame sees curr_submit_idx >= 1 and non-zero ring safe-offsets.
func Init(cfg Config) (*Runtime, error) {
	resolved, err := cfg.resolved()
	if err != nil {
		return nil, err
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrBackendInit)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", ErrBackendInit, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", ErrBackendInit)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}
	Logger().Info("gpurt: selected adapter", "name", selected.Info.Name, "type", selected.Info.DeviceType)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %v", ErrBackendInit, err)
	}
	device, queue := openDev.Device, openDev.Queue

	r := &Runtime{instance: instance, device: device, queue: queue}

	if r.heap, err = gpuheap.New(device, resolved.GPUHeapSizeBytes); err != nil {
		r.teardownPartialInit()
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	if r.uploads, err = staging.New(device, resolved.UploadHeapSizeBytes, staging.Upload); err != nil {
		r.teardownPartialInit()
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	if r.downloads, err = staging.New(device, resolved.DownloadHeapSizeBytes, staging.Download); err != nil {
		r.teardownPartialInit()
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	if r.table, err = descriptor.New(device, resolved.MaxTexturesPerType); err != nil {
		r.teardownPartialInit()
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}
	r.kernels = kernel.New(device, resolved.MaxKernels)
	r.textures = rwtex.New(device, r.table, int(resolved.MaxTexturesPerType))
	r.tickets = handle.New[ticketEntry](resolved.MaxConcurrentDownloads)

	if r.engine, err = submit.New(device, queue, r.heap, r.uploads, r.downloads, r.table, r.kernels, r.textures); err != nil {
		r.teardownPartialInit()
		return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
	}

	if resolved.NativeWindowHandle != 0 {
		coreInstance := core.NewInstance(&gputypes.InstanceDescriptor{Backends: gputypes.BackendsPrimary})
		coreAdapter, err := coreInstance.RequestAdapter(&gputypes.RequestAdapterOptions{
			PowerPreference: gputypes.PowerPreferenceHighPerformance,
		})
		if err != nil {
			r.teardownPartialInit()
			return nil, fmt.Errorf("%w: request surface adapter: %v", ErrBackendInit, err)
		}
		width, height := resolved.WindowSize()
		if width == 0 || height == 0 {
			r.teardownPartialInit()
			return nil, fmt.Errorf("%w: zero-resolution window %dx%d", ErrInvalidConfig, width, height)
		}
		r.swap, err = swapchain.New(coreInstance, coreAdapter, device, resolved.NativeWindowHandle,
			width, height, resolved.AllowTearing, r.engine, r.textures, r.table, resolved.WindowSize)
		if err != nil {
			r.teardownPartialInit()
			return nil, fmt.Errorf("%w: %v", ErrBackendInit, err)
		}
	}

	if err := r.Submit(); err != nil {
		r.teardownPartialInit()
		return nil, err
	}
	if r.swap != nil {
		if err := r.SwapchainPresent(false); err != nil {
			r.teardownPartialInit()
			return nil, err
		}
	}

	return r, nil
}

// teardownPartialInit destroys whatever Init managed to create before a
// later step failed. Every field is nil-safe to skip; device.Destroy on a
// live device releases every hal resource allocated against it.
func (r *Runtime) teardownPartialInit() {
	if r.engine != nil {
		r.engine.Close()
	}
	if r.swap != nil {
		r.swap.Close()
	}
	if r.device != nil {
		r.device.Destroy()
	}
	if r.instance != nil {
		r.instance.Destroy()
	}
}

// Close implements spec §9's teardown sequencing: flush, then release in
// reverse construction order. device.Destroy releases the heap, staging
// rings, descriptor table's null texture, and every live kernel/texture;
// none of those packages has a whole-package teardown of its own.
func (r *Runtime) Close() {
	if err := r.engine.Flush(); err != nil {
		Logger().Error("gpurt: flush before close failed", "err", err)
	}
	if r.swap != nil {
		r.swap.Close()
	}
	r.engine.Close()
	r.device.Destroy()
	r.instance.Destroy()
}

// Malloc implements spec §4.2's malloc(n): a bump allocation from the single
// GPU heap. Returns GpuNullPtr (logged) on exhaustion rather than an error,
// matching the distilled spec's call table.
func (r *Runtime) Malloc(n uint32) GpuPtr {
	ptr, err := r.heap.Alloc(n)
	if err != nil {
		Logger().Warn("gpurt: heap exhausted", "n", n, "err", err)
		return GpuNullPtr
	}
	return GpuPtr(ptr)
}

// Free is a documented no-op: the heap is a bump allocator that never frees
// (spec §4.2, §9).
func (r *Runtime) Free(p GpuPtr) {
	r.heap.Free(uint32(p))
}

// KernelInit compiles desc and returns a handle to the resulting pipeline.
func (r *Runtime) KernelInit(desc KernelDesc) (GpuKernel, error) {
	defines := make([]kernel.Define, len(desc.Defines))
	for i, d := range desc.Defines {
		defines[i] = kernel.Define{Name: d.Name, Value: d.Value}
	}
	h, err := r.kernels.Init(kernel.Desc{Source: desc.Source, Defines: defines})
	if err != nil {
		Logger().Error("gpurt: kernel compile failed", "err", err)
		return GpuKernel{}, wrapErr(err)
	}
	return GpuKernel{h: h}, nil
}

// KernelDestroy releases h's pipeline. Invalid handles are logged, not
// fatal: a double-destroy or stale handle cannot corrupt GPU state.
func (r *Runtime) KernelDestroy(h GpuKernel) {
	if err := r.kernels.Destroy(h.h); err != nil {
		Logger().Warn("gpurt: kernel destroy on invalid handle", "err", err)
	}
}

// KernelGroupDims returns h's shader-declared workgroup dimensions.
func (r *Runtime) KernelGroupDims(h GpuKernel) (x, y, z uint32, ok bool) {
	dims, err := r.kernels.GroupDims(h.h)
	if err != nil {
		return 0, 0, 0, false
	}
	return dims[0], dims[1], dims[2], true
}

// RWTexInit allocates a texture and descriptor slot per desc.
func (r *Runtime) RWTexInit(desc RWTexDesc) (GpuRWTex, error) {
	h, err := r.textures.Init(toInternalDesc(desc))
	if err != nil {
		Logger().Warn("gpurt: rwtex init failed", "err", err)
		return GpuRWTex{}, wrapErr(err)
	}
	return GpuRWTex{h: h}, nil
}

// RWTexDestroy releases h's texture and descriptor slot.
func (r *Runtime) RWTexDestroy(h GpuRWTex) {
	if err := r.textures.Destroy(h.h); err != nil {
		Logger().Warn("gpurt: rwtex destroy on invalid handle", "err", err)
	}
}

// RWTexSetScale changes a swapchain-relative texture's scale factor and
// rebuilds it in place.
func (r *Runtime) RWTexSetScale(h GpuRWTex, scale float32) error {
	return wrapErr(r.textures.SetScale(h.h, scale))
}

// RWTexSetFixedHeight changes a swapchain-relative texture's fixed-height
// rule and rebuilds it in place.
func (r *Runtime) RWTexSetFixedHeight(h GpuRWTex, height uint32) error {
	return wrapErr(r.textures.SetFixedHeight(h.h, height))
}

// RWTexDesc returns h's current resolution rule.
func (r *Runtime) RWTexDesc(h GpuRWTex) (RWTexDesc, bool) {
	d, ok := r.textures.Desc(h.h)
	if !ok {
		return RWTexDesc{}, false
	}
	return fromInternalDesc(d), true
}

// RWTexRes returns h's current resolved width and height.
func (r *Runtime) RWTexRes(h GpuRWTex) (width, height uint32, ok bool) {
	return r.textures.Res(h.h)
}

// QueueMemcpyUpload implements spec §4.3's queue_memcpy_upload: stage src
// into the upload ring, then record the ring->heap copy.
func (r *Runtime) QueueMemcpyUpload(dst GpuPtr, src []byte) error {
	n := uint32(len(src))
	mappedOffset, _, err := r.uploads.Alloc(n)
	if err != nil {
		return wrapErr(err)
	}
	if err := r.uploads.Write(mappedOffset, src); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendRuntime, err)
	}
	r.engine.QueueMemcpyUpload(mappedOffset, uint32(dst), n)
	return nil
}

// QueueMemcpyDownload implements spec §4.3's queue_memcpy_download: record
// the heap->ring copy and hand back a ticket redeemable once the submit it
// lands in has fully retired.
func (r *Runtime) QueueMemcpyDownload(src GpuPtr, n uint32) (GpuTicket, error) {
	mappedOffset, _, err := r.downloads.Alloc(n)
	if err != nil {
		return GpuTicket{}, wrapErr(err)
	}
	r.engine.QueueMemcpyDownload(uint32(src), mappedOffset, n)
	h := r.tickets.Insert(ticketEntry{
		mappedOffset: mappedOffset,
		n:            n,
		submitIdx:    r.engine.CurrSubmitIdx(),
	})
	return GpuTicket{h: h}, nil
}

// GetDownloaded implements spec §4.3's get_downloaded: rejects a ticket
// whose submit hasn't retired yet or whose size doesn't match dst, then
// copies the staged bytes out and frees the ticket.
func (r *Runtime) GetDownloaded(t GpuTicket, dst []byte) error {
	e, ok := r.tickets.Get(t.h)
	if !ok {
		return ErrInvalidHandle
	}
	if uint32(len(dst)) != e.n {
		return fmt.Errorf("%w: dst size %d != ticket size %d", ErrContractViolation, len(dst), e.n)
	}
	if e.submitIdx > r.engine.KnownCompletedSubmitIdx() {
		return fmt.Errorf("%w: ticket not ready, submit %d not yet retired", ErrContractViolation, e.submitIdx)
	}
	data, err := r.downloads.Read(e.mappedOffset, e.n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendRuntime, err)
	}
	copy(dst, data)
	_ = r.tickets.Remove(t.h)
	return nil
}

// QueueDispatch implements spec §4.7's dispatch(kernel, groups, params).
func (r *Runtime) QueueDispatch(k GpuKernel, groups [3]uint32, params []byte) error {
	if err := r.engine.Dispatch(k.h, groups, params); err != nil {
		Logger().Warn("gpurt: dispatch rejected", "err", err)
		return wrapErr(err)
	}
	return nil
}

// QueueHeapBarrier emits a global-heap UAV barrier.
func (r *Runtime) QueueHeapBarrier() {
	r.engine.QueueHeapBarrier()
}

// QueueRWTexBarrier emits a UAV barrier for a single RW texture. An invalid
// handle is logged, not fatal, matching the call table's error-free
// signature.
func (r *Runtime) QueueRWTexBarrier(h GpuRWTex) {
	if err := r.engine.QueueRWTexBarrier(h.h); err != nil {
		Logger().Warn("gpurt: rwtex barrier on invalid handle", "err", err)
	}
}

// QueueRWTexBarriers emits a single UAV barrier covering every live RW
// texture.
func (r *Runtime) QueueRWTexBarriers() {
	r.engine.QueueRWTexBarriers()
}

// QueueTakeTimestamp resolves a GPU timestamp into the heap at dst.
func (r *Runtime) QueueTakeTimestamp(dst GpuPtr) error {
	const timestampSize = 8
	if uint64(dst)+timestampSize > uint64(r.heap.Size()) {
		return fmt.Errorf("%w: timestamp destination out of heap bounds", ErrContractViolation)
	}
	r.engine.QueueTakeTimestamp(uint32(dst))
	return nil
}

// TimestampFreq returns the GPU timestamp counter's frequency in Hz.
func (r *Runtime) TimestampFreq() uint64 {
	return r.engine.TimestampFreq()
}

// Submit implements spec §4.7's submit().
func (r *Runtime) Submit() error {
	if err := r.engine.Submit(r.uploads.Head(), r.downloads.Head()); err != nil {
		Logger().Error("gpurt: submit failed", "err", err)
		return wrapErr(err)
	}
	return nil
}

// SwapchainGetRes returns the swapchain's current resolution. ok is false
// headless (no NativeWindowHandle was configured at Init).
func (r *Runtime) SwapchainGetRes() (width, height uint32, ok bool) {
	return r.swap.GetRes()
}

// SwapchainPresent implements spec §4.8's present(vsync).
func (r *Runtime) SwapchainPresent(vsync bool) error {
	if r.swap == nil {
		return fmt.Errorf("%w: no swapchain configured (NativeWindowHandle was zero at Init)", ErrInvalidConfig)
	}
	if err := r.swap.Present(vsync); err != nil {
		Logger().Error("gpurt: present failed", "err", err)
		return wrapErr(err)
	}
	return nil
}

// Flush implements spec §4.7's flush().
func (r *Runtime) Flush() error {
	if err := r.engine.Flush(); err != nil {
		Logger().Error("gpurt: flush failed", "err", err)
		return wrapErr(err)
	}
	return nil
}

// CurrSubmitIdx returns the monotonic submit counter.
func (r *Runtime) CurrSubmitIdx() uint64 {
	return r.engine.CurrSubmitIdx()
}

func toInternalDesc(d RWTexDesc) rwtex.Desc {
	return rwtex.Desc{
		Format: gpufmt.Format(d.Format),
		Res: gpufmt.ResDesc{
			SwapchainRelative: d.SwapchainRelative,
			FixedHeight:       d.FixedHeight,
			Scale:             d.Scale,
			Width:             d.Width,
			Height:            d.Height,
		},
	}
}

func fromInternalDesc(d rwtex.Desc) RWTexDesc {
	return RWTexDesc{
		Format:            PixelFormat(d.Format),
		Width:             d.Res.Width,
		Height:            d.Res.Height,
		SwapchainRelative: d.Res.SwapchainRelative,
		FixedHeight:       d.Res.FixedHeight,
		Scale:             d.Res.Scale,
	}
}

// wrapErr maps an internal package's own sentinel error onto the façade's
// error taxonomy (spec §7), so callers only ever need errors.Is against the
// gpurt sentinels regardless of which subsystem rejected the call.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, handle.ErrInvalid),
		errors.Is(err, submit.ErrInvalidHandle),
		errors.Is(err, kernel.ErrInvalidHandle),
		errors.Is(err, rwtex.ErrInvalidHandle),
		errors.Is(err, descriptor.ErrInvalidSlot):
		return fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	case errors.Is(err, gpuheap.ErrExhausted):
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	case errors.Is(err, staging.ErrOverflow):
		return fmt.Errorf("%w: %v", ErrStagingOverflow, err)
	case errors.Is(err, kernel.ErrCompile),
		errors.Is(err, kernel.ErrReflect),
		errors.Is(err, kernel.ErrTooManyDefines),
		errors.Is(err, kernel.ErrDefineTooLong):
		return fmt.Errorf("%w: %v", ErrKernelCompile, err)
	case errors.Is(err, submit.ErrContractViolation),
		errors.Is(err, rwtex.ErrInvalidDesc):
		return fmt.Errorf("%w: %v", ErrContractViolation, err)
	case errors.Is(err, submit.ErrBackendRuntime),
		errors.Is(err, swapchain.ErrBackendRuntime),
		errors.Is(err, swapchain.ErrNoWindow),
		errors.Is(err, descriptor.ErrTableFull),
		errors.Is(err, descriptor.ErrCapacityTooSmall):
		return fmt.Errorf("%w: %v", ErrBackendRuntime, err)
	default:
		return fmt.Errorf("%w: %v", ErrBackendRuntime, err)
	}
}
