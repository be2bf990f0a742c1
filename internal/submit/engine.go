// Package submit implements the submission engine (spec §4.7, C8): a ring
// of command-list slots, fence-based retirement, the fixed-layout compute
// dispatch, hazard barriers, and timestamp queries. Engine is not safe for
// concurrent use (see spec §5); every call must come from the single OS
// thread that owns the façade.
package submit

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpurt/internal/descriptor"
	"github.com/gogpu/gpurt/internal/gpuheap"
	"github.com/gogpu/gpurt/internal/handle"
	"github.com/gogpu/gpurt/internal/kernel"
	"github.com/gogpu/gpurt/internal/rwtex"
	"github.com/gogpu/gpurt/internal/staging"
)

// RingDepth is N from spec §4.7: the number of in-flight command-list slots.
// Kept equal to the swapchain's backbuffer count (spec Open Question (b)).
const RingDepth = 3

// fenceWaitTimeout bounds how long submit()/flush() will block on a single
// fence event before giving up and reporting a backend failure.
const fenceWaitTimeout = 30 * time.Second

var (
	// ErrInvalidHandle is returned by dispatch for an unknown kernel/texture.
	ErrInvalidHandle = errors.New("submit: invalid handle")
	// ErrContractViolation covers launch-param size mismatch and zero
	// workgroup counts (spec §7 level 7).
	ErrContractViolation = errors.New("submit: contract violation")
	// ErrBackendRuntime wraps queue/fence failures (spec §7 level 8).
	ErrBackendRuntime = errors.New("submit: backend runtime failure")
)

// heapState mirrors the distilled spec's gpu_heap_state enum. wgpu has no
// implicit resource-state tracking, so Engine decides for itself whether a
// transition barrier is actually needed, exactly as ensure_heap_state did
// against a D3D12 resource-state.
type heapState int

const (
	heapCommon heapState = iota
	heapCopyDest
	heapCopySource
	heapUnorderedAccess
)

func heapStateUsage(s heapState) gputypes.BufferUsage {
	switch s {
	case heapCopyDest:
		return gputypes.BufferUsageCopyDst
	case heapCopySource:
		return gputypes.BufferUsageCopySrc
	case heapUnorderedAccess:
		return gputypes.BufferUsageStorage
	default:
		return gputypes.BufferUsageStorage
	}
}

// CmdSlot is one ring entry: the fence bookkeeping and staging-heap heads
// in effect the moment this slot's command list was submitted.
type CmdSlot struct {
	valid        bool
	fenceValue   uint64
	submitIdx    uint64
	uploadHead   uint32
	downloadHead uint32
}

// Engine owns the command ring, the one fixed root bind-group layout
// contract, and the heap/texture hazard state.
type Engine struct {
	device hal.Device
	queue  hal.Queue
	fence  hal.Fence

	heap      *gpuheap.Heap
	uploads   *staging.Ring
	downloads *staging.Ring
	table     *descriptor.Table
	kernels   *kernel.Compiler
	textures  *rwtex.Manager

	launchParams hal.Buffer
	timestamps   hal.QuerySet

	slots [RingDepth]CmdSlot
	cur   int

	currSubmitIdx           uint64
	knownCompletedSubmitIdx uint64
	cmdQueueFenceValue      uint64

	heapState heapState
	encoder   hal.CommandEncoder

	// blit is invoked by submit() right before closing the command list, so
	// the swapchain manager (C9) can record its virtual-RT-to-backbuffer
	// copy without this package importing internal/swapchain.
	blit func(hal.CommandEncoder) error
}

// New creates a submission engine bound to the given device/queue and the
// heap, staging rings, descriptor table, kernel compiler, and texture
// manager it will drive.
func New(device hal.Device, queue hal.Queue, heap *gpuheap.Heap, uploads, downloads *staging.Ring, table *descriptor.Table, kernels *kernel.Compiler, textures *rwtex.Manager) (*Engine, error) {
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("submit: create fence: %w", err)
	}
	launchParams, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpurt.submit.launch_params",
		Size:  uint64(kernel.LaunchParamsMax),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		device.DestroyFence(fence)
		return nil, fmt.Errorf("submit: create launch params buffer: %w", err)
	}
	timestamps, err := device.CreateQuerySet(&hal.QuerySetDescriptor{
		Label: "gpurt.submit.timestamps",
		Type:  gputypes.QueryTypeTimestamp,
		Count: 1,
	})
	if err != nil {
		device.DestroyBuffer(launchParams)
		device.DestroyFence(fence)
		return nil, fmt.Errorf("submit: create query set: %w", err)
	}

	e := &Engine{
		device:       device,
		queue:        queue,
		fence:        fence,
		heap:         heap,
		uploads:      uploads,
		downloads:    downloads,
		table:        table,
		kernels:      kernels,
		textures:     textures,
		launchParams: launchParams,
		timestamps:   timestamps,
	}
	if err := e.beginEncoder(); err != nil {
		device.DestroyQuerySet(timestamps)
		device.DestroyBuffer(launchParams)
		device.DestroyFence(fence)
		return nil, err
	}
	return e, nil
}

// SetPresentBlit installs the callback submit() runs, right before closing
// the command list, to blit the virtual swapchain RT into the backbuffer.
// Called once by swapchain.New after the engine exists.
func (e *Engine) SetPresentBlit(blit func(hal.CommandEncoder) error) {
	e.blit = blit
}

// CurrSubmitIdx returns the monotonic submit counter.
func (e *Engine) CurrSubmitIdx() uint64 { return e.currSubmitIdx }

// KnownCompletedSubmitIdx returns the highest submit index known to have
// fully retired on the GPU.
func (e *Engine) KnownCompletedSubmitIdx() uint64 { return e.knownCompletedSubmitIdx }

func (e *Engine) beginEncoder() error {
	enc, err := e.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpurt.submit"})
	if err != nil {
		return fmt.Errorf("%w: create command encoder: %v", ErrBackendRuntime, err)
	}
	if err := enc.BeginEncoding("gpurt.submit"); err != nil {
		return fmt.Errorf("%w: begin encoding: %v", ErrBackendRuntime, err)
	}
	e.encoder = enc
	e.heapState = heapCommon
	return nil
}

// ensureHeapState emits a buffer barrier and updates bookkeeping only when
// the heap isn't already in the requested state (no barrier between two
// reads, or when already where we need to be).
func (e *Engine) ensureHeapState(target heapState) {
	if e.heapState == target {
		return
	}
	e.encoder.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: e.heap.Buffer(),
		Usage: hal.BufferUsageTransition{
			OldUsage: heapStateUsage(e.heapState),
			NewUsage: heapStateUsage(target),
		},
	}})
	e.heapState = target
}

// QueueMemcpyUpload records a copy from the upload ring's mapped offset
// into the heap, transitioning the heap to COPY_DEST first.
func (e *Engine) QueueMemcpyUpload(ringOffset, heapOffset, n uint32) {
	e.ensureHeapState(heapCopyDest)
	e.encoder.CopyBufferToBuffer(e.uploads.Buffer(), e.heap.Buffer(), []hal.BufferCopy{
		{SrcOffset: uint64(ringOffset), DstOffset: uint64(heapOffset), Size: uint64(n)},
	})
}

// QueueMemcpyDownload records a copy from the heap into the download ring's
// mapped offset, transitioning the heap to COPY_SOURCE first.
func (e *Engine) QueueMemcpyDownload(heapOffset, ringOffset, n uint32) {
	e.ensureHeapState(heapCopySource)
	e.encoder.CopyBufferToBuffer(e.heap.Buffer(), e.downloads.Buffer(), []hal.BufferCopy{
		{SrcOffset: uint64(heapOffset), DstOffset: uint64(ringOffset), Size: uint64(n)},
	})
}

// Dispatch implements spec §4.7's dispatch(kernel, groups, params): the
// fixed three-entry bind group (global heap, bindless texture array,
// optional launch params) bound against the kernel's pipeline.
func (e *Engine) Dispatch(h handle.Handle, groups [3]uint32, params []byte) error {
	pipeline, bindLayout, paramsSize, ok := e.kernels.Pipeline(h)
	if !ok {
		return ErrInvalidHandle
	}
	if uint32(len(params)) != paramsSize {
		return fmt.Errorf("%w: params size %d != kernel size %d", ErrContractViolation, len(params), paramsSize)
	}
	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		return fmt.Errorf("%w: workgroup counts must all be > 0", ErrContractViolation)
	}

	e.ensureHeapState(heapUnorderedAccess)

	if paramsSize > 0 {
		e.queue.WriteBuffer(e.launchParams, 0, params)
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: e.heap.Buffer().NativeHandle(), Offset: 0, Size: 0}},
		{Binding: 1, Resource: gputypes.TextureViewArrayBinding{Views: e.table.Views()}},
	}
	if paramsSize > 0 {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  2,
			Resource: gputypes.BufferBinding{Buffer: e.launchParams.NativeHandle(), Offset: 0, Size: uint64(paramsSize)},
		})
	}
	bindGroup, err := e.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "gpurt.dispatch",
		Layout:  bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("%w: create bind group: %v", ErrBackendRuntime, err)
	}
	defer e.device.DestroyBindGroup(bindGroup)

	pass := e.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "gpurt.dispatch"})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.Dispatch(groups[0], groups[1], groups[2])
	pass.End()
	return nil
}

// QueueHeapBarrier emits a global-heap UAV barrier: a no-op state change
// that still forces a read-write hazard boundary within UNORDERED_ACCESS.
func (e *Engine) QueueHeapBarrier() {
	e.encoder.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: e.heap.Buffer(),
		Usage: hal.BufferUsageTransition{
			OldUsage: gputypes.BufferUsageStorage,
			NewUsage: gputypes.BufferUsageStorage,
		},
	}})
}

// QueueRWTexBarrier emits a UAV barrier for a single RW texture.
func (e *Engine) QueueRWTexBarrier(h handle.Handle) error {
	tex, ok := e.textures.Texture(h)
	if !ok {
		return ErrInvalidHandle
	}
	e.encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageStorageBinding,
			NewUsage: gputypes.TextureUsageStorageBinding,
		},
	}})
	return nil
}

// QueueRWTexBarriers emits a single UAV barrier covering every live RW
// texture, the bulk form spec §4.7 calls out as useful.
func (e *Engine) QueueRWTexBarriers() {
	live := e.textures.Textures()
	if len(live) == 0 {
		return
	}
	barriers := make([]hal.TextureBarrier, len(live))
	for i, tex := range live {
		barriers[i] = hal.TextureBarrier{
			Texture: tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageStorageBinding,
				NewUsage: gputypes.TextureUsageStorageBinding,
			},
		}
	}
	e.encoder.TransitionTextures(barriers)
}

// QueueTakeTimestamp resolves a GPU timestamp directly into the heap at
// dstOffset, transitioning the heap to COPY_DEST first.
func (e *Engine) QueueTakeTimestamp(dstOffset uint32) {
	e.ensureHeapState(heapCopyDest)
	e.encoder.WriteTimestamp(e.timestamps, 0)
	e.encoder.ResolveQuerySet(e.timestamps, 0, 1, e.heap.Buffer(), uint64(dstOffset))
}

// TimestampFreq returns the GPU timestamp counter's frequency in Hz. The
// pack's HAL surface exposes no calibration query, so this returns a fixed
// nanosecond-resolution assumption (1 GHz) rather than fabricating a method
// call that doesn't exist anywhere in the retrieved examples.
func (e *Engine) TimestampFreq() uint64 { return 1_000_000_000 }

// Submit implements spec §4.7's submit(): blit, stamp, close, execute,
// signal, advance, and retire the next ring slot.
func (e *Engine) Submit(uploadHead, downloadHead uint32) error {
	if e.blit != nil {
		if err := e.blit(e.encoder); err != nil {
			return fmt.Errorf("%w: present blit: %v", ErrBackendRuntime, err)
		}
	}

	slotIdx := e.cur
	e.slots[slotIdx] = CmdSlot{
		valid:        true,
		submitIdx:    e.currSubmitIdx,
		uploadHead:   uploadHead,
		downloadHead: downloadHead,
	}

	cmdBuf, err := e.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %v", ErrBackendRuntime, err)
	}

	fenceValue := e.cmdQueueFenceValue
	if err := e.queue.Submit([]hal.CommandBuffer{cmdBuf}, e.fence, fenceValue); err != nil {
		return fmt.Errorf("%w: queue submit: %v", ErrBackendRuntime, err)
	}
	e.slots[slotIdx].fenceValue = fenceValue
	e.cmdQueueFenceValue++
	e.currSubmitIdx++

	next := (slotIdx + 1) % RingDepth
	retiring := e.slots[next]
	if retiring.valid {
		ok, err := e.device.Wait(e.fence, retiring.fenceValue, fenceWaitTimeout)
		if err != nil || !ok {
			return fmt.Errorf("%w: wait for slot %d: ok=%v err=%v", ErrBackendRuntime, next, ok, err)
		}
		if retiring.submitIdx > e.knownCompletedSubmitIdx {
			e.knownCompletedSubmitIdx = retiring.submitIdx
		}
	}
	// A zero-value (never-submitted) slot counts as already retired at head
	// 0, so the first RingDepth submits still raise the safe offset instead
	// of leaving it at 0 and rejecting every staging alloc.
	e.uploads.RaiseSafeOffset(retiring.uploadHead)
	e.downloads.RaiseSafeOffset(retiring.downloadHead)

	e.cur = next
	return e.beginEncoder()
}

// Flush implements spec §4.7's flush(): signal one more fence value, block
// until it retires, then fast-forward the completion and safe-offset
// bookkeeping as if every outstanding slot had just retired.
func (e *Engine) Flush() error {
	fenceValue := e.cmdQueueFenceValue
	cmdBuf, err := e.encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("%w: end encoding: %v", ErrBackendRuntime, err)
	}
	if err := e.queue.Submit([]hal.CommandBuffer{cmdBuf}, e.fence, fenceValue); err != nil {
		return fmt.Errorf("%w: queue submit: %v", ErrBackendRuntime, err)
	}
	e.cmdQueueFenceValue++

	ok, err := e.device.Wait(e.fence, fenceValue, fenceWaitTimeout)
	if err != nil || !ok {
		return fmt.Errorf("%w: wait for flush: ok=%v err=%v", ErrBackendRuntime, ok, err)
	}

	if e.currSubmitIdx > 0 {
		e.knownCompletedSubmitIdx = e.currSubmitIdx - 1
	} else {
		e.knownCompletedSubmitIdx = 0
	}
	prev := e.slots[(e.cur+RingDepth-1)%RingDepth]
	e.uploads.RaiseSafeOffset(prev.uploadHead)
	e.downloads.RaiseSafeOffset(prev.downloadHead)

	return e.beginEncoder()
}

// Close releases the engine's own GPU objects. Callers must Flush before
// Close so no in-flight command buffer references them.
func (e *Engine) Close() {
	e.device.DestroyQuerySet(e.timestamps)
	e.device.DestroyBuffer(e.launchParams)
	e.device.DestroyFence(e.fence)
}
