// Package gpufmt maps the runtime's abstract pixel formats onto
// github.com/gogpu/gputypes formats and computes swapchain-relative
// resolutions for RW textures (spec §4.5, C1/C6).
package gpufmt

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
)

// Format is the runtime's abstract pixel format for RW textures. It names
// channel layout and component type independently of any backend's
// enumeration, the way the original source's GpuFormat did for DXGI.
type Format int

const (
	FormatR_U8Unorm Format = iota
	FormatR_U8
	FormatR_U16
	FormatR_I32
	FormatR_F16
	FormatR_F32
	FormatRG_U8Unorm
	FormatRG_U8
	FormatRG_U16
	FormatRG_I32
	FormatRG_F16
	FormatRG_F32
	FormatRGBA_U8Unorm
	FormatRGBA_U8
	FormatRGBA_U16
	FormatRGBA_I32
	FormatRGBA_F16
	FormatRGBA_F32
)

// bytesPerPixel mirrors formatToD3D12's implied component sizes: one byte
// per channel for the U8 family, two for U16/F16, four for I32/F32.
var bytesPerPixel = map[Format]int{
	FormatR_U8Unorm: 1, FormatR_U8: 1, FormatR_U16: 2, FormatR_I32: 4, FormatR_F16: 2, FormatR_F32: 4,
	FormatRG_U8Unorm: 2, FormatRG_U8: 2, FormatRG_U16: 4, FormatRG_I32: 8, FormatRG_F16: 4, FormatRG_F32: 8,
	FormatRGBA_U8Unorm: 4, FormatRGBA_U8: 4, FormatRGBA_U16: 8, FormatRGBA_I32: 16, FormatRGBA_F16: 8, FormatRGBA_F32: 16,
}

// toWGPU mirrors formatToD3D12's switch over the abstract format enum.
var toWGPU = map[Format]gputypes.TextureFormat{
	FormatR_U8Unorm: gputypes.TextureFormatR8Unorm,
	FormatR_U8:      gputypes.TextureFormatR8Uint,
	FormatR_U16:     gputypes.TextureFormatR16Uint,
	FormatR_I32:     gputypes.TextureFormatR32Sint,
	FormatR_F16:     gputypes.TextureFormatR16Float,
	FormatR_F32:     gputypes.TextureFormatR32Float,

	FormatRG_U8Unorm: gputypes.TextureFormatRG8Unorm,
	FormatRG_U8:      gputypes.TextureFormatRG8Uint,
	FormatRG_U16:     gputypes.TextureFormatRG16Uint,
	FormatRG_I32:     gputypes.TextureFormatRG32Sint,
	FormatRG_F16:     gputypes.TextureFormatRG16Float,
	FormatRG_F32:     gputypes.TextureFormatRG32Float,

	FormatRGBA_U8Unorm: gputypes.TextureFormatRGBA8Unorm,
	FormatRGBA_U8:      gputypes.TextureFormatRGBA8Uint,
	FormatRGBA_U16:     gputypes.TextureFormatRGBA16Uint,
	FormatRGBA_I32:     gputypes.TextureFormatRGBA32Sint,
	FormatRGBA_F16:     gputypes.TextureFormatRGBA16Float,
	FormatRGBA_F32:     gputypes.TextureFormatRGBA32Float,
}

// ToWGPU maps an abstract Format to the backend's texture format.
func ToWGPU(f Format) (gputypes.TextureFormat, error) {
	tf, ok := toWGPU[f]
	if !ok {
		return 0, fmt.Errorf("gpufmt: unknown format %d", f)
	}
	return tf, nil
}

// BytesPerPixel returns the host-side byte size of one pixel of f.
func BytesPerPixel(f Format) int {
	return bytesPerPixel[f]
}

// ResDesc describes how a texture's resolution tracks the swapchain.
// Exactly one of FixedHeight or Scale is non-zero when SwapchainRelative is
// true; neither is consulted otherwise.
type ResDesc struct {
	SwapchainRelative bool
	FixedHeight       uint32
	Scale             float32
	Width, Height     uint32 // used directly when !SwapchainRelative
}

// CalcRes computes the target resolution for desc given the current
// swapchain resolution, mirroring calcRWTexTargetRes from the original
// source: fixed-height mode preserves the swapchain's aspect ratio at the
// given height; scale mode multiplies both axes. The result is clamped to
// at least 1 in both axes.
func CalcRes(swapchainW, swapchainH uint32, desc ResDesc) (width, height uint32) {
	if !desc.SwapchainRelative {
		return max1(desc.Width), max1(desc.Height)
	}
	if desc.FixedHeight != 0 {
		h := desc.FixedHeight
		if swapchainH == 0 {
			return max1(swapchainW), max1(h)
		}
		aspect := float64(swapchainW) / float64(swapchainH)
		w := uint32(math.Round(float64(h) * aspect))
		return max1(w), max1(h)
	}
	// Scale mode.
	w := uint32(math.Round(float64(swapchainW) * float64(desc.Scale)))
	h := uint32(math.Round(float64(swapchainH) * float64(desc.Scale)))
	return max1(w), max1(h)
}

func max1(v uint32) uint32 {
	if v < 1 {
		return 1
	}
	return v
}

// BufferDims describes the host-buffer layout required to stage a texture
// of a given size for upload or readback, mirroring cogentcore's
// TextureBufferDims row-padding calculation.
type BufferDims struct {
	Width, Height   uint64
	UnpaddedRowSize uint64
	PaddedRowSize   uint64
}

// NewBufferDims computes row padding to the given alignment (wgpu requires
// 256-byte aligned rows for buffer<->texture copies).
func NewBufferDims(width, height uint32, bytesPerPixel int, rowAlign uint64) BufferDims {
	d := BufferDims{Width: uint64(width), Height: uint64(height)}
	d.UnpaddedRowSize = d.Width * uint64(bytesPerPixel)
	if rowAlign == 0 {
		rowAlign = 1
	}
	padding := (rowAlign - d.UnpaddedRowSize%rowAlign) % rowAlign
	d.PaddedRowSize = d.UnpaddedRowSize + padding
	return d
}

// PaddedSize returns the total padded byte size of the staged buffer.
func (d BufferDims) PaddedSize() uint64 { return d.PaddedRowSize * d.Height }

// UnpaddedSize returns the total unpadded byte size of the image data.
func (d BufferDims) UnpaddedSize() uint64 { return d.UnpaddedRowSize * d.Height }
