package gpufmt

import "testing"

func TestCalcResFixedHeight(t *testing.T) {
	w, h := CalcRes(1280, 720, ResDesc{SwapchainRelative: true, FixedHeight: 360})
	if w != 640 || h != 360 {
		t.Fatalf("CalcRes() = %d,%d; want 640,360", w, h)
	}
}

func TestCalcResScale(t *testing.T) {
	w, h := CalcRes(1280, 720, ResDesc{SwapchainRelative: true, Scale: 0.5})
	if w != 640 || h != 360 {
		t.Fatalf("CalcRes() = %d,%d; want 640,360", w, h)
	}
}

func TestCalcResClampsToOne(t *testing.T) {
	w, h := CalcRes(1, 1, ResDesc{SwapchainRelative: true, Scale: 0.001})
	if w != 1 || h != 1 {
		t.Fatalf("CalcRes() = %d,%d; want clamped to 1,1", w, h)
	}
}

func TestCalcResNotRelative(t *testing.T) {
	w, h := CalcRes(1920, 1080, ResDesc{Width: 32, Height: 32})
	if w != 32 || h != 32 {
		t.Fatalf("CalcRes() = %d,%d; want 32,32", w, h)
	}
}

func TestCalcResTracksSwapchainResize(t *testing.T) {
	w1, h1 := CalcRes(1280, 720, ResDesc{SwapchainRelative: true, Scale: 0.5})
	w2, h2 := CalcRes(1920, 1080, ResDesc{SwapchainRelative: true, Scale: 0.5})
	if w1 == w2 && h1 == h2 {
		t.Fatal("expected resolution to change with swapchain size")
	}
	if w2 != 960 || h2 != 540 {
		t.Fatalf("CalcRes() after resize = %d,%d; want 960,540", w2, h2)
	}
}

func TestBufferDimsPadding(t *testing.T) {
	d := NewBufferDims(3, 2, 4, 256)
	if d.UnpaddedRowSize != 12 {
		t.Fatalf("UnpaddedRowSize = %d, want 12", d.UnpaddedRowSize)
	}
	if d.PaddedRowSize != 256 {
		t.Fatalf("PaddedRowSize = %d, want 256", d.PaddedRowSize)
	}
	if d.PaddedSize() != 512 {
		t.Fatalf("PaddedSize() = %d, want 512", d.PaddedSize())
	}
}

func TestBufferDimsNoPaddingNeeded(t *testing.T) {
	d := NewBufferDims(64, 4, 4, 256)
	if d.UnpaddedRowSize != d.PaddedRowSize {
		t.Fatalf("expected no padding for 256-byte aligned row, got unpadded=%d padded=%d", d.UnpaddedRowSize, d.PaddedRowSize)
	}
}

func TestBytesPerPixel(t *testing.T) {
	cases := map[Format]int{
		FormatR_U8Unorm:    1,
		FormatRGBA_F32:     16,
		FormatRG_F16:       4,
		FormatRGBA_U8Unorm: 4,
	}
	for f, want := range cases {
		if got := BytesPerPixel(f); got != want {
			t.Errorf("BytesPerPixel(%d) = %d, want %d", f, got, want)
		}
	}
}

func TestToWGPUKnownFormat(t *testing.T) {
	if _, err := ToWGPU(FormatRGBA_F32); err != nil {
		t.Fatalf("ToWGPU() error = %v", err)
	}
}

func TestToWGPUUnknownFormat(t *testing.T) {
	if _, err := ToWGPU(Format(999)); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
