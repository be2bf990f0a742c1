package gpurt

import (
	"errors"
	"testing"

	"github.com/gogpu/gpurt/internal/descriptor"
	"github.com/gogpu/gpurt/internal/gpuheap"
)

func TestConfigResolvedFillsDefaults(t *testing.T) {
	r, err := Config{}.resolved()
	if err != nil {
		t.Fatalf("resolved() = %v, want nil", err)
	}
	if r.GPUHeapSizeBytes != DefaultGPUHeapSizeBytes {
		t.Fatalf("GPUHeapSizeBytes = %d, want %d", r.GPUHeapSizeBytes, DefaultGPUHeapSizeBytes)
	}
	if r.UploadHeapSizeBytes != DefaultUploadHeapSizeBytes {
		t.Fatalf("UploadHeapSizeBytes = %d, want %d", r.UploadHeapSizeBytes, DefaultUploadHeapSizeBytes)
	}
	if r.MaxTexturesPerType != DefaultMaxTexturesPerType {
		t.Fatalf("MaxTexturesPerType = %d, want %d", r.MaxTexturesPerType, DefaultMaxTexturesPerType)
	}
	if r.MaxKernels != DefaultMaxKernels || r.MaxConcurrentDownloads != DefaultMaxConcurrentDownloads {
		t.Fatalf("MaxKernels/MaxConcurrentDownloads = %d/%d, want defaults", r.MaxKernels, r.MaxConcurrentDownloads)
	}
}

func TestConfigResolvedClampsHeapBelowReserved(t *testing.T) {
	r, err := Config{GPUHeapSizeBytes: 1}.resolved()
	if err != nil {
		t.Fatal(err)
	}
	if r.GPUHeapSizeBytes != gpuheap.SystemReserved {
		t.Fatalf("GPUHeapSizeBytes = %d, want %d", r.GPUHeapSizeBytes, gpuheap.SystemReserved)
	}
}

func TestConfigResolvedRoundsStagingSizesToAlign(t *testing.T) {
	r, err := Config{UploadHeapSizeBytes: 1, DownloadHeapSizeBytes: 257}.resolved()
	if err != nil {
		t.Fatal(err)
	}
	if r.UploadHeapSizeBytes != 256 {
		t.Fatalf("UploadHeapSizeBytes = %d, want 256", r.UploadHeapSizeBytes)
	}
	if r.DownloadHeapSizeBytes != 512 {
		t.Fatalf("DownloadHeapSizeBytes = %d, want 512", r.DownloadHeapSizeBytes)
	}
}

func TestConfigResolvedClampsTextureCapacity(t *testing.T) {
	r, err := Config{MaxTexturesPerType: 1_000_000}.resolved()
	if err != nil {
		t.Fatal(err)
	}
	if r.MaxTexturesPerType != descriptor.MaxCapacity {
		t.Fatalf("MaxTexturesPerType = %d, want %d", r.MaxTexturesPerType, descriptor.MaxCapacity)
	}
}

func TestConfigResolvedRejectsWindowHandleWithoutWindowSize(t *testing.T) {
	_, err := Config{NativeWindowHandle: 0xdeadbeef}.resolved()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("resolved() err = %v, want ErrInvalidConfig", err)
	}
}

func TestConfigResolvedAcceptsWindowHandleWithWindowSize(t *testing.T) {
	_, err := Config{
		NativeWindowHandle: 0xdeadbeef,
		WindowSize:         func() (uint32, uint32) { return 1920, 1080 },
	}.resolved()
	if err != nil {
		t.Fatalf("resolved() = %v, want nil", err)
	}
}
