package gpuheap

import "testing"

// newTestHeap builds a Heap without a backing device buffer, exercising
// only the bump-pointer arithmetic under test here.
func newTestHeap(size uint32) *Heap {
	return &Heap{size: size, head: SystemReserved}
}

func TestAllocStartsAfterReserved(t *testing.T) {
	h := newTestHeap(SystemReserved + 1024)
	p, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if p < SystemReserved {
		t.Fatalf("Alloc() = %d, want >= %d", p, SystemReserved)
	}
	if p%Align != 0 {
		t.Fatalf("Alloc() = %d, not aligned to %d", p, Align)
	}
}

func TestAllocRoundsUpToAlign(t *testing.T) {
	h := newTestHeap(SystemReserved + 1024)
	p1, _ := h.Alloc(1)
	p2, _ := h.Alloc(1)
	if p2-p1 != Align {
		t.Fatalf("second alloc offset delta = %d, want %d", p2-p1, Align)
	}
}

func TestAllocExactlyFullSucceeds(t *testing.T) {
	h := newTestHeap(SystemReserved + Align)
	if _, err := h.Alloc(Align); err != nil {
		t.Fatalf("Alloc() of exactly remaining space failed: %v", err)
	}
}

func TestAllocOneByteOverFails(t *testing.T) {
	h := newTestHeap(SystemReserved + Align)
	if _, err := h.Alloc(Align + 1); err != ErrExhausted {
		t.Fatalf("Alloc() = %v, want ErrExhausted", err)
	}
}

func TestAllocAfterExhaustionFails(t *testing.T) {
	h := newTestHeap(SystemReserved + Align)
	if _, err := h.Alloc(Align); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Alloc(1); err != ErrExhausted {
		t.Fatalf("Alloc() = %v, want ErrExhausted", err)
	}
}

func TestFreeIsNoop(t *testing.T) {
	h := newTestHeap(SystemReserved + 1024)
	p, _ := h.Alloc(16)
	h.Free(p)
	stats := h.Stats()
	if stats.UsedBytes == SystemReserved {
		t.Fatal("Free must not reclaim space (bump allocator never frees)")
	}
}

func TestStatsReflectsUsage(t *testing.T) {
	h := newTestHeap(SystemReserved + 1024)
	before := h.Stats()
	if before.UsedBytes != SystemReserved {
		t.Fatalf("initial UsedBytes = %d, want %d", before.UsedBytes, SystemReserved)
	}
	if _, err := h.Alloc(64); err != nil {
		t.Fatal(err)
	}
	after := h.Stats()
	if after.UsedBytes != SystemReserved+64 {
		t.Fatalf("UsedBytes = %d, want %d", after.UsedBytes, SystemReserved+64)
	}
}
