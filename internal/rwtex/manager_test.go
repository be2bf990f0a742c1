package rwtex

import (
	"errors"
	"testing"

	"github.com/gogpu/gpurt/internal/gpufmt"
	"github.com/gogpu/gpurt/internal/handle"
)

func TestDescValidateFixedResolution(t *testing.T) {
	d := Desc{Res: gpufmt.ResDesc{Width: 64, Height: 64}}
	if err := d.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil for fixed-resolution desc", err)
	}
}

func TestDescValidateRejectsNeitherSet(t *testing.T) {
	d := Desc{Res: gpufmt.ResDesc{SwapchainRelative: true}}
	if err := d.validate(); !errors.Is(err, ErrInvalidDesc) {
		t.Fatalf("validate() = %v, want ErrInvalidDesc", err)
	}
}

func TestDescValidateRejectsBothSet(t *testing.T) {
	d := Desc{Res: gpufmt.ResDesc{SwapchainRelative: true, FixedHeight: 360, Scale: 0.5}}
	if err := d.validate(); !errors.Is(err, ErrInvalidDesc) {
		t.Fatalf("validate() = %v, want ErrInvalidDesc", err)
	}
}

func TestDescValidateAcceptsFixedHeightOnly(t *testing.T) {
	d := Desc{Res: gpufmt.ResDesc{SwapchainRelative: true, FixedHeight: 360}}
	if err := d.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}
}

func TestDescValidateAcceptsScaleOnly(t *testing.T) {
	d := Desc{Res: gpufmt.ResDesc{SwapchainRelative: true, Scale: 0.5}}
	if err := d.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}
}

// newTestManager builds a Manager whose pool is real but whose device/table
// are left nil; entries are inserted directly rather than through Init, so
// these tests exercise getter/handle bookkeeping without touching hal.
func newTestManager() *Manager {
	return &Manager{pool: handle.New[*entry](8)}
}

func TestResAndDescReadBack(t *testing.T) {
	m := newTestManager()
	want := Desc{Format: gpufmt.FormatRGBA_F32, Res: gpufmt.ResDesc{SwapchainRelative: true, Scale: 0.5}}
	h := m.pool.Insert(&entry{desc: want, width: 960, height: 540, slot: 2})

	got, ok := m.Desc(h)
	if !ok || got != want {
		t.Fatalf("Desc() = %+v, %v; want %+v, true", got, ok, want)
	}

	w, ht, ok := m.Res(h)
	if !ok || w != 960 || ht != 540 {
		t.Fatalf("Res() = %d,%d,%v; want 960,540,true", w, ht, ok)
	}
}

func TestResRejectsInvalidHandle(t *testing.T) {
	m := newTestManager()
	if _, _, ok := m.Res(handle.Handle{}); ok {
		t.Fatal("Res() on nil handle must fail")
	}
}

func TestSetScaleRejectsInvalidHandle(t *testing.T) {
	m := newTestManager()
	if err := m.SetScale(handle.Handle{}, 0.5); err != ErrInvalidHandle {
		t.Fatalf("SetScale() = %v, want ErrInvalidHandle", err)
	}
}

func TestSetSwapchainResDoesNotMutateEntries(t *testing.T) {
	m := newTestManager()
	fixed := &entry{desc: Desc{Res: gpufmt.ResDesc{Width: 32, Height: 32}}, width: 32, height: 32, slot: 2}
	m.pool.Insert(fixed)

	m.SetSwapchainRes(1920, 1080)
	if fixed.width != 32 || fixed.height != 32 {
		t.Fatal("SetSwapchainRes alone must not rebuild any texture")
	}
	if m.swapW != 1920 || m.swapH != 1080 {
		t.Fatalf("swapW,swapH = %d,%d; want 1920,1080", m.swapW, m.swapH)
	}
}
