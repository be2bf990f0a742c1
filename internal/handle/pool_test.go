package handle

import "testing"

func TestInsertGet(t *testing.T) {
	p := New[string](4)
	h := p.Insert("a")
	v, ok := p.Get(h)
	if !ok || v != "a" {
		t.Fatalf("Get() = %q, %v; want %q, true", v, ok, "a")
	}
}

func TestRemoveInvalidatesHandle(t *testing.T) {
	p := New[int](4)
	h := p.Insert(42)
	if err := p.Remove(h); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	if _, ok := p.Get(h); ok {
		t.Fatal("Get() succeeded on removed handle")
	}
	if err := p.Remove(h); err != ErrInvalid {
		t.Fatalf("second Remove() = %v, want ErrInvalid", err)
	}
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	p := New[int](1)
	h1 := p.Insert(1)
	if err := p.Remove(h1); err != nil {
		t.Fatal(err)
	}
	h2 := p.Insert(2)
	if h1.index != h2.index {
		t.Fatalf("expected slot reuse: h1.index=%d h2.index=%d", h1.index, h2.index)
	}
	if h1.generation == h2.generation {
		t.Fatal("expected generation to change on reuse")
	}
	if _, ok := p.Get(h1); ok {
		t.Fatal("stale handle h1 must not resolve after reuse")
	}
	v, ok := p.Get(h2)
	if !ok || v != 2 {
		t.Fatalf("Get(h2) = %v, %v; want 2, true", v, ok)
	}
}

func TestNilHandleInvalid(t *testing.T) {
	p := New[int](1)
	var zero Handle
	if !zero.IsNil() {
		t.Fatal("zero Handle should be nil")
	}
	if _, ok := p.Get(zero); ok {
		t.Fatal("Get(zero Handle) should fail")
	}
}

func TestLenAndEach(t *testing.T) {
	p := New[int](4)
	h1 := p.Insert(10)
	h2 := p.Insert(20)
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
	if err := p.Remove(h1); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len() after remove = %d, want 1", p.Len())
	}
	seen := map[uint32]int{}
	p.Each(func(h Handle, v int) { seen[h.index] = v })
	if seen[h2.index] != 20 {
		t.Fatalf("Each() did not visit remaining handle correctly: %v", seen)
	}
}
