package submit

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestHeapStateUsageMapping(t *testing.T) {
	cases := []struct {
		name  string
		state heapState
		want  gputypes.BufferUsage
	}{
		{"copy dest", heapCopyDest, gputypes.BufferUsageCopyDst},
		{"copy source", heapCopySource, gputypes.BufferUsageCopySrc},
		{"unordered access", heapUnorderedAccess, gputypes.BufferUsageStorage},
		{"common falls back to storage", heapCommon, gputypes.BufferUsageStorage},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := heapStateUsage(c.state); got != c.want {
				t.Fatalf("heapStateUsage(%v) = %v, want %v", c.state, got, c.want)
			}
		})
	}
}

func TestRingDepthMatchesSpec(t *testing.T) {
	if RingDepth != 3 {
		t.Fatalf("RingDepth = %d, want 3 (spec §4.7 reference value)", RingDepth)
	}
}

func TestCmdSlotZeroValueIsUnsubmitted(t *testing.T) {
	var s CmdSlot
	if s.valid {
		t.Fatal("zero-value CmdSlot must look like a never-submitted slot")
	}
}

func TestEngineCurrSubmitIdxStartsAtZero(t *testing.T) {
	e := &Engine{}
	if e.CurrSubmitIdx() != 0 {
		t.Fatalf("CurrSubmitIdx() = %d, want 0", e.CurrSubmitIdx())
	}
	if e.KnownCompletedSubmitIdx() != 0 {
		t.Fatalf("KnownCompletedSubmitIdx() = %d, want 0", e.KnownCompletedSubmitIdx())
	}
}
