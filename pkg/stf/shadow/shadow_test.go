package shadow

import (
	"testing"

	"github.com/sparcians/stf-tools/pkg/stf/record"
)

func TestRegFileTracksLastWrite(t *testing.T) {
	rf := NewRegFile()
	rf.Update(record.InstReg{Type: record.OperandDest, Reg: 5, Values: []uint64{1}})
	rf.Update(record.InstReg{Type: record.OperandDest, Reg: 5, Values: []uint64{2}})
	rf.Update(record.InstReg{Type: record.OperandSource, Reg: 6, Values: []uint64{9}})

	v, ok := rf.Value(5)
	if !ok || len(v) != 1 || v[0] != 2 {
		t.Errorf("Value(5) = %v, %v, want [2]", v, ok)
	}
	if _, ok := rf.Value(6); ok {
		t.Error("source operand must not update the shadow")
	}
}

func TestRegFileWriteStateEmitsInIDOrder(t *testing.T) {
	rf := NewRegFile()
	for _, id := range []record.RegID{9, 3, 7} {
		rf.Update(record.InstReg{Type: record.OperandState, Reg: id, Values: []uint64{uint64(id)}})
	}
	var got []record.RegID
	if err := rf.WriteState(func(rg record.InstReg) error {
		got = append(got, rg.Reg)
		return nil
	}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	want := []record.RegID{3, 7, 9}
	if len(got) != len(want) {
		t.Fatalf("emitted %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("emit order[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRegFileReset(t *testing.T) {
	rf := NewRegFile()
	rf.Update(record.InstReg{Type: record.OperandDest, Reg: 1, Values: []uint64{1}})
	rf.Reset()
	if _, ok := rf.Value(1); ok {
		t.Error("expected empty shadow after Reset")
	}
}

func TestPTETableKeepsUsedFlagOnIdenticalUpdate(t *testing.T) {
	pt := NewPTETable()
	walk := record.PageTableWalk{VAddr: 0x1000, PAddr: 0x81000, PageSizeLog2: 12, Entries: []uint64{1}}
	pt.Update(0, walk)
	pt.MarkUsed(KeyFor(0, 0x1000, 12))

	pt.Update(0, walk)
	e, ok := pt.Lookup(0, 0x1234, []uint32{12})
	if !ok {
		t.Fatal("expected entry to survive identical update")
	}
	if !e.Used {
		t.Error("identical update must not clear the used flag")
	}
}

func TestPTETableClearsUsedOnChangedWalk(t *testing.T) {
	pt := NewPTETable()
	pt.Update(0, record.PageTableWalk{VAddr: 0x1000, PAddr: 0x81000, PageSizeLog2: 12, Entries: []uint64{1}})
	pt.MarkUsed(KeyFor(0, 0x1000, 12))

	pt.Update(0, record.PageTableWalk{VAddr: 0x1000, PAddr: 0x99000, PageSizeLog2: 12, Entries: []uint64{2}})
	e, ok := pt.Lookup(0, 0x1000, []uint32{12})
	if !ok {
		t.Fatal("expected replacement entry")
	}
	if e.Used {
		t.Error("changed walk must clear the used flag")
	}
	if e.Walk.PAddr != 0x99000 {
		t.Errorf("PAddr = %#x, want 0x99000", e.Walk.PAddr)
	}
}

func TestPTETableEvictsOverlappingLargerPage(t *testing.T) {
	pt := NewPTETable()
	pt.Update(0, record.PageTableWalk{VAddr: 0x201000, PAddr: 0x81000, PageSizeLog2: 12, Entries: []uint64{1}})
	// A 2 MiB page covering 0x200000-0x3fffff subsumes the 4 KiB entry.
	pt.Update(0, record.PageTableWalk{VAddr: 0x200000, PAddr: 0x40000000, PageSizeLog2: 21, Entries: []uint64{2}})

	if _, ok := pt.Lookup(0, 0x201000, []uint32{12}); ok {
		t.Error("expected the covered 4K entry to be evicted")
	}
	if _, ok := pt.Lookup(0, 0x201000, []uint32{21}); !ok {
		t.Error("expected the 2M entry to translate the address")
	}
}

func TestPTETableASIDsAreDistinct(t *testing.T) {
	pt := NewPTETable()
	pt.Update(1, record.PageTableWalk{VAddr: 0x1000, PAddr: 0x81000, PageSizeLog2: 12})
	if _, ok := pt.Lookup(2, 0x1000, []uint32{12}); ok {
		t.Error("ASID 2 must not see ASID 1's translation")
	}
}

func TestPCTrackerAdvanceAndOverride(t *testing.T) {
	pc := NewPCTracker(0x1000)
	pc.Advance(4)
	if pc.PC() != 0x1004 {
		t.Errorf("PC after advance = %#x, want 0x1004", pc.PC())
	}
	pc.Override(0x2000)
	if pc.PC() != 0x2000 {
		t.Errorf("PC after override = %#x, want 0x2000", pc.PC())
	}
}

func TestPCTrackerOffsetMustBeAligned(t *testing.T) {
	pc := NewPCTracker(0x1000)
	if err := pc.SetOffset(6); err == nil {
		t.Error("expected an error for an offset that is not a multiple of 4")
	}
	if err := pc.SetOffset(8); err != nil {
		t.Fatalf("SetOffset(8): %v", err)
	}
	if pc.PC() != 0x1008 {
		t.Errorf("relocated PC = %#x, want 0x1008", pc.PC())
	}
}

func TestModeTrackerTransitions(t *testing.T) {
	m := NewModeTracker()

	// Plain user-mode instruction.
	if r := m.Observe(false, false, false); r != RegionUser {
		t.Errorf("initial region = %v, want user", r)
	}
	// The ecall itself still executes in user mode.
	if r := m.Observe(true, false, false); r != RegionUser {
		t.Errorf("ecall region = %v, want user", r)
	}
	// Handler code runs in the kernel-syscall region.
	if r := m.Observe(false, false, false); r != RegionKernelSyscall {
		t.Errorf("handler region = %v, want kernel-syscall", r)
	}
	// The sret executes in the kernel, then returns to user.
	if r := m.Observe(false, true, false); r != RegionKernelSyscall {
		t.Errorf("sret region = %v, want kernel-syscall", r)
	}
	if r := m.Observe(false, false, false); r != RegionUser {
		t.Errorf("post-sret region = %v, want user", r)
	}
	// A fault traps to the non-syscall kernel region.
	m.Observe(false, false, true)
	if r := m.Observe(false, false, false); r != RegionKernelOther {
		t.Errorf("fault handler region = %v, want kernel", r)
	}
}
