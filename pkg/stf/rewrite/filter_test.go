package rewrite

import (
	"testing"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/decoder"
	"github.com/sparcians/stf-tools/pkg/stf/inst"
	"github.com/sparcians/stf-tools/pkg/stf/record"
	"github.com/sparcians/stf-tools/pkg/stf/stream"
)

func buildOne(t *testing.T, recs []record.Record) *inst.Instruction {
	t.Helper()
	w, mb := byteio.NewBufferWriter()
	sw := stream.NewWriter(w)
	sw.Header().SetIEM(record.IEMRV64)
	sw.Header().AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0"})
	if err := sw.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}
	for _, r := range recs {
		if err := sw.Write(r); err != nil {
			t.Fatalf("Write(%s): %v", r.Descriptor(), err)
		}
	}
	if err := sw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := stream.NewReader(byteio.NewBufferReader(mb.Bytes()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	asm := inst.NewAssembler(r, decoder.New())
	instr, err := asm.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return instr
}

func TestFilterOpcodeEquals(t *testing.T) {
	instr := buildOne(t, []record.Record{
		record.InstOpcode32{PC: 0x1000, Opcode: 0x00a50513},
	})
	if !OpcodeEquals(0x00a50513)(instr) {
		t.Error("expected opcode match")
	}
	if OpcodeEquals(0xdeadbeef)(instr) {
		t.Error("expected no match for a different opcode")
	}
}

func TestFilterAddressInRange(t *testing.T) {
	instr := buildOne(t, []record.Record{
		record.InstMemAccess{VAddr: 0x2000, Size: 8, Type: record.MemAccessRead},
		record.InstOpcode32{PC: 0x1000, Opcode: 0x00a50513},
	})
	if !AddressInRange(0x1000, 0x3000)(instr) {
		t.Error("expected address in range to match")
	}
	if AddressInRange(0x5000, 0x6000)(instr) {
		t.Error("expected address out of range to not match")
	}
}

func TestFilterRegisterTouched(t *testing.T) {
	instr := buildOne(t, []record.Record{
		record.InstReg{Type: record.OperandSource, Reg: 3, Values: []uint64{1}},
		record.InstOpcode32{PC: 0x1000, Opcode: 0x00a50513},
	})
	if !RegisterTouched(3)(instr) {
		t.Error("expected register 3 to be touched")
	}
	if RegisterTouched(4)(instr) {
		t.Error("expected register 4 to not be touched")
	}
}

func TestFilterAndOrNot(t *testing.T) {
	instr := buildOne(t, []record.Record{
		record.InstOpcode32{PC: 0x1000, Opcode: 0x00a50513},
	})
	match := OpcodeEquals(0x00a50513)
	noMatch := OpcodeEquals(0xdeadbeef)

	if !And(match, Always)(instr) {
		t.Error("And(true, true) should be true")
	}
	if And(match, noMatch)(instr) {
		t.Error("And(true, false) should be false")
	}
	if !Or(noMatch, match)(instr) {
		t.Error("Or(false, true) should be true")
	}
	if Or(noMatch, noMatch)(instr) {
		t.Error("Or(false, false) should be false")
	}
	if !Not(noMatch)(instr) {
		t.Error("Not(false) should be true")
	}
}

func TestFilterAlwaysAndEmptyCombinators(t *testing.T) {
	instr := buildOne(t, []record.Record{
		record.InstOpcode32{PC: 0x1000, Opcode: 0x00a50513},
	})
	if !Always(instr) {
		t.Error("Always must match everything")
	}
	if !And()(instr) {
		t.Error("empty And should be the identity filter (true)")
	}
	if Or()(instr) {
		t.Error("empty Or should match nothing")
	}
}
