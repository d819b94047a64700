package record

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
)

// roundTrip encodes r, decodes it back using hints, and asserts the result
// matches r exactly (§8 property 1: encode/decode is the identity).
func roundTrip(t *testing.T, r Record, hints Hints) {
	t.Helper()
	w, mb := byteio.NewBufferWriter()
	if err := Encode(w, r); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rd := byteio.NewBufferReader(mb.Bytes())
	got, err := Decode(rd, hints)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripHeaderRecords(t *testing.T) {
	cases := []Record{
		Identifier{},
		Version{Major: 4, Minor: 2},
		ISA{Kind: ISARISCV},
		InstIEM{Mode: IEMRV64},
		VlenConfig{Vlen: 256},
		TraceInfo{GeneratorID: 3, Version: "1.0", Comment: "generated by test"},
		TraceInfoFeature{Features: FeaturePhysicalAddressPresent | FeatureRV64},
		EndHeader{},
	}
	for _, c := range cases {
		roundTrip(t, c, Hints{})
	}
}

func TestRoundTripContextRecords(t *testing.T) {
	cases := []Record{
		ProcessIDExt{HWTID: 1, TGID: 2, TID: 3, ASID: 4},
		ForcePC{PC: 0x8000_0000},
		Comment{Text: "hello"},
	}
	for _, c := range cases {
		roundTrip(t, c, Hints{})
	}
}

func TestRoundTripInstReg(t *testing.T) {
	roundTrip(t, InstReg{Type: OperandDest, Reg: 10, Values: []uint64{0xdeadbeef}}, Hints{})
	roundTrip(t, InstReg{Type: OperandSource, Reg: 1, Values: nil}, Hints{})
	roundTrip(t, InstReadyReg{Reg: 12}, Hints{})
}

func TestRoundTripInstMemAccessVariants(t *testing.T) {
	tests := []struct {
		name string
		rec  InstMemAccess
		feat Features
	}{
		{
			name: "no optional fields",
			rec:  InstMemAccess{VAddr: 0x1000, Size: 8, Type: MemAccessRead},
			feat: 0,
		},
		{
			name: "physical address present",
			rec:  InstMemAccess{VAddr: 0x1000, PAddr: 0x81000, PAddrValid: true, Size: 4, Type: MemAccessWrite},
			feat: FeaturePhysicalAddressPresent,
		},
		{
			name: "attribute present",
			rec:  InstMemAccess{VAddr: 0x2000, Size: 2, Attr: 0x7, AttrValid: true, Type: MemAccessRead},
			feat: FeatureDataAttributePresent,
		},
		{
			name: "both present",
			rec: InstMemAccess{
				VAddr: 0x3000, PAddr: 0x93000, PAddrValid: true,
				Size: 8, Attr: 0x1, AttrValid: true, Type: MemAccessWrite,
			},
			feat: FeaturePhysicalAddressPresent | FeatureDataAttributePresent,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			roundTrip(t, tc.rec, Hints{Features: tc.feat})
		})
	}
}

func TestInstMemContentWordsFromAccess(t *testing.T) {
	access := InstMemAccess{Size: 13}
	if got, want := access.ContentWords(), uint16(2); got != want {
		t.Fatalf("ContentWords() = %d, want %d", got, want)
	}
	content := InstMemContent{Values: []uint64{1, 2}}
	roundTrip(t, content, Hints{MemContentWords: access.ContentWords()})
}

func TestRoundTripInstPCTarget(t *testing.T) {
	roundTrip(t, InstPCTarget{PC: 0x4000}, Hints{})
	roundTrip(t, InstPCTarget{PC: 0x4000, PA: 0x94000, PAValid: true},
		Hints{Features: FeaturePhysicalAddressPresent})
}

func TestRoundTripInstMicroOp(t *testing.T) {
	roundTrip(t, InstMicroOp{Size: 3, Data: []byte{1, 2, 3}}, Hints{})
}

func TestRoundTripEvent(t *testing.T) {
	roundTrip(t, Event{EventType: 7, Data: []uint64{0xabad1dea, 0x1}}, Hints{})
	roundTrip(t, Event{EventType: 2, Data: nil}, Hints{})
	roundTrip(t, EventPCTarget{PC: 0x80000010}, Hints{})
}

func TestRoundTripPageTableWalk(t *testing.T) {
	roundTrip(t, PageTableWalk{
		VAddr: 0x1000, PAddr: 0x81000, PageSizeLog2: 12, FirstUseIndex: 42,
		Entries: []uint64{0x800000000000072f, 0x20000000000000ef},
	}, Hints{})
}

func TestRoundTripBusMaster(t *testing.T) {
	access := BusMasterAccess{Addr: 0x2000, Size: 16, Type: MemAccessWrite}
	roundTrip(t, access, Hints{})
	roundTrip(t, BusMasterContent{Values: []uint64{1, 2}}, Hints{BusMasterContentWords: access.ContentWords()})
}

func TestRoundTripOpcodes(t *testing.T) {
	roundTrip(t, InstOpcode16{PC: 0x1000, Opcode: 0x4505}, Hints{})
	roundTrip(t, InstOpcode32{PC: 0x1004, Opcode: 0x00a50513}, Hints{})
}

func TestOpcodeSize(t *testing.T) {
	if got := DescInstOpcode16.OpcodeSize(); got != 2 {
		t.Errorf("OpcodeSize(16) = %d, want 2", got)
	}
	if got := DescInstOpcode32.OpcodeSize(); got != 4 {
		t.Errorf("OpcodeSize(32) = %d, want 4", got)
	}
	if got := DescComment.OpcodeSize(); got != 0 {
		t.Errorf("OpcodeSize(non-opcode) = %d, want 0", got)
	}
}

func TestDecodeUnknownDescriptor(t *testing.T) {
	w, mb := byteio.NewBufferWriter()
	if err := w.WriteByte(0xff); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	rd := byteio.NewBufferReader(mb.Bytes())
	if _, err := Decode(rd, Hints{}); err == nil {
		t.Fatal("expected error for unknown descriptor")
	}
}

func TestFeatureToggleable(t *testing.T) {
	if !Toggleable(FeaturePhysicalAddressPresent) {
		t.Error("physical_address_present should be toggleable")
	}
	if Toggleable(FeatureRV64) {
		t.Error("rv64 should not be toggleable")
	}
}
