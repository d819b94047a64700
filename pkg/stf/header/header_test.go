package header

import (
	"testing"

	"github.com/sparcians/stf-tools/pkg/stf/byteio"
	"github.com/sparcians/stf-tools/pkg/stf/record"
)

func writeMinimalHeader(t *testing.T) []byte {
	t.Helper()
	w, mb := byteio.NewBufferWriter()
	hw := NewWriter(w)
	hw.SetIEM(record.IEMRV64)
	hw.SetVlen(0)
	hw.SetFeatures(record.FeaturePhysicalAddressPresent)
	hw.SetInitialPC(0x80000000)
	hw.AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0", Comment: "test"})
	if err := hw.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return mb.Bytes()
}

func TestReadHeaderRoundTrip(t *testing.T) {
	data := writeMinimalHeader(t)
	r := byteio.NewBufferReader(data)
	tp, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if tp.IEM != record.IEMRV64 {
		t.Errorf("IEM = %v, want RV64", tp.IEM)
	}
	if tp.InitialPC != 0x80000000 {
		t.Errorf("InitialPC = %#x, want 0x80000000", tp.InitialPC)
	}
	if !tp.Features.Has(record.FeaturePhysicalAddressPresent) {
		t.Error("expected physical_address_present feature bit")
	}
	if len(tp.TraceInfos) != 1 || tp.TraceInfos[0].Comment != "test" {
		t.Errorf("unexpected trace infos: %+v", tp.TraceInfos)
	}
}

func TestFinalizeHeaderRequiresTraceInfo(t *testing.T) {
	w, _ := byteio.NewBufferWriter()
	hw := NewWriter(w)
	if err := hw.FinalizeHeader(); err == nil {
		t.Fatal("expected error finalizing header with no TRACE_INFO")
	}
}

func TestFinalizeHeaderTwiceFails(t *testing.T) {
	w, _ := byteio.NewBufferWriter()
	hw := NewWriter(w)
	hw.AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0"})
	if err := hw.FinalizeHeader(); err != nil {
		t.Fatalf("first FinalizeHeader: %v", err)
	}
	if err := hw.FinalizeHeader(); err == nil {
		t.Fatal("expected error on second FinalizeHeader")
	}
}

func TestReadHeaderMissingIdentifier(t *testing.T) {
	w, mb := byteio.NewBufferWriter()
	if err := record.Encode(w, record.Version{Major: 4, Minor: 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	r := byteio.NewBufferReader(mb.Bytes())
	if _, err := ReadHeader(r); err == nil {
		t.Fatal("expected error for missing IDENTIFIER")
	}
}

func TestCopyHeaderPreservesFeaturesAndAllowsAppend(t *testing.T) {
	data := writeMinimalHeader(t)
	tp, err := ReadHeader(byteio.NewBufferReader(data))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	w, mb := byteio.NewBufferWriter()
	hw := NewWriter(w)
	CopyHeader(tp, hw)
	hw.AddTraceInfo(record.TraceInfo{GeneratorID: 2, Version: "2.0", Comment: "rewritten"})
	if err := hw.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tp2, err := ReadHeader(byteio.NewBufferReader(mb.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader (copy): %v", err)
	}
	if tp2.Features != tp.Features {
		t.Errorf("features not preserved: got %v, want %v", tp2.Features, tp.Features)
	}
	if len(tp2.TraceInfos) != 2 {
		t.Errorf("expected 2 trace infos after copy+append, got %d", len(tp2.TraceInfos))
	}
}

func TestCopyHeaderIsDeterministic(t *testing.T) {
	w, mb := byteio.NewBufferWriter()
	hw := NewWriter(w)
	hw.SetIEM(record.IEMRV64)
	hw.AddTraceInfo(record.TraceInfo{GeneratorID: 1, Version: "1.0"})
	hw.SetInitialRegs([]record.InstReg{
		{Type: record.OperandState, Reg: 9, Values: []uint64{9}},
		{Type: record.OperandState, Reg: 2, Values: []uint64{2}},
		{Type: record.OperandState, Reg: 5, Values: []uint64{5}},
	})
	if err := hw.FinalizeHeader(); err != nil {
		t.Fatalf("FinalizeHeader: %v", err)
	}
	tp, err := ReadHeader(byteio.NewBufferReader(mb.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}

	copyBytes := func() []byte {
		w, mb := byteio.NewBufferWriter()
		hw := NewWriter(w)
		CopyHeader(tp, hw)
		if err := hw.FinalizeHeader(); err != nil {
			t.Fatalf("FinalizeHeader (copy): %v", err)
		}
		return mb.Bytes()
	}
	a, b := copyBytes(), copyBytes()
	if len(a) != len(b) {
		t.Fatalf("copies differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("copies differ at byte %d", i)
		}
	}

	tp2, err := ReadHeader(byteio.NewBufferReader(a))
	if err != nil {
		t.Fatalf("ReadHeader (copy): %v", err)
	}
	for _, id := range []record.RegID{2, 5, 9} {
		if rg, ok := tp2.InitialRegs[id]; !ok || rg.Values[0] != uint64(id) {
			t.Errorf("InitialRegs[%d] = %+v, %v", id, rg, ok)
		}
	}
}

func TestTogglePolicy(t *testing.T) {
	if err := TogglePolicy(record.FeaturePhysicalAddressPresent); err != nil {
		t.Errorf("expected physical_address_present to be toggleable: %v", err)
	}
	if err := TogglePolicy(record.FeatureRV64); err == nil {
		t.Error("expected rv64 to be rejected as non-toggleable")
	}
}
