package isa

import "testing"

func TestDecode32BaseCases(t *testing.T) {
	tests := []struct {
		name   string
		word   uint32
		mnem   string
		isLoad bool
		isStore bool
		isBranch bool
	}{
		{"addi x1, x0, 5", 0x00500093, "addi", false, false, false},
		{"lw x5, 0(x10)", 0x00052283, "lw", true, false, false},
		{"sw x5, 0(x10)", 0x00552023, "sw", false, true, false},
		{"beq x1, x2, 8", 0x00208463, "beq", false, false, true},
		{"add x1, x2, x3", 0x003100b3, "add", false, false, false},
		{"jal x1, 4", 0x004000ef, "jal", false, false, false},
		{"lui x1, 0x1000", 0x010000b7, "lui", false, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := Decode32(tc.word)
			if err != nil {
				t.Fatalf("Decode32(%#x): %v", tc.word, err)
			}
			if info.Mnemonic != tc.mnem {
				t.Errorf("mnemonic = %q, want %q", info.Mnemonic, tc.mnem)
			}
			if info.IsLoad != tc.isLoad || info.IsStore != tc.isStore || info.IsBranch != tc.isBranch {
				t.Errorf("flags = %+v, want load=%v store=%v branch=%v", info, tc.isLoad, tc.isStore, tc.isBranch)
			}
		})
	}
}

func TestDecode32ECallIsSyscall(t *testing.T) {
	info, err := Decode32(0x00000073)
	if err != nil {
		t.Fatalf("Decode32(ecall): %v", err)
	}
	if !info.IsSyscall || info.Mnemonic != "ecall" {
		t.Errorf("ecall decode = %+v", info)
	}
}

func TestDecode32MRetIsExceptionReturn(t *testing.T) {
	info, err := Decode32(0x30200073)
	if err != nil {
		t.Fatalf("Decode32(mret): %v", err)
	}
	if !info.IsExceptionReturn || info.Mnemonic != "mret" {
		t.Errorf("mret decode = %+v", info)
	}
}

func TestDecode32Unknown(t *testing.T) {
	if _, err := Decode32(0x00000000); err == nil {
		t.Fatal("expected ErrInvalidInst for all-zero word")
	}
}

func TestDecode32BranchImmediateSignExtends(t *testing.T) {
	// beq x0, x0, -4 (loop-to-self): imm bits craft a negative offset.
	word := uint32(0xfe000ee3)
	info, err := Decode32(word)
	if err != nil {
		t.Fatalf("Decode32: %v", err)
	}
	if info.Immediate != -4 {
		t.Errorf("Immediate = %d, want -4", info.Immediate)
	}
}

func TestDecode32LoadReservedStoreConditional(t *testing.T) {
	// lr.w x5, (x10)
	lrw := uint32(0x100522af)
	info, err := Decode32(lrw)
	if err != nil {
		t.Fatalf("Decode32(lr.w): %v", err)
	}
	if !info.IsLoadReserved || info.Mnemonic != "lr.w" || !info.HasRd || info.Rd != 5 || !info.HasRs1 || info.Rs1 != 10 {
		t.Errorf("lr.w decode = %+v", info)
	}

	// sc.w x5, x6, (x10)
	scw := uint32(0x186522af)
	info, err = Decode32(scw)
	if err != nil {
		t.Fatalf("Decode32(sc.w): %v", err)
	}
	if !info.IsStoreConditional || info.Mnemonic != "sc.w" || !info.HasRs2 || info.Rs2 != 6 {
		t.Errorf("sc.w decode = %+v", info)
	}
}

func TestDecode16UnrecognizedFallsBackToError(t *testing.T) {
	if _, err := Decode16(0x0000); err == nil {
		t.Fatal("expected ErrInvalidInst for all-zero compressed word")
	}
}
