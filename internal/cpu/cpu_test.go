package cpu

import (
	"testing"

	"github.com/dmgcore/dmgcore/internal/bus"
)

func newCPUWithROM(code []byte) *CPU {
	rom := make([]byte, 0x8000)
	copy(rom, code)
	b := bus.New(rom)
	return New(b)
}

func mustStep(t *testing.T, c *CPU) int {
	t.Helper()
	cycles, err := c.Step()
	if err != nil {
		t.Fatalf("unexpected Step error: %v", err)
	}
	return cycles
}

func TestCPU_NopAndPC(t *testing.T) {
	c := newCPUWithROM([]byte{0x00}) // NOP
	if cycles := mustStep(t, c); cycles != 4 {
		t.Fatalf("NOP cycles got %d want 4", cycles)
	}
	if c.PC != 1 {
		t.Fatalf("PC after NOP got %#04x want 0x0001", c.PC)
	}
}

func TestCPU_LD_A_d8_And_XOR_A(t *testing.T) {
	c := newCPUWithROM([]byte{0x3E, 0x12, 0xAF}) // LD A,0x12; XOR A
	mustStep(t, c)
	if c.A != 0x12 {
		t.Fatalf("A after LD got %02x want 12", c.A)
	}
	mustStep(t, c)
	if c.A != 0x00 {
		t.Fatalf("A after XOR got %02x want 00", c.A)
	}
	if (c.F & flagZ) == 0 {
		t.Fatalf("Z flag not set after XOR A")
	}
}

func TestCPU_LD_a16_A_and_LD_A_a16(t *testing.T) {
	prog := []byte{0x3E, 0x77, 0xEA, 0x00, 0xC0, 0x3E, 0x00, 0xFA, 0x00, 0xC0}
	c := newCPUWithROM(prog)
	mustStep(t, c) // LD A,77
	mustStep(t, c) // LD (C000),A
	if a := c.Bus().Read(0xC000); a != 0x77 {
		t.Fatalf("WRAM at C000 got %02x want 77", a)
	}
	mustStep(t, c) // LD A,00
	mustStep(t, c) // LD A,(C000)
	if c.A != 0x77 {
		t.Fatalf("A after LD A,(C000) got %02x want 77", c.A)
	}
}

func TestCPU_LD_r_HL_AllVariants(t *testing.T) {
	// LD HL,0xC000; LD (HL),0x42; LD B,(HL); LD C,(HL); LD A,(HL)
	prog := []byte{
		0x21, 0x00, 0xC0,
		0x36, 0x42,
		0x46, // LD B,(HL)
		0x4E, // LD C,(HL)
		0x7E, // LD A,(HL)
	}
	c := newCPUWithROM(prog)
	for i := 0; i < 5; i++ {
		mustStep(t, c)
	}
	if c.B != 0x42 || c.C != 0x42 || c.A != 0x42 {
		t.Fatalf("LD r,(HL) variants got B=%02x C=%02x A=%02x want 42", c.B, c.C, c.A)
	}
}

func TestCPU_JP_and_JR(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xC3
	rom[0x0001] = 0x10
	rom[0x0002] = 0x00
	rom[0x0010] = 0x18
	rom[0x0011] = 0xFE
	b := bus.New(rom)
	c := New(b)
	cycles := mustStep(t, c) // JP
	if cycles != 16 || c.PC != 0x0010 {
		t.Fatalf("JP cycles=%d PC=%#04x want cycles=16 PC=0x0010", cycles, c.PC)
	}
	pcBefore := c.PC
	mustStep(t, c)
	if c.PC != pcBefore {
		t.Fatalf("JR -2 PC got %#04x want %#04x", c.PC, pcBefore)
	}
}

func TestCPU_INC_B_Flags(t *testing.T) {
	c := newCPUWithROM([]byte{0x04, 0x04})
	c.B = 0x0F
	c.F = flagC
	mustStep(t, c)
	if c.B != 0x10 {
		t.Fatalf("INC B result got %02x want 10", c.B)
	}
	if (c.F & flagH) == 0 {
		t.Fatalf("INC B should set H flag")
	}
	if (c.F & flagC) == 0 {
		t.Fatalf("INC B should preserve C flag")
	}
	c.B = 0xFF
	mustStep(t, c)
	if c.B != 0x00 || (c.F&flagZ) == 0 {
		t.Fatalf("INC B to 0 should set Z flag, B=%02x, F=%02x", c.B, c.F)
	}
}

func TestCPU_CALL_RET(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xCD
	rom[0x0001] = 0x05
	rom[0x0002] = 0x00
	rom[0x0005] = 0xC9 // RET
	b := bus.New(rom)
	c := New(b)
	mustStep(t, c)
	if c.PC != 0x0005 {
		t.Fatalf("PC after CALL got %04x want 0005", c.PC)
	}
	retCycles := mustStep(t, c)
	if c.PC != 0x0003 || retCycles != 16 {
		t.Fatalf("RET did not return to 0003; PC=%04x cyc=%d", c.PC, retCycles)
	}
}

func TestCPU_PushPopIdempotent(t *testing.T) {
	c := newCPUWithROM(nil)
	c.SP = 0xFFFE
	spBefore := c.SP
	c.push16(0xBEEF)
	got := c.pop16()
	if got != 0xBEEF {
		t.Fatalf("pop16 got %#04x want 0xBEEF", got)
	}
	if c.SP != spBefore {
		t.Fatalf("SP not restored: got %#04x want %#04x", c.SP, spBefore)
	}
}

func TestCPU_DAA_AfterBCDAdd(t *testing.T) {
	// LD A,0x09; ADD A,0x01; DAA -- mirrors the ALU scenario table.
	prog := []byte{0x3E, 0x09, 0xC6, 0x01, 0x27}
	c := newCPUWithROM(prog)
	mustStep(t, c)
	mustStep(t, c)
	mustStep(t, c)
	if c.A != 0x10 {
		t.Fatalf("DAA result got %#02x want 0x10", c.A)
	}
	if c.F != 0 {
		t.Fatalf("DAA flags got %#02x want 0 (ZNHC all clear)", c.F)
	}
}

func TestCPU_CB_RLC(t *testing.T) {
	// LD B,0x80; CB 00 (RLC B)
	prog := []byte{0x06, 0x80, 0xCB, 0x00}
	c := newCPUWithROM(prog)
	mustStep(t, c)
	mustStep(t, c)
	if c.B != 0x01 {
		t.Fatalf("RLC B got %#02x want 0x01", c.B)
	}
	if (c.F & flagC) == 0 {
		t.Fatalf("RLC B should set carry from bit 7")
	}
}

func TestCPU_CB_BIT(t *testing.T) {
	// LD A,0x00; CB 7F (BIT 7,A)
	prog := []byte{0x3E, 0x00, 0xCB, 0x7F}
	c := newCPUWithROM(prog)
	c.F = flagC
	mustStep(t, c)
	mustStep(t, c)
	if (c.F & flagZ) == 0 {
		t.Fatalf("BIT 7,0 should set Z")
	}
	if (c.F & flagC) == 0 {
		t.Fatalf("BIT should preserve C")
	}
}

func TestCPU_InvalidOpcode(t *testing.T) {
	c := newCPUWithROM([]byte{0xD3}) // reserved, never assigned
	_, err := c.Step()
	if err == nil {
		t.Fatalf("expected InvalidInstructionError for opcode 0xD3")
	}
	var invErr *InvalidInstructionError
	if !asInvalidInstruction(err, &invErr) {
		t.Fatalf("expected *InvalidInstructionError, got %T", err)
	}
	if invErr.Opcode != 0xD3 {
		t.Fatalf("error opcode got %#02x want 0xD3", invErr.Opcode)
	}
}

func asInvalidInstruction(err error, target **InvalidInstructionError) bool {
	if e, ok := err.(*InvalidInstructionError); ok {
		*target = e
		return true
	}
	return false
}

func TestCPU_InterruptService(t *testing.T) {
	c := newCPUWithROM([]byte{0x00}) // NOP at 0x0000, but interrupt fires first
	c.IME = true
	c.Bus().Write(0xFFFF, 0x01) // IE.VBlank
	c.Bus().Write(0xFF0F, 0x01) // IF.VBlank
	pcBefore := c.PC
	spBefore := c.SP
	cycles := mustStep(t, c)
	if c.PC != 0x0040 {
		t.Fatalf("PC after interrupt service got %#04x want 0x0040", c.PC)
	}
	if c.SP != spBefore-2 {
		t.Fatalf("SP after interrupt service got %#04x want %#04x", c.SP, spBefore-2)
	}
	if top := uint16(c.Bus().Read(c.SP)) | uint16(c.Bus().Read(c.SP+1))<<8; top != uint16(pcBefore) {
		t.Fatalf("stacked return PC got %#04x want %#04x", top, pcBefore)
	}
	if c.Bus().Read(0xFF0F)&0x01 != 0 {
		t.Fatalf("IF.VBlank should be cleared after service")
	}
	if c.IME {
		t.Fatalf("IME should be false after interrupt service")
	}
	if cycles != 20 {
		t.Fatalf("interrupt service cycles got %d want 20", cycles)
	}
}

func TestCPU_EI_DI_NoIntervening(t *testing.T) {
	// EI; DI -- EI's deferred enable lands at the start of DI's step and DI
	// clears IME again, so IME ends up false.
	prog := []byte{0xFB, 0xF3}
	c := newCPUWithROM(prog)
	mustStep(t, c) // EI
	mustStep(t, c) // DI
	if c.IME {
		t.Fatalf("IME should remain false: EI's deferred enable was overridden by DI")
	}
}
