package cpu

// Step executes exactly one instruction (or services a pending interrupt,
// or ticks HALT in place) and returns the T-cycle cost it consumed. The bus
// is advanced by that many cycles before Step returns, so peripherals never
// fall behind the CPU that drives them.
//
// An InvalidInstructionError is fatal: the decoder has no recovery path for
// an opcode byte with no defined mapping.
func (c *CPU) Step() (cycles int, err error) {
	defer func() {
		if err == nil && c.bus != nil && cycles > 0 {
			c.bus.Tick(cycles)
		}
	}()

	// The deferred enable armed by EI on the *previous* Step promotes to
	// IME=true now, before interrupts are checked or the next opcode is
	// decoded -- never in the middle of the instruction that executed EI.
	if c.eiPending {
		c.IME = true
		c.eiPending = false
	}

	if c.halted {
		if c.IME {
			if cyc := c.serviceInterrupt(); cyc != 0 {
				return cyc, nil
			}
			return 4, nil
		} else {
			ifReg := c.bus.Read(0xFF0F) & 0x1F
			ie := c.bus.Read(0xFFFF)
			if (ifReg & ie) != 0 {
				c.halted = false
			} else {
				return 4, nil
			}
		}
	}

	if c.IME {
		if cyc := c.serviceInterrupt(); cyc != 0 {
			return cyc, nil
		}
	}

	pcAtFetch := c.PC
	op := c.fetch8()
	return c.execute(op, pcAtFetch)
}

// serviceInterrupt pushes PC, clears the IF bit, disables IME and jumps to
// the vector for the highest-priority pending interrupt. Returns 0 if none
// is pending (VBlank > LCD > Timer > Serial > Joypad).
func (c *CPU) serviceInterrupt() int {
	ie := c.bus.Read(0xFFFF)
	ifReg := c.bus.Read(0xFF0F) & 0x1F
	pending := ie & ifReg
	if pending == 0 {
		return 0
	}
	var bit uint
	for bit = 0; bit < 5; bit++ {
		if (pending & (1 << bit)) != 0 {
			break
		}
	}
	c.bus.Write(0xFF0F, (ifReg&^(1<<bit))&0x1F)
	c.halted = false
	c.IME = false
	c.push16(c.PC)
	c.PC = 0x40 + uint16(bit)*8
	return 20
}

func (c *CPU) execute(op byte, pc uint16) (int, error) {
	// Block 1 (01xxxxxx): LD r,r' including every LD r,(HL) and LD (HL),r
	// combination; 0x76 is the HALT hole in that block.
	if op >= 0x40 && op <= 0x7F {
		if op == 0x76 {
			c.halted = true
			return 4, nil
		}
		d := (op >> 3) & 7
		s := op & 7
		c.regSet(d, c.regGet(s))
		if d == 6 || s == 6 {
			return 8, nil
		}
		return 4, nil
	}

	// Block 2 (10xxxxxx): 8-bit ALU, A op r.
	if op >= 0x80 && op <= 0xBF {
		return c.execALUBlock(op), nil
	}

	switch op {
	case 0x00: // NOP
		return 4, nil
	case 0x10: // STOP
		c.fetch8() // companion byte, discarded
		c.bus.ResetDIV()
		c.halted = true
		return 4, nil

	// LD r,d8
	case 0x06:
		c.B = c.fetch8()
		return 8, nil
	case 0x0E:
		c.C = c.fetch8()
		return 8, nil
	case 0x16:
		c.D = c.fetch8()
		return 8, nil
	case 0x1E:
		c.E = c.fetch8()
		return 8, nil
	case 0x26:
		c.H = c.fetch8()
		return 8, nil
	case 0x2E:
		c.L = c.fetch8()
		return 8, nil
	case 0x3E:
		c.A = c.fetch8()
		return 8, nil

	// 16-bit loads
	case 0x01:
		c.setBC(c.fetch16())
		return 12, nil
	case 0x11:
		c.setDE(c.fetch16())
		return 12, nil
	case 0x21:
		c.setHL(c.fetch16())
		return 12, nil
	case 0x31:
		c.SP = c.fetch16()
		return 12, nil
	case 0x08: // LD (a16),SP
		addr := c.fetch16()
		c.write16(addr, c.SP)
		return 20, nil

	case 0x36: // LD (HL),d8
		c.write8(c.getHL(), c.fetch8())
		return 12, nil

	case 0x02:
		c.write8(c.getBC(), c.A)
		return 8, nil
	case 0x12:
		c.write8(c.getDE(), c.A)
		return 8, nil
	case 0x0A:
		c.A = c.read8(c.getBC())
		return 8, nil
	case 0x1A:
		c.A = c.read8(c.getDE())
		return 8, nil

	case 0x22: // LD (HL+),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl + 1)
		return 8, nil
	case 0x2A: // LD A,(HL+)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl + 1)
		return 8, nil
	case 0x32: // LD (HL-),A
		hl := c.getHL()
		c.write8(hl, c.A)
		c.setHL(hl - 1)
		return 8, nil
	case 0x3A: // LD A,(HL-)
		hl := c.getHL()
		c.A = c.read8(hl)
		c.setHL(hl - 1)
		return 8, nil

	case 0xE0: // LDH (a8),A
		n := uint16(c.fetch8())
		c.write8(0xFF00+n, c.A)
		return 12, nil
	case 0xF0: // LDH A,(a8)
		n := uint16(c.fetch8())
		c.A = c.read8(0xFF00 + n)
		return 12, nil
	case 0xE2: // LD (C),A
		c.write8(0xFF00+uint16(c.C), c.A)
		return 8, nil
	case 0xF2: // LD A,(C)
		c.A = c.read8(0xFF00 + uint16(c.C))
		return 8, nil

	case 0x07: // RLCA
		r, cy := rlc(c.A)
		c.A = r
		c.setZNHC(false, false, false, cy)
		return 4, nil
	case 0x0F: // RRCA
		r, cy := rrc(c.A)
		c.A = r
		c.setZNHC(false, false, false, cy)
		return 4, nil
	case 0x17: // RLA
		r, cy := rl(c.A, (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(false, false, false, cy)
		return 4, nil
	case 0x1F: // RRA
		r, cy := rr(c.A, (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(false, false, false, cy)
		return 4, nil
	case 0x27: // DAA
		res, f := daa(c.A, c.F)
		c.A = res
		c.F = f
		return 4, nil
	case 0x2F: // CPL
		c.A = ^c.A
		c.F = (c.F & (flagZ | flagC)) | flagN | flagH
		return 4, nil
	case 0x37: // SCF
		c.F = (c.F & flagZ) | flagC
		return 4, nil
	case 0x3F: // CCF
		cy := (c.F & flagC) == 0
		c.F = (c.F & flagZ)
		if cy {
			c.F |= flagC
		}
		return 4, nil

	// INC/DEC r
	case 0x04:
		c.B = c.incReg(c.B)
		return 4, nil
	case 0x0C:
		c.C = c.incReg(c.C)
		return 4, nil
	case 0x14:
		c.D = c.incReg(c.D)
		return 4, nil
	case 0x1C:
		c.E = c.incReg(c.E)
		return 4, nil
	case 0x24:
		c.H = c.incReg(c.H)
		return 4, nil
	case 0x2C:
		c.L = c.incReg(c.L)
		return 4, nil
	case 0x3C:
		c.A = c.incReg(c.A)
		return 4, nil
	case 0x34: // INC (HL)
		addr := c.getHL()
		c.write8(addr, c.incReg(c.read8(addr)))
		return 12, nil
	case 0x05:
		c.B = c.decReg(c.B)
		return 4, nil
	case 0x0D:
		c.C = c.decReg(c.C)
		return 4, nil
	case 0x15:
		c.D = c.decReg(c.D)
		return 4, nil
	case 0x1D:
		c.E = c.decReg(c.E)
		return 4, nil
	case 0x25:
		c.H = c.decReg(c.H)
		return 4, nil
	case 0x2D:
		c.L = c.decReg(c.L)
		return 4, nil
	case 0x3D:
		c.A = c.decReg(c.A)
		return 4, nil
	case 0x35: // DEC (HL)
		addr := c.getHL()
		c.write8(addr, c.decReg(c.read8(addr)))
		return 12, nil

	// ALU immediate
	case 0xC6:
		r, z, n, h, cy := add8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xCE:
		r, z, n, h, cy := adc8(c.A, c.fetch8(), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xD6:
		r, z, n, h, cy := sub8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xDE:
		r, z, n, h, cy := sbc8(c.A, c.fetch8(), (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xE6:
		r, z, n, h, cy := and8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xEE:
		r, z, n, h, cy := xor8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xF6:
		r, z, n, h, cy := or8(c.A, c.fetch8())
		c.A = r
		c.setZNHC(z, n, h, cy)
		return 8, nil
	case 0xFE:
		z, n, h, cy := cp8(c.A, c.fetch8())
		c.setZNHC(z, n, h, cy)
		return 8, nil

	case 0xEA: // LD (a16),A
		c.write8(c.fetch16(), c.A)
		return 16, nil
	case 0xFA: // LD A,(a16)
		c.A = c.read8(c.fetch16())
		return 16, nil

	case 0xC3: // JP a16
		c.PC = c.fetch16()
		return 16, nil
	case 0xE9: // JP (HL)
		c.PC = c.getHL()
		return 4, nil
	case 0x18: // JR r8
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		return 12, nil
	case 0x20: // JR NZ
		off := int8(c.fetch8())
		if (c.F & flagZ) == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil
	case 0x28: // JR Z
		off := int8(c.fetch8())
		if (c.F & flagZ) != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil
	case 0x30: // JR NC
		off := int8(c.fetch8())
		if (c.F & flagC) == 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil
	case 0x38: // JR C
		off := int8(c.fetch8())
		if (c.F & flagC) != 0 {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil

	case 0xCD: // CALL a16
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return 24, nil
	case 0xC9: // RET
		c.PC = c.pop16()
		return 16, nil
	case 0xD9: // RETI
		c.PC = c.pop16()
		c.IME = true
		return 16, nil

	case 0xC7:
		c.push16(c.PC)
		c.PC = 0x00
		return 16, nil
	case 0xCF:
		c.push16(c.PC)
		c.PC = 0x08
		return 16, nil
	case 0xD7:
		c.push16(c.PC)
		c.PC = 0x10
		return 16, nil
	case 0xDF:
		c.push16(c.PC)
		c.PC = 0x18
		return 16, nil
	case 0xE7:
		c.push16(c.PC)
		c.PC = 0x20
		return 16, nil
	case 0xEF:
		c.push16(c.PC)
		c.PC = 0x28
		return 16, nil
	case 0xF7:
		c.push16(c.PC)
		c.PC = 0x30
		return 16, nil
	case 0xFF:
		c.push16(c.PC)
		c.PC = 0x38
		return 16, nil

	case 0xC4:
		addr := c.fetch16()
		if (c.F & flagZ) == 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil
	case 0xCC:
		addr := c.fetch16()
		if (c.F & flagZ) != 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil
	case 0xD4:
		addr := c.fetch16()
		if (c.F & flagC) == 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil
	case 0xDC:
		addr := c.fetch16()
		if (c.F & flagC) != 0 {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil

	case 0xC0:
		if (c.F & flagZ) == 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil
	case 0xC8:
		if (c.F & flagZ) != 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil
	case 0xD0:
		if (c.F & flagC) == 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil
	case 0xD8:
		if (c.F & flagC) != 0 {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil

	case 0xC2:
		addr := c.fetch16()
		if (c.F & flagZ) == 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil
	case 0xCA:
		addr := c.fetch16()
		if (c.F & flagZ) != 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil
	case 0xD2:
		addr := c.fetch16()
		if (c.F & flagC) == 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil
	case 0xDA:
		addr := c.fetch16()
		if (c.F & flagC) != 0 {
			c.PC = addr
			return 16, nil
		}
		return 12, nil

	case 0x03:
		c.setBC(c.getBC() + 1)
		return 8, nil
	case 0x13:
		c.setDE(c.getDE() + 1)
		return 8, nil
	case 0x23:
		c.setHL(c.getHL() + 1)
		return 8, nil
	case 0x33:
		c.SP++
		return 8, nil
	case 0x0B:
		c.setBC(c.getBC() - 1)
		return 8, nil
	case 0x1B:
		c.setDE(c.getDE() - 1)
		return 8, nil
	case 0x2B:
		c.setHL(c.getHL() - 1)
		return 8, nil
	case 0x3B:
		c.SP--
		return 8, nil

	case 0x09: // ADD HL,BC
		r, h, cy := add16(c.getHL(), c.getBC())
		c.setHL(r)
		c.setZNHC((c.F&flagZ) != 0, false, h, cy)
		return 8, nil
	case 0x19: // ADD HL,DE
		r, h, cy := add16(c.getHL(), c.getDE())
		c.setHL(r)
		c.setZNHC((c.F&flagZ) != 0, false, h, cy)
		return 8, nil
	case 0x29: // ADD HL,HL
		r, h, cy := add16(c.getHL(), c.getHL())
		c.setHL(r)
		c.setZNHC((c.F&flagZ) != 0, false, h, cy)
		return 8, nil
	case 0x39: // ADD HL,SP
		r, h, cy := add16(c.getHL(), c.SP)
		c.setHL(r)
		c.setZNHC((c.F&flagZ) != 0, false, h, cy)
		return 8, nil

	case 0xF8: // LD HL,SP+r8
		res, h, cy := addSPOffset(c.SP, int8(c.fetch8()))
		c.setHL(res)
		c.setZNHC(false, false, h, cy)
		return 12, nil
	case 0xF9: // LD SP,HL
		c.SP = c.getHL()
		return 8, nil
	case 0xE8: // ADD SP,r8
		res, h, cy := addSPOffset(c.SP, int8(c.fetch8()))
		c.SP = res
		c.setZNHC(false, false, h, cy)
		return 16, nil

	case 0xF3: // DI
		c.IME = false
		c.eiPending = false
		return 4, nil
	case 0xFB: // EI
		c.eiPending = true
		return 4, nil

	case 0xCB:
		return c.execCB()

	case 0xF5:
		c.push16(c.getAF())
		return 16, nil
	case 0xC5:
		c.push16(c.getBC())
		return 16, nil
	case 0xD5:
		c.push16(c.getDE())
		return 16, nil
	case 0xE5:
		c.push16(c.getHL())
		return 16, nil
	case 0xF1:
		c.setAF(c.pop16())
		return 12, nil
	case 0xC1:
		c.setBC(c.pop16())
		return 12, nil
	case 0xD1:
		c.setDE(c.pop16())
		return 12, nil
	case 0xE1:
		c.setHL(c.pop16())
		return 12, nil

	default:
		return 0, &InvalidInstructionError{PC: pc, Opcode: op}
	}
}

func (c *CPU) incReg(v byte) byte {
	r, z, n, h := inc8(v)
	c.setZNHC(z, n, h, (c.F&flagC) != 0)
	return r
}

func (c *CPU) decReg(v byte) byte {
	r, z, n, h := dec8(v)
	c.setZNHC(z, n, h, (c.F&flagC) != 0)
	return r
}

func (c *CPU) execALUBlock(op byte) int {
	src := c.regGet(op & 7)
	cycles := 4
	if (op & 7) == 6 {
		cycles = 8
	}
	switch (op >> 3) & 7 {
	case 0: // ADD
		r, z, n, h, cy := add8(c.A, src)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 1: // ADC
		r, z, n, h, cy := adc8(c.A, src, (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 2: // SUB
		r, z, n, h, cy := sub8(c.A, src)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 3: // SBC
		r, z, n, h, cy := sbc8(c.A, src, (c.F&flagC) != 0)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 4: // AND
		r, z, n, h, cy := and8(c.A, src)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 5: // XOR
		r, z, n, h, cy := xor8(c.A, src)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 6: // OR
		r, z, n, h, cy := or8(c.A, src)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 7: // CP
		z, n, h, cy := cp8(c.A, src)
		c.setZNHC(z, n, h, cy)
	}
	return cycles
}
