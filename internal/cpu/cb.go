package cpu

// execCB decodes and executes the byte following a 0xCB prefix byte: the
// rotate/shift/swap group, then BIT/RES/SET, each addressable against any
// of the eight r encodings including (HL).
func (c *CPU) execCB() (int, error) {
	cb := c.fetch8()
	reg := cb & 7
	group := (cb >> 6) & 3
	y := (cb >> 3) & 7

	cycles := 8
	if reg == 6 {
		cycles = 16
	}

	switch group {
	case 0: // rotate/shift/swap
		v := c.regGet(reg)
		var res byte
		var cy bool
		switch y {
		case 0:
			res, cy = rlc(v)
		case 1:
			res, cy = rrc(v)
		case 2:
			res, cy = rl(v, (c.F&flagC) != 0)
		case 3:
			res, cy = rr(v, (c.F&flagC) != 0)
		case 4:
			res, cy = sla(v)
		case 5:
			res, cy = sra(v)
		case 6:
			res, cy = swap(v), false
		case 7:
			res, cy = srl(v)
		}
		c.setZNHC(res == 0, false, false, cy)
		c.regSet(reg, res)
	case 1: // BIT y,r
		v := c.regGet(reg)
		bitClear := (v>>y)&1 == 0
		c.F = (c.F & flagC) | flagH
		if bitClear {
			c.F |= flagZ
		}
	case 2: // RES y,r
		c.regSet(reg, c.regGet(reg)&^(1<<y))
	case 3: // SET y,r
		c.regSet(reg, c.regGet(reg)|(1<<y))
	}
	return cycles, nil
}
