package cpu

import (
	"bytes"
	"encoding/gob"
)

// cpuState is the gob-serializable register snapshot; the bus field is
// reattached by the caller on load, not part of the encoded bytes.
type cpuState struct {
	A, F      byte
	B, C      byte
	D, E      byte
	H, L      byte
	SP, PC    uint16
	IME       bool
	Halted    bool
	EIPending bool
}

// SaveState snapshots the register file for inclusion in a save state.
func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	s := cpuState{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC, IME: c.IME, Halted: c.halted, EIPending: c.eiPending,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores the register file from a snapshot produced by SaveState.
// The underlying bus is left untouched; the caller loads it separately.
func (c *CPU) LoadState(data []byte) {
	var s cpuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.IME, c.halted, c.eiPending = s.IME, s.Halted, s.EIPending
}
