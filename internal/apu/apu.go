// Package apu models the DMG sound registers (FF10-FF3F) as plain
// readable/writable storage. No synthesis, mixing, or sample output is
// implemented; games that poll these registers (e.g. to detect DAC
// power-on) see the bytes they wrote, which is all the core promises.
package apu

import (
	"bytes"
	"encoding/gob"
)

// APU holds the raw byte image of the sound register block. Index 0
// corresponds to 0xFF10 (NR10); the block runs through 0xFF3F (wave RAM).
type APU struct {
	regs [0x30]byte
}

func New() *APU { return &APU{} }

// readOnlyMask forces bits that real hardware always reads high, per
// register, independent of what was last written. Unlisted registers
// echo exactly what was stored.
var readOnlyMask = map[uint16]byte{
	0xFF10: 0x80,
	0xFF11: 0x3F,
	0xFF13: 0xFF,
	0xFF14: 0xBF,
	0xFF16: 0x3F,
	0xFF18: 0xFF,
	0xFF19: 0xBF,
	0xFF1A: 0x7F,
	0xFF1B: 0xFF,
	0xFF1C: 0x9F,
	0xFF1D: 0xFF,
	0xFF1E: 0xBF,
	0xFF20: 0xFF,
	0xFF23: 0xBF,
	0xFF26: 0x70,
}

// CPURead reads an APU register, applying the fixed high bits real
// hardware reports regardless of what was written.
func (a *APU) CPURead(addr uint16) byte {
	if addr < 0xFF10 || addr > 0xFF3F {
		return 0xFF
	}
	v := a.regs[addr-0xFF10]
	return v | readOnlyMask[addr]
}

// CPUWrite stores a byte verbatim; the channel-trigger bit (NR14/19/1E/23
// bit 7) is a write-only strobe with no channel to trigger, so it simply
// joins the rest of the stored byte.
func (a *APU) CPUWrite(addr uint16, v byte) {
	if addr < 0xFF10 || addr > 0xFF3F {
		return
	}
	a.regs[addr-0xFF10] = v
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(a.regs)
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) {
	var regs [0x30]byte
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&regs); err != nil {
		return
	}
	a.regs = regs
}
