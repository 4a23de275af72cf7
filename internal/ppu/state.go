package ppu

import (
	"bytes"
	"encoding/gob"
)

// ppuState is the gob-serializable snapshot of everything a save state
// needs to resume mid-frame: VRAM/OAM contents, registers, dot/mode
// timing, and the window-line counter. The decoded-tile cache is not
// part of it; it is pure derived data, rebuilt lazily from VRAM on the
// first read after LoadState invalidates it.
type ppuState struct {
	VRAM [0x2000]byte
	OAM  [0xA0]byte

	LCDC, STAT, SCY, SCX, LY, LYC byte
	BGP, OBP0, OBP1, WY, WX       byte

	Dot            int
	WinLineCounter byte
	LineRegs       [144]LineSnapshot
	Frame          [144][160]byte
}

// SaveState snapshots VRAM, OAM, registers, and mode-timing counters.
func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Dot: p.dot, WinLineCounter: p.winLineCounter,
		LineRegs: p.lineRegs, Frame: p.frame,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState and invalidates the
// decoded-tile cache, since restored VRAM bytes may differ from whatever
// was cached before the load.
func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot, p.winLineCounter = s.Dot, s.WinLineCounter
	p.lineRegs, p.frame = s.LineRegs, s.Frame
	for i := range p.tileCacheValid {
		p.tileCacheValid[i] = false
	}
}
