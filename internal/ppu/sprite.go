package ppu

import "sort"

// Sprite is one OAM entry normalized to screen-space: X and Y are the
// on-screen coordinates of the sprite's top-left pixel (OAM's raw X-8,
// Y-16 already applied), not the raw OAM bytes. A tall (8x16) sprite is
// represented by the 8x8 half that covers the scanned line: the OAM
// scanner picks that half's tile and sets Y to that half's top row.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte // bit7 BG priority, bit6 Y flip, bit5 X flip, bit4 DMG palette, bits2-0 CGB palette
	OAMIndex int
}

const maxSpritesPerLine = 10

// ScanOAMLine collects up to ten sprites that cover scanline ly from the
// full 40-entry OAM table, in OAM order, the way real hardware's mode-2
// search does. tall selects 8x16 mode (LCDC bit 2).
func ScanOAMLine(oam *[0xA0]byte, ly int, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var found []Sprite
	for i := 0; i < 40 && len(found) < maxSpritesPerLine; i++ {
		base := i * 4
		oamY := int(oam[base+0]) - 16
		oamX := int(oam[base+1]) - 8
		tile := oam[base+2]
		attr := oam[base+3]
		row := ly - oamY
		if row < 0 || row >= height {
			continue
		}
		halfY := oamY
		if tall {
			tile &^= 1
			if attr&0x40 != 0 { // y flip swaps which half is on top
				if row < 8 {
					tile |= 1
				}
			} else if row >= 8 {
				tile |= 1
			}
			if row >= 8 {
				halfY = oamY + 8
			}
		}
		found = append(found, Sprite{X: oamX, Y: halfY, Tile: tile, Attr: attr, OAMIndex: i})
	}
	return found
}

// ComposeSpriteLine renders opaque sprite pixels for one scanline, given
// the BG/window color indices already computed for that line (bgci),
// which the BG-priority attribute bit tests against. Sprites always
// address tile data at 0x8000 regardless of LCDC bit 4. useCGB is
// accepted but has no effect: tile data is always read through mem.Read,
// with no bank selection.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly int, bgci [160]byte, useCGB bool) [160]byte {
	out, _ := composeSpriteRow(mem, sprites, ly, bgci)
	return out
}

// composeSpriteRow is ComposeSpriteLine's implementation, additionally
// reporting which OBP register (0 or 1) each drawn pixel should be
// shaded through.
func composeSpriteRow(mem VRAMReader, sprites []Sprite, ly int, bgci [160]byte) (out [160]byte, pal [160]byte) {
	var drawn [160]bool

	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].X != ordered[j].X {
			return ordered[i].X < ordered[j].X
		}
		return ordered[i].OAMIndex < ordered[j].OAMIndex
	})

	for _, s := range ordered {
		row := ly - s.Y
		if row < 0 || row >= 8 {
			continue
		}
		if s.Attr&0x40 != 0 { // Y flip
			row = 7 - row
		}
		base := uint16(0x8000) + uint16(s.Tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)
		xflip := s.Attr&0x20 != 0
		bgPriority := s.Attr&0x80 != 0

		for px := 0; px < 8; px++ {
			sx := s.X + px
			if sx < 0 || sx >= 160 {
				continue
			}
			if drawn[sx] {
				continue
			}
			bit := 7 - px
			if xflip {
				bit = px
			}
			ci := ((hi>>uint(bit))&1)<<1 | ((lo >> uint(bit)) & 1)
			if ci == 0 {
				continue
			}
			if bgPriority && bgci[sx] != 0 {
				continue
			}
			out[sx] = ci
			if s.Attr&0x10 != 0 {
				pal[sx] = 1
			}
			drawn[sx] = true
		}
	}
	return out, pal
}
