package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// minimalROM builds a ROM-only image tall enough to hold a header, with
// the cartridge-type byte forced to 0x00 (ROM ONLY).
func minimalROM() []byte {
	rom := make([]byte, 0x8000)
	rom[0x0147] = 0x00
	rom[0x0148] = 0x00
	rom[0x0149] = 0x00
	return rom
}

func TestLoadROMNoBootResetsToPostBootState(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadROM(minimalROM(), nil))
	require.Equal(t, uint16(0x0100), m.CPU().PC)
	require.Equal(t, byte(0x91), m.Bus().Read(0xFF40))
}

func TestLoadROMRejectsUnsupportedCartridgeType(t *testing.T) {
	rom := minimalROM()
	rom[0x0147] = 0x01 // MBC1
	m := New(Config{})
	err := m.LoadROM(rom, nil)
	require.Error(t, err)
}

func TestStepFrameReturnsFullFramebuffer(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadROM(minimalROM(), nil))
	fb, err := m.StepFrame()
	require.NoError(t, err)
	require.Len(t, fb, 160*144*4)
}

func TestSetButtonsReachesJoypadRegister(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadROM(minimalROM(), nil))
	m.SetButtons(Buttons{A: true})
	m.Bus().Write(0xFF00, 0x10) // select action buttons
	got := m.Bus().Read(0xFF00)
	require.Equal(t, byte(0), got&0x01, "A pressed should pull bit0 low")
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadROM(minimalROM(), nil))
	m.Bus().Write(0xC000, 0x42)
	saved := m.SaveState()

	m2 := New(Config{})
	require.NoError(t, m2.LoadROM(minimalROM(), nil))
	require.NoError(t, m2.LoadState(saved))
	require.Equal(t, byte(0x42), m2.Bus().Read(0xC000))
}

func TestSerialWriterReceivesBytes(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadROM(minimalROM(), nil))
	var buf bytes.Buffer
	m.SetSerialWriter(&buf)
	m.Bus().Write(0xFF01, 'X')
	m.Bus().Write(0xFF02, 0x81)
	require.Equal(t, "X", buf.String())
}
