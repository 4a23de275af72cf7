// Package core wires cpu, bus, ppu, and cartridge into the single
// step-orchestrator a host (headless runner or future GUI) drives one
// frame at a time. It owns no window, no audio output, and no persisted
// configuration; it is a library, not a program.
package core

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/dmgcore/dmgcore/internal/bus"
	"github.com/dmgcore/dmgcore/internal/cpu"
)

// cyclesPerFrame is 154 scanlines * 456 T-cycles, the DMG frame length
// (the scanlines-per-frame open question resolves to 154, not 156).
const cyclesPerFrame = 154 * 456

// Buttons is the joypad state for one frame; true means pressed.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Config holds the few knobs that affect how a frame is stepped; none of
// it is persisted, matching the explicit exclusion of saved configuration.
type Config struct {
	Trace bool // CPU host may poll PC/opcode via Step for its own trace printing
}

// Machine is the top-level emulation unit: one cartridge, one CPU, one bus.
type Machine struct {
	cfg Config
	bus *bus.Bus
	cpu *cpu.CPU
}

// New constructs a Machine with no cartridge loaded yet; call LoadROM or
// LoadROMFromFile before stepping.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// LoadROM parses rom's header, rejects unsupported cartridge types, and
// resets the CPU. If boot is a full 256-byte DMG boot ROM it is mapped at
// 0x0000 until the boot ROM disables itself; otherwise the CPU starts at
// the documented post-boot register state with PC at the cartridge entry
// point (0x0100).
func (m *Machine) LoadROM(rom []byte, boot []byte) error {
	b, err := bus.NewFromROM(rom)
	if err != nil {
		return errors.Wrap(err, "load cartridge")
	}
	m.bus = b
	m.cpu = cpu.New(b)
	if len(boot) >= 0x100 {
		m.bus.SetBootROM(boot)
		m.cpu.SetPC(0x0000)
	} else {
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0100)
		m.writePostBootIO()
	}
	return nil
}

// LoadROMFromFile reads rom and an optional boot ROM (empty string skips
// it) from disk and calls LoadROM.
func (m *Machine) LoadROMFromFile(romPath string, bootPath ...string) error {
	rom, err := os.ReadFile(romPath)
	if err != nil {
		return errors.Wrapf(err, "read rom %q", romPath)
	}
	var boot []byte
	if len(bootPath) > 0 && bootPath[0] != "" {
		boot, err = os.ReadFile(bootPath[0])
		if err != nil {
			return errors.Wrapf(err, "read boot rom %q", bootPath[0])
		}
	}
	return m.LoadROM(rom, boot)
}

// writePostBootIO seeds the IO registers the boot ROM would otherwise have
// left behind, for hosts that skip boot ROM execution entirely.
func (m *Machine) writePostBootIO() {
	m.bus.Write(0xFF00, 0xCF)
	m.bus.Write(0xFF05, 0x00)
	m.bus.Write(0xFF06, 0x00)
	m.bus.Write(0xFF07, 0x00)
	m.bus.Write(0xFF40, 0x91)
	m.bus.Write(0xFF42, 0x00)
	m.bus.Write(0xFF43, 0x00)
	m.bus.Write(0xFF45, 0x00)
	m.bus.Write(0xFF47, 0xFC)
	m.bus.Write(0xFF48, 0xFF)
	m.bus.Write(0xFF49, 0xFF)
	m.bus.Write(0xFF4A, 0x00)
	m.bus.Write(0xFF4B, 0x00)
	m.bus.Write(0xFFFF, 0x00)
}

// SetSerialWriter attaches a sink that receives each byte the cartridge
// writes out the serial port; test ROMs report pass/fail this way.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// SetButtons replaces the joypad state for subsequent steps.
func (m *Machine) SetButtons(b Buttons) { m.bus.SetJoypadState(b.mask()) }

// Step executes exactly one CPU instruction (or interrupt service, or
// halted tick) and returns its T-cycle cost, propagating a fatal decode
// error verbatim so callers doing errors.As see the typed CPU error
// directly rather than through an extra wrapping layer.
func (m *Machine) Step() (int, error) {
	return m.cpu.Step()
}

// StepFrame runs the CPU until at least one full frame's worth of cycles
// has elapsed and returns the rendered RGBA framebuffer.
func (m *Machine) StepFrame() ([]byte, error) {
	if err := m.StepFrameNoRender(); err != nil {
		return nil, err
	}
	return m.Framebuffer(), nil
}

// StepFrameNoRender runs one frame's worth of cycles without converting
// the PPU's palette-index framebuffer to RGBA, for hosts (test harnesses)
// that never look at pixels.
func (m *Machine) StepFrameNoRender() error {
	target := cyclesPerFrame
	for target > 0 {
		cyc, err := m.cpu.Step()
		if err != nil {
			return err
		}
		target -= cyc
	}
	return nil
}

// dmgShades maps a 2-bit DMG color index (0=lightest) to an RGB triple,
// the classic four-shade green-tinted palette most DMG software assumes
// even though the hardware itself is monochrome LCD.
var dmgShades = [4][3]byte{
	{0xE0, 0xF8, 0xD0},
	{0x88, 0xC0, 0x70},
	{0x34, 0x68, 0x56},
	{0x08, 0x18, 0x20},
}

// Framebuffer converts the PPU's current 160x144 palette-index grid to
// RGBA8888, 4 bytes per pixel, row-major. A scanline rendered while the
// LCD was off reads back as white.
func (m *Machine) Framebuffer() []byte {
	fb := m.bus.PPU().Framebuffer()
	out := make([]byte, 160*144*4)
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			i := (y*160 + x) * 4
			ci := fb[y][x]
			var rgb [3]byte
			if ci > 3 {
				rgb = [3]byte{0xFF, 0xFF, 0xFF}
			} else {
				rgb = dmgShades[ci]
			}
			out[i+0] = rgb[0]
			out[i+1] = rgb[1]
			out[i+2] = rgb[2]
			out[i+3] = 0xFF
		}
	}
	return out
}

// coreState bundles the CPU and bus snapshots; save states are a single
// opaque blob from the host's point of view.
type coreState struct {
	CPU []byte
	Bus []byte
}

// SaveState serializes CPU registers and the full bus (WRAM, HRAM, PPU,
// APU, cartridge, timers, DMA) into one opaque blob.
func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	s := coreState{CPU: m.cpu.SaveState(), Bus: m.bus.SaveState()}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState. A decode failure leaves
// the machine unchanged.
func (m *Machine) LoadState(data []byte) error {
	var s coreState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode save state")
	}
	m.cpu.LoadState(s.CPU)
	m.bus.LoadState(s.Bus)
	return nil
}

// Bus exposes the underlying bus for tools that need direct register
// access (e.g. a headless runner printing IF/IE on failure).
func (m *Machine) Bus() *bus.Bus { return m.bus }

// CPU exposes the underlying CPU for the same reason.
func (m *Machine) CPU() *cpu.CPU { return m.cpu }
