package cart

import "fmt"

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000–0x7FFF) and external RAM (0xA000–0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000–0x7FFF) and external RAM writes (0xA000–0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
}

// UnsupportedCartridgeError reports a header-recognized cartridge type the
// core cannot run: only ROM-only images are emulated, so any MBC type is
// named precisely rather than rejected with a bare generic failure.
type UnsupportedCartridgeError struct {
	CartType byte
	Name     string
}

func (e *UnsupportedCartridgeError) Error() string {
	return fmt.Sprintf("unsupported cartridge type %#02x (%s)", e.CartType, e.Name)
}

// NewCartridge parses the ROM header and constructs a Cartridge. Only
// cartridge type 0x00 (ROM ONLY) is emulated; any recognized MBC type
// fails construction with its decoded name rather than running unbanked
// and silently corrupting high ROM banks.
func NewCartridge(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, err
	}
	if h.CartType != 0x00 {
		return nil, &UnsupportedCartridgeError{CartType: h.CartType, Name: h.CartTypeStr}
	}
	return NewROMOnly(rom), nil
}
