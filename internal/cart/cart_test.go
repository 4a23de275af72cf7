package cart

import (
	"errors"
	"testing"
)

func TestNewCartridgeROMOnly(t *testing.T) {
	rom := buildROM("TEST", 0x00, 0x00, 0x00, 32*1024)
	c, err := NewCartridge(rom)
	if err != nil {
		t.Fatalf("NewCartridge error: %v", err)
	}
	if c.Read(0x0134) != rom[0x0134] {
		t.Fatalf("ROM-only cartridge did not pass through reads")
	}
}

func TestNewCartridgeRejectsMBC1(t *testing.T) {
	rom := buildROM("TEST", 0x01, 0x01, 0x00, 64*1024)
	_, err := NewCartridge(rom)
	if err == nil {
		t.Fatalf("expected error for MBC1 cartridge type")
	}
	var unsupported *UnsupportedCartridgeError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error %v is not an *UnsupportedCartridgeError", err)
	}
	if unsupported.CartType != 0x01 || unsupported.Name != "MBC1 (variants)" {
		t.Fatalf("unexpected error detail: %+v", unsupported)
	}
}

func TestNewCartridgePropagatesHeaderError(t *testing.T) {
	short := make([]byte, 0x10)
	if _, err := NewCartridge(short); err == nil {
		t.Fatalf("expected error for too-small ROM")
	}
}
