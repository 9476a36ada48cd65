package gba

import (
	"testing"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

func mustProfile(t *testing.T, tech cart.Technology, capacity int) cart.Profile {
	t.Helper()
	p, err := Profile(tech, capacity)
	if err != nil {
		t.Fatalf("Profile(%s, %d): %v", tech, capacity, err)
	}
	return p
}

func TestSchemeEncode(t *testing.T) {
	tests := []struct {
		name     string
		tech     cart.Technology
		capacity int
		kind     cart.OpKind
		offset   uint32
		length   int
		address  uint32
		bank     int
		wantErr  bool
	}{
		{"eeprom read", cart.TechSerialEEPROM, EEPROMLarge, cart.OpRead, 0x1F3, 2, 0x3E, -1, false},
		{"eeprom program", cart.TechSerialEEPROM, EEPROMLarge, cart.OpProgram, 0x1F0, 8, 0x3E, -1, false},
		{"eeprom unaligned program", cart.TechSerialEEPROM, EEPROMSmall, cart.OpProgram, 0x1F1, 8, 0, 0, true},
		{"eeprom crosses block", cart.TechSerialEEPROM, EEPROMSmall, cart.OpRead, 0x06, 4, 0, 0, true},
		{"eeprom erase", cart.TechSerialEEPROM, EEPROMSmall, cart.OpErase, 0, 8, 0, 0, true},
		{"sram", cart.TechBatterySRAM, SRAMSize, cart.OpProgram, 0x7000, 100, 0x7000, -1, false},
		{"sram erase", cart.TechBatterySRAM, SRAMSize, cart.OpErase, 0, 4096, 0, 0, true},
		{"flash 64K", cart.TechNORFlash, FlashSmall, cart.OpRead, 0xF000, 16, 0xF000, -1, false},
		{"flash bank 1", cart.TechNORFlash, FlashLarge, cart.OpErase, 0x13000, SectorSize, 0x3000, 1, false},
		{"flash crosses bank", cart.TechNORFlash, FlashLarge, cart.OpRead, 0xFFF0, 32, 0, 0, true},
		{"flash short erase", cart.TechNORFlash, FlashLarge, cart.OpErase, 0x1000, 256, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustProfile(t, tt.tech, tt.capacity)
			cmd, err := p.Scheme.Encode(tt.kind, tt.offset, tt.length)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Encode() = %+v, want error", cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if cmd.Address != tt.address || cmd.Bank != tt.bank {
				t.Fatalf("address/bank = %#x/%d, want %#x/%d", cmd.Address, cmd.Bank, tt.address, tt.bank)
			}
		})
	}
}

func TestProfileRejectsUnknownSizes(t *testing.T) {
	for _, c := range []struct {
		tech     cart.Technology
		capacity int
	}{
		{cart.TechSerialEEPROM, 4096},
		{cart.TechBatterySRAM, 64 * 1024},
		{cart.TechNORFlash, 256 * 1024},
		{cart.TechFRAM, 32 * 1024},
	} {
		if _, err := Profile(c.tech, c.capacity); err == nil {
			t.Fatalf("Profile(%s, %d) accepted", c.tech, c.capacity)
		}
	}
}

func TestProfilesAreUsable(t *testing.T) {
	for _, c := range []struct {
		tech     cart.Technology
		capacity int
	}{
		{cart.TechSerialEEPROM, EEPROMSmall},
		{cart.TechSerialEEPROM, EEPROMLarge},
		{cart.TechBatterySRAM, SRAMSize},
		{cart.TechNORFlash, FlashSmall},
		{cart.TechNORFlash, FlashLarge},
	} {
		p := mustProfile(t, c.tech, c.capacity)
		if err := p.Usable(); err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		if p.Slot != cart.Slot2 {
			t.Fatalf("%s: slot %s", p, p.Slot)
		}
	}
}
