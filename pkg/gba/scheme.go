package gba

import (
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Save memory layout of the secondary slot.
const (
	BlockSize  = 8 // EEPROM transfer unit
	SectorSize = 4 * 1024
	BankSize   = 64 * 1024

	flashCmdAddr1 = 0x5555
	flashCmdAddr2 = 0x2AAA
)

// Bus timing for secondary-slot memories.
const (
	ReadTimeout          = 100 * time.Millisecond
	EEPROMProgramTimeout = 10 * time.Millisecond
	FlashProgramTimeout  = 20 * time.Millisecond
	FlashEraseTimeout    = 500 * time.Millisecond
	ROMTimeout           = 2 * time.Second // one header or scan chunk read
	MaxTransaction       = 1024
)

// Scheme encodes secondary-slot save operations. EEPROM commands address
// 8-byte blocks; banked flash commands carry the bank and an in-bank address.
type Scheme struct {
	Technology  cart.Technology
	AddressBits int // EEPROM block address width
	Banked      bool
	Timeouts    cart.Geometry
}

func (s Scheme) Encode(kind cart.OpKind, offset uint32, length int) (cart.Command, error) {
	cmd := cart.Command{
		Kind:        kind,
		Offset:      offset,
		Length:      length,
		Address:     offset,
		Bank:        -1,
		AddressBits: s.AddressBits,
	}
	if length <= 0 {
		return cart.Command{}, fmt.Errorf("gba: empty %s", kind)
	}

	switch s.Technology {
	case cart.TechSerialEEPROM:
		if offset/BlockSize != (offset+uint32(length)-1)/BlockSize {
			return cart.Command{}, fmt.Errorf("gba: %s at %#x+%d crosses an EEPROM block", kind, offset, length)
		}
		if kind == cart.OpProgram && (offset%BlockSize != 0 || length != BlockSize) {
			return cart.Command{}, fmt.Errorf("gba: EEPROM programs whole blocks, got %#x+%d", offset, length)
		}
		if kind == cart.OpErase {
			return cart.Command{}, fmt.Errorf("gba: EEPROM has no erase")
		}
		cmd.Address = offset / BlockSize
	case cart.TechNORFlash:
		if s.Banked {
			cmd.Bank = int(offset / BankSize)
			cmd.Address = offset % BankSize
			if (offset+uint32(length)-1)/BankSize != offset/BankSize {
				return cart.Command{}, fmt.Errorf("gba: %s at %#x+%d crosses a bank", kind, offset, length)
			}
		}
		if kind == cart.OpErase && (offset%SectorSize != 0 || length != SectorSize) {
			return cart.Command{}, fmt.Errorf("gba: erase must cover one sector, got %#x+%d", offset, length)
		}
	case cart.TechBatterySRAM:
		if kind == cart.OpErase {
			return cart.Command{}, fmt.Errorf("gba: SRAM has no erase")
		}
	default:
		return cart.Command{}, fmt.Errorf("gba: cannot encode for %s", s.Technology)
	}

	switch kind {
	case cart.OpRead, cart.OpStash:
		cmd.Timeout = s.Timeouts.ReadTimeout
	case cart.OpProgram:
		cmd.Timeout = s.Timeouts.ProgramTimeout
		cmd.PollReady = s.Technology != cart.TechBatterySRAM
	case cart.OpErase:
		cmd.Timeout = s.Timeouts.EraseTimeout
		cmd.PollReady = true
	}
	return cmd, nil
}

// Profile builds the secondary-slot profile for a save type.
func Profile(tech cart.Technology, capacity int) (cart.Profile, error) {
	p := cart.Profile{
		Slot:       cart.Slot2,
		Technology: tech,
		Capacity:   capacity,
	}
	geo := cart.Geometry{
		MaxRead:     MaxTransaction,
		MaxProgram:  MaxTransaction,
		ReadTimeout: ReadTimeout,
	}
	scheme := Scheme{Technology: tech}

	switch {
	case tech == cart.TechSerialEEPROM && (capacity == EEPROMSmall || capacity == EEPROMLarge):
		scheme.AddressBits = 6
		if capacity == EEPROMLarge {
			scheme.AddressBits = 14
		}
		geo.MaxRead = BlockSize
		geo.MaxProgram = BlockSize
		geo.Boundary = BlockSize
		geo.ProgramUnit = BlockSize
		geo.ProgramTimeout = EEPROMProgramTimeout
	case tech == cart.TechBatterySRAM && capacity == SRAMSize:
		geo.ProgramTimeout = ReadTimeout
	case tech == cart.TechNORFlash && (capacity == FlashSmall || capacity == FlashLarge):
		scheme.Banked = capacity > BankSize
		if scheme.Banked {
			geo.Boundary = BankSize
		}
		geo.MaxProgram = 256
		geo.EraseUnit = SectorSize
		geo.ErasedValue = 0xFF
		geo.ProgramTimeout = FlashProgramTimeout
		geo.EraseTimeout = FlashEraseTimeout
	default:
		return cart.Profile{}, fmt.Errorf("gba: no %s part of %d bytes", tech, capacity)
	}

	p.AddressWidth = scheme.AddressBits
	scheme.Timeouts = geo
	p.Geometry = geo
	p.Scheme = scheme
	return p, nil
}
