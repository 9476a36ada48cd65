package cart

import (
	"fmt"
	"strings"
)

// Slot selects one of the two cartridge interfaces.
type Slot uint8

const (
	SlotNone Slot = iota
	// Slot1 is the primary cartridge slot with a serial save bus.
	Slot1
	// Slot2 is the secondary slot holding the other console's cartridges.
	Slot2
)

func (s Slot) String() string {
	switch s {
	case Slot1:
		return "slot-1"
	case Slot2:
		return "slot-2"
	default:
		return "no-slot"
	}
}

// ParseSlot accepts "1", "2", "slot-1" or "slot-2".
func ParseSlot(s string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "slot1", "slot-1":
		return Slot1, nil
	case "2", "slot2", "slot-2":
		return Slot2, nil
	}
	return SlotNone, fmt.Errorf("cart: unknown slot %q", s)
}

// Technology is the memory family a cartridge keeps its save data in.
type Technology uint8

const (
	TechUnknown Technology = iota
	TechSerialEEPROM
	TechFRAM
	TechNORFlash
	TechBatterySRAM
)

var technologyNames = map[Technology]string{
	TechUnknown:      "unknown",
	TechSerialEEPROM: "eeprom",
	TechFRAM:         "fram",
	TechNORFlash:     "flash",
	TechBatterySRAM:  "sram",
}

func (t Technology) String() string {
	if name, ok := technologyNames[t]; ok {
		return name
	}
	return fmt.Sprintf("technology(%d)", uint8(t))
}

// Label is the human-readable name used in reports.
func (t Technology) Label() string {
	switch t {
	case TechSerialEEPROM:
		return "EEPROM"
	case TechFRAM:
		return "FRAM"
	case TechNORFlash:
		return "Flash"
	case TechBatterySRAM:
		return "SRAM"
	default:
		return "unknown"
	}
}

// NeedsErase reports whether programming must be preceded by an erase.
func (t Technology) NeedsErase() bool {
	return t == TechNORFlash
}

// MinCapacity is the smallest capacity a resolved profile of this technology
// may report.
func (t Technology) MinCapacity() int {
	switch t {
	case TechSerialEEPROM:
		return 512
	case TechFRAM:
		return 8 << 10
	case TechNORFlash:
		return 64 << 10
	case TechBatterySRAM:
		return 8 << 10
	default:
		return 0
	}
}

// ParseTechnology maps a technology name back to its value.
func ParseTechnology(s string) (Technology, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range technologyNames {
		if name == s {
			return t, nil
		}
	}
	return TechUnknown, fmt.Errorf("cart: unknown technology %q", s)
}

// Special marks auxiliary hardware sharing the save bus. A profile with a
// Special other than SpecialNone never exposes save memory.
type Special uint8

const (
	SpecialNone Special = iota
	SpecialInfrared
	SpecialMotion
	SpecialWireless
	SpecialFlashCard // homebrew loader in place of a game card
)

func (s Special) String() string {
	switch s {
	case SpecialNone:
		return "none"
	case SpecialInfrared:
		return "infrared"
	case SpecialMotion:
		return "motion"
	case SpecialWireless:
		return "wireless"
	case SpecialFlashCard:
		return "flash-card"
	default:
		return fmt.Sprintf("special(%d)", uint8(s))
	}
}

// Label returns the name printed on cartridge reports.
func (s Special) Label() string {
	switch s {
	case SpecialInfrared:
		return "Infrared"
	case SpecialMotion:
		return "XXL"
	case SpecialWireless:
		return "Bluetooth"
	case SpecialFlashCard:
		return "Flash Card"
	default:
		return "----"
	}
}
