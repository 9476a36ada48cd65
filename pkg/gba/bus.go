package gba

import (
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// ROMReader peeks at the program image of the secondary-slot cartridge.
// It is read-only and never touches save memory.
type ROMReader interface {
	ReadROM(addr uint32, n int, timeout time.Duration) ([]byte, error)
}

// SaveBus reaches the save memory of the secondary-slot cartridge. SRAM and
// flash live in a byte-wide save space; EEPROM is clocked one bit per byte.
// Every call must finish within its timeout.
type SaveBus interface {
	ReadSave(addr uint32, n int, timeout time.Duration) ([]byte, error)
	WriteSave(addr uint32, data []byte, timeout time.Duration) error
	WriteSaveCommand(addr uint32, value byte, timeout time.Duration) error
	SendBits(bits []byte, timeout time.Duration) error
	ReceiveBits(n int, timeout time.Duration) ([]byte, error)
}

// ExpansionReader is implemented by bridges that can query the NOR id of a
// memory expansion pack in the secondary slot.
type ExpansionReader interface {
	ReadExpansionID(timeout time.Duration) (uint32, error)
}

// slotSelector is implemented by bridges that multiplex both slots.
type slotSelector interface {
	SelectSlot(slot cart.Slot) error
}
