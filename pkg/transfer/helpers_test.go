package transfer

import (
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// memScheme encodes plain offsets.
type memScheme struct{}

func (memScheme) Encode(kind cart.OpKind, offset uint32, length int) (cart.Command, error) {
	return cart.Command{Kind: kind, Offset: offset, Length: length, Address: offset, Bank: -1}, nil
}

func eepromProfile() cart.Profile {
	return cart.Profile{
		Slot:         cart.Slot1,
		Technology:   cart.TechSerialEEPROM,
		AddressWidth: 8,
		Capacity:     512,
		Geometry:     cart.Geometry{MaxRead: 64, MaxProgram: 16, PageSize: 16},
		Scheme:       memScheme{},
	}
}

func framProfile() cart.Profile {
	return cart.Profile{
		Slot:         cart.Slot1,
		Technology:   cart.TechFRAM,
		AddressWidth: 16,
		Capacity:     8 * 1024,
		Geometry:     cart.Geometry{MaxRead: 256, MaxProgram: 256},
		Scheme:       memScheme{},
	}
}

func flashProfile() cart.Profile {
	return cart.Profile{
		Slot:         cart.Slot1,
		Technology:   cart.TechNORFlash,
		AddressWidth: 24,
		Capacity:     256 * 1024,
		Geometry: cart.Geometry{
			MaxRead: 256, MaxProgram: 256, PageSize: 256,
			EraseUnit: 4096, ErasedValue: 0xFF,
		},
		Scheme: memScheme{},
	}
}

func blockProfile() cart.Profile {
	return cart.Profile{
		Slot:       cart.Slot2,
		Technology: cart.TechSerialEEPROM,
		Capacity:   8 * 1024,
		Geometry:   cart.Geometry{MaxRead: 8, MaxProgram: 8, ProgramUnit: 8},
		Scheme:     memScheme{},
	}
}

func bankedProfile() cart.Profile {
	return cart.Profile{
		Slot:       cart.Slot2,
		Technology: cart.TechNORFlash,
		Capacity:   128 * 1024,
		Geometry: cart.Geometry{
			MaxRead: 4096, MaxProgram: 256, Boundary: 64 * 1024,
			EraseUnit: 4096, ErasedValue: 0xFF,
		},
		Scheme: memScheme{},
	}
}

var allProfiles = map[string]func() cart.Profile{
	"eeprom": eepromProfile,
	"fram":   framProfile,
	"flash":  flashProfile,
	"block":  blockProfile,
	"banked": bankedProfile,
}

// memChip is an in-memory executor with fault injection.
type memChip struct {
	data   []byte
	erased byte
	unit   int

	// corrupt counts how many more programs at an offset store wrong data;
	// a negative count corrupts forever.
	corrupt map[uint32]int
	// faults counts read failures per offset.
	faults map[uint32]int

	programs map[uint32]int
}

func newMemChip(p cart.Profile) *memChip {
	c := &memChip{
		data:     make([]byte, p.Capacity),
		erased:   p.Geometry.ErasedValue,
		unit:     p.Geometry.EraseUnit,
		corrupt:  make(map[uint32]int),
		faults:   make(map[uint32]int),
		programs: make(map[uint32]int),
	}
	for i := range c.data {
		c.data[i] = byte(i*31 + 7)
	}
	return c
}

func (c *memChip) Read(cmd cart.Command) ([]byte, error) {
	if n := c.faults[cmd.Offset]; n != 0 {
		if n > 0 {
			c.faults[cmd.Offset] = n - 1
		}
		return nil, fmt.Errorf("%w: injected", cart.ErrBusFault)
	}
	return append([]byte(nil), c.data[cmd.Offset:cmd.End()]...), nil
}

func (c *memChip) Program(cmd cart.Command, data []byte) error {
	c.programs[cmd.Offset]++
	copy(c.data[cmd.Offset:], data)
	if n := c.corrupt[cmd.Offset]; n != 0 {
		if n > 0 {
			c.corrupt[cmd.Offset] = n - 1
		}
		c.data[cmd.Offset] ^= 0x01
	}
	return nil
}

func (c *memChip) Erase(cmd cart.Command) error {
	for i := cmd.Offset; i < cmd.End(); i++ {
		c.data[i] = c.erased
	}
	return nil
}
