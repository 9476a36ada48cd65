package chipid

import (
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipdb"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
)

// Bus timing defaults for primary-slot memories.
const (
	DefaultReadTimeout    = 100 * time.Millisecond
	EEPROMProgramTimeout  = 25 * time.Millisecond
	FRAMProgramTimeout    = 10 * time.Millisecond
	FlashProgramTimeout   = 10 * time.Millisecond
	FlashEraseTimeout     = 3 * time.Second
	DefaultMaxTransaction = 256
)

// SPIScheme encodes primary-slot serial memory commands. The addressing
// convention is fixed once per profile so every op of a plan carries the
// header the chip expects.
type SPIScheme struct {
	AddressWidth  int  // 8, 16 or 24
	ByteAddressed bool // one address byte, bit 8 travels in the opcode
	EraseUnit     int
	Timeouts      cart.Geometry
}

// Header returns the opcode and address bytes for op at addr.
func (s SPIScheme) Header(op byte, addr uint32) []byte {
	switch {
	case s.ByteAddressed:
		if addr&0x100 != 0 {
			op |= spibus.OpHighAddressBit
		}
		return []byte{op, byte(addr)}
	case s.AddressWidth == 16:
		return []byte{op, byte(addr >> 8), byte(addr)}
	default:
		return []byte{op, byte(addr >> 16), byte(addr >> 8), byte(addr)}
	}
}

func (s SPIScheme) Encode(kind cart.OpKind, offset uint32, length int) (cart.Command, error) {
	cmd := cart.Command{
		Kind:        kind,
		Offset:      offset,
		Length:      length,
		Address:     offset,
		Bank:        -1,
		AddressBits: s.AddressWidth,
	}
	switch kind {
	case cart.OpRead, cart.OpStash:
		cmd.Header = s.Header(spibus.OpRead, offset)
		cmd.Timeout = s.Timeouts.ReadTimeout
	case cart.OpProgram:
		cmd.Header = s.Header(spibus.OpProgram, offset)
		cmd.WriteEnable = true
		cmd.PollReady = true
		cmd.Timeout = s.Timeouts.ProgramTimeout
	case cart.OpErase:
		op, err := s.eraseOpcode(length)
		if err != nil {
			return cart.Command{}, err
		}
		cmd.Header = s.Header(op, offset)
		cmd.WriteEnable = true
		cmd.PollReady = true
		cmd.Timeout = s.Timeouts.EraseTimeout
	default:
		return cart.Command{}, fmt.Errorf("chipid: cannot encode %s", kind)
	}
	return cmd, nil
}

func (s SPIScheme) eraseOpcode(length int) (byte, error) {
	if s.EraseUnit == 0 {
		return 0, fmt.Errorf("chipid: device has no erase command")
	}
	if length != s.EraseUnit {
		return 0, fmt.Errorf("chipid: erase length %d does not match unit %d", length, s.EraseUnit)
	}
	switch s.EraseUnit {
	case 256:
		return spibus.OpPageErase, nil
	case 4096:
		return spibus.OpSubsector, nil
	case 64 * 1024:
		return spibus.OpSectorErase, nil
	}
	return 0, fmt.Errorf("chipid: no erase opcode for %d-byte units", s.EraseUnit)
}

// FlashProfile builds the profile for a NOR flash entry.
func FlashProfile(chip chipdb.FlashChip, id []byte) cart.Profile {
	geo := cart.Geometry{
		MaxRead:        DefaultMaxTransaction,
		MaxProgram:     256,
		PageSize:       256,
		EraseUnit:      chip.EraseUnit,
		ErasedValue:    0xFF,
		ReadTimeout:    DefaultReadTimeout,
		ProgramTimeout: FlashProgramTimeout,
		EraseTimeout:   FlashEraseTimeout,
	}
	return cart.Profile{
		Slot:           cart.Slot1,
		Technology:     cart.TechNORFlash,
		AddressWidth:   24,
		Capacity:       chip.Capacity,
		IdentifierCode: append([]byte(nil), id...),
		Vendor:         chip.Vendor,
		Geometry:       geo,
		Scheme:         SPIScheme{AddressWidth: 24, EraseUnit: chip.EraseUnit, Timeouts: geo},
	}
}

// MemoryProfile builds the profile for an EEPROM or FRAM tier.
func MemoryProfile(tier chipdb.Tier, byteAddressed bool) cart.Profile {
	geo := cart.Geometry{
		MaxRead:     DefaultMaxTransaction,
		MaxProgram:  DefaultMaxTransaction,
		PageSize:    tier.PageSize,
		ReadTimeout: DefaultReadTimeout,
	}
	if tier.PageSize > 0 {
		geo.MaxProgram = tier.PageSize
	}
	switch tier.Technology {
	case cart.TechFRAM:
		geo.ProgramTimeout = FRAMProgramTimeout
	default:
		geo.ProgramTimeout = EEPROMProgramTimeout
	}
	return cart.Profile{
		Slot:         cart.Slot1,
		Technology:   tier.Technology,
		AddressWidth: tier.AddressWidth,
		Capacity:     tier.Capacity,
		Geometry:     geo,
		Scheme: SPIScheme{
			AddressWidth:  tier.AddressWidth,
			ByteAddressed: byteAddressed,
			Timeouts:      geo,
		},
	}
}
