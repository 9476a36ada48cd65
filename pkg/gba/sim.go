package gba

import (
	"fmt"
	"sync"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// SimCartridge models a secondary-slot cartridge: a program image plus one
// save chip. It satisfies ROMReader, SaveBus and ExpansionReader. Calls
// carrying no timeout are rejected as a real bridge would hang on them.
type SimCartridge struct {
	ROM  []byte
	Save []byte

	Technology  cart.Technology
	AddressBits int // EEPROM only
	BusyPolls   int // ready polls a program or erase stays busy
	FlashID     [2]byte

	// FailSave makes the next n save accesses fail.
	FailSave int

	// ExpansionID is the NOR id an expansion pack answers with; 0 for a
	// plain game cartridge.
	ExpansionID uint32

	// LastTimeout is the timeout of the most recent call.
	LastTimeout time.Duration

	mu      sync.Mutex
	slot    cart.Slot
	bank    int
	seq     []uint32 // pending flash command writes, addr<<8|value
	mode    byte     // armed flash command
	idMode  bool
	busy    int
	pending []byte // EEPROM reply bits
}

// NewSimCartridge builds a cartridge with an erased save chip of the given
// type. The program image is used as is.
func NewSimCartridge(rom []byte, tech cart.Technology, capacity int) *SimCartridge {
	c := &SimCartridge{
		ROM:        rom,
		Save:       make([]byte, capacity),
		Technology: tech,
		BusyPolls:  1,
		FlashID:    [2]byte{0xC2, 0x09},
	}
	switch tech {
	case cart.TechSerialEEPROM:
		c.AddressBits = 6
		if capacity > EEPROMSmall {
			c.AddressBits = 14
		}
		fill(c.Save, 0xFF)
	case cart.TechNORFlash:
		fill(c.Save, 0xFF)
		if capacity == FlashSmall {
			c.FlashID = [2]byte{0x32, 0x1B}
		}
	}
	return c
}

// BuildROM returns a program image of size bytes with a valid header and the
// given markers placed after it.
func BuildROM(h Header, size int, markers ...string) []byte {
	rom := make([]byte, size)
	copy(rom, h.Encode())
	off := HeaderSize + 0x100
	for _, m := range markers {
		copy(rom[off:], m)
		off += len(m) + 0x40
	}
	return rom
}

func (c *SimCartridge) SelectSlot(slot cart.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot = slot
	return nil
}

// ReadROM returns the image; past its end the bus shows the low address
// halfword, as an unmapped cartridge region does.
func (c *SimCartridge) ReadROM(addr uint32, n int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.deadline(timeout); err != nil {
		return nil, err
	}
	if n < 0 || uint64(addr)+uint64(n) > MaxROMSize {
		return nil, fmt.Errorf("gba sim: ROM read %#x+%d out of range", addr, n)
	}
	out := make([]byte, n)
	for i := range out {
		a := addr + uint32(i)
		if int(a) < len(c.ROM) {
			out[i] = c.ROM[a]
			continue
		}
		half := uint16(a >> 1)
		if a&1 == 0 {
			out[i] = byte(half)
		} else {
			out[i] = byte(half >> 8)
		}
	}
	return out, nil
}

// ReadExpansionID reports ExpansionID.
func (c *SimCartridge) ReadExpansionID(timeout time.Duration) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.deadline(timeout); err != nil {
		return 0, err
	}
	return c.ExpansionID, nil
}

func (c *SimCartridge) deadline(timeout time.Duration) error {
	c.LastTimeout = timeout
	if timeout <= 0 {
		return fmt.Errorf("gba sim: call without a timeout")
	}
	return nil
}

func (c *SimCartridge) fail(timeout time.Duration) error {
	if err := c.deadline(timeout); err != nil {
		return err
	}
	if c.FailSave > 0 {
		c.FailSave--
		return fmt.Errorf("gba sim: injected save fault")
	}
	return nil
}

func (c *SimCartridge) ReadSave(addr uint32, n int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(timeout); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	fill(out, 0xFF)
	switch c.Technology {
	case cart.TechBatterySRAM:
		for i := range out {
			out[i] = c.Save[(int(addr)+i)%len(c.Save)]
		}
	case cart.TechNORFlash:
		if c.busy > 0 {
			c.busy--
			return out, nil
		}
		for i := range out {
			a := int(addr) + i
			if c.idMode && a < 2 {
				out[i] = c.FlashID[a]
				continue
			}
			if a < BankSize {
				out[i] = c.Save[(c.bank*BankSize+a)%len(c.Save)]
			}
		}
	}
	return out, nil
}

func (c *SimCartridge) WriteSave(addr uint32, data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(timeout); err != nil {
		return err
	}
	if c.Technology != cart.TechBatterySRAM {
		return nil
	}
	for i, b := range data {
		c.Save[(int(addr)+i)%len(c.Save)] = b
	}
	return nil
}

// WriteSaveCommand feeds the flash command state machine.
func (c *SimCartridge) WriteSaveCommand(addr uint32, value byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(timeout); err != nil {
		return err
	}
	switch c.Technology {
	case cart.TechBatterySRAM:
		c.Save[int(addr)%len(c.Save)] = value
		return nil
	case cart.TechNORFlash:
	default:
		return nil
	}

	switch c.mode {
	case flashProgram:
		c.mode = 0
		if a := c.bank*BankSize + int(addr); addr < BankSize && a < len(c.Save) {
			c.Save[a] &= value
		}
		c.busy = c.BusyPolls
		return nil
	case flashBank:
		c.mode = 0
		if addr == 0 && int(value)*BankSize < len(c.Save) {
			c.bank = int(value)
		}
		return nil
	}

	c.seq = append(c.seq, addr<<8|uint32(value))
	switch len(c.seq) {
	case 1:
		if c.seq[0] != flashCmdAddr1<<8|0xAA {
			c.seq = c.seq[:0]
		}
	case 2:
		if c.seq[1] != flashCmdAddr2<<8|0x55 {
			c.seq = c.seq[:0]
		}
	case 3:
		if c.mode == flashErase {
			c.mode = 0
			c.seq = c.seq[:0]
			if value == flashEraseSect && addr < BankSize {
				start := (c.bank*BankSize + int(addr)) &^ (SectorSize - 1)
				fill(c.Save[start:start+SectorSize], 0xFF)
				c.busy = c.BusyPolls
			}
			return nil
		}
		c.seq = c.seq[:0]
		if addr != flashCmdAddr1 {
			return nil
		}
		switch value {
		case flashErase, flashProgram, flashBank:
			c.mode = value
		case 0x90:
			c.idMode = true
		case 0xF0:
			c.idMode = false
		}
	}
	return nil
}

// SendBits feeds the EEPROM serial interface.
func (c *SimCartridge) SendBits(bits []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(timeout); err != nil {
		return err
	}
	if c.Technology != cart.TechSerialEEPROM || len(bits) < 2+c.AddressBits+1 {
		return nil
	}
	var block int
	for _, b := range bits[2 : 2+c.AddressBits] {
		block = block<<1 | int(b&1)
	}
	base := (block * BlockSize) % len(c.Save)

	switch {
	case bits[0] == 1 && bits[1] == 1:
		c.pending = make([]byte, 4, eepromReplyBits)
		for _, b := range c.Save[base : base+BlockSize] {
			for i := 7; i >= 0; i-- {
				c.pending = append(c.pending, (b>>uint(i))&1)
			}
		}
	case bits[0] == 1 && bits[1] == 0:
		data := bits[2+c.AddressBits:]
		if len(data) < BlockSize*8 {
			return nil
		}
		for i := 0; i < BlockSize; i++ {
			var v byte
			for _, b := range data[i*8 : i*8+8] {
				v = v<<1 | b&1
			}
			c.Save[base+i] = v
		}
		c.busy = c.BusyPolls
	}
	return nil
}

// ReceiveBits returns a pending read reply, or the ready bit.
func (c *SimCartridge) ReceiveBits(n int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fail(timeout); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n == 1 && c.pending == nil {
		if c.busy > 0 {
			c.busy--
			return out, nil
		}
		out[0] = 1
		return out, nil
	}
	copy(out, c.pending)
	c.pending = nil
	return out, nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
