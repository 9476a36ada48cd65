package gba

import (
	"errors"
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// ErrBusy is returned when a save chip stays busy past the command timeout.
var ErrBusy = errors.New("gba: save chip busy")

// driver runs commands for one technology.
type driver interface {
	read(cmd cart.Command) ([]byte, error)
	program(cmd cart.Command, data []byte) error
	erase(cmd cart.Command) error
}

var drivers = map[cart.Technology]func(bus SaveBus) driver{
	cart.TechSerialEEPROM: func(bus SaveBus) driver { return &eeprom{bus: bus} },
	cart.TechBatterySRAM:  func(bus SaveBus) driver { return &sram{bus: bus} },
	cart.TechNORFlash:     func(bus SaveBus) driver { return &flash{bus: bus, bank: -1} },
}

// Executor runs secondary-slot commands. It implements transfer.Executor
// and reports every bus failure as cart.ErrBusFault.
type Executor struct {
	drv driver
}

// NewExecutor returns the executor for a resolved secondary-slot profile.
func NewExecutor(bus SaveBus, p cart.Profile) (*Executor, error) {
	if p.Slot != cart.Slot2 {
		return nil, fmt.Errorf("gba: profile for %s", p.Slot)
	}
	if err := p.Usable(); err != nil {
		return nil, err
	}
	mk, ok := drivers[p.Technology]
	if !ok {
		return nil, fmt.Errorf("gba: no driver for %s", p.Technology)
	}
	return &Executor{drv: mk(bus)}, nil
}

func (x *Executor) Read(cmd cart.Command) ([]byte, error) {
	buf, err := x.drv.read(cmd)
	return buf, fault(err)
}

func (x *Executor) Program(cmd cart.Command, data []byte) error {
	if len(data) != cmd.Length {
		return fmt.Errorf("gba: program of %d bytes carries %d", cmd.Length, len(data))
	}
	return fault(x.drv.program(cmd, data))
}

func (x *Executor) Erase(cmd cart.Command) error {
	return fault(x.drv.erase(cmd))
}

func fault(err error) error {
	if err == nil || errors.Is(err, cart.ErrBusFault) {
		return err
	}
	return fmt.Errorf("%w: %w", cart.ErrBusFault, err)
}

// poll calls ready until it reports true or timeout passes. ready runs at
// least once.
func poll(timeout time.Duration, ready func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrBusy, timeout)
		}
	}
}

// eeprom drives the bit-serial EEPROM. A read request is 11, the block
// address, 0; the reply is 4 ignored bits then 64 data bits. A write is 10,
// the address, 64 data bits, 0, after which the chip reads 0 until done.
type eeprom struct {
	bus SaveBus
}

const eepromReplyBits = 4 + BlockSize*8

func (e *eeprom) request(head []byte, cmd cart.Command, data []byte) []byte {
	bits := make([]byte, 0, 2+cmd.AddressBits+len(data)*8+1)
	bits = append(bits, head...)
	for i := cmd.AddressBits - 1; i >= 0; i-- {
		bits = append(bits, byte(cmd.Address>>uint(i))&1)
	}
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			bits = append(bits, (b>>uint(i))&1)
		}
	}
	return append(bits, 0)
}

func (e *eeprom) read(cmd cart.Command) ([]byte, error) {
	if err := e.bus.SendBits(e.request([]byte{1, 1}, cmd, nil), cmd.Timeout); err != nil {
		return nil, err
	}
	bits, err := e.bus.ReceiveBits(eepromReplyBits, cmd.Timeout)
	if err != nil {
		return nil, err
	}
	if len(bits) != eepromReplyBits {
		return nil, fmt.Errorf("gba: EEPROM returned %d bits", len(bits))
	}
	block := make([]byte, BlockSize)
	for i, bit := range bits[4:] {
		block[i/8] |= (bit & 1) << uint(7-i%8)
	}
	start := cmd.Offset % BlockSize
	return block[start : start+uint32(cmd.Length)], nil
}

func (e *eeprom) program(cmd cart.Command, data []byte) error {
	if err := e.bus.SendBits(e.request([]byte{1, 0}, cmd, data), cmd.Timeout); err != nil {
		return err
	}
	if !cmd.PollReady {
		return nil
	}
	return poll(cmd.Timeout, func() (bool, error) {
		bit, err := e.bus.ReceiveBits(1, cmd.Timeout)
		if err != nil {
			return false, err
		}
		return len(bit) == 1 && bit[0]&1 == 1, nil
	})
}

func (e *eeprom) erase(cart.Command) error {
	return fmt.Errorf("gba: EEPROM has no erase")
}

type sram struct {
	bus SaveBus
}

func (s *sram) read(cmd cart.Command) ([]byte, error) {
	return s.bus.ReadSave(cmd.Address, cmd.Length, cmd.Timeout)
}

func (s *sram) program(cmd cart.Command, data []byte) error {
	return s.bus.WriteSave(cmd.Address, data, cmd.Timeout)
}

func (s *sram) erase(cart.Command) error {
	return fmt.Errorf("gba: SRAM has no erase")
}

// flash drives the command-sequence flash. Banked parts map one 64 KiB bank
// into the save space at a time.
type flash struct {
	bus  SaveBus
	bank int
}

const (
	flashErase     = 0x80
	flashEraseSect = 0x30
	flashProgram   = 0xA0
	flashBank      = 0xB0
)

func (f *flash) command(op byte, timeout time.Duration) error {
	for _, w := range [][2]uint32{{flashCmdAddr1, 0xAA}, {flashCmdAddr2, 0x55}, {flashCmdAddr1, uint32(op)}} {
		if err := f.bus.WriteSaveCommand(w[0], byte(w[1]), timeout); err != nil {
			return err
		}
	}
	return nil
}

func (f *flash) selectBank(bank int, timeout time.Duration) error {
	if bank < 0 || bank == f.bank {
		return nil
	}
	if err := f.command(flashBank, timeout); err != nil {
		return err
	}
	if err := f.bus.WriteSaveCommand(0, byte(bank), timeout); err != nil {
		return err
	}
	f.bank = bank
	return nil
}

func (f *flash) read(cmd cart.Command) ([]byte, error) {
	if err := f.selectBank(cmd.Bank, cmd.Timeout); err != nil {
		return nil, err
	}
	return f.bus.ReadSave(cmd.Address, cmd.Length, cmd.Timeout)
}

func (f *flash) program(cmd cart.Command, data []byte) error {
	if err := f.selectBank(cmd.Bank, cmd.Timeout); err != nil {
		return err
	}
	for i, b := range data {
		if b == 0xFF {
			continue // already erased
		}
		addr := cmd.Address + uint32(i)
		if err := f.command(flashProgram, cmd.Timeout); err != nil {
			return err
		}
		if err := f.bus.WriteSaveCommand(addr, b, cmd.Timeout); err != nil {
			return err
		}
		if !cmd.PollReady {
			continue
		}
		if err := poll(cmd.Timeout, f.settled(addr, b, cmd.Timeout)); err != nil {
			// A retry starts from a fresh bank selection.
			f.bank = -1
			return fmt.Errorf("program %#x: %w", cmd.Offset+uint32(i), err)
		}
	}
	return nil
}

func (f *flash) erase(cmd cart.Command) error {
	if err := f.selectBank(cmd.Bank, cmd.Timeout); err != nil {
		return err
	}
	if err := f.command(flashErase, cmd.Timeout); err != nil {
		return err
	}
	if err := f.bus.WriteSaveCommand(flashCmdAddr1, 0xAA, cmd.Timeout); err != nil {
		return err
	}
	if err := f.bus.WriteSaveCommand(flashCmdAddr2, 0x55, cmd.Timeout); err != nil {
		return err
	}
	if err := f.bus.WriteSaveCommand(cmd.Address, flashEraseSect, cmd.Timeout); err != nil {
		return err
	}
	if !cmd.PollReady {
		return nil
	}
	if err := poll(cmd.Timeout, f.settled(cmd.Address, 0xFF, cmd.Timeout)); err != nil {
		f.bank = -1
		return fmt.Errorf("erase %#x: %w", cmd.Offset, err)
	}
	return nil
}

// settled reports when addr reads back want.
func (f *flash) settled(addr uint32, want byte, timeout time.Duration) func() (bool, error) {
	return func() (bool, error) {
		got, err := f.bus.ReadSave(addr, 1, timeout)
		if err != nil {
			return false, err
		}
		return len(got) == 1 && got[0] == want, nil
	}
}
