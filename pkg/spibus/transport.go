package spibus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Opcodes shared by every serial save memory on the primary slot.
const (
	OpProgram      = 0x02 // page write / page program
	OpRead         = 0x03
	OpWriteDisable = 0x04
	OpReadStatus   = 0x05
	OpWriteEnable  = 0x06
	OpReadID       = 0x9F
	OpPageErase    = 0xDB
	OpSubsector    = 0x20 // 4 KiB erase
	OpSectorErase  = 0xD8

	// OpHighAddressBit is folded into read/write opcodes by byte-addressed
	// parts to carry address bit 8.
	OpHighAddressBit = 0x08

	StatusWIP = 0x01 // write in progress
	StatusWEL = 0x02 // write enable latch

	// StatusFloating is what a status read returns when nothing drives MISO.
	StatusFloating = 0xFF
)

// DummyByte is clocked out while reading.
const DummyByte = 0x00

var (
	// ErrNotImplemented is returned when the link lacks an optional capability.
	ErrNotImplemented = errors.New("spibus: not implemented")
	// ErrTimeout is returned when an exchange does not complete in time.
	ErrTimeout = errors.New("spibus: timeout")
	// ErrMalformed is returned when a reply has the wrong shape.
	ErrMalformed = errors.New("spibus: malformed response")
)

// TransportInfo describes the hardware behind a transport.
type TransportInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	Notes        string
}

// Transport is the bus capability the identification and transfer layers
// consume. Headers (opcode plus encoded address) are always supplied by the
// caller; the transport never assumes an addressing width.
type Transport interface {
	Info() (TransportInfo, error)
	SelectSlot(slot cart.Slot) error
	SendCommand(cmd []byte, respLen int, timeout time.Duration) ([]byte, error)
	WriteBytes(header, data []byte, timeout time.Duration) error
	ReadBytes(header []byte, n int, timeout time.Duration) ([]byte, error)
}

// MemoryBus adds the write-enable and ready-poll steps every serial save
// memory shares.
type MemoryBus interface {
	Transport
	WriteEnable(timeout time.Duration) error
	ReadStatus(timeout time.Duration) (byte, error)
	WaitReady(timeout time.Duration) error
}

// Link is one full-duplex chip-select cycle: every byte clocked out yields
// one byte clocked in.
type Link interface {
	Info() (TransportInfo, error)
	SelectSlot(slot cart.Slot) error
	Exchange(mosi []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

// CardLink is implemented by links that can read the primary-slot card
// header through the card protocol rather than the save bus.
type CardLink interface {
	ReadCardHeader(n int, timeout time.Duration) ([]byte, error)
}

// Bus implements Transport on top of a Link. Every link failure is reported
// as a cart.ErrBusFault.
type Bus struct {
	link Link
}

// NewBus wraps a link.
func NewBus(link Link) *Bus {
	return &Bus{link: link}
}

// Link returns the underlying link.
func (b *Bus) Link() Link {
	return b.link
}

func (b *Bus) Info() (TransportInfo, error) {
	return b.link.Info()
}

func (b *Bus) SelectSlot(slot cart.Slot) error {
	if err := b.link.SelectSlot(slot); err != nil {
		return fmt.Errorf("%w: select %s: %w", cart.ErrBusFault, slot, err)
	}
	return nil
}

// SendCommand clocks cmd followed by respLen dummy bytes and returns the
// bytes received after cmd.
func (b *Bus) SendCommand(cmd []byte, respLen int, timeout time.Duration) ([]byte, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("spibus: empty command")
	}
	if respLen < 0 {
		return nil, fmt.Errorf("spibus: negative response length %d", respLen)
	}

	mosi := make([]byte, len(cmd)+respLen)
	copy(mosi, cmd)
	for i := len(cmd); i < len(mosi); i++ {
		mosi[i] = DummyByte
	}

	miso, err := b.exchange(mosi, timeout)
	if err != nil {
		return nil, err
	}
	return miso[len(cmd):], nil
}

// WriteBytes clocks header and data in one cycle.
func (b *Bus) WriteBytes(header, data []byte, timeout time.Duration) error {
	if len(header) == 0 {
		return fmt.Errorf("spibus: empty header")
	}
	mosi := make([]byte, 0, len(header)+len(data))
	mosi = append(mosi, header...)
	mosi = append(mosi, data...)
	_, err := b.exchange(mosi, timeout)
	return err
}

// ReadBytes clocks header and returns the n bytes that follow it.
func (b *Bus) ReadBytes(header []byte, n int, timeout time.Duration) ([]byte, error) {
	return b.SendCommand(header, n, timeout)
}

// WriteEnable sets the write enable latch.
func (b *Bus) WriteEnable(timeout time.Duration) error {
	_, err := b.SendCommand([]byte{OpWriteEnable}, 0, timeout)
	return err
}

// ReadStatus returns the status register.
func (b *Bus) ReadStatus(timeout time.Duration) (byte, error) {
	resp, err := b.SendCommand([]byte{OpReadStatus}, 1, timeout)
	if err != nil {
		return 0, err
	}
	return resp[0], nil
}

// WaitReady polls the status register until the write-in-progress bit
// clears or the timeout elapses.
func (b *Bus) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := b.ReadStatus(timeout)
		if err != nil {
			return err
		}
		if status&StatusWIP == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: busy after %s: %w", cart.ErrBusFault, timeout, ErrTimeout)
		}
	}
}

// CardHeader reads the first n bytes of the primary-slot card header. Links
// that are not a CardLink return ErrNotImplemented.
func (b *Bus) CardHeader(n int, timeout time.Duration) ([]byte, error) {
	cl, ok := b.link.(CardLink)
	if !ok {
		return nil, ErrNotImplemented
	}
	raw, err := cl.ReadCardHeader(n, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: card header: %w", cart.ErrBusFault, err)
	}
	if len(raw) != n {
		return nil, fmt.Errorf("%w: %w: card header of %d bytes, want %d",
			cart.ErrBusFault, ErrMalformed, len(raw), n)
	}
	return raw, nil
}

// Close releases the link.
func (b *Bus) Close() error {
	return b.link.Close()
}

func (b *Bus) exchange(mosi []byte, timeout time.Duration) ([]byte, error) {
	miso, err := b.link.Exchange(mosi, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", cart.ErrBusFault, err)
	}
	if len(miso) != len(mosi) {
		return nil, fmt.Errorf("%w: %w: sent %d bytes, received %d",
			cart.ErrBusFault, ErrMalformed, len(mosi), len(miso))
	}
	return miso, nil
}
