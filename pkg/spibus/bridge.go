package spibus

import (
	"fmt"
	"sync"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// FramePort moves one request frame out and one reply frame back.
type FramePort interface {
	WriteRead(frame []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

// Bridge is a Link backed by cartridge bridge firmware. Besides primary-slot
// exchanges it exposes the secondary-slot ROM and save space.
type Bridge struct {
	mu    sync.Mutex
	port  FramePort
	proto *BridgeProtocol
	name  string
}

// NewBridge wraps a frame port.
func NewBridge(port FramePort, name string) *Bridge {
	return &Bridge{
		port:  port,
		proto: NewBridgeProtocol(DefaultMaxPayload),
		name:  name,
	}
}

func (b *Bridge) roundTrip(frame []byte, timeout time.Duration) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port.WriteRead(frame, timeout)
}

func (b *Bridge) Info() (TransportInfo, error) {
	info := TransportInfo{Name: b.name}
	fields := []struct {
		id  byte
		dst *string
	}{
		{InfoVendor, &info.Vendor},
		{InfoProduct, &info.Model},
		{InfoSerial, &info.SerialNumber},
		{InfoFirmware, &info.Firmware},
	}
	for _, f := range fields {
		resp, err := b.roundTrip(b.proto.EncodeInfo(f.id), DefaultTimeout)
		if err != nil {
			return info, fmt.Errorf("info 0x%02X: %w", f.id, err)
		}
		value, err := b.proto.DecodeInfo(resp)
		if err != nil {
			return info, fmt.Errorf("info 0x%02X: %w", f.id, err)
		}
		*f.dst = value
	}
	return info, nil
}

func (b *Bridge) SelectSlot(slot cart.Slot) error {
	resp, err := b.roundTrip(b.proto.EncodeSelectSlot(slot), DefaultTimeout)
	if err != nil {
		return err
	}
	return b.proto.DecodeStatus(CmdSelectSlot, resp)
}

func (b *Bridge) Exchange(mosi []byte, timeout time.Duration) ([]byte, error) {
	frame, err := b.proto.EncodeExchange(mosi, timeout)
	if err != nil {
		return nil, err
	}
	resp, err := b.roundTrip(frame, timeout+DefaultTimeout)
	if err != nil {
		return nil, err
	}
	return b.proto.DecodeExchange(resp, len(mosi))
}

// linkSlack covers the frame round trip on top of a device timeout.
const linkSlack = 250 * time.Millisecond

// deadline is the host-side wait for an operation the device must finish
// within timeout. A zero timeout falls back to DefaultTimeout.
func deadline(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout + linkSlack
}

// ReadROM reads secondary-slot code space.
func (b *Bridge) ReadROM(addr uint32, n int, timeout time.Duration) ([]byte, error) {
	return b.read(CmdROMRead, addr, n, timeout)
}

// ReadSave reads the secondary-slot save space.
func (b *Bridge) ReadSave(addr uint32, n int, timeout time.Duration) ([]byte, error) {
	return b.read(CmdSaveRead, addr, n, timeout)
}

// WriteSave writes the secondary-slot save space byte by byte.
func (b *Bridge) WriteSave(addr uint32, data []byte, timeout time.Duration) error {
	frame, err := b.proto.EncodeSaveWrite(addr, data)
	if err != nil {
		return err
	}
	resp, err := b.roundTrip(frame, deadline(timeout))
	if err != nil {
		return err
	}
	return b.proto.DecodeStatus(CmdSaveWrite, resp)
}

// WriteSaveCommand writes one command byte to the save space.
func (b *Bridge) WriteSaveCommand(addr uint32, value byte, timeout time.Duration) error {
	resp, err := b.roundTrip(b.proto.EncodeSaveCommand(addr, value), deadline(timeout))
	if err != nil {
		return err
	}
	return b.proto.DecodeStatus(CmdSaveCommand, resp)
}

// SendBits clocks a serial EEPROM bit stream, one bit per byte.
func (b *Bridge) SendBits(bits []byte, timeout time.Duration) error {
	frame, err := b.proto.EncodeEEPROMSend(bits)
	if err != nil {
		return err
	}
	resp, err := b.roundTrip(frame, deadline(timeout))
	if err != nil {
		return err
	}
	return b.proto.DecodeStatus(CmdEEPROMSend, resp)
}

// ReceiveBits clocks n serial EEPROM bits in.
func (b *Bridge) ReceiveBits(n int, timeout time.Duration) ([]byte, error) {
	frame, err := b.proto.EncodeEEPROMRecv(n)
	if err != nil {
		return nil, err
	}
	resp, err := b.roundTrip(frame, deadline(timeout))
	if err != nil {
		return nil, err
	}
	return b.proto.DecodeData(CmdEEPROMRecv, resp, n)
}

// ReadCardHeader reads the first n bytes of the primary-slot card header.
func (b *Bridge) ReadCardHeader(n int, timeout time.Duration) ([]byte, error) {
	frame, err := b.proto.EncodeCardHeader(n)
	if err != nil {
		return nil, err
	}
	resp, err := b.roundTrip(frame, deadline(timeout))
	if err != nil {
		return nil, err
	}
	return b.proto.DecodeData(CmdCardHeader, resp, n)
}

// ReadExpansionID returns the NOR id of a memory expansion in the secondary
// slot, or 0 when none answers.
func (b *Bridge) ReadExpansionID(timeout time.Duration) (uint32, error) {
	resp, err := b.roundTrip(b.proto.EncodeExpansionID(), deadline(timeout))
	if err != nil {
		return 0, err
	}
	return b.proto.DecodeExpansionID(resp)
}

func (b *Bridge) read(cmd byte, addr uint32, n int, timeout time.Duration) ([]byte, error) {
	frame, err := b.proto.EncodeRead(cmd, addr, n)
	if err != nil {
		return nil, err
	}
	resp, err := b.roundTrip(frame, deadline(timeout))
	if err != nil {
		return nil, err
	}
	return b.proto.DecodeData(cmd, resp, n)
}

func (b *Bridge) Close() error {
	return b.port.Close()
}
