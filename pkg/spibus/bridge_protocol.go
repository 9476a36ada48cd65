package spibus

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Bridge command IDs
const (
	CmdInfo        = 0x00
	CmdSelectSlot  = 0x01
	CmdExchange    = 0x10
	CmdROMRead     = 0x20
	CmdSaveRead    = 0x21
	CmdSaveWrite   = 0x22
	CmdEEPROMSend  = 0x23
	CmdEEPROMRecv  = 0x24
	CmdSaveCommand = 0x25
	CmdExpansionID = 0x26
	CmdCardHeader  = 0x30
)

// Info IDs
const (
	InfoVendor   = 0x01
	InfoProduct  = 0x02
	InfoSerial   = 0x03
	InfoFirmware = 0x04
)

// Status codes
const (
	StatusOK      = 0x00
	StatusTimeout = 0x01
	StatusError   = 0xFF
)

const (
	requestHeaderLen = 3 // cmd, len lo, len hi
	replyHeaderLen   = 4 // cmd, status, len lo, len hi

	// DefaultMaxPayload bounds a single frame payload.
	DefaultMaxPayload = 4096
)

// BridgeProtocol encodes and decodes bridge frames. Requests are
// [cmd][len lo][len hi][payload]; replies are [cmd][status][len lo][len hi][payload].
type BridgeProtocol struct {
	MaxPayload int
}

// NewBridgeProtocol creates a protocol handler.
func NewBridgeProtocol(maxPayload int) *BridgeProtocol {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &BridgeProtocol{MaxPayload: maxPayload}
}

func (p *BridgeProtocol) frame(cmd byte, payload []byte) []byte {
	out := make([]byte, requestHeaderLen+len(payload))
	out[0] = cmd
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(payload)))
	copy(out[requestHeaderLen:], payload)
	return out
}

// ReplyLength returns the full reply size announced by a reply header.
func ReplyLength(header []byte) (int, error) {
	if len(header) < replyHeaderLen {
		return 0, fmt.Errorf("%w: reply header too short", ErrMalformed)
	}
	return replyHeaderLen + int(binary.LittleEndian.Uint16(header[2:4])), nil
}

// decode validates a reply and returns its payload.
func (p *BridgeProtocol) decode(cmd byte, resp []byte) ([]byte, error) {
	if len(resp) < replyHeaderLen {
		return nil, fmt.Errorf("%w: response too short", ErrMalformed)
	}
	if resp[0] != cmd {
		return nil, fmt.Errorf("%w: invalid command ID: 0x%02X", ErrMalformed, resp[0])
	}
	switch resp[1] {
	case StatusOK:
	case StatusTimeout:
		return nil, ErrTimeout
	default:
		return nil, fmt.Errorf("bridge command 0x%02X failed with status 0x%02X", cmd, resp[1])
	}

	length := int(binary.LittleEndian.Uint16(resp[2:4]))
	if len(resp) < replyHeaderLen+length {
		return nil, fmt.Errorf("%w: truncated payload (want %d, have %d)",
			ErrMalformed, length, len(resp)-replyHeaderLen)
	}
	return resp[replyHeaderLen : replyHeaderLen+length], nil
}

func (p *BridgeProtocol) checkPayload(n int) error {
	if n > p.MaxPayload {
		return fmt.Errorf("payload of %d bytes exceeds limit %d", n, p.MaxPayload)
	}
	return nil
}

// EncodeInfo builds an info query.
func (p *BridgeProtocol) EncodeInfo(infoID byte) []byte {
	return p.frame(CmdInfo, []byte{infoID})
}

// DecodeInfo parses an info reply.
func (p *BridgeProtocol) DecodeInfo(resp []byte) (string, error) {
	payload, err := p.decode(CmdInfo, resp)
	if err != nil {
		return "", err
	}
	// Strings may be NUL terminated.
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i]), nil
		}
	}
	return string(payload), nil
}

// EncodeSelectSlot builds a slot selection command.
func (p *BridgeProtocol) EncodeSelectSlot(slot cart.Slot) []byte {
	return p.frame(CmdSelectSlot, []byte{byte(slot)})
}

// DecodeStatus checks a reply that carries no data.
func (p *BridgeProtocol) DecodeStatus(cmd byte, resp []byte) error {
	_, err := p.decode(cmd, resp)
	return err
}

// EncodeExchange builds a full-duplex exchange. The payload is the timeout in
// milliseconds followed by the bytes to clock out.
func (p *BridgeProtocol) EncodeExchange(mosi []byte, timeout time.Duration) ([]byte, error) {
	if err := p.checkPayload(2 + len(mosi)); err != nil {
		return nil, err
	}
	payload := make([]byte, 2+len(mosi))
	binary.LittleEndian.PutUint16(payload[0:2], timeoutMillis(timeout))
	copy(payload[2:], mosi)
	return p.frame(CmdExchange, payload), nil
}

// DecodeExchange parses an exchange reply carrying n received bytes.
func (p *BridgeProtocol) DecodeExchange(resp []byte, n int) ([]byte, error) {
	return p.decodeData(CmdExchange, resp, n)
}

// EncodeRead builds a ROM or save read: [addr u32][len u16].
func (p *BridgeProtocol) EncodeRead(cmd byte, addr uint32, n int) ([]byte, error) {
	if err := p.checkPayload(n); err != nil {
		return nil, err
	}
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint32(payload[0:4], addr)
	binary.LittleEndian.PutUint16(payload[4:6], uint16(n))
	return p.frame(cmd, payload), nil
}

// EncodeSaveWrite builds a save write: [addr u32][data].
func (p *BridgeProtocol) EncodeSaveWrite(addr uint32, data []byte) ([]byte, error) {
	if err := p.checkPayload(4 + len(data)); err != nil {
		return nil, err
	}
	payload := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(payload[0:4], addr)
	copy(payload[4:], data)
	return p.frame(CmdSaveWrite, payload), nil
}

// EncodeEEPROMSend clocks nbits serial EEPROM bits (one bit per byte).
func (p *BridgeProtocol) EncodeEEPROMSend(bits []byte) ([]byte, error) {
	if err := p.checkPayload(2 + len(bits)); err != nil {
		return nil, err
	}
	payload := make([]byte, 2+len(bits))
	binary.LittleEndian.PutUint16(payload[0:2], uint16(len(bits)))
	copy(payload[2:], bits)
	return p.frame(CmdEEPROMSend, payload), nil
}

// EncodeEEPROMRecv asks for nbits serial EEPROM bits.
func (p *BridgeProtocol) EncodeEEPROMRecv(nbits int) ([]byte, error) {
	if err := p.checkPayload(nbits); err != nil {
		return nil, err
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(nbits))
	return p.frame(CmdEEPROMRecv, payload), nil
}

// EncodeSaveCommand writes one byte to the slot-2 save space as part of a
// flash command sequence.
func (p *BridgeProtocol) EncodeSaveCommand(addr uint32, value byte) []byte {
	payload := make([]byte, 5)
	binary.LittleEndian.PutUint32(payload[0:4], addr)
	payload[4] = value
	return p.frame(CmdSaveCommand, payload)
}

// EncodeCardHeader asks for the first n bytes of the primary-slot card
// header: [len u16].
func (p *BridgeProtocol) EncodeCardHeader(n int) ([]byte, error) {
	if err := p.checkPayload(n); err != nil {
		return nil, err
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(n))
	return p.frame(CmdCardHeader, payload), nil
}

// EncodeExpansionID asks for the NOR id of a secondary-slot expansion.
func (p *BridgeProtocol) EncodeExpansionID() []byte {
	return p.frame(CmdExpansionID, nil)
}

// DecodeExpansionID parses the [id u32] reply.
func (p *BridgeProtocol) DecodeExpansionID(resp []byte) (uint32, error) {
	payload, err := p.decodeData(CmdExpansionID, resp, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(payload), nil
}

// DecodeData parses a reply expected to carry exactly n bytes.
func (p *BridgeProtocol) DecodeData(cmd byte, resp []byte, n int) ([]byte, error) {
	return p.decodeData(cmd, resp, n)
}

func (p *BridgeProtocol) decodeData(cmd byte, resp []byte, n int) ([]byte, error) {
	payload, err := p.decode(cmd, resp)
	if err != nil {
		return nil, err
	}
	if len(payload) != n {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformed, n, len(payload))
	}
	out := make([]byte, n)
	copy(out, payload)
	return out, nil
}

func timeoutMillis(d time.Duration) uint16 {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	if ms > 0xFFFF {
		ms = 0xFFFF
	}
	return uint16(ms)
}
