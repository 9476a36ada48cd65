// Package nds parses the header of primary-slot game cards.
package nds

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Card header layout.
const (
	TitleLen       = 12
	GameCodeOffset = 0x0C
	GameCodeLen    = 4
	MakerOffset    = 0x10
	versionOffset  = 0x1E
	crcOffset      = 0x15E
	HeaderSize     = 0x200
)

// ErrBadHeader means the slot is empty or the header failed its CRC.
var ErrBadHeader = errors.New("nds: invalid card header")

// flashCardCodes are game codes reported by homebrew loaders rather than
// retail games.
var flashCardCodes = map[string]bool{
	"####": true, // homebrew default
	"PASS": true, // PassMe
}

// Header is the metadata block at the start of every card.
type Header struct {
	Title    string
	GameCode string
	Maker    string
	Version  byte
}

func (h Header) String() string {
	return fmt.Sprintf("%s [%s]", h.Title, h.GameCode)
}

// FlashCard reports whether the header belongs to a homebrew flash card.
func (h Header) FlashCard() bool {
	return flashCardCodes[h.GameCode]
}

// ParseHeader decodes a HeaderSize block and checks the header CRC.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(b))
	}
	if want, got := binary.LittleEndian.Uint16(b[crcOffset:]), crc16(b[:crcOffset]); want != got {
		return Header{}, fmt.Errorf("%w: crc %04X, computed %04X", ErrBadHeader, want, got)
	}
	return Header{
		Title:    text(b[:TitleLen]),
		GameCode: text(b[GameCodeOffset : GameCodeOffset+GameCodeLen]),
		Maker:    text(b[MakerOffset : MakerOffset+2]),
		Version:  b[versionOffset],
	}, nil
}

// Encode renders the header into a zeroed HeaderSize block with a valid CRC.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b[:TitleLen], h.Title)
	copy(b[GameCodeOffset:GameCodeOffset+GameCodeLen], h.GameCode)
	copy(b[MakerOffset:MakerOffset+2], h.Maker)
	b[versionOffset] = h.Version
	binary.LittleEndian.PutUint16(b[crcOffset:], crc16(b[:crcOffset]))
	return b
}

// crc16 is CRC-16/MODBUS, the checksum the card header carries.
func crc16(b []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, v := range b {
		crc ^= uint16(v)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func text(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}
