package gba

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cartridge header layout.
const (
	TitleOffset    = 0xA0
	TitleLen       = 12
	GameCodeOffset = 0xAC
	GameCodeLen    = 4
	MakerOffset    = 0xB0
	fixedOffset    = 0xB2
	versionOffset  = 0xBC
	checksumOffset = 0xBD
	HeaderSize     = 0xC0

	fixedValue = 0x96
)

// ErrBadHeader means the secondary slot is empty or the header is corrupt.
var ErrBadHeader = errors.New("gba: invalid cartridge header")

// Header is the metadata block every program image carries.
type Header struct {
	Title    string
	GameCode string
	Maker    string
	Version  byte
}

func (h Header) String() string {
	return fmt.Sprintf("%s [%s]", h.Title, h.GameCode)
}

// ParseHeader decodes the first HeaderSize bytes of a program image and
// checks the fixed byte and complement checksum.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(b))
	}
	if b[fixedOffset] != fixedValue {
		return Header{}, fmt.Errorf("%w: fixed byte %02X", ErrBadHeader, b[fixedOffset])
	}
	if sum := checksum(b); sum != b[checksumOffset] {
		return Header{}, fmt.Errorf("%w: checksum %02X, computed %02X", ErrBadHeader, b[checksumOffset], sum)
	}
	return Header{
		Title:    text(b[TitleOffset : TitleOffset+TitleLen]),
		GameCode: text(b[GameCodeOffset : GameCodeOffset+GameCodeLen]),
		Maker:    text(b[MakerOffset : MakerOffset+2]),
		Version:  b[versionOffset],
	}, nil
}

// Encode renders the header into a zeroed HeaderSize block with a valid
// checksum.
func (h Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	copy(b[TitleOffset:TitleOffset+TitleLen], h.Title)
	copy(b[GameCodeOffset:GameCodeOffset+GameCodeLen], h.GameCode)
	copy(b[MakerOffset:MakerOffset+2], h.Maker)
	b[fixedOffset] = fixedValue
	b[versionOffset] = h.Version
	b[checksumOffset] = checksum(b)
	return b
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b[TitleOffset:checksumOffset] {
		sum -= v
	}
	return sum - 0x19
}

func text(b []byte) string {
	return strings.TrimRight(string(b), "\x00 ")
}

// ReadHeader fetches and parses the header through rom.
func ReadHeader(rom ROMReader, timeout time.Duration) (Header, error) {
	raw, err := rom.ReadROM(0, HeaderSize, timeout)
	if err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	return ParseHeader(raw)
}
