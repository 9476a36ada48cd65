package gba

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipdb"
)

// Save capacities of the secondary-slot family.
const (
	EEPROMSmall = 512
	EEPROMLarge = 8 * 1024
	SRAMSize    = 32 * 1024
	FlashSmall  = 64 * 1024
	FlashLarge  = 128 * 1024
)

// Signature is a save-library marker linked into the program image.
type Signature struct {
	Marker string
	Save   chipdb.GameSave
}

// DefaultSignatures maps save-library markers to save types. The EEPROM
// library does not say which size it drives; the larger part is assumed and
// games using the small one need a chip database entry.
var DefaultSignatures = []Signature{
	{"EEPROM_V", chipdb.GameSave{Technology: cart.TechSerialEEPROM, Capacity: EEPROMLarge}},
	{"SRAM_V", chipdb.GameSave{Technology: cart.TechBatterySRAM, Capacity: SRAMSize}},
	{"SRAM_F_V", chipdb.GameSave{Technology: cart.TechBatterySRAM, Capacity: SRAMSize}},
	{"FLASH_V", chipdb.GameSave{Technology: cart.TechNORFlash, Capacity: FlashSmall}},
	{"FLASH512_V", chipdb.GameSave{Technology: cart.TechNORFlash, Capacity: FlashSmall}},
	{"FLASH1M_V", chipdb.GameSave{Technology: cart.TechNORFlash, Capacity: FlashLarge}},
}

// Source says how a save type was decided.
type Source string

const (
	SourceOverride  Source = "override"
	SourceSignature Source = "signature"
	SourceNone      Source = "none"
)

// Detection is the outcome of inspecting a program image.
type Detection struct {
	Header Header
	Save   chipdb.GameSave
	Source Source
	Marker string // set for SourceSignature
	Offset uint32 // where the marker was found
}

// Detect reads the header and decides the save type, first from the chip
// database overrides, then from the earliest save-library marker in the
// image. A missing or corrupt header is returned as ErrBadHeader.
func (a *Adapter) Detect(ctx context.Context) (Detection, error) {
	h, err := ReadHeader(a.rom, a.cfg.ROMTimeout)
	if err != nil {
		if errors.Is(err, ErrBadHeader) {
			return Detection{}, err
		}
		return Detection{}, fmt.Errorf("%w: %w", cart.ErrBusFault, err)
	}
	d := Detection{Header: h, Source: SourceNone}

	if g, ok := a.cfg.DB.Game(h.GameCode); ok {
		a.log.Debug("save type override", "game", h.GameCode, "technology", g.Technology.String())
		d.Save = g
		d.Source = SourceOverride
		return d, nil
	}

	sig, off, found, err := a.scan(ctx)
	if err != nil {
		return Detection{}, err
	}
	if found {
		d.Save = sig.Save
		d.Source = SourceSignature
		d.Marker = sig.Marker
		d.Offset = off
	}
	return d, nil
}

// scan walks the image in chunks, overlapping each read so a marker split
// across two chunks is still seen.
func (a *Adapter) scan(ctx context.Context) (Signature, uint32, bool, error) {
	longest := 0
	for _, s := range a.cfg.Signatures {
		if len(s.Marker) > longest {
			longest = len(s.Marker)
		}
	}
	if longest == 0 {
		return Signature{}, 0, false, nil
	}

	chunk := uint32(a.cfg.ScanChunk)
	overlap := uint32(longest - 1)
	if chunk <= overlap {
		return Signature{}, 0, false, fmt.Errorf("gba: scan chunk %d shorter than marker %d", chunk, longest)
	}
	for base := uint32(0); base < uint32(a.cfg.ScanLimit); base += chunk - overlap {
		if err := ctx.Err(); err != nil {
			return Signature{}, 0, false, err
		}
		n := chunk
		if rest := uint32(a.cfg.ScanLimit) - base; n > rest {
			n = rest
		}
		buf, err := a.rom.ReadROM(base, int(n), a.cfg.ROMTimeout)
		if err != nil {
			return Signature{}, 0, false, fmt.Errorf("%w: scan at %#x: %w", cart.ErrBusFault, base, err)
		}

		best, bestAt := -1, -1
		for i, s := range a.cfg.Signatures {
			if at := bytes.Index(buf, []byte(s.Marker)); at >= 0 && (bestAt < 0 || at < bestAt) {
				best, bestAt = i, at
			}
		}
		if best >= 0 {
			off := base + uint32(bestAt)
			a.log.Debug("save library marker", "marker", a.cfg.Signatures[best].Marker, "offset", off)
			return a.cfg.Signatures[best], off, true, nil
		}
		if n < chunk {
			break
		}
	}
	return Signature{}, 0, false, nil
}
