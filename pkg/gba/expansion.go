package gba

import (
	"context"
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Expansion is a memory expansion pack answering in the secondary slot. The
// 3in1 packs carry NOR, PSRAM and a battery-backed SRAM.
type Expansion struct {
	ID   uint32
	Name string
}

var expansionNames = map[uint32]string{
	0x89168916: "3in1 (512M)",
	0x227E2218: "3in1 (256M V2)",
	0x227E2202: "3in1 (256M V1)",
}

// DetectExpansion asks the bridge for an expansion pack NOR id. ok is false
// when the reader cannot ask or nothing answered.
func (a *Adapter) DetectExpansion(ctx context.Context) (Expansion, bool, error) {
	xr, ok := a.rom.(ExpansionReader)
	if !ok {
		return Expansion{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return Expansion{}, false, err
	}
	id, err := xr.ReadExpansionID(a.cfg.ROMTimeout)
	if err != nil {
		return Expansion{}, false, fmt.Errorf("%w: expansion id: %w", cart.ErrBusFault, err)
	}
	if id == 0 || id == 0xFFFFFFFF {
		return Expansion{}, false, nil
	}
	name, known := expansionNames[id]
	if !known {
		name = "3in1 (???M)"
	}
	return Expansion{ID: id, Name: name}, true, nil
}
