package chipdb

import (
	"fmt"
	"strconv"
	"strings"
)

// File is a parsed chip database.
type File struct {
	Entries []*Entry `@@*`
}

// Entry is one statement.
type Entry struct {
	Flash     *FlashEntry     `  @@`
	Threshold *ThresholdEntry `| @@`
	Tier      *TierEntry      `| @@`
	Game      *GameEntry      `| @@`
}

// FlashEntry maps a JEDEC id to a flash part.
// Example: flash 0xC22211 size 128K erase 64K vendor "MXIC";
type FlashEntry struct {
	ID     Hex    `"flash" @Hex`
	Size   Size   `"size" @Size`
	Erase  Size   `( "erase" @Size )?`
	Vendor string `( "vendor" @String )? ";"`
}

// TierEntry declares a serial EEPROM or FRAM capacity tier.
// Example: eeprom tier 8K width 16 page 32;
type TierEntry struct {
	Kind  string `@( "eeprom" | "fram" )`
	Size  Size   `"tier" @Size`
	Width Size   `"width" @Size`
	Page  Size   `( "page" @Size )? ";"`
}

// ThresholdEntry sets the capacity at which EEPROMs stop folding the high
// address bit into the opcode.
// Example: eeprom-page-threshold 1K;
type ThresholdEntry struct {
	Size Size `"eeprom-page-threshold" @Size ";"`
}

// GameEntry forces the secondary-slot save type for a game code.
// Example: game "AXVE" flash-128k;
type GameEntry struct {
	Code string `"game" @String`
	Save string `@Ident ";"`
}

// Size is a byte count written as 512, 64K or 8M.
type Size int

func (s *Size) Capture(values []string) error {
	v := values[0]
	mult := 1
	switch strings.ToUpper(v[len(v)-1:]) {
	case "K":
		mult = 1024
		v = v[:len(v)-1]
	case "M":
		mult = 1024 * 1024
		v = v[:len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", values[0], err)
	}
	*s = Size(n * mult)
	return nil
}

// Hex is a hexadecimal identifier.
type Hex uint32

func (h *Hex) Capture(values []string) error {
	n, err := strconv.ParseUint(values[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", values[0], err)
	}
	*h = Hex(n)
	return nil
}
