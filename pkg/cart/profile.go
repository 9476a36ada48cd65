package cart

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Geometry holds the per-device transfer limits the planner honours.
type Geometry struct {
	MaxRead    int // longest single read transaction
	MaxProgram int // longest single program transaction
	PageSize   int // program ops never cross a page; 0 means no page limit
	Boundary   int // no op of any kind crosses this; 0 means none (banks)

	EraseUnit   int // 0 when the device programs without erasing
	ProgramUnit int // minimum programmable block; 0 or 1 means any byte
	ErasedValue byte

	ReadTimeout    time.Duration
	ProgramTimeout time.Duration
	EraseTimeout   time.Duration
}

// AlignUnit is the granularity write requests are widened to.
func (g Geometry) AlignUnit() int {
	unit := 1
	if g.ProgramUnit > unit {
		unit = g.ProgramUnit
	}
	if g.EraseUnit > unit {
		unit = g.EraseUnit
	}
	return unit
}

// Profile identifies the save device behind one cartridge. It is built once
// per insertion and must be treated as immutable.
type Profile struct {
	Slot         Slot
	Technology   Technology
	AddressWidth int // address bits carried by each command
	Capacity     int // bytes, a power of two when resolved

	// IdentifierCode holds the raw vendor/device bytes of flash parts. It is
	// also kept for unrecognised parts so they can be reported.
	IdentifierCode []byte
	Vendor         string

	Special Special

	Geometry Geometry
	Scheme   Scheme
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// SizeLog2 returns log2 of the capacity, or 0 for unresolved profiles.
func (p Profile) SizeLog2() int {
	if !IsPowerOfTwo(p.Capacity) {
		return 0
	}
	return bits.TrailingZeros(uint(p.Capacity))
}

// Resolved reports whether the profile describes usable save memory.
func (p Profile) Resolved() bool {
	if p.Special != SpecialNone || p.Technology == TechUnknown {
		return false
	}
	if !IsPowerOfTwo(p.Capacity) || p.Capacity < p.Technology.MinCapacity() {
		return false
	}
	return p.Scheme != nil
}

// Usable returns nil when transfers may run against the profile, otherwise
// ErrUnsupportedDevice or ErrUnresolvedChip.
func (p Profile) Usable() error {
	if p.Special != SpecialNone {
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, p.Special)
	}
	if !p.Resolved() {
		return ErrUnresolvedChip
	}
	return nil
}

// ID returns the identifier code as a big-endian integer.
func (p Profile) ID() uint32 {
	var id uint32
	for _, b := range p.IdentifierCode {
		id = id<<8 | uint32(b)
	}
	return id
}

func (p Profile) String() string {
	switch p.Special {
	case SpecialNone:
	case SpecialFlashCard:
		return p.Special.Label()
	default:
		return fmt.Sprintf("%s peripheral", p.Special.Label())
	}
	if !p.Resolved() {
		if len(p.IdentifierCode) > 0 {
			return fmt.Sprintf("unknown (id %06X)", p.ID())
		}
		return "unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", p.Technology.Label(), humanize.IBytes(uint64(p.Capacity)))
	if p.AddressWidth > 0 {
		fmt.Fprintf(&sb, " (%d-bit)", p.AddressWidth)
	}
	if len(p.IdentifierCode) > 0 {
		fmt.Fprintf(&sb, " id %06X", p.ID())
	}
	if p.Vendor != "" {
		fmt.Fprintf(&sb, " %s", p.Vendor)
	}
	return sb.String()
}
