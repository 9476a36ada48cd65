package jedec

import "fmt"

// Parse splits a raw 24-bit id into its fields.
func Parse(raw uint32) ID {
	return ID{
		Raw:          raw & 0xFFFFFF,
		Manufacturer: uint8(raw >> 16),
		MemoryType:   uint8(raw >> 8),
		Density:      uint8(raw),
	}
}

// FromBytes parses the three bytes returned after the id opcode.
func FromBytes(b []byte) (ID, error) {
	if len(b) < 3 {
		return ID{}, fmt.Errorf("jedec: need 3 id bytes, got %d", len(b))
	}
	return Parse(uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])), nil
}

// Bytes returns the id in bus order.
func (id ID) Bytes() []byte {
	return []byte{id.Manufacturer, id.MemoryType, id.Density}
}

// Floating reports whether the id is what an undriven bus returns.
func (id ID) Floating() bool {
	return id.Raw == 0xFFFFFF || id.Raw == 0x000000
}

// DensityBytes returns the capacity encoded in the density byte, or 0 when
// the byte does not hold a plausible log2 size.
func (id ID) DensityBytes() int {
	if id.Density < 10 || id.Density > 30 {
		return 0
	}
	return 1 << id.Density
}

func (id ID) String() string {
	return fmt.Sprintf("%06X", id.Raw)
}
