package jedec

// ID is a parsed three-byte serial flash identification (opcode 0x9F).
type ID struct {
	Raw          uint32 // 24-bit id as read
	Manufacturer uint8  // [23:16] JEP106 bank-one code including parity
	MemoryType   uint8  // [15:8]
	Density      uint8  // [7:0] log2 of capacity for most parts
}

// Manufacturer represents a JEP106 manufacturer entry
type Manufacturer struct {
	Code         uint8
	Name         string
	Abbreviation string
}
