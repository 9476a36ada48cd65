package cart

import "time"

// OpKind is the kind of a single bus operation in a transfer plan.
type OpKind uint8

const (
	OpRead OpKind = iota
	OpErase
	OpProgram
	// OpStash reads bytes that a following erase would destroy so they can be
	// programmed back. It never delivers data to the caller.
	OpStash
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpErase:
		return "erase"
	case OpProgram:
		return "program"
	case OpStash:
		return "stash"
	default:
		return "op?"
	}
}

// Command is a fully encoded bus operation. Which fields are meaningful
// depends on the Scheme that produced it; executors only interpret commands
// from the scheme they belong to.
type Command struct {
	Kind   OpKind
	Offset uint32
	Length int

	// Header is the opcode and address exactly as clocked onto a serial bus.
	Header []byte

	// Address is the device-relative address. For banked devices it is
	// relative to Bank; Bank is -1 when the device is not banked.
	Address     uint32
	Bank        int
	AddressBits int

	WriteEnable bool
	PollReady   bool
	Timeout     time.Duration
}

// End is one past the last byte the command touches.
func (c Command) End() uint32 {
	return c.Offset + uint32(c.Length)
}

// Scheme encodes operations for one identified device. Profiles carry the
// scheme that matches their technology and addressing tier, so planners and
// engines never branch on technology themselves.
type Scheme interface {
	Encode(kind OpKind, offset uint32, length int) (Command, error)
}
