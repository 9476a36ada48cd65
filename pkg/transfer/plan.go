package transfer

import (
	"fmt"
	"sort"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Direction of a transfer.
type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// ChunkOp is one bus operation of a plan.
type ChunkOp struct {
	Offset uint32
	Length int
	Kind   cart.OpKind

	// Fill marks program ops carrying no caller bytes; their data comes from
	// stash ops earlier in the plan.
	Fill bool

	Command cart.Command
	// Verify reads cover [Offset, Offset+Length) after a program or erase.
	Verify []cart.Command
}

// End is one past the last byte of the op.
func (op ChunkOp) End() uint32 {
	return op.Offset + uint32(op.Length)
}

// Plan is an ordered list of ops covering one caller request.
type Plan struct {
	Direction Direction
	Offset    uint32
	Length    int
	Geometry  cart.Geometry
	Ops       []ChunkOp
}

// End is one past the last requested byte.
func (p *Plan) End() uint32 {
	return p.Offset + uint32(p.Length)
}

// CallerBytes returns how many requested bytes op carries.
func (p *Plan) CallerBytes(op ChunkOp) int {
	if op.Kind == cart.OpErase || op.Kind == cart.OpStash || op.Fill {
		return 0
	}
	lo, hi := op.Offset, op.End()
	if lo < p.Offset {
		lo = p.Offset
	}
	if hi > p.End() {
		hi = p.End()
	}
	if hi <= lo {
		return 0
	}
	return int(hi - lo)
}

// Count returns the number of ops of a kind.
func (p *Plan) Count(kind cart.OpKind) int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// NewPlan builds the op sequence for reading or writing length bytes at
// offset. It fails before any bus access when the profile is not usable or
// the range leaves the chip.
func NewPlan(profile cart.Profile, offset uint32, length int, dir Direction) (*Plan, error) {
	if err := profile.Usable(); err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: empty request", cart.ErrOutOfRange)
	}
	if uint64(offset)+uint64(length) > uint64(profile.Capacity) {
		return nil, fmt.Errorf("%w: %d bytes at %#x on a %d byte chip",
			cart.ErrOutOfRange, length, offset, profile.Capacity)
	}

	geo := profile.Geometry
	if geo.MaxRead <= 0 || geo.MaxProgram <= 0 {
		return nil, fmt.Errorf("transfer: profile %s has no transaction limits", profile)
	}

	b := &builder{
		plan: &Plan{
			Direction: dir,
			Offset:    offset,
			Length:    length,
			Geometry:  geo,
		},
		scheme: profile.Scheme,
		geo:    geo,
	}
	var err error
	if dir == DirRead {
		err = b.reads(cart.OpRead, offset, offset+uint32(length))
	} else {
		err = b.writes(profile.Capacity)
	}
	if err != nil {
		return nil, err
	}
	return b.plan, nil
}

type builder struct {
	plan   *Plan
	scheme cart.Scheme
	geo    cart.Geometry
}

type span struct {
	start, end uint32
}

// split cuts [start, end) into spans of at most max bytes that never cross
// a page (when page > 0) or the geometry boundary.
func (b *builder) split(start, end uint32, max, page int) []span {
	var out []span
	for off := start; off < end; {
		n := end - off
		if n > uint32(max) {
			n = uint32(max)
		}
		for _, limit := range []int{page, b.geo.Boundary} {
			if limit <= 0 {
				continue
			}
			if room := uint32(limit) - off%uint32(limit); n > room {
				n = room
			}
		}
		out = append(out, span{off, off + n})
		off += n
	}
	return out
}

func (b *builder) add(kind cart.OpKind, s span, fill bool) error {
	cmd, err := b.scheme.Encode(kind, s.start, int(s.end-s.start))
	if err != nil {
		return err
	}
	op := ChunkOp{
		Offset:  s.start,
		Length:  int(s.end - s.start),
		Kind:    kind,
		Fill:    fill,
		Command: cmd,
	}
	if kind == cart.OpProgram || kind == cart.OpErase {
		for _, v := range b.split(s.start, s.end, b.geo.MaxRead, 0) {
			vc, err := b.scheme.Encode(cart.OpRead, v.start, int(v.end-v.start))
			if err != nil {
				return err
			}
			op.Verify = append(op.Verify, vc)
		}
	}
	b.plan.Ops = append(b.plan.Ops, op)
	return nil
}

func (b *builder) reads(kind cart.OpKind, start, end uint32) error {
	for _, s := range b.split(start, end, b.geo.MaxRead, 0) {
		if err := b.add(kind, s, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) writes(capacity int) error {
	unit := uint32(b.geo.AlignUnit())
	start := b.plan.Offset / unit * unit
	end := (b.plan.End() + unit - 1) / unit * unit
	if end > uint32(capacity) {
		end = uint32(capacity)
	}

	if b.geo.EraseUnit > 0 {
		erase := uint32(b.geo.EraseUnit)
		for region := start; region < end; region += erase {
			if err := b.eraseRegion(span{region, region + erase}); err != nil {
				return err
			}
		}
		return nil
	}

	// Program-unit widening without erase: stash the head and tail first.
	if err := b.stash(span{start, end}); err != nil {
		return err
	}
	for _, s := range b.split(start, end, b.geo.MaxProgram, b.geo.PageSize) {
		if err := b.add(cart.OpProgram, s, false); err != nil {
			return err
		}
	}
	return nil
}

// eraseRegion emits stash reads for bytes outside the request, the erase,
// then program ops. Fill-only programs go first so the region's last op
// always completes caller bytes.
func (b *builder) eraseRegion(region span) error {
	if err := b.stash(region); err != nil {
		return err
	}
	if err := b.add(cart.OpErase, region, false); err != nil {
		return err
	}

	spans := b.split(region.start, region.end, b.geo.MaxProgram, b.geo.PageSize)
	fill := func(s span) bool {
		return s.end <= b.plan.Offset || s.start >= b.plan.End()
	}
	sort.SliceStable(spans, func(i, j int) bool {
		return fill(spans[i]) && !fill(spans[j])
	})
	for _, s := range spans {
		if err := b.add(cart.OpProgram, s, fill(s)); err != nil {
			return err
		}
	}
	return nil
}

// stash adds reads for the parts of r that lie outside the request.
func (b *builder) stash(r span) error {
	if r.start < b.plan.Offset {
		end := b.plan.Offset
		if end > r.end {
			end = r.end
		}
		if err := b.reads(cart.OpStash, r.start, end); err != nil {
			return err
		}
	}
	if r.end > b.plan.End() {
		start := b.plan.End()
		if start < r.start {
			start = r.start
		}
		if err := b.reads(cart.OpStash, start, r.end); err != nil {
			return err
		}
	}
	return nil
}
