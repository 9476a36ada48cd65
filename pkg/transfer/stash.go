package transfer

// stash holds bytes read ahead of an erase or a widened program, keyed by
// the start of the align unit they fall in.
type stash struct {
	unit    uint32
	regions map[uint32][]stashPiece
}

type stashPiece struct {
	start uint32
	buf   []byte
}

func newStash(unit uint32) *stash {
	if unit == 0 {
		unit = 1
	}
	return &stash{unit: unit, regions: make(map[uint32][]stashPiece)}
}

func (st *stash) region(off uint32) uint32 { return off / st.unit * st.unit }

// put stores buf at off, split at unit boundaries.
func (st *stash) put(off uint32, buf []byte) {
	for len(buf) > 0 {
		r := st.region(off)
		n := uint64(r) + uint64(st.unit) - uint64(off)
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		st.regions[r] = append(st.regions[r], stashPiece{start: off, buf: buf[:n]})
		off += uint32(n)
		buf = buf[n:]
	}
}

func (st *stash) get(off uint32) (byte, bool) {
	for _, p := range st.regions[st.region(off)] {
		if off >= p.start && off-p.start < uint32(len(p.buf)) {
			return p.buf[off-p.start], true
		}
	}
	return 0, false
}

// drop discards every unit below the one holding off. Plans never return to
// a unit once a later one is programmed.
func (st *stash) drop(off uint32) {
	cur := st.region(off)
	for r := range st.regions {
		if r < cur {
			delete(st.regions, r)
		}
	}
}

// len reports how many units are held.
func (st *stash) len() int { return len(st.regions) }
