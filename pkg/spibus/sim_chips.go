package spibus

// SimMemory models serial EEPROM and FRAM. FRAM is a SimMemory with no page
// limit and no busy time.
type SimMemory struct {
	Data      []byte
	AddrBytes int // 1 folds address bit 8 into the opcode
	PageSize  int // writes wrap inside a page; 0 means no wrap
	BusyPolls int // status polls a write keeps WIP set

	wel  bool
	busy int
}

// NewSimEEPROM returns an erased EEPROM.
func NewSimEEPROM(size, addrBytes, pageSize, busyPolls int) *SimMemory {
	return &SimMemory{
		Data:      fill(size, 0xFF),
		AddrBytes: addrBytes,
		PageSize:  pageSize,
		BusyPolls: busyPolls,
	}
}

// NewSimFRAM returns a zeroed two-byte-address FRAM.
func NewSimFRAM(size int) *SimMemory {
	return &SimMemory{Data: make([]byte, size), AddrBytes: 2}
}

// Busy reports whether a write cycle is still running.
func (m *SimMemory) Busy() bool {
	return m.busy > 0
}

func (m *SimMemory) status() byte {
	var st byte
	if m.busy > 0 {
		st |= StatusWIP
	}
	if m.wel {
		st |= StatusWEL
	}
	return st
}

func (m *SimMemory) Exchange(mosi []byte) []byte {
	miso := floating(len(mosi))
	if len(mosi) == 0 {
		return miso
	}
	op := mosi[0]

	if op == OpReadStatus {
		st := m.status()
		for i := 1; i < len(mosi); i++ {
			miso[i] = st
		}
		if m.busy > 0 {
			m.busy--
		}
		return miso
	}
	if m.busy > 0 {
		return miso
	}

	base := op
	if m.AddrBytes == 1 {
		base &^= OpHighAddressBit
	}
	switch {
	case op == OpWriteEnable:
		m.wel = true
	case op == OpWriteDisable:
		m.wel = false
	case base == OpRead:
		addr, body, ok := m.address(op, mosi)
		if !ok {
			return miso
		}
		for i := body; i < len(mosi); i++ {
			miso[i] = m.Data[int(addr)%len(m.Data)]
			addr++
		}
	case base == OpProgram:
		if !m.wel {
			return miso
		}
		addr, body, ok := m.address(op, mosi)
		if !ok {
			return miso
		}
		m.write(addr, mosi[body:])
		m.wel = false
		m.busy = m.BusyPolls
	}
	return miso
}

func (m *SimMemory) address(op byte, mosi []byte) (uint32, int, bool) {
	if len(mosi) < 1+m.AddrBytes {
		return 0, 0, false
	}
	var addr uint32
	for _, b := range mosi[1 : 1+m.AddrBytes] {
		addr = addr<<8 | uint32(b)
	}
	if m.AddrBytes == 1 && op&OpHighAddressBit != 0 {
		addr |= 0x100
	}
	return addr, 1 + m.AddrBytes, true
}

func (m *SimMemory) write(addr uint32, data []byte) {
	size := uint32(len(m.Data))
	if m.PageSize == 0 {
		for i, b := range data {
			m.Data[(addr+uint32(i))%size] = b
		}
		return
	}
	page := uint32(m.PageSize)
	start := addr % size
	pageBase := start &^ (page - 1)
	for i, b := range data {
		m.Data[pageBase+(start-pageBase+uint32(i))%page] = b
	}
}

// SimFlash models a NOR flash with JEDEC identification. Programming can only
// clear bits; erase restores 0xFF.
type SimFlash struct {
	Data         []byte
	ID           [3]byte
	SectorSize   int
	PageSize     int
	ProgramPolls int
	ErasePolls   int

	wel  bool
	busy int
}

// NewSimFlash returns an erased flash answering id.
func NewSimFlash(size int, id uint32) *SimFlash {
	return &SimFlash{
		Data:         fill(size, 0xFF),
		ID:           [3]byte{byte(id >> 16), byte(id >> 8), byte(id)},
		SectorSize:   64 * 1024,
		PageSize:     256,
		ProgramPolls: 1,
		ErasePolls:   3,
	}
}

func (f *SimFlash) Exchange(mosi []byte) []byte {
	miso := floating(len(mosi))
	if len(mosi) == 0 {
		return miso
	}
	op := mosi[0]

	if op == OpReadStatus {
		var st byte
		if f.busy > 0 {
			st |= StatusWIP
		}
		if f.wel {
			st |= StatusWEL
		}
		for i := 1; i < len(mosi); i++ {
			miso[i] = st
		}
		if f.busy > 0 {
			f.busy--
		}
		return miso
	}
	if f.busy > 0 {
		return miso
	}

	switch op {
	case OpWriteEnable:
		f.wel = true
	case OpWriteDisable:
		f.wel = false
	case OpReadID:
		for i := 1; i < len(mosi) && i <= 3; i++ {
			miso[i] = f.ID[i-1]
		}
	case OpRead:
		addr, ok := addr24(mosi)
		if !ok {
			return miso
		}
		for i := 4; i < len(mosi); i++ {
			miso[i] = f.Data[int(addr)%len(f.Data)]
			addr++
		}
	case OpProgram:
		addr, ok := addr24(mosi)
		if !ok || !f.wel {
			return miso
		}
		page := uint32(f.PageSize)
		start := addr % uint32(len(f.Data))
		base := start &^ (page - 1)
		for i, b := range mosi[4:] {
			f.Data[base+(start-base+uint32(i))%page] &= b
		}
		f.wel = false
		f.busy = f.ProgramPolls
	case OpSectorErase, OpSubsector, OpPageErase:
		addr, ok := addr24(mosi)
		if !ok || !f.wel {
			return miso
		}
		unit := f.SectorSize
		switch op {
		case OpPageErase:
			unit = f.PageSize
		case OpSubsector:
			unit = 4096
		}
		start := int(addr%uint32(len(f.Data))) &^ (unit - 1)
		for i := start; i < start+unit && i < len(f.Data); i++ {
			f.Data[i] = 0xFF
		}
		f.wel = false
		f.busy = f.ErasePolls
	}
	return miso
}

func addr24(mosi []byte) (uint32, bool) {
	if len(mosi) < 4 {
		return 0, false
	}
	return uint32(mosi[1])<<16 | uint32(mosi[2])<<8 | uint32(mosi[3]), true
}

// SimPeripheral answers a fixed query with a fixed reply and floats on
// everything else.
type SimPeripheral struct {
	Query []byte
	Reply []byte
}

func (p *SimPeripheral) Exchange(mosi []byte) []byte {
	miso := floating(len(mosi))
	if len(mosi) < len(p.Query) {
		return miso
	}
	for i, b := range p.Query {
		if mosi[i] != b {
			return miso
		}
	}
	copy(miso[len(p.Query):], p.Reply)
	return miso
}

func fill(n int, v byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}
