package chipid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/chipdb"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
)

const (
	// echoWindow is snapshotted before the first write. Every marker write,
	// whatever addressing convention the chip actually decodes, lands inside it.
	echoWindow = 16
	markerLen  = 6
)

// signature fills marker bytes 2..5. Each byte is complemented where it
// matches the old contents so the marker always differs from them.
var signature = [markerLen - 2]byte{0x5A, 0xC3, 0x96, 0x3C}

// candidate is one addressing convention of the echo test.
type candidate struct {
	tech   cart.Technology
	width  int
	tiers  []chipdb.Tier // smallest first
	scheme SPIScheme
	poll   bool

	snapshot []byte
}

func (c *candidate) String() string {
	return fmt.Sprintf("%s/%d-bit", c.tech, c.width)
}

func (c *candidate) marker() []byte {
	m := make([]byte, markerLen)
	for i, b := range signature {
		if c.snapshot[2+i] == b {
			b = ^b
		}
		m[2+i] = b
	}
	return m
}

// candidates lists one convention per technology and address width, widest
// first, FRAM ahead of EEPROM at equal width.
func (id *Identifier) candidates() []*candidate {
	index := make(map[[2]int]*candidate)
	var out []*candidate
	for _, t := range id.cfg.DB.Tiers {
		key := [2]int{int(t.Technology), t.AddressWidth}
		if _, ok := index[key]; ok {
			continue
		}
		c := &candidate{
			tech:  t.Technology,
			width: t.AddressWidth,
			tiers: id.cfg.DB.TiersFor(t.Technology, t.AddressWidth),
			poll:  t.Technology != cart.TechFRAM,
			scheme: SPIScheme{
				AddressWidth:  t.AddressWidth,
				ByteAddressed: t.AddressWidth == 8,
			},
		}
		index[key] = c
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].width != out[j].width {
			return out[i].width > out[j].width
		}
		return out[i].tech == cart.TechFRAM && out[j].tech != cart.TechFRAM
	})
	return out
}

// echo writes a marker with each candidate convention until one reads back,
// then restores the window with that convention.
//
// Only the convention that echoed ever writes a snapshot back. Every marker
// write lands inside the window whatever the chip decodes, so the winner's
// snapshot covers all of it. Once the first marker is written the stage runs
// to the end.
func (id *Identifier) echo(ctx context.Context) (cart.Profile, bool, error) {
	st, err := id.bus.ReadStatus(id.cfg.ExchangeTimeout)
	if err != nil {
		return cart.Profile{}, false, fmt.Errorf("echo status: %w", err)
	}
	if st == spibus.StatusFloating {
		id.log.Debug("status register floating, no serial memory to echo")
		return cart.Profile{}, false, nil
	}

	cands := id.candidates()

	// Snapshot with every convention before anything is written.
	for _, c := range cands {
		snap, err := id.read(c, 0, echoWindow)
		if err != nil {
			return cart.Profile{}, false, fmt.Errorf("echo snapshot %s: %w", c, err)
		}
		c.snapshot = snap
	}
	if err := ctx.Err(); err != nil {
		return cart.Profile{}, false, err
	}

	winner, faults := id.findEcho(cands)
	if winner == nil {
		if faults != nil {
			return cart.Profile{}, false, fmt.Errorf("%w: echo test left address 0 unrestored: %w", cart.ErrBusFault, faults)
		}
		return cart.Profile{}, false, nil
	}

	tier, err := id.aliasCheck(winner)
	if err != nil {
		faults = errors.Join(faults, err)
	}
	if err := id.restore(winner, winner.snapshot); err != nil {
		id.log.Debug("restore faulted, retrying", "candidate", winner.String(), "error", err)
		faults = errors.Join(faults, err)
		if err := id.restore(winner, winner.snapshot); err != nil {
			return cart.Profile{}, false, fmt.Errorf("%w: echo test left address 0 unrestored: %w", cart.ErrBusFault, errors.Join(faults, err))
		}
	}
	if faults != nil {
		// The chip is restored but the classification ran over a faulty bus.
		return cart.Profile{}, false, fmt.Errorf("%w: echo test: %w", cart.ErrBusFault, faults)
	}

	byteAddressed := tier.AddressWidth == 8
	if tier.Technology == cart.TechSerialEEPROM {
		byteAddressed = id.cfg.DB.ByteAddressed(tier.Capacity)
	}
	return MemoryProfile(tier, byteAddressed), true, nil
}

// findEcho returns the first candidate that round-trips its marker. A
// candidate that faults is tried once more so the convention the chip decodes
// is still found and the window can be restored; the faults are returned
// either way.
func (id *Identifier) findEcho(cands []*candidate) (*candidate, error) {
	var faults error
	for _, c := range cands {
		ok, err := id.tryEcho(c)
		if err != nil {
			id.log.Debug("echo candidate faulted, retrying", "candidate", c.String(), "error", err)
			faults = errors.Join(faults, fmt.Errorf("%s: %w", c, err))
			if ok, err = id.tryEcho(c); err != nil {
				faults = errors.Join(faults, fmt.Errorf("%s: %w", c, err))
				continue
			}
		}
		id.log.Debug("echo candidate", "candidate", c.String(), "match", ok)
		if ok {
			return c, faults
		}
	}
	return nil, faults
}

func (id *Identifier) tryEcho(c *candidate) (bool, error) {
	timeout := id.cfg.ExchangeTimeout
	if err := id.bus.WaitReady(timeout); err != nil {
		return false, err
	}
	marker := c.marker()
	if err := id.bus.WriteEnable(timeout); err != nil {
		return false, err
	}
	if err := id.bus.WriteBytes(c.scheme.Header(spibus.OpProgram, 0), marker, timeout); err != nil {
		return false, err
	}
	if c.poll {
		if err := id.bus.WaitReady(timeout); err != nil {
			return false, err
		}
	}

	got, err := id.read(c, 0, markerLen)
	if err != nil || !bytes.Equal(got, marker) {
		return false, err
	}
	// A surplus address byte shows the same shifted view at every address.
	got, err = id.read(c, 1, markerLen-1)
	if err != nil || !bytes.Equal(got, marker[1:]) {
		return false, err
	}
	return true, nil
}

// aliasCheck finds the smallest tier whose size wraps back onto the marker.
// The largest tier of a width cannot be aliased and is taken as the fallback.
func (id *Identifier) aliasCheck(c *candidate) (chipdb.Tier, error) {
	marker := c.marker()
	for i, t := range c.tiers {
		if i == len(c.tiers)-1 {
			return t, nil
		}
		got, err := id.read(c, uint32(t.Capacity), markerLen)
		if err != nil {
			return chipdb.Tier{}, fmt.Errorf("alias check at %#x: %w", t.Capacity, err)
		}
		if bytes.Equal(got, marker) {
			return t, nil
		}
	}
	return chipdb.Tier{}, fmt.Errorf("chipid: %s has no tiers", c)
}

// restore writes snapshot back with c's convention, one page at a time, and
// reads it back.
func (id *Identifier) restore(c *candidate, snapshot []byte) error {
	timeout := id.cfg.ExchangeTimeout
	step := len(snapshot)
	if len(c.tiers) > 0 && c.tiers[0].PageSize > 0 && c.tiers[0].PageSize < step {
		step = c.tiers[0].PageSize
	}
	for off := 0; off < len(snapshot); off += step {
		end := off + step
		if end > len(snapshot) {
			end = len(snapshot)
		}
		if err := id.bus.WaitReady(timeout); err != nil {
			return fmt.Errorf("restore %s: %w", c, err)
		}
		if err := id.bus.WriteEnable(timeout); err != nil {
			return fmt.Errorf("restore %s: %w", c, err)
		}
		header := c.scheme.Header(spibus.OpProgram, uint32(off))
		if err := id.bus.WriteBytes(header, snapshot[off:end], timeout); err != nil {
			return fmt.Errorf("restore %s: %w", c, err)
		}
	}
	if err := id.bus.WaitReady(timeout); err != nil {
		return fmt.Errorf("restore %s: %w", c, err)
	}
	got, err := id.read(c, 0, len(snapshot))
	if err != nil {
		return fmt.Errorf("restore %s: %w", c, err)
	}
	if !bytes.Equal(got, snapshot) {
		return fmt.Errorf("%w: restore %s read back % X, want % X", cart.ErrBusFault, c, got, snapshot)
	}
	return nil
}

func (id *Identifier) read(c *candidate, addr uint32, n int) ([]byte, error) {
	return id.bus.ReadBytes(c.scheme.Header(spibus.OpRead, addr), n, id.cfg.ExchangeTimeout)
}
