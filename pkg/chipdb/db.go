package chipdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/jedec"
)

// FlashChip describes a NOR flash part known by JEDEC id.
type FlashChip struct {
	ID        uint32
	Capacity  int
	EraseUnit int
	Vendor    string
}

// Tier is one serial EEPROM or FRAM capacity with its addressing.
type Tier struct {
	Technology   cart.Technology
	Capacity     int
	AddressWidth int
	PageSize     int // 0 for FRAM, which has no page limit
}

// GameSave is a forced secondary-slot save type.
type GameSave struct {
	Technology cart.Technology
	Capacity   int
}

// DB holds every table the identifier and the secondary-slot detector
// consult. A parsed file overlays the built-in defaults.
type DB struct {
	Flash map[uint32]FlashChip
	Tiers []Tier

	// PageThreshold is the EEPROM capacity at and above which commands carry
	// the full address; smaller parts fold address bit 8 into the opcode.
	PageThreshold int

	// MinFlashCapacity bounds the density-byte fallback for ids missing from
	// the table.
	MinFlashCapacity int

	Games map[string]GameSave
}

// DefaultFlashEraseUnit is used for entries that do not state one.
const DefaultFlashEraseUnit = 64 * 1024

// Default returns the built-in tables.
func Default() *DB {
	db := &DB{
		Flash:            make(map[uint32]FlashChip),
		PageThreshold:    1024,
		MinFlashCapacity: 64 * 1024,
		Games:            make(map[string]GameSave),
	}
	for _, f := range defaultFlash {
		db.Flash[f.ID] = f
	}
	db.Tiers = append(db.Tiers, defaultTiers...)
	for code, g := range defaultGames {
		db.Games[code] = g
	}
	db.sortTiers()
	return db
}

// LookupFlash resolves a JEDEC id. Ids absent from the table are accepted
// when the vendor is known and the density byte encodes at least
// MinFlashCapacity.
func (db *DB) LookupFlash(id jedec.ID) (FlashChip, bool) {
	if id.Floating() {
		return FlashChip{}, false
	}
	if f, ok := db.Flash[id.Raw]; ok {
		if f.Vendor == "" {
			f.Vendor = id.Vendor()
		}
		return f, true
	}
	if _, known := jedec.LookupManufacturer(id.Manufacturer); !known {
		return FlashChip{}, false
	}
	size := id.DensityBytes()
	if size == 0 || size < db.MinFlashCapacity {
		return FlashChip{}, false
	}
	return FlashChip{ID: id.Raw, Capacity: size, EraseUnit: DefaultFlashEraseUnit, Vendor: id.Vendor()}, true
}

// TiersFor returns the tiers of one technology and width, smallest first.
func (db *DB) TiersFor(tech cart.Technology, width int) []Tier {
	var out []Tier
	for _, t := range db.Tiers {
		if t.Technology == tech && t.AddressWidth == width {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capacity < out[j].Capacity })
	return out
}

// ByteAddressed reports whether an EEPROM of this capacity folds address bit
// 8 into the opcode.
func (db *DB) ByteAddressed(capacity int) bool {
	return capacity < db.PageThreshold
}

// Game returns the override for a four-letter game code.
func (db *DB) Game(code string) (GameSave, bool) {
	g, ok := db.Games[strings.ToUpper(code)]
	return g, ok
}

// Merge overlays a parsed file. Entries replace defaults with the same key;
// tiers replace the default tier of the same technology and capacity.
func (db *DB) Merge(f *File) error {
	for i, e := range f.Entries {
		var err error
		switch {
		case e.Flash != nil:
			err = db.mergeFlash(e.Flash)
		case e.Tier != nil:
			err = db.mergeTier(e.Tier)
		case e.Threshold != nil:
			if e.Threshold.Size <= 0 {
				err = fmt.Errorf("threshold must be positive")
			}
			db.PageThreshold = int(e.Threshold.Size)
		case e.Game != nil:
			err = db.mergeGame(e.Game)
		}
		if err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}
	db.sortTiers()
	return db.Validate()
}

func (db *DB) mergeFlash(e *FlashEntry) error {
	if !cart.IsPowerOfTwo(int(e.Size)) {
		return fmt.Errorf("flash %06X: size %d is not a power of two", uint32(e.ID), e.Size)
	}
	erase := int(e.Erase)
	if erase == 0 {
		erase = DefaultFlashEraseUnit
	}
	if !cart.IsPowerOfTwo(erase) || erase > int(e.Size) {
		return fmt.Errorf("flash %06X: bad erase unit %d", uint32(e.ID), erase)
	}
	db.Flash[uint32(e.ID)] = FlashChip{
		ID:        uint32(e.ID),
		Capacity:  int(e.Size),
		EraseUnit: erase,
		Vendor:    e.Vendor,
	}
	return nil
}

func (db *DB) mergeTier(e *TierEntry) error {
	tech := cart.TechSerialEEPROM
	if e.Kind == "fram" {
		tech = cart.TechFRAM
	}
	t := Tier{
		Technology:   tech,
		Capacity:     int(e.Size),
		AddressWidth: int(e.Width),
		PageSize:     int(e.Page),
	}
	if tech == cart.TechFRAM {
		t.PageSize = 0
	}
	for i, old := range db.Tiers {
		if old.Technology == t.Technology && old.Capacity == t.Capacity {
			db.Tiers[i] = t
			return nil
		}
	}
	db.Tiers = append(db.Tiers, t)
	return nil
}

func (db *DB) mergeGame(e *GameEntry) error {
	if len(e.Code) != 4 {
		return fmt.Errorf("game code %q must be four characters", e.Code)
	}
	save, ok := SaveType(e.Save)
	if !ok {
		return fmt.Errorf("game %s: unknown save type %q", e.Code, e.Save)
	}
	db.Games[strings.ToUpper(e.Code)] = save
	return nil
}

// Validate checks that every tier is addressable.
func (db *DB) Validate() error {
	for _, t := range db.Tiers {
		if !cart.IsPowerOfTwo(t.Capacity) {
			return fmt.Errorf("%s tier %d is not a power of two", t.Technology, t.Capacity)
		}
		switch t.AddressWidth {
		case 8, 16, 24:
		default:
			return fmt.Errorf("%s tier %d: unsupported address width %d", t.Technology, t.Capacity, t.AddressWidth)
		}
		limit := 1 << t.AddressWidth
		if t.AddressWidth == 8 {
			// Bit 8 travels in the opcode.
			limit = 512
		}
		if t.Technology == cart.TechSerialEEPROM && (t.AddressWidth == 8) != db.ByteAddressed(t.Capacity) {
			return fmt.Errorf("eeprom tier %d with %d-bit addressing conflicts with page threshold %d",
				t.Capacity, t.AddressWidth, db.PageThreshold)
		}
		if t.Technology == cart.TechFRAM && t.AddressWidth == 8 {
			return fmt.Errorf("fram tier %d: 8-bit addressing is not supported", t.Capacity)
		}
		if t.Capacity > limit {
			return fmt.Errorf("%s tier %d exceeds %d-bit addressing", t.Technology, t.Capacity, t.AddressWidth)
		}
		if t.PageSize != 0 && (!cart.IsPowerOfTwo(t.PageSize) || t.PageSize > t.Capacity) {
			return fmt.Errorf("%s tier %d: bad page size %d", t.Technology, t.Capacity, t.PageSize)
		}
	}
	return nil
}

func (db *DB) sortTiers() {
	sort.SliceStable(db.Tiers, func(i, j int) bool {
		a, b := db.Tiers[i], db.Tiers[j]
		if a.Technology != b.Technology {
			return a.Technology < b.Technology
		}
		return a.Capacity < b.Capacity
	})
}

// Load returns the defaults overlaid with the file at path. An empty path
// yields the defaults.
func Load(path string) (*DB, error) {
	db := Default()
	if path == "" {
		return db, nil
	}
	p, err := NewParser()
	if err != nil {
		return nil, err
	}
	f, err := p.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("chipdb %s: %w", path, err)
	}
	if err := db.Merge(f); err != nil {
		return nil, fmt.Errorf("chipdb %s: %w", path, err)
	}
	return db, nil
}
