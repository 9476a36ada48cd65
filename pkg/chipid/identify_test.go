package chipid

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/nds"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
)

func newIdentifier(chip spibus.SimChip) (*Identifier, *spibus.SimLink) {
	sim := spibus.NewSimLink(spibus.TransportInfo{Name: "sim"})
	if chip != nil {
		sim.Insert(cart.Slot1, chip)
	}
	return New(spibus.NewBus(sim), WithExchangeTimeout(5*time.Millisecond)), sim
}

func seeded(data []byte) []byte {
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func TestIdentifyMemoryTiers(t *testing.T) {
	tests := []struct {
		name     string
		chip     func() *spibus.SimMemory
		tech     cart.Technology
		width    int
		capacity int
	}{
		{"eeprom 512", func() *spibus.SimMemory { return spibus.NewSimEEPROM(512, 1, 16, 2) }, cart.TechSerialEEPROM, 8, 512},
		{"eeprom 8K", func() *spibus.SimMemory { return spibus.NewSimEEPROM(8*1024, 2, 32, 2) }, cart.TechSerialEEPROM, 16, 8 * 1024},
		{"eeprom 64K", func() *spibus.SimMemory { return spibus.NewSimEEPROM(64*1024, 2, 128, 2) }, cart.TechSerialEEPROM, 16, 64 * 1024},
		{"eeprom 128K", func() *spibus.SimMemory { return spibus.NewSimEEPROM(128*1024, 3, 256, 2) }, cart.TechSerialEEPROM, 24, 128 * 1024},
		{"fram 8K", func() *spibus.SimMemory { return spibus.NewSimFRAM(8 * 1024) }, cart.TechFRAM, 16, 8 * 1024},
		{"fram 32K", func() *spibus.SimMemory { return spibus.NewSimFRAM(32 * 1024) }, cart.TechFRAM, 16, 32 * 1024},
	}

	for _, tt := range tests {
		for _, blank := range []bool{true, false} {
			name := tt.name + " blank"
			if !blank {
				name = tt.name + " with data"
			}
			t.Run(name, func(t *testing.T) {
				chip := tt.chip()
				if !blank {
					seeded(chip.Data)
				}
				before := append([]byte(nil), chip.Data...)

				id, _ := newIdentifier(chip)
				session := cart.NewSession(cart.Slot1)
				p, err := id.Identify(context.Background(), session)
				if err != nil {
					t.Fatalf("Identify: %v", err)
				}
				if p.Technology != tt.tech || p.AddressWidth != tt.width || p.Capacity != tt.capacity {
					t.Fatalf("profile = %s (%d-bit, %d bytes), want %s %d-bit %d",
						p.Technology, p.AddressWidth, p.Capacity, tt.tech, tt.width, tt.capacity)
				}
				if err := p.Usable(); err != nil {
					t.Fatalf("profile not usable: %v", err)
				}
				if !bytes.Equal(chip.Data, before) {
					t.Fatalf("identification altered chip contents: % X", chip.Data[:echoWindow])
				}
				if got, ok := session.Profile(); !ok || got.Capacity != p.Capacity {
					t.Fatalf("session profile not recorded")
				}
			})
		}
	}
}

func TestIdentifyDeterministic(t *testing.T) {
	chip := spibus.NewSimEEPROM(64*1024, 2, 128, 3)
	seeded(chip.Data)
	id, _ := newIdentifier(chip)

	first, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
	if err != nil {
		t.Fatalf("first Identify: %v", err)
	}
	second, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
	if err != nil {
		t.Fatalf("second Identify: %v", err)
	}
	if first.String() != second.String() || first.Geometry != second.Geometry {
		t.Fatalf("profiles differ: %s vs %s", first, second)
	}
}

func TestIdentifyFlashByJEDEC(t *testing.T) {
	chip := spibus.NewSimFlash(512*1024, 0x204013)
	seeded(chip.Data)
	before := append([]byte(nil), chip.Data...)
	id, _ := newIdentifier(chip)

	p, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if p.Technology != cart.TechNORFlash || p.Capacity != 512*1024 || p.AddressWidth != 24 {
		t.Fatalf("profile = %s", p)
	}
	if !bytes.Equal(p.IdentifierCode, []byte{0x20, 0x40, 0x13}) {
		t.Fatalf("identifier = % X", p.IdentifierCode)
	}
	if p.Geometry.EraseUnit != 64*1024 {
		t.Fatalf("erase unit = %d", p.Geometry.EraseUnit)
	}
	if !bytes.Equal(chip.Data, before) {
		t.Fatalf("flash identification must not write")
	}
}

func TestIdentifyFloatingBusIsUnknown(t *testing.T) {
	id, sim := newIdentifier(nil)
	session := cart.NewSession(cart.Slot1)
	p, err := id.Identify(context.Background(), session)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if p.Technology != cart.TechUnknown || p.Special != cart.SpecialNone {
		t.Fatalf("profile = %+v, want unknown", p)
	}
	if len(p.IdentifierCode) != 0 {
		t.Fatalf("floating id should not be kept: % X", p.IdentifierCode)
	}
	if _, err := session.Active(); !errors.Is(err, cart.ErrUnresolvedChip) {
		t.Fatalf("Active() error = %v, want unresolved", err)
	}
	if sim.Exchanges() == 0 {
		t.Fatalf("no exchanges recorded")
	}
}

func TestIdentifyKeepsUnknownID(t *testing.T) {
	id, _ := newIdentifier(&spibus.SimPeripheral{Query: []byte{spibus.OpReadID}, Reply: []byte{0x77, 0x01, 0x02}})
	p, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if p.Technology != cart.TechUnknown || !bytes.Equal(p.IdentifierCode, []byte{0x77, 0x01, 0x02}) {
		t.Fatalf("profile = %+v", p)
	}
	if p.String() != "unknown (id 770102)" {
		t.Fatalf("String() = %q", p.String())
	}
}

func TestIdentifyAuxiliaryDevice(t *testing.T) {
	id, _ := newIdentifier(&spibus.SimPeripheral{Query: []byte{0x08}, Reply: []byte{0xAA}})
	session := cart.NewSession(cart.Slot1)
	p, err := id.Identify(context.Background(), session)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if p.Special != cart.SpecialInfrared || p.Technology != cart.TechUnknown {
		t.Fatalf("profile = %+v, want infrared", p)
	}
	if _, err := session.Active(); !errors.Is(err, cart.ErrUnsupportedDevice) {
		t.Fatalf("Active() error = %v, want unsupported device", err)
	}
}

func TestIdentifyRejectsSecondarySlot(t *testing.T) {
	id, _ := newIdentifier(nil)
	if _, err := id.Identify(context.Background(), cart.NewSession(cart.Slot2)); err == nil {
		t.Fatalf("expected error for slot 2")
	}
}

func TestIdentifyBusFault(t *testing.T) {
	id, sim := newIdentifier(spibus.NewSimFRAM(8 * 1024))
	sim.OnExchange = func(cart.Slot, []byte, []byte) ([]byte, error) {
		return nil, spibus.ErrTimeout
	}
	_, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
	if !errors.Is(err, cart.ErrBusFault) {
		t.Fatalf("error = %v, want bus fault", err)
	}
}

func TestCandidateOrder(t *testing.T) {
	id, _ := newIdentifier(nil)
	var got []string
	for _, c := range id.candidates() {
		got = append(got, c.String())
	}
	want := []string{"eeprom/24-bit", "fram/16-bit", "eeprom/16-bit", "eeprom/8-bit"}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}
}

func TestMarkerDiffersFromContents(t *testing.T) {
	c := &candidate{snapshot: []byte{0, 0, 0x5A, 0x00, 0x96, 0xFF}}
	m := c.marker()
	if m[0] != 0 || m[1] != 0 {
		t.Fatalf("marker must start with two zero bytes: % X", m)
	}
	for i := 2; i < markerLen; i++ {
		if m[i] == c.snapshot[i] || m[i] == 0x00 || m[i] == 0xFF {
			t.Fatalf("marker byte %d = %02X collides", i, m[i])
		}
	}
}

// failOnce fails the first exchange matching match, after the chip has
// already acted on it.
func failOnce(sim *spibus.SimLink, match func(mosi []byte) bool) *int {
	hits := new(int)
	sim.OnExchange = func(_ cart.Slot, mosi, miso []byte) ([]byte, error) {
		if match(mosi) {
			*hits++
			if *hits == 1 {
				return nil, spibus.ErrTimeout
			}
		}
		return miso, nil
	}
	return hits
}

func TestIdentifyEchoFaultRestoresChip(t *testing.T) {
	chips := []struct {
		name  string
		chip  func() *spibus.SimMemory
		alias bool // the winning convention has more than one tier
	}{
		{"eeprom 512", func() *spibus.SimMemory { return spibus.NewSimEEPROM(512, 1, 16, 2) }, false},
		{"eeprom 8K", func() *spibus.SimMemory { return spibus.NewSimEEPROM(8*1024, 2, 32, 2) }, true},
		{"eeprom 64K", func() *spibus.SimMemory { return spibus.NewSimEEPROM(64*1024, 2, 128, 2) }, true},
		{"eeprom 128K", func() *spibus.SimMemory { return spibus.NewSimEEPROM(128*1024, 3, 256, 2) }, false},
		{"fram 8K", func() *spibus.SimMemory { return spibus.NewSimFRAM(8 * 1024) }, true},
		{"fram 32K", func() *spibus.SimMemory { return spibus.NewSimFRAM(32 * 1024) }, true},
	}

	// Exchanges are matched by the length the chip's own convention gives
	// them, so the fault always hits a command the chip decodes.
	stages := []struct {
		name  string
		match func(addrBytes int, mosi []byte) bool
	}{
		{"marker write", func(a int, mosi []byte) bool {
			return mosi[0] == spibus.OpProgram && len(mosi) == 1+a+markerLen
		}},
		{"marker read back", func(a int, mosi []byte) bool {
			return mosi[0] == spibus.OpRead && len(mosi) == 1+a+markerLen && isZero(mosi[1:1+a])
		}},
		{"alias check", func(a int, mosi []byte) bool {
			return mosi[0] == spibus.OpRead && len(mosi) == 1+a+markerLen && !isZero(mosi[1:1+a])
		}},
		{"restore", func(_ int, mosi []byte) bool {
			// Longer than any marker write.
			return mosi[0] == spibus.OpProgram && len(mosi) > 1+3+markerLen
		}},
	}

	for _, ch := range chips {
		for _, st := range stages {
			if st.name == "alias check" && !ch.alias {
				continue
			}
			t.Run(ch.name+" "+st.name, func(t *testing.T) {
				chip := ch.chip()
				seeded(chip.Data)
				chip.Data[0] = 3
				before := append([]byte(nil), chip.Data...)

				id, sim := newIdentifier(chip)
				hits := failOnce(sim, func(mosi []byte) bool { return st.match(chip.AddrBytes, mosi) })

				session := cart.NewSession(cart.Slot1)
				_, err := id.Identify(context.Background(), session)
				if *hits == 0 {
					t.Fatalf("no exchange matched")
				}
				if !errors.Is(err, cart.ErrBusFault) {
					t.Fatalf("error = %v, want bus fault", err)
				}
				if _, ok := session.Profile(); ok {
					t.Fatalf("profile recorded despite fault")
				}
				if !bytes.Equal(chip.Data, before) {
					t.Fatalf("window altered: % X, want % X", chip.Data[:echoWindow], before[:echoWindow])
				}

				// A clean second run classifies the chip as usual.
				sim.OnExchange = nil
				p, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
				if err != nil || p.Usable() != nil {
					t.Fatalf("second Identify = %s, %v", p, err)
				}
			})
		}
	}
}

func TestIdentifyFloatingStatusWritesNothing(t *testing.T) {
	id, sim := newIdentifier(&spibus.SimPeripheral{Query: []byte{0x0D}, Reply: []byte{0xC3}})
	var writes int
	sim.OnExchange = func(_ cart.Slot, mosi, miso []byte) ([]byte, error) {
		if mosi[0] == spibus.OpProgram {
			writes++
		}
		return miso, nil
	}
	p, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if p.Special != cart.SpecialWireless {
		t.Fatalf("profile = %+v", p)
	}
	if writes != 0 {
		t.Fatalf("%d writes to a device with no status register", writes)
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestAuxQueriesStopOnCancel(t *testing.T) {
	id, sim := newIdentifier(nil)
	ctx, cancel := context.WithCancel(context.Background())
	var queries int
	sim.OnExchange = func(_ cart.Slot, mosi, miso []byte) ([]byte, error) {
		for _, p := range DefaultAuxQueries {
			if mosi[0] == p.Command[0] {
				queries++
				cancel()
			}
		}
		return miso, nil
	}
	if _, err := id.queryAux(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
	if queries != 1 {
		t.Fatalf("%d queries sent after cancel, want 1", queries)
	}
}

func TestIdentifyFlashCardLeavesSaveBusAlone(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   cart.Special
	}{
		{"homebrew", nds.Header{Title: "LOADER", GameCode: "####"}.Encode(), cart.SpecialFlashCard},
		{"passme", nds.Header{Title: "PASSME", GameCode: "PASS"}.Encode(), cart.SpecialFlashCard},
		{"retail", nds.Header{Title: "POKEMON D", GameCode: "ADAE", Maker: "01"}.Encode(), cart.SpecialNone},
		{"no header", nil, cart.SpecialNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := spibus.NewSimEEPROM(64*1024, 2, 128, 2)
			seeded(chip.Data)
			before := append([]byte(nil), chip.Data...)
			id, sim := newIdentifier(chip)
			sim.SetCardHeader(tt.header)

			p, err := id.Identify(context.Background(), cart.NewSession(cart.Slot1))
			if err != nil {
				t.Fatalf("Identify: %v", err)
			}
			if p.Special != tt.want {
				t.Fatalf("profile = %s, want special %s", p, tt.want)
			}
			if tt.want == cart.SpecialFlashCard {
				if n := sim.Exchanges(); n != 0 {
					t.Fatalf("%d save bus exchanges on a flash card", n)
				}
				return
			}
			if p.Technology != cart.TechSerialEEPROM || p.Capacity != 64*1024 {
				t.Fatalf("profile = %s, want 64 KiB EEPROM", p)
			}
			if !bytes.Equal(chip.Data, before) {
				t.Fatalf("chip contents changed")
			}
		})
	}
}
