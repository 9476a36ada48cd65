package transfer

import (
	"bytes"
	"context"
	"testing"
)

func TestStashSplitsAtUnitBoundaries(t *testing.T) {
	st := newStash(0x10)
	st.put(0x0C, []byte{1, 2, 3, 4, 5, 6})
	st.put(0x30, []byte{9})

	if n := st.len(); n != 3 {
		t.Fatalf("units held = %d, want 3", n)
	}
	tests := []struct {
		off  uint32
		want byte
		ok   bool
	}{
		{0x0B, 0, false},
		{0x0C, 1, true},
		{0x0F, 4, true},
		{0x10, 5, true},
		{0x11, 6, true},
		{0x12, 0, false},
		{0x30, 9, true},
	}
	for _, tt := range tests {
		got, ok := st.get(tt.off)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("get(%#x) = %d, %v; want %d, %v", tt.off, got, ok, tt.want, tt.ok)
		}
	}

	st.drop(0x15)
	if _, ok := st.get(0x0C); ok {
		t.Fatalf("unit 0x00 survived drop(0x15)")
	}
	if got, ok := st.get(0x10); !ok || got != 5 {
		t.Fatalf("unit 0x10 lost by drop(0x15)")
	}
	if n := st.len(); n != 2 {
		t.Fatalf("units held after drop = %d, want 2", n)
	}
}

func TestEngineWriteReleasesStash(t *testing.T) {
	for name, mk := range allProfiles {
		p := mk()
		unit := p.Geometry.AlignUnit()
		if unit <= 1 {
			continue
		}
		// Unaligned at both ends across many units.
		offset, length := uint32(unit/2), p.Capacity-unit
		chip := newMemChip(p)
		before := append([]byte(nil), chip.data...)
		data := pattern(length, 0x5A)

		e := mustEngine(t, chip)
		s := &session{
			plan:   mustPlan(t, p, offset, length, DirWrite),
			source: bytes.NewReader(data),
			stash:  newStash(uint32(unit)),
		}
		if _, err := e.execute(context.Background(), s); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if n := s.stash.len(); n > 1 {
			t.Fatalf("%s: %d stashed units still held after the write", name, n)
		}
		end := int(offset) + length
		if !bytes.Equal(chip.data[offset:end], data) {
			t.Fatalf("%s: written bytes differ", name)
		}
		if !bytes.Equal(chip.data[:offset], before[:offset]) || !bytes.Equal(chip.data[end:], before[end:]) {
			t.Fatalf("%s: stashed bytes were not restored", name)
		}
	}
}
