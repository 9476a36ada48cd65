package gba

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/transfer"
)

var saveTypes = []struct {
	name     string
	tech     cart.Technology
	capacity int
}{
	{"eeprom 512", cart.TechSerialEEPROM, EEPROMSmall},
	{"eeprom 8K", cart.TechSerialEEPROM, EEPROMLarge},
	{"sram 32K", cart.TechBatterySRAM, SRAMSize},
	{"flash 64K", cart.TechNORFlash, FlashSmall},
	{"flash 128K", cart.TechNORFlash, FlashLarge},
}

func seed(b []byte) {
	for i := range b {
		b[i] = byte(i*3 + i>>8)
	}
}

func newEngine(t *testing.T, sim *SimCartridge, p cart.Profile, opts ...transfer.Option) *transfer.Engine {
	t.Helper()
	exec, err := NewExecutor(sim, p)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	e, err := transfer.NewEngine(exec, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestExecutorRoundTrip(t *testing.T) {
	for _, st := range saveTypes {
		t.Run(st.name, func(t *testing.T) {
			p := mustProfile(t, st.tech, st.capacity)
			sim := NewSimCartridge(nil, st.tech, st.capacity)
			seed(sim.Save)
			before := append([]byte(nil), sim.Save...)
			e := newEngine(t, sim, p)

			// Unaligned, and across the bank boundary on 128K flash.
			offset := uint32(st.capacity/2 - 13)
			length := 29
			data := bytes.Repeat([]byte{0x5A, 0x00, 0xA5}, 10)[:length]

			plan, err := transfer.NewPlan(p, offset, length, transfer.DirWrite)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			if _, err := e.WriteFrom(context.Background(), plan, bytes.NewReader(data)); err != nil {
				t.Fatalf("WriteFrom: %v", err)
			}

			want := append([]byte(nil), before...)
			copy(want[offset:], data)
			if !bytes.Equal(sim.Save, want) {
				t.Fatalf("save contents differ from expectation")
			}

			plan, err = transfer.NewPlan(p, 0, p.Capacity, transfer.DirRead)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			var out bytes.Buffer
			if _, err := e.ReadTo(context.Background(), plan, &out); err != nil {
				t.Fatalf("ReadTo: %v", err)
			}
			if !bytes.Equal(out.Bytes(), want) {
				t.Fatalf("read back differs")
			}
		})
	}
}

func TestExecutorRetriesSaveFault(t *testing.T) {
	p := mustProfile(t, cart.TechBatterySRAM, SRAMSize)
	sim := NewSimCartridge(nil, cart.TechBatterySRAM, SRAMSize)
	seed(sim.Save)
	sim.FailSave = 1
	e := newEngine(t, sim, p)

	plan, err := transfer.NewPlan(p, 0, 2048, transfer.DirRead)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	var out bytes.Buffer
	res, err := e.ReadTo(context.Background(), plan, &out)
	if err != nil {
		t.Fatalf("ReadTo: %v", err)
	}
	if res.Attempts[0] != 2 || !bytes.Equal(out.Bytes(), sim.Save[:2048]) {
		t.Fatalf("attempts = %v", res.Attempts)
	}
}

func TestExecutorReportsBusFault(t *testing.T) {
	p := mustProfile(t, cart.TechSerialEEPROM, EEPROMSmall)
	sim := NewSimCartridge(nil, cart.TechSerialEEPROM, EEPROMSmall)
	sim.FailSave = 100
	e := newEngine(t, sim, p)

	plan, err := transfer.NewPlan(p, 0, 64, transfer.DirRead)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	res, err := e.ReadTo(context.Background(), plan, &bytes.Buffer{})
	if !errors.Is(err, cart.ErrBusFault) || res.Status != transfer.StatusBusFault {
		t.Fatalf("result = %+v, error = %v", res, err)
	}
}

func TestFlashStuckBusyIsBusFault(t *testing.T) {
	p := mustProfile(t, cart.TechNORFlash, FlashSmall)
	sim := NewSimCartridge(nil, cart.TechNORFlash, FlashSmall)
	sim.BusyPolls = 1 << 30
	exec, err := NewExecutor(sim, p)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	cmd, err := p.Scheme.Encode(cart.OpProgram, 0, 1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cmd.Timeout = time.Millisecond
	err = exec.Program(cmd, []byte{0x12})
	if !errors.Is(err, cart.ErrBusFault) || !errors.Is(err, ErrBusy) {
		t.Fatalf("error = %v, want busy bus fault", err)
	}
}

func TestNewExecutorRejects(t *testing.T) {
	sim := NewSimCartridge(nil, cart.TechBatterySRAM, SRAMSize)
	if _, err := NewExecutor(sim, cart.Profile{Slot: cart.Slot2}); !errors.Is(err, cart.ErrUnresolvedChip) {
		t.Fatalf("unknown profile error = %v", err)
	}
	slot1 := mustProfile(t, cart.TechBatterySRAM, SRAMSize)
	slot1.Slot = cart.Slot1
	if _, err := NewExecutor(sim, slot1); err == nil {
		t.Fatalf("slot-1 profile accepted")
	}
}

// timeoutBus records the timeout of every save bus call.
type timeoutBus struct {
	*SimCartridge
	seen map[time.Duration]int
}

func (b *timeoutBus) note(d time.Duration) { b.seen[d]++ }

func (b *timeoutBus) ReadSave(addr uint32, n int, d time.Duration) ([]byte, error) {
	b.note(d)
	return b.SimCartridge.ReadSave(addr, n, d)
}

func (b *timeoutBus) WriteSave(addr uint32, data []byte, d time.Duration) error {
	b.note(d)
	return b.SimCartridge.WriteSave(addr, data, d)
}

func (b *timeoutBus) WriteSaveCommand(addr uint32, v byte, d time.Duration) error {
	b.note(d)
	return b.SimCartridge.WriteSaveCommand(addr, v, d)
}

func (b *timeoutBus) SendBits(bits []byte, d time.Duration) error {
	b.note(d)
	return b.SimCartridge.SendBits(bits, d)
}

func (b *timeoutBus) ReceiveBits(n int, d time.Duration) ([]byte, error) {
	b.note(d)
	return b.SimCartridge.ReceiveBits(n, d)
}

func TestExecutorPassesCommandTimeouts(t *testing.T) {
	for _, st := range saveTypes {
		t.Run(st.name, func(t *testing.T) {
			p := mustProfile(t, st.tech, st.capacity)
			bus := &timeoutBus{SimCartridge: NewSimCartridge(nil, st.tech, st.capacity), seen: make(map[time.Duration]int)}
			exec, err := NewExecutor(bus, p)
			if err != nil {
				t.Fatalf("NewExecutor: %v", err)
			}
			e, err := transfer.NewEngine(exec)
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}

			plan, err := transfer.NewPlan(p, 3, 40, transfer.DirWrite)
			if err != nil {
				t.Fatalf("NewPlan: %v", err)
			}
			if _, err := e.WriteFrom(context.Background(), plan, bytes.NewReader(make([]byte, 40))); err != nil {
				t.Fatalf("WriteFrom: %v", err)
			}

			g := p.Geometry
			allowed := map[time.Duration]bool{g.ReadTimeout: true, g.ProgramTimeout: true, g.EraseTimeout: true}
			for d, n := range bus.seen {
				if d <= 0 || !allowed[d] {
					t.Fatalf("%d calls with timeout %s, want one of %s %s %s",
						n, d, g.ReadTimeout, g.ProgramTimeout, g.EraseTimeout)
				}
			}
			if bus.seen[g.ProgramTimeout] == 0 {
				t.Fatalf("no call carried the program timeout %s: %v", g.ProgramTimeout, bus.seen)
			}
		})
	}
}
