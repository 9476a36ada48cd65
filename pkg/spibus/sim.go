package spibus

import (
	"sync"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// SimChip is a byte-accurate model of whatever answers one chip-select cycle.
type SimChip interface {
	Exchange(mosi []byte) []byte
}

// ExchangeHook lets tests inspect, alter or fail an exchange after the chip
// has produced its reply.
type ExchangeHook func(slot cart.Slot, mosi, miso []byte) ([]byte, error)

// SimLink is an in-memory Link useful for unit tests and the simulator
// interface. Slots with no chip behave like a floating bus.
type SimLink struct {
	InfoData TransportInfo

	OnExchange ExchangeHook

	mu        sync.Mutex
	chips     map[cart.Slot]SimChip
	slot      cart.Slot
	exchanges int
	last      []byte
	header    []byte
}

// NewSimLink constructs an empty simulator with slot 1 selected.
func NewSimLink(info TransportInfo) *SimLink {
	return &SimLink{
		InfoData: info,
		chips:    make(map[cart.Slot]SimChip),
		slot:     cart.Slot1,
	}
}

// Insert places a chip in a slot; nil removes it.
func (s *SimLink) Insert(slot cart.Slot, chip SimChip) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chip == nil {
		delete(s.chips, slot)
		return
	}
	s.chips[slot] = chip
}

// SetCardHeader installs the header the primary-slot card reports. Nil
// leaves the card protocol floating.
func (s *SimLink) SetCardHeader(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = append([]byte(nil), raw...)
}

// ReadCardHeader returns the installed header padded with zeros to n bytes.
func (s *SimLink) ReadCardHeader(n int, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header == nil {
		return floating(n), nil
	}
	out := make([]byte, n)
	copy(out, s.header)
	return out, nil
}

// Exchanges reports how many cycles have run.
func (s *SimLink) Exchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

// LastExchange returns a copy of the most recent MOSI bytes.
func (s *SimLink) LastExchange() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.last...)
}

func (s *SimLink) Info() (TransportInfo, error) {
	return s.InfoData, nil
}

func (s *SimLink) SelectSlot(slot cart.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = slot
	return nil
}

func (s *SimLink) Exchange(mosi []byte, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	s.exchanges++
	s.last = append(s.last[:0], mosi...)
	chip := s.chips[s.slot]
	slot := s.slot
	hook := s.OnExchange
	s.mu.Unlock()

	var miso []byte
	if chip != nil {
		miso = chip.Exchange(mosi)
	} else {
		miso = floating(len(mosi))
	}
	if hook != nil {
		return hook(slot, mosi, miso)
	}
	return miso, nil
}

func (s *SimLink) Close() error {
	return nil
}

func floating(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}
