package gba

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// Adapter identifies secondary-slot cartridges from their program image.
// The save chip itself is never touched.
type Adapter struct {
	rom ROMReader
	cfg Config
	log cart.Logger
}

// New creates an adapter reading the program image through rom.
func New(rom ROMReader, opts ...Option) *Adapter {
	if rom == nil {
		panic("rom reader cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Adapter{rom: rom, cfg: cfg, log: cfg.Logger}
	if a.log == nil {
		a.log = nopLogger{}
	}
	return a
}

// Identify classifies the save memory of the cartridge in session.Slot and
// records the profile in the session. An empty slot or an image with no
// known save library yields an Unknown profile and no error.
func (a *Adapter) Identify(ctx context.Context, session *cart.SessionContext) (cart.Profile, error) {
	if session.Slot != cart.Slot2 {
		return cart.Profile{}, fmt.Errorf("gba: slot %s is not the secondary slot", session.Slot)
	}
	session.Eject()

	if sel, ok := a.rom.(slotSelector); ok {
		if err := sel.SelectSlot(session.Slot); err != nil {
			return cart.Profile{}, fmt.Errorf("%w: select %s: %w", cart.ErrBusFault, session.Slot, err)
		}
	}

	if x, ok, err := a.DetectExpansion(ctx); err != nil {
		return cart.Profile{}, err
	} else if ok {
		p, err := Profile(cart.TechBatterySRAM, SRAMSize)
		if err != nil {
			return cart.Profile{}, err
		}
		p.Vendor = x.Name
		a.log.Info("identified expansion pack", "id", fmt.Sprintf("%08X", x.ID), "name", x.Name)
		session.SetProfile(p)
		return p, nil
	}

	d, err := a.Detect(ctx)
	switch {
	case errors.Is(err, ErrBadHeader):
		a.log.Info("no cartridge header", "error", err)
		p := cart.Profile{Slot: cart.Slot2}
		session.SetProfile(p)
		return p, nil
	case err != nil:
		return cart.Profile{}, err
	}

	p := cart.Profile{Slot: cart.Slot2}
	if d.Source != SourceNone && d.Save.Technology != cart.TechUnknown {
		p, err = Profile(d.Save.Technology, d.Save.Capacity)
		if err != nil {
			return cart.Profile{}, err
		}
	}
	a.log.Info("identified secondary slot", "game", d.Header.GameCode,
		"title", d.Header.Title, "source", string(d.Source), "profile", p.String())
	session.SetProfile(p)
	return p, nil
}
