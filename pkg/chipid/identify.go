package chipid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/jedec"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/nds"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
)

// Identifier classifies the save memory on the primary slot.
type Identifier struct {
	bus spibus.MemoryBus
	cfg Config
	log cart.Logger
}

// New creates an identifier on a bus.
func New(bus spibus.MemoryBus, opts ...Option) *Identifier {
	if bus == nil {
		panic("bus cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	id := &Identifier{bus: bus, cfg: cfg, log: cfg.Logger}
	if id.log == nil {
		id.log = nopLogger{}
	}
	return id
}

// Identify examines the cartridge in session.Slot and records the resulting
// profile in the session. An Unknown or auxiliary profile is not an error;
// transfers against it fail instead. Errors mean the bus itself failed.
//
// Order:
//  0. card header, when the bus can read it; a flash card stops here
//  1. JEDEC id, resolved through the chip database
//  2. echo test over every EEPROM/FRAM addressing convention
//  3. auxiliary peripheral queries
func (id *Identifier) Identify(ctx context.Context, session *cart.SessionContext) (cart.Profile, error) {
	if session.Slot != cart.Slot1 {
		return cart.Profile{}, fmt.Errorf("chipid: slot %s has no serial save bus", session.Slot)
	}
	session.Eject()

	if err := id.bus.SelectSlot(session.Slot); err != nil {
		return cart.Profile{}, err
	}

	if fc, err := id.flashCard(); err != nil {
		return cart.Profile{}, err
	} else if fc {
		p := cart.Profile{Slot: session.Slot, Special: cart.SpecialFlashCard}
		id.log.Info("flash card in primary slot", "profile", p.String())
		session.SetProfile(p)
		return p, nil
	}

	raw, err := id.bus.SendCommand([]byte{spibus.OpReadID}, 3, id.cfg.ExchangeTimeout)
	if err != nil {
		return cart.Profile{}, fmt.Errorf("read id: %w", err)
	}
	jid, err := jedec.FromBytes(raw)
	if err != nil {
		return cart.Profile{}, fmt.Errorf("%w: %w", cart.ErrBusFault, err)
	}
	id.log.Debug("jedec id", "id", jid.String())

	if chip, ok := id.cfg.DB.LookupFlash(jid); ok {
		p := FlashProfile(chip, jid.Bytes())
		id.log.Info("identified flash", "profile", p.String())
		session.SetProfile(p)
		return p, nil
	}

	var unknownID []byte
	if !jid.Floating() {
		unknownID = jid.Bytes()
		id.log.Info("unrecognised jedec id", "id", jid.String())
	}

	if err := ctx.Err(); err != nil {
		return cart.Profile{}, err
	}

	p, ok, err := id.echo(ctx)
	if err != nil {
		return cart.Profile{}, err
	}
	if ok {
		id.log.Info("identified by echo test", "profile", p.String())
		session.SetProfile(p)
		return p, nil
	}

	special, err := id.queryAux(ctx)
	if err != nil {
		return cart.Profile{}, fmt.Errorf("auxiliary query: %w", err)
	}
	p = cart.Profile{
		Slot:           session.Slot,
		Technology:     cart.TechUnknown,
		IdentifierCode: unknownID,
		Special:        special,
	}
	id.log.Info("no save memory identified", "profile", p.String())
	session.SetProfile(p)
	return p, nil
}

// cardReader is implemented by buses that can read the card header.
type cardReader interface {
	CardHeader(n int, timeout time.Duration) ([]byte, error)
}

// flashCard reports whether the primary slot holds a homebrew flash card.
// Its save bus belongs to the loader and is left alone.
func (id *Identifier) flashCard() (bool, error) {
	cr, ok := id.bus.(cardReader)
	if !ok {
		return false, nil
	}
	raw, err := cr.CardHeader(nds.HeaderSize, id.cfg.HeaderTimeout)
	if errors.Is(err, spibus.ErrNotImplemented) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	h, err := nds.ParseHeader(raw)
	if err != nil {
		id.log.Debug("no card header", "error", err)
		return false, nil
	}
	id.log.Debug("card header", "game", h.GameCode, "title", h.Title)
	return h.FlashCard(), nil
}
