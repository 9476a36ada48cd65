package chipid

import (
	"bytes"
	"context"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
)

// AuxQuery recognises a non-memory peripheral by its reply to a class query.
type AuxQuery struct {
	Special cart.Special
	Command []byte
	Expect  []byte
}

// DefaultAuxQueries covers the infrared transceiver and the class-status
// replies the bridge firmware reports for motion and wireless carts.
var DefaultAuxQueries = []AuxQuery{
	{Special: cart.SpecialInfrared, Command: []byte{0x08}, Expect: []byte{0xAA}},
	{Special: cart.SpecialMotion, Command: []byte{0x0C}, Expect: []byte{0x5A}},
	{Special: cart.SpecialWireless, Command: []byte{0x0D}, Expect: []byte{0xC3}},
}

func (id *Identifier) queryAux(ctx context.Context) (cart.Special, error) {
	for _, p := range id.cfg.AuxQueries {
		if err := ctx.Err(); err != nil {
			return cart.SpecialNone, err
		}
		resp, err := id.bus.SendCommand(p.Command, len(p.Expect), id.cfg.ExchangeTimeout)
		if err != nil {
			return cart.SpecialNone, err
		}
		if bytes.Equal(resp, p.Expect) {
			id.log.Debug("auxiliary device matched", "device", p.Special.Label())
			return p.Special, nil
		}
	}
	return cart.SpecialNone, nil
}
