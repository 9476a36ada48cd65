package transfer

import (
	"fmt"

	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/cart"
	"github.com/Wokann/GEN3-NDSMysteryGiftTool/pkg/spibus"
)

// BusExecutor runs primary-slot commands on a serial memory bus.
type BusExecutor struct {
	bus spibus.MemoryBus
}

// NewBusExecutor wraps a bus.
func NewBusExecutor(bus spibus.MemoryBus) *BusExecutor {
	return &BusExecutor{bus: bus}
}

func (x *BusExecutor) Read(cmd cart.Command) ([]byte, error) {
	return x.bus.ReadBytes(cmd.Header, cmd.Length, cmd.Timeout)
}

func (x *BusExecutor) Program(cmd cart.Command, data []byte) error {
	if len(data) != cmd.Length {
		return fmt.Errorf("transfer: program of %d bytes carries %d", cmd.Length, len(data))
	}
	if cmd.WriteEnable {
		if err := x.bus.WriteEnable(cmd.Timeout); err != nil {
			return err
		}
	}
	if err := x.bus.WriteBytes(cmd.Header, data, cmd.Timeout); err != nil {
		return err
	}
	if cmd.PollReady {
		return x.bus.WaitReady(cmd.Timeout)
	}
	return nil
}

func (x *BusExecutor) Erase(cmd cart.Command) error {
	if cmd.WriteEnable {
		if err := x.bus.WriteEnable(cmd.Timeout); err != nil {
			return err
		}
	}
	if _, err := x.bus.SendCommand(cmd.Header, 0, cmd.Timeout); err != nil {
		return err
	}
	if cmd.PollReady {
		return x.bus.WaitReady(cmd.Timeout)
	}
	return nil
}
