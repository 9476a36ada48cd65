package spibus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	// Bridge firmware USB identifiers
	VendorIDRaspberryPi = 0x2E8A
	ProductIDCartBridge = 0x10C4

	DefaultTimeout = 2 * time.Second
)

// USBPort carries bridge frames over a vendor-class bulk interface.
type USBPort struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
}

// NewUSBPort opens the first device matching vid:pid.
func NewUSBPort(vid, pid uint16) (*USBPort, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// Not fatal on all platforms.
	_ = dev.SetAutoDetach(true)

	port := &USBPort{
		ctx:        ctx,
		dev:        dev,
		packetSize: 64,
	}
	if err := port.claimInterface(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return port, nil
}

func (p *USBPort) claimInterface() error {
	cfg, err := p.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	vendorIntf := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			vendorIntf = intf.Number
			break
		}
	}

	intf, err := cfg.Interface(vendorIntf, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface %d: %w", vendorIntf, err)
	}
	p.intf = intf
	p.done = func() {
		intf.Close()
		cfg.Close()
	}

	var outAddr, inAddr int
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outAddr == 0:
			outAddr = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inAddr == 0:
			inAddr = ep.Number
			p.packetSize = ep.MaxPacketSize
		}
	}
	if outAddr == 0 || inAddr == 0 {
		p.done()
		return fmt.Errorf("bulk endpoints not found")
	}

	if p.epOut, err = intf.OutEndpoint(outAddr); err != nil {
		p.done()
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	if p.epIn, err = intf.InEndpoint(inAddr); err != nil {
		p.done()
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	return nil
}

// WriteRead sends a frame and collects the reply it announces.
func (p *USBPort) WriteRead(frame []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := p.epOut.WriteContext(ctx, frame); err != nil {
		return nil, p.wrap("write", ctx, err)
	}

	var reply []byte
	want := replyHeaderLen
	buf := make([]byte, p.packetSize)
	for len(reply) < want {
		n, err := p.epIn.ReadContext(ctx, buf)
		if err != nil {
			return nil, p.wrap("read", ctx, err)
		}
		reply = append(reply, buf[:n]...)
		if want == replyHeaderLen && len(reply) >= replyHeaderLen {
			if want, err = ReplyLength(reply); err != nil {
				return nil, err
			}
		}
	}
	return reply[:want], nil
}

func (p *USBPort) wrap(op string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("USB %s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("USB %s failed: %w", op, err)
}

// Close releases USB resources.
func (p *USBPort) Close() error {
	if p.done != nil {
		p.done()
		p.done = nil
	}
	if p.dev != nil {
		p.dev.Close()
		p.dev = nil
	}
	if p.ctx != nil {
		p.ctx.Close()
		p.ctx = nil
	}
	return nil
}

// OpenUSBBridge opens a bridge over USB.
func OpenUSBBridge(vid, pid uint16) (*Bridge, error) {
	port, err := NewUSBPort(vid, pid)
	if err != nil {
		return nil, err
	}
	return NewBridge(port, fmt.Sprintf("usb %04X:%04X", vid, pid)), nil
}
