package spibus

import (
	"fmt"
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

// DefaultBaudRate is used by the CDC build of the bridge firmware.
const DefaultBaudRate = 921600

// SerialPort carries bridge frames over a serial line.
type SerialPort struct {
	rw   io.ReadWriteCloser
	name string
}

// NewSerialPort opens a serial device. InterCharacterTimeout bounds each read
// so a silent bridge surfaces as ErrTimeout instead of hanging.
func NewSerialPort(name string, baud uint) (*SerialPort, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	opt := serial.OpenOptions{
		PortName:              name,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
		ParityMode:            serial.PARITY_NONE,
	}
	rw, err := serial.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return newSerialPort(rw, name), nil
}

func newSerialPort(rw io.ReadWriteCloser, name string) *SerialPort {
	return &SerialPort{rw: rw, name: name}
}

func (p *SerialPort) WriteRead(frame []byte, timeout time.Duration) ([]byte, error) {
	if _, err := p.rw.Write(frame); err != nil {
		return nil, fmt.Errorf("serial write: %w", err)
	}

	deadline := time.Now().Add(timeout)
	header, err := p.readFull(replyHeaderLen, deadline)
	if err != nil {
		return nil, err
	}
	total, err := ReplyLength(header)
	if err != nil {
		return nil, err
	}
	body, err := p.readFull(total-replyHeaderLen, deadline)
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

func (p *SerialPort) readFull(n int, deadline time.Time) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := p.rw.Read(buf[got:])
		got += m
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if got < n && time.Now().After(deadline) {
			return nil, fmt.Errorf("serial read %s: %w", p.name, ErrTimeout)
		}
	}
	return buf, nil
}

func (p *SerialPort) Close() error {
	return p.rw.Close()
}

// OpenSerialBridge opens a bridge over a serial line.
func OpenSerialBridge(name string, baud uint) (*Bridge, error) {
	port, err := NewSerialPort(name, baud)
	if err != nil {
		return nil, err
	}
	return NewBridge(port, "serial "+name), nil
}
