// Package serial opens the RS485 adapter the BMS units are wired to.
//
// The port is returned as an io.ReadCloser; the bridge reframes the byte
// stream itself. Reads return (0, nil) after the read timeout so the
// consumer can notice shutdown without closing the port underneath it.
package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/jkbms-bridge/internal/infrastructure/config"
)

const (
	dataBits = 8

	defaultBaudRate    = 115200
	defaultReadTimeout = 500 * time.Millisecond
)

// ErrNoPort is returned when no port name is configured.
var ErrNoPort = errors.New("serial: port is required")

// Opener opens a port with the given mode. Replaced in tests.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Port is an open RS485 adapter.
type Port struct {
	port serial.Port
	name string
}

// Open opens the port described by cfg at 8N1.
//
// Parameters:
//   - cfg: Serial configuration (port, baud rate, read timeout)
//
// Returns:
//   - *Port: Open port, ready for reading
//   - error: If the port cannot be opened or configured
func Open(cfg config.SerialConfig) (*Port, error) {
	return OpenWith(serial.Open, cfg)
}

// OpenWith is Open with an explicit opener.
func OpenWith(open Opener, cfg config.SerialConfig) (*Port, error) {
	if cfg.Port == "" {
		return nil, ErrNoPort
	}

	port, err := open(cfg.Port, Mode(cfg))
	if err != nil {
		return nil, fmt.Errorf("serial: opening %s: %w", cfg.Port, err)
	}

	timeout := cfg.GetReadTimeout()
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("serial: setting read timeout on %s: %w", cfg.Port, err)
	}

	return &Port{port: port, name: cfg.Port}, nil
}

// Mode returns the 8N1 line settings for cfg.
func Mode(cfg config.SerialConfig) *serial.Mode {
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: dataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

// Close releases the port.
func (p *Port) Close() error {
	return p.port.Close()
}

// Name returns the device path, e.g. "/dev/ttyUSB0".
func (p *Port) Name() string {
	return p.name
}

var _ io.ReadCloser = (*Port)(nil)
