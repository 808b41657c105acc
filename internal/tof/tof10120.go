// Package tof drives the TOF10120 laser ranging module over I²C.
package tof

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// DefaultAddress is the module's factory I²C address.
const DefaultAddress = 0x52

// distanceRegister holds the filtered distance, high byte first.
const distanceRegister = 0x00

// ErrorSentinel is returned by ReadDistanceMM when the read fails.
const ErrorSentinel = -1

// TOF10120 reads distances in millimetres.
type TOF10120 struct {
	mu  sync.Mutex
	dev *i2c.Dev
	bus i2c.BusCloser
}

// New wraps an already-open bus. The caller keeps ownership of bus.
func New(bus i2c.Bus, addr uint16) *TOF10120 {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &TOF10120{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

// Open initialises the host drivers and opens the named bus ("" for the
// first one).
func Open(busName string, addr uint16) (*TOF10120, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise periph host: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}
	t := New(bus, addr)
	t.bus = bus
	return t, nil
}

// Distance reads the current distance.
func (t *TOF10120) Distance() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var buf [2]byte
	if err := t.dev.Tx([]byte{distanceRegister}, buf[:]); err != nil {
		return 0, err
	}
	return int(buf[0])<<8 | int(buf[1]), nil
}

// ReadDistanceMM returns the distance or ErrorSentinel on failure.
func (t *TOF10120) ReadDistanceMM(ctx context.Context) int {
	if ctx.Err() != nil {
		return ErrorSentinel
	}
	mm, err := t.Distance()
	if err != nil {
		monitoring.Opsf("tof10120 read failed: %v", err)
		return ErrorSentinel
	}
	return mm
}

// Close releases the bus if Open created it.
func (t *TOF10120) Close() error {
	if t.bus == nil {
		return nil
	}
	return t.bus.Close()
}
