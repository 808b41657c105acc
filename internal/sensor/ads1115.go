package sensor

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/banshee-data/motion.report/internal/timeutil"
)

// ADS1115Config selects the I²C bus and channel the Doppler module is wired
// to. Zero values select bus "" (the first registered bus), address 0x48,
// channel 0, 5V full scale and 860 samples/s.
type ADS1115Config struct {
	Bus        string
	Address    uint16
	Channel    int
	MaxVoltage physic.ElectricPotential
	DataRate   physic.Frequency
}

// ADS1115Source samples single-ended channel N of an ADS1115 over I²C.
type ADS1115Source struct {
	bus   i2c.BusCloser
	dev   *ads1x15.Dev
	pin   ads1x15.PinADC
	clock timeutil.Clock
}

var ads1115Channels = []ads1x15.Channel{
	ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3,
}

// OpenADS1115 initialises the periph host drivers and opens the converter.
func OpenADS1115(cfg ADS1115Config, clock timeutil.Clock) (*ADS1115Source, error) {
	if cfg.Channel < 0 || cfg.Channel >= len(ads1115Channels) {
		return nil, fmt.Errorf("invalid ADS1115 channel %d", cfg.Channel)
	}
	if cfg.MaxVoltage == 0 {
		cfg.MaxVoltage = 5 * physic.Volt
	}
	if cfg.DataRate == 0 {
		cfg.DataRate = 860 * physic.Hertz
	}
	opts := ads1x15.DefaultOpts
	if cfg.Address != 0 {
		opts.I2cAddress = cfg.Address
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise periph host: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", cfg.Bus, err)
	}
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open ADS1115 at %#x: %w", opts.I2cAddress, err)
	}
	pin, err := dev.PinForChannel(ads1115Channels[cfg.Channel], cfg.MaxVoltage, cfg.DataRate, ads1x15.SaveEnergy)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to configure ADS1115 channel %d: %w", cfg.Channel, err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ADS1115Source{bus: bus, dev: dev, pin: pin, clock: clock}, nil
}

// Read performs one single-shot conversion.
func (s *ADS1115Source) Read(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	raw, err := s.pin.Read()
	if err != nil {
		return Sample{}, &HardwareReadError{Source: "ads1115", Err: err}
	}
	return fromAnalog(raw, s.clock.Now()), nil
}

func fromAnalog(raw analog.Sample, at time.Time) Sample {
	return Sample{
		Value:     float64(raw.Raw),
		Voltage:   float64(raw.V) / float64(physic.Volt),
		Timestamp: at,
	}
}

// Close halts the pin and releases the bus.
func (s *ADS1115Source) Close() error {
	if err := s.pin.Halt(); err != nil {
		s.bus.Close()
		return err
	}
	return s.bus.Close()
}
