package actuator

import (
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// GPIOConfig selects the output line wired to the buzzer.
type GPIOConfig struct {
	Chip      string // e.g. "gpiochip0"
	Line      int    // line offset on the chip
	ActiveLow bool   // line is asserted by driving it low
}

// outputLine is the subset of *gpiod.Line the driver uses.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// GPIODriver drives a buzzer wired to a plain GPIO output. The line has no
// duty-cycle control, so any intensity below IdleIntensity asserts it.
//
// The line is held at a DC level rather than toggled as a 1 kHz tone, so
// the buzzer must be an active one with its own oscillator. A passive
// piezo on this line stays silent.
type GPIODriver struct {
	line outputLine
	mu   sync.Mutex
}

// OpenGPIO requests the configured line as an output, starting deasserted.
func OpenGPIO(cfg GPIOConfig) (*GPIODriver, error) {
	if cfg.Chip == "" {
		return nil, fmt.Errorf("gpio chip must be set")
	}

	opts := []gpiod.LineReqOption{gpiod.AsOutput(0), gpiod.WithConsumer("drowsiwatch")}
	if cfg.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow)
	}

	line, err := gpiod.RequestLine(cfg.Chip, cfg.Line, opts...)
	if err != nil {
		return nil, fmt.Errorf("request buzzer line %s:%d: %w", cfg.Chip, cfg.Line, err)
	}

	logging.Info("Buzzer GPIO line requested",
		zap.String("chip", cfg.Chip),
		zap.Int("line", cfg.Line),
		zap.Bool("active_low", cfg.ActiveLow),
	)

	return &GPIODriver{line: line}, nil
}

// SetIntensity asserts the line for any intensity below IdleIntensity.
func (d *GPIODriver) SetIntensity(percent int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	value := 0
	if percent < IdleIntensity {
		value = 1
	}
	if err := d.line.SetValue(value); err != nil {
		return fmt.Errorf("set buzzer line: %w", err)
	}
	return nil
}

// Close releases the line.
func (d *GPIODriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.line.Close()
}

// LogDriver records intensity changes in the log only. It stands in for the
// buzzer on benches without one.
type LogDriver struct{}

// SetIntensity logs the requested intensity.
func (LogDriver) SetIntensity(percent int) error {
	logging.Info("Buzzer intensity", zap.Int("percent", percent))
	return nil
}
