// Package actuator drives the alarm buzzer.
//
// The controller exposes a binary contract (idle or alerting) and maps it to
// the two fixed intensity levels the buzzer circuit was wired for. It writes
// the hardware only when the commanded state changes, so a status repeated on
// every loop tick does not make the buzzer chatter.
package actuator

import (
	"fmt"
	"sync"

	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// Intensity levels. The buzzer transistor is driven low-side, so a full duty
// cycle keeps it silent.
const (
	IdleIntensity     = 100
	AlertingIntensity = 50
)

// State is the commanded actuator state.
type State int

const (
	Idle State = iota
	Alerting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Alerting:
		return "alerting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Driver is the actuator hardware primitive.
type Driver interface {
	SetIntensity(percent int) error
}

// Controller owns the last commanded state of one actuator.
type Controller struct {
	driver Driver

	mu        sync.Mutex
	state     State
	written   bool
	listeners []func(State)
}

// NewController returns a controller that has not written the driver yet.
func NewController(driver Driver) *Controller {
	return &Controller{driver: driver}
}

// OnChange registers fn to run after every real state transition.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetAlerting commands the actuator. The driver is written on the first call
// and whenever the value differs from the last successfully written one.
func (c *Controller) SetAlerting(on bool) error {
	next := Idle
	intensity := IdleIntensity
	if on {
		next = Alerting
		intensity = AlertingIntensity
	}

	c.mu.Lock()
	if c.written && c.state == next {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	if err := c.driver.SetIntensity(intensity); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to set actuator %s: %w", next, err)
	}
	first := !c.written
	c.state = next
	c.written = true
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	if first && prev == next {
		logging.Debug("Actuator initialized",
			zap.String("state", next.String()),
			zap.Int("intensity", intensity),
		)
		return nil
	}
	if prev != next {
		logging.Info("Actuator state change",
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
			zap.Int("intensity", intensity),
		)
		for _, fn := range listeners {
			fn(next)
		}
	}
	return nil
}

// State returns the last commanded state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close silences the actuator.
func (c *Controller) Close() error {
	return c.SetAlerting(false)
}
