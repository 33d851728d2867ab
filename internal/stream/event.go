package stream

import (
	"time"

	"github.com/muurk/drowsiwatch/internal/protocol"
)

// EventKind names a kind of session activity.
type EventKind string

const (
	EventSessionOpened EventKind = "session_opened"
	EventSessionClosed EventKind = "session_closed"
	EventStatus        EventKind = "status"
	EventPrediction    EventKind = "prediction"
	EventActuator      EventKind = "actuator"
)

// Event is one piece of session activity, published for observers such as
// the live view and MQTT. Fields unrelated to the kind are left empty.
type Event struct {
	Kind       EventKind            `json:"kind"`
	Time       time.Time            `json:"time"`
	RemoteAddr string               `json:"remote_addr,omitempty"`
	Status     string               `json:"status,omitempty"`
	Alerting   bool                 `json:"alerting,omitempty"`
	FrameID    string               `json:"frame_id,omitempty"`
	Prediction *protocol.Prediction `json:"prediction,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

// EventSink receives events. Publish must not block the session loop.
type EventSink interface {
	Publish(ev Event)
}

// fpsClock measures the loop's frame rate over the last few ticks.
type fpsClock struct {
	now    func() time.Time
	ticks  []time.Time
	window int
}

func newFPSClock(now func() time.Time) *fpsClock {
	return &fpsClock{now: now, window: 10}
}

// Tick marks the start of a frame.
func (c *fpsClock) Tick() {
	c.ticks = append(c.ticks, c.now())
	if len(c.ticks) > c.window+1 {
		c.ticks = c.ticks[1:]
	}
}

// FPS returns frames per second across the window, 0 until two ticks.
func (c *fpsClock) FPS() float64 {
	if len(c.ticks) < 2 {
		return 0
	}
	span := c.ticks[len(c.ticks)-1].Sub(c.ticks[0])
	if span <= 0 {
		return 0
	}
	return float64(len(c.ticks)-1) / span.Seconds()
}
