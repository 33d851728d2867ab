// Package monitor fans stream events out to observers: WebSocket clients
// of the live view and an optional MQTT broker.
//
// The Hub is the stream server's EventSink. Publish never blocks; a
// subscriber that falls behind loses events rather than stalling the
// session loop.
package monitor

import (
	"sync"
	"time"

	"github.com/muurk/drowsiwatch/internal/actuator"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/protocol"
	"github.com/muurk/drowsiwatch/internal/stream"
	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Status is a snapshot of what the hub has seen, served at /status.
type Status struct {
	Connected      bool                 `json:"connected"`
	RemoteAddr     string               `json:"remote_addr,omitempty"`
	Sessions       int                  `json:"sessions"`
	Predictions    uint64               `json:"predictions"`
	LastPrediction *protocol.Prediction `json:"last_prediction,omitempty"`
	LastStatus     string               `json:"last_status,omitempty"`
	Actuator       string               `json:"actuator"`
	Viewers        int                  `json:"viewers"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type subscriber struct {
	ch      chan stream.Event
	dropped uint64
}

// Hub implements stream.EventSink.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	status      Status
	bufferSize  int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		status:      Status{Actuator: actuator.Idle.String()},
		bufferSize:  DefaultSubscriberBuffer,
	}
}

// Publish records ev in the snapshot and hands it to every subscriber.
func (h *Hub) Publish(ev stream.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.apply(ev)
	for sub := range h.subscribers {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				logging.Warn("Monitor subscriber is behind, dropping events",
					zap.Uint64("dropped", sub.dropped),
				)
			}
		}
	}
}

func (h *Hub) apply(ev stream.Event) {
	st := &h.status
	st.UpdatedAt = ev.Time

	switch ev.Kind {
	case stream.EventSessionOpened:
		st.Connected = true
		st.RemoteAddr = ev.RemoteAddr
		st.Sessions++
	case stream.EventSessionClosed:
		st.Connected = false
		st.RemoteAddr = ""
	case stream.EventPrediction:
		st.Predictions++
		if ev.Prediction != nil {
			p := *ev.Prediction
			st.LastPrediction = &p
		}
	case stream.EventStatus:
		st.LastStatus = ev.Status
	case stream.EventActuator:
		st.Actuator = ev.Status
	}
}

// ActuatorChanged publishes an actuator transition. Register it with
// actuator.Controller.OnChange.
func (h *Hub) ActuatorChanged(state actuator.State) {
	h.Publish(stream.Event{
		Kind:     stream.EventActuator,
		Status:   state.String(),
		Alerting: state == actuator.Alerting,
	})
}

// Subscribe returns a channel of future events and a function that ends
// the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan stream.Event, func()) {
	sub := &subscriber{ch: make(chan stream.Event, h.bufferSize)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Snapshot returns the current status.
func (h *Hub) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.status
	st.Viewers = len(h.subscribers)
	if st.LastPrediction != nil {
		p := *st.LastPrediction
		st.LastPrediction = &p
	}
	return st
}
