package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/stream"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

var (
	connectTimeout = 5 * time.Second
	newClient      = mqtt.NewClient
)

// ErrConnectPending means the broker did not answer within the connect
// timeout. The client keeps retrying in the background.
var ErrConnectPending = errors.New("mqtt broker not reachable yet, retrying")

// MQTTConfig selects the broker and topic layout.
type MQTTConfig struct {
	Broker      string // host:port
	ClientID    string
	TopicPrefix string
	Device      string // topic segment naming this device
}

// Topic returns "<prefix>/<device>/<kind>".
func Topic(prefix, device string, kind stream.EventKind) string {
	return fmt.Sprintf("%s/%s/%s", prefix, device, kind)
}

// MQTTPublisher forwards hub events to a broker. Actuator and status
// events are retained so new subscribers see the current alarm state.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.Mutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTPublisher creates a publisher; call Connect before Run.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	return &MQTTPublisher{cfg: cfg}
}

// Connect establishes the broker connection. The client reconnects on its
// own afterwards. ErrConnectPending is not final: Run may still be started
// and events flow once the broker comes up. Any error still requires
// Disconnect to stop the client.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		logging.Info("MQTT connection established",
			zap.String("broker", p.cfg.Broker),
			zap.String("client_id", p.cfg.ClientID),
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		logging.Warn("MQTT connection lost, will auto-reconnect",
			zap.String("broker", p.cfg.Broker),
			zap.Error(err),
		)
	}

	p.client = newClient(opts)

	logging.Info("Connecting to MQTT broker", zap.String("broker", p.cfg.Broker))

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return ErrConnectPending
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Serve connects and publishes events until ctx ends or events closes.
// A broker that is down at startup only delays publishing.
func (p *MQTTPublisher) Serve(ctx context.Context, events <-chan stream.Event) {
	defer p.Disconnect()

	err := p.Connect(ctx)
	switch {
	case errors.Is(err, ErrConnectPending):
		logging.Warn("MQTT broker unreachable, publishing once it connects",
			zap.String("broker", p.cfg.Broker),
		)
	case err != nil:
		logging.Warn("MQTT unavailable, events will not be published", zap.Error(err))
		return
	}
	p.Run(ctx, events)
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Run publishes events until the channel closes or ctx is cancelled.
// Publish failures are logged and counted, never fatal.
func (p *MQTTPublisher) Run(ctx context.Context, events <-chan stream.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				logging.Debug("MQTT publish failed",
					zap.String("kind", string(ev.Kind)),
					zap.Error(err),
				)
			}
		}
	}
}

// Publish sends one event as JSON.
func (p *MQTTPublisher) Publish(ev stream.Event) error {
	if p.client == nil || !p.isConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := Topic(p.cfg.TopicPrefix, p.cfg.Device, ev.Kind)
	retained := ev.Kind == stream.EventActuator || ev.Kind == stream.EventStatus

	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	logging.Debug("Event published",
		zap.String("topic", topic),
		zap.Bool("retained", retained),
		zap.Int("size", len(payload)),
	)
	return nil
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Counts returns how many events were published and how many failed.
func (p *MQTTPublisher) Counts() (published, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.errors
}

// Disconnect closes the broker connection and stops any pending retries.
func (p *MQTTPublisher) Disconnect() {
	if p.client != nil {
		p.client.Disconnect(250)
		logging.Info("MQTT disconnected")
	}
	p.setConnected(false)
}
