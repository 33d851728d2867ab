package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/muurk/drowsiwatch/internal/actuator"
	"github.com/muurk/drowsiwatch/internal/protocol"
	"github.com/muurk/drowsiwatch/internal/stream"
)

func TestHub_SnapshotFollowsEvents(t *testing.T) {
	hub := NewHub()

	hub.Publish(stream.Event{Kind: stream.EventSessionOpened, RemoteAddr: "10.0.0.9:51000"})
	hub.Publish(stream.Event{Kind: stream.EventPrediction, Prediction: &protocol.Prediction{Label: "drowsy", Confidence: 0.9}})
	hub.Publish(stream.Event{Kind: stream.EventStatus, Status: "MicroSleep", Alerting: true})
	hub.ActuatorChanged(actuator.Alerting)

	st := hub.Snapshot()
	if !st.Connected || st.RemoteAddr != "10.0.0.9:51000" || st.Sessions != 1 {
		t.Errorf("session fields = %+v", st)
	}
	if st.Predictions != 1 || st.LastPrediction == nil || st.LastPrediction.Label != "drowsy" {
		t.Errorf("prediction fields = %+v", st)
	}
	if st.LastStatus != "MicroSleep" || st.Actuator != "alerting" {
		t.Errorf("status fields = %+v", st)
	}

	hub.Publish(stream.Event{Kind: stream.EventSessionClosed})
	st = hub.Snapshot()
	if st.Connected || st.RemoteAddr != "" || st.Sessions != 1 {
		t.Errorf("after close = %+v", st)
	}
}

func TestHub_SubscribeAndDrop(t *testing.T) {
	hub := NewHub()
	hub.bufferSize = 2

	events, unsubscribe := hub.Subscribe()
	if hub.Snapshot().Viewers != 1 {
		t.Fatalf("Viewers = %d, want 1", hub.Snapshot().Viewers)
	}

	for i := 0; i < 5; i++ {
		hub.Publish(stream.Event{Kind: stream.EventPrediction})
	}
	if len(events) != 2 {
		t.Errorf("queued = %d, want 2 (rest dropped)", len(events))
	}

	unsubscribe()
	unsubscribe()
	if hub.Snapshot().Viewers != 0 {
		t.Errorf("Viewers after unsubscribe = %d", hub.Snapshot().Viewers)
	}

	// Drain; the channel must be closed.
	for range events {
	}
	hub.Publish(stream.Event{Kind: stream.EventStatus})
}

func TestHandler_Status(t *testing.T) {
	hub := NewHub()
	hub.ActuatorChanged(actuator.Alerting)

	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Actuator != "alerting" {
		t.Errorf("Actuator = %q, want alerting", st.Actuator)
	}
}

func TestHandler_WebSocketDeliversEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var snapshot Status
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("ReadJSON(snapshot) error = %v", err)
	}
	if snapshot.Viewers != 1 {
		t.Errorf("snapshot Viewers = %d, want 1", snapshot.Viewers)
	}

	hub.Publish(stream.Event{
		Kind:       stream.EventPrediction,
		Prediction: &protocol.Prediction{Label: "alert", Confidence: 0.75},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev stream.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.Kind != stream.EventPrediction || ev.Prediction == nil || ev.Prediction.Label != "alert" {
		t.Errorf("event = %+v", ev)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Snapshot().Viewers != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not unsubscribe after client left")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_WebSocketSendsSnapshotFirst(t *testing.T) {
	hub := NewHub()
	hub.Publish(stream.Event{Kind: stream.EventSessionOpened, RemoteAddr: "192.168.1.40:51234"})
	hub.Publish(stream.Event{Kind: stream.EventStatus, Status: protocol.StatusMicroSleep})

	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var st Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("no snapshot on connect: %v", err)
	}
	if !st.Connected || st.RemoteAddr != "192.168.1.40:51234" || st.LastStatus != protocol.StatusMicroSleep {
		t.Errorf("snapshot = %+v", st)
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("drowsiwatch", "cab-unit-3", stream.EventActuator); got != "drowsiwatch/cab-unit-3/actuator" {
		t.Errorf("Topic() = %q", got)
	}
}

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// pendingToken never completes, like a connect to a broker that is down.
type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

// fakeClient implements the part of mqtt.Client the publisher uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	msgs         []published
	err          error
	connectToken mqtt.Token
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectToken != nil {
		return c.connectToken
	}
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(MQTTConfig{TopicPrefix: "drowsiwatch", Device: "cab-unit-3"})
	p.client = client
	p.setConnected(true)

	if err := p.Publish(stream.Event{Kind: stream.EventActuator, Status: "alerting", Alerting: true}); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(stream.Event{Kind: stream.EventPrediction, Prediction: &protocol.Prediction{Label: "drowsy", Confidence: 0.9}}); err != nil {
		t.Fatal(err)
	}

	if len(client.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.msgs))
	}
	if m := client.msgs[0]; m.topic != "drowsiwatch/cab-unit-3/actuator" || !m.retained {
		t.Errorf("actuator message = %+v", m)
	}
	if m := client.msgs[1]; m.topic != "drowsiwatch/cab-unit-3/prediction" || m.retained {
		t.Errorf("prediction message = %+v", m)
	}

	var ev stream.Event
	if err := json.Unmarshal(client.msgs[1].payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Prediction == nil || ev.Prediction.Confidence != 0.9 {
		t.Errorf("payload = %s", client.msgs[1].payload)
	}

	if ok, failed := p.Counts(); ok != 2 || failed != 0 {
		t.Errorf("Counts() = %d, %d", ok, failed)
	}
}

func TestMQTTPublisher_Failures(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{TopicPrefix: "drowsiwatch", Device: "d"})
	if err := p.Publish(stream.Event{Kind: stream.EventStatus}); err == nil {
		t.Error("Publish() without a connection succeeded")
	}

	p.client = &fakeClient{err: errors.New("not authorized")}
	p.setConnected(true)
	if err := p.Publish(stream.Event{Kind: stream.EventStatus}); err == nil {
		t.Error("Publish() ignored the broker error")
	}

	if _, failed := p.Counts(); failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}
}

func TestMQTTPublisher_RunStopsWhenChannelCloses(t *testing.T) {
	client := &fakeClient{}
	p := NewMQTTPublisher(MQTTConfig{TopicPrefix: "drowsiwatch", Device: "d"})
	p.client = client
	p.setConnected(true)

	hub := NewHub()
	events, unsubscribe := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		p.Run(t.Context(), events)
		close(done)
	}()

	hub.ActuatorChanged(actuator.Alerting)
	hub.ActuatorChanged(actuator.Idle)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ok, _ := p.Counts(); ok == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("events were not published")
		}
		time.Sleep(5 * time.Millisecond)
	}

	unsubscribe()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestMQTTPublisher_ServeKeepsDrainingUntilBrokerConnects(t *testing.T) {
	client := &fakeClient{connectToken: pendingToken{}}
	prevNew, prevTimeout := newClient, connectTimeout
	newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	connectTimeout = 20 * time.Millisecond
	t.Cleanup(func() { newClient, connectTimeout = prevNew, prevTimeout })

	p := NewMQTTPublisher(MQTTConfig{Broker: "broker:1883", TopicPrefix: "drowsiwatch", Device: "d"})
	events := make(chan stream.Event)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Serve(ctx, events)
		close(done)
	}()

	send := func() {
		t.Helper()
		select {
		case events <- stream.Event{Kind: stream.EventPrediction}:
		case <-time.After(2 * time.Second):
			t.Fatal("Serve stopped reading events")
		}
	}
	waitCounts := func(wantOK, wantFailed uint64) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			ok, failed := p.Counts()
			if ok == wantOK && failed == wantFailed {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("Counts() = %d, %d; want %d, %d", ok, failed, wantOK, wantFailed)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	for i := 0; i < 3; i++ {
		send()
	}
	waitCounts(0, 3)

	// The client's OnConnect handler fires once the broker is reachable.
	p.setConnected(true)
	send()
	waitCounts(1, 3)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.disconnected {
		t.Error("client was not disconnected")
	}
	if len(client.msgs) != 1 {
		t.Errorf("published %d messages, want 1", len(client.msgs))
	}
}
