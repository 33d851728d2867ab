package wifi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muurk/drowsiwatch/internal/credentials"
	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeClock advances only when the manager sleeps.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

type fakeRadio struct {
	clock *fakeClock

	joinErr     error
	connectedAt time.Duration // elapsed time after which Connected is true; <0 never
	statusErr   error
	address     string
	addressErr  error
	apErr       error

	joins      []string
	checks     int
	apStarted  []APConfig
	joinedAt   time.Time
	statusHook func()
}

func (r *fakeRadio) Join(ctx context.Context, ssid, psk string) error {
	r.joins = append(r.joins, ssid+"/"+psk)
	r.joinedAt = r.clock.Now()
	return r.joinErr
}

func (r *fakeRadio) Connected(ctx context.Context) (bool, error) {
	r.checks++
	if r.statusHook != nil {
		r.statusHook()
	}
	if r.statusErr != nil {
		return false, r.statusErr
	}
	if r.connectedAt < 0 {
		return false, nil
	}
	return r.clock.Now().Sub(r.joinedAt) >= r.connectedAt, nil
}

func (r *fakeRadio) Address(ctx context.Context) (string, error) {
	return r.address, r.addressErr
}

func (r *fakeRadio) StartAccessPoint(ctx context.Context, cfg APConfig) error {
	r.apStarted = append(r.apStarted, cfg)
	return r.apErr
}

func (r *fakeRadio) Interface() string { return "wlan0" }

func newTestManager(radio *fakeRadio) (*Manager, *fakeClock) {
	clock := newFakeClock()
	radio.clock = clock
	m := NewManager(radio)
	m.now = clock.Now
	m.sleep = clock.Sleep
	return m, clock
}

var home = &credentials.WiFiCredentials{SSID: "Home", Password: "secret"}

func TestConnect_NoCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds *credentials.WiFiCredentials
	}{
		{"nil", nil},
		{"empty", &credentials.WiFiCredentials{}},
		{"missing password", &credentials.WiFiCredentials{SSID: "Home"}},
		{"missing ssid", &credentials.WiFiCredentials{Password: "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := &fakeRadio{connectedAt: 0}
			m, _ := newTestManager(radio)

			out, err := m.Connect(context.Background(), tt.creds, 15*time.Second)
			if err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if out.Status != StatusNoCredentials || out.Link != nil {
				t.Errorf("Connect() = %+v, want NoCredentials", out)
			}
			if len(radio.joins) != 0 || radio.checks != 0 {
				t.Errorf("radio used without credentials: joins=%v checks=%d", radio.joins, radio.checks)
			}
		})
	}
}

func TestConnect_ImmediateSuccess(t *testing.T) {
	radio := &fakeRadio{connectedAt: 0, address: "192.168.1.23"}
	m, clock := newTestManager(radio)

	out, err := m.Connect(context.Background(), home, 15*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusConnected {
		t.Fatalf("Status = %v, want Connected", out.Status)
	}
	if out.Link == nil || out.Link.Address != "192.168.1.23" || out.Link.Interface != "wlan0" {
		t.Errorf("Link = %+v", out.Link)
	}
	if clock.sleeps != 0 {
		t.Errorf("slept %d times before an immediate success", clock.sleeps)
	}
	if len(radio.joins) != 1 || radio.joins[0] != "Home/secret" {
		t.Errorf("joins = %v", radio.joins)
	}
}

func TestConnect_SuccessAfterPolls(t *testing.T) {
	radio := &fakeRadio{connectedAt: 4 * time.Second, address: "10.0.0.7"}
	m, clock := newTestManager(radio)

	out, err := m.Connect(context.Background(), home, 15*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusConnected {
		t.Fatalf("Status = %v, want Connected", out.Status)
	}
	// Connected is noticed at the first check at or after 4s: no overshoot.
	if clock.sleeps != 4 {
		t.Errorf("sleeps = %d, want 4", clock.sleeps)
	}
	if radio.checks != 5 {
		t.Errorf("checks = %d, want 5", radio.checks)
	}
}

func TestConnect_TimeoutBoundary(t *testing.T) {
	tests := []struct {
		name        string
		connectedAt time.Duration
		want        Status
	}{
		{"never", -1, StatusTimedOut},
		{"at the timeout", 15 * time.Second, StatusConnected},
		{"on the poll after the timeout", 16 * time.Second, StatusConnected},
		{"after the last poll", 17 * time.Second, StatusTimedOut},
		{"within the window", 14 * time.Second, StatusConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			radio := &fakeRadio{connectedAt: tt.connectedAt}
			m, clock := newTestManager(radio)
			start := clock.Now()

			out, err := m.Connect(context.Background(), home, 15*time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != tt.want {
				t.Fatalf("Status = %v, want %v", out.Status, tt.want)
			}

			elapsed := clock.Now().Sub(start)
			if elapsed > 15*time.Second+m.PollInterval {
				t.Errorf("elapsed %v overshoots timeout by more than one poll interval", elapsed)
			}
		})
	}
}

func TestConnect_RadioErrorsWaitForTimeout(t *testing.T) {
	radio := &fakeRadio{
		joinErr:   &Error{Op: "join", Kind: KindCommand, Err: errors.New("exit status 4")},
		statusErr: errors.New("device busy"),
	}
	m, clock := newTestManager(radio)
	start := clock.Now()

	out, err := m.Connect(context.Background(), home, 3*time.Second)
	if err != nil {
		t.Fatalf("Connect() error = %v, radio errors must not be returned", err)
	}
	if out.Status != StatusTimedOut {
		t.Errorf("Status = %v, want TimedOut", out.Status)
	}
	if clock.Now().Sub(start) != 4*time.Second {
		t.Errorf("gave up after %v, want 4s", clock.Now().Sub(start))
	}
}

func TestConnect_AddressErrorStillConnected(t *testing.T) {
	radio := &fakeRadio{connectedAt: 0, addressErr: errors.New("no address")}
	m, _ := newTestManager(radio)

	out, err := m.Connect(context.Background(), home, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != StatusConnected || out.Link == nil || out.Link.Address != "" {
		t.Errorf("Connect() = %+v", out)
	}
}

func TestConnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	radio := &fakeRadio{connectedAt: -1}
	m, _ := newTestManager(radio)
	radio.statusHook = func() {
		if radio.checks == 2 {
			cancel()
		}
	}

	out, err := m.Connect(ctx, home, 15*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	if out.Link != nil {
		t.Errorf("Link = %+v after cancel", out.Link)
	}
}

func TestStartAccessPoint(t *testing.T) {
	radio := &fakeRadio{}
	m, _ := newTestManager(radio)

	if err := m.StartAccessPoint(context.Background(), DefaultAccessPoint()); err != nil {
		t.Fatalf("StartAccessPoint() error = %v", err)
	}
	if len(radio.apStarted) != 1 || radio.apStarted[0] != DefaultAccessPoint() {
		t.Errorf("apStarted = %+v", radio.apStarted)
	}
}

func TestStartAccessPoint_ErrorNotRetried(t *testing.T) {
	radio := &fakeRadio{apErr: errors.New("no AP support")}
	m, _ := newTestManager(radio)

	err := m.StartAccessPoint(context.Background(), DefaultAccessPoint())
	if err == nil {
		t.Fatal("StartAccessPoint() expected error")
	}

	var wifiErr *Error
	if !errors.As(err, &wifiErr) || wifiErr.Op != "start_ap" {
		t.Errorf("error = %#v, want *Error with Op start_ap", err)
	}
	if !IsCommandError(err) {
		t.Error("IsCommandError() = false")
	}
	if len(radio.apStarted) != 1 {
		t.Errorf("StartAccessPoint called %d times, want 1", len(radio.apStarted))
	}
}

func TestDefaultAccessPoint(t *testing.T) {
	ap := DefaultAccessPoint()
	if ap.SSID != "OpenMV_AP" || ap.Key != "1234567890" || ap.Channel != 2 || ap.Security != SecurityWPAPSK {
		t.Errorf("DefaultAccessPoint() = %+v", ap)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusConnected, "Connected"},
		{StatusTimedOut, "TimedOut"},
		{StatusNoCredentials, "NoCredentials"},
		{Status(9), "Status(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestConnect_StatusErrorLogging(t *testing.T) {
	tests := []struct {
		name      string
		statusErr error
		wantWarns int
	}{
		{"unreadable output", &Error{Op: "status", Kind: KindParse, Err: errors.New("no GENERAL.STATE line")}, 1},
		{"tool failure", &Error{Op: "status", Kind: KindCommand, Err: errors.New("exit status 8")}, 0},
		{"tool stalled", &Error{Op: "status", Kind: KindTimeout, Err: context.DeadlineExceeded}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			logging.SetLogger(zap.New(core))
			t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })

			radio := &fakeRadio{statusErr: tt.statusErr}
			m, _ := newTestManager(radio)
			m.PollInterval = 5 * time.Second

			out, err := m.Connect(context.Background(), home, 6*time.Second)
			if err != nil || out.Status != StatusTimedOut {
				t.Fatalf("Connect() = %+v, %v", out, err)
			}

			// Every check fails; the timeout itself warns once.
			warns := logs.FilterMessage("Radio status output not understood").Len()
			if warns != tt.wantWarns*radio.checks {
				t.Errorf("status warnings = %d over %d checks, want %d per check", warns, radio.checks, tt.wantWarns)
			}
			if logs.FilterMessage("Failed to connect to WiFi").Len() != 1 {
				t.Error("timeout was not reported")
			}
		})
	}
}
