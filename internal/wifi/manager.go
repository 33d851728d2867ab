package wifi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muurk/drowsiwatch/internal/credentials"
	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often association status is checked.
const DefaultPollInterval = time.Second

// Status is the result of a station connect attempt.
type Status int

const (
	StatusConnected Status = iota
	StatusTimedOut
	StatusNoCredentials
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusTimedOut:
		return "TimedOut"
	case StatusNoCredentials:
		return "NoCredentials"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// Link is the joined network: the interface used and its local address.
type Link struct {
	Interface string
	Address   string
}

// Outcome is what Connect produced. Link is set only for StatusConnected.
type Outcome struct {
	Status Status
	Link   *Link
}

// Security is the access point authentication mode.
type Security int

const (
	SecurityOpen Security = iota
	SecurityWPAPSK
)

func (s Security) String() string {
	if s == SecurityWPAPSK {
		return "WPA-PSK"
	}
	return "Open"
}

// APConfig describes the fallback access point.
type APConfig struct {
	SSID     string
	Key      string
	Channel  int
	Security Security
}

// DefaultAccessPoint returns the fixed fallback access point the portal runs on.
func DefaultAccessPoint() APConfig {
	return APConfig{
		SSID:     "OpenMV_AP",
		Key:      "1234567890",
		Channel:  2,
		Security: SecurityWPAPSK,
	}
}

// Radio is the WiFi hardware as the manager sees it.
type Radio interface {
	// Join asks the radio to associate with a network. It need not wait
	// for association to complete.
	Join(ctx context.Context, ssid, psk string) error
	// Connected reports whether the station is associated and configured.
	Connected(ctx context.Context) (bool, error)
	// Address returns the station's local IPv4 address.
	Address(ctx context.Context) (string, error)
	// StartAccessPoint switches the radio to access point mode.
	StartAccessPoint(ctx context.Context, cfg APConfig) error
	// Interface names the network interface the radio drives.
	Interface() string
}

// Manager runs station connect attempts against a Radio.
type Manager struct {
	radio Radio

	// PollInterval is the fixed gap between status checks.
	PollInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager with a one second poll interval.
func NewManager(radio Radio) *Manager {
	return &Manager{
		radio:        radio,
		PollInterval: DefaultPollInterval,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect joins the network in creds and waits for association.
//
// Missing or incomplete credentials return StatusNoCredentials without
// touching the radio. Otherwise status is polled every PollInterval until
// the station is connected or more than timeout has elapsed since the join
// request. Radio errors are logged and count as "not connected yet". The
// only error returned is the context's.
func (m *Manager) Connect(ctx context.Context, creds *credentials.WiFiCredentials, timeout time.Duration) (Outcome, error) {
	if creds == nil || !creds.Valid() {
		logging.Info("No WiFi credentials, skipping station connect")
		return Outcome{Status: StatusNoCredentials}, nil
	}

	logging.Info("Connecting to WiFi",
		zap.String("ssid", creds.SSID),
		zap.String("interface", m.radio.Interface()),
		zap.Duration("timeout", timeout),
	)

	if err := m.radio.Join(ctx, creds.SSID, creds.Password); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		logging.Warn("Join request failed, still waiting for association",
			zap.String("ssid", creds.SSID),
			zap.Error(err),
		)
	}

	start := m.now()
	for {
		connected, err := m.radio.Connected(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{}, ctxErr
			}
			logStatusError(err)
		}
		if connected {
			return m.connected(ctx), nil
		}

		elapsed := m.now().Sub(start)
		if elapsed > timeout {
			logging.Warn("Failed to connect to WiFi",
				zap.String("ssid", creds.SSID),
				zap.Duration("elapsed", elapsed),
			)
			return Outcome{Status: StatusTimedOut}, nil
		}

		if err := m.sleep(ctx, m.PollInterval); err != nil {
			return Outcome{}, err
		}
		logging.Debug("Waiting for association", zap.Duration("elapsed", m.now().Sub(start)))
	}
}

// logStatusError reports a failed status check. Unreadable tool output is
// a warning; a tool that fails or stalls while associating is debug noise.
func logStatusError(err error) {
	switch {
	case IsParseError(err):
		logging.Warn("Radio status output not understood", zap.Error(err))
	case IsTimeoutError(err):
		logging.Debug("Radio status check timed out", zap.Error(err))
	case IsCommandError(err):
		logging.Debug("Radio status command failed", zap.Error(err))
	default:
		logging.Debug("Status check failed", zap.Error(err))
	}
}

func (m *Manager) connected(ctx context.Context) Outcome {
	link := &Link{Interface: m.radio.Interface()}

	addr, err := m.radio.Address(ctx)
	if err != nil {
		logging.Warn("Connected but could not read local address", zap.Error(err))
	} else {
		link.Address = addr
	}

	logging.Info("Connected to WiFi",
		zap.String("interface", link.Interface),
		zap.String("address", link.Address),
	)
	return Outcome{Status: StatusConnected, Link: link}
}

// StartAccessPoint brings up the access point once. Failures are returned
// as *Error with Op "start_ap" and are not retried.
func (m *Manager) StartAccessPoint(ctx context.Context, cfg APConfig) error {
	if err := m.radio.StartAccessPoint(ctx, cfg); err != nil {
		var wifiErr *Error
		if errors.As(err, &wifiErr) {
			wifiErr.Op = "start_ap"
			return wifiErr
		}
		return &Error{Op: "start_ap", Kind: KindCommand, Err: err}
	}

	logging.Info("Access point created",
		zap.String("ssid", cfg.SSID),
		zap.Int("channel", cfg.Channel),
		zap.String("security", cfg.Security.String()),
	)
	return nil
}
