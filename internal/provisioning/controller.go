// Package provisioning decides how the device gets onto a network at startup.
//
// The controller walks a fixed sequence of states once per process:
//
//	Unconfigured ─▶ ConnectingStation ─▶ Connected
//	      │                 │
//	      └────────┬────────┘
//	               ▼
//	       ApFallbackServing ─▶ RestartRequired
//	               │
//	               ▼
//	             Failed
//
// Stored credentials lead to a station join. No credentials, or a join that
// times out, bring up the fallback access point and the captive portal. A
// portal submission is saved and the device restarts to use it. No state is
// entered twice; recovering from Failed takes a restart.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muurk/drowsiwatch/internal/credentials"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/portal"
	"github.com/muurk/drowsiwatch/internal/wifi"
	"go.uber.org/zap"
)

// DefaultConnectTimeout is how long a station join may take.
const DefaultConnectTimeout = 15 * time.Second

var (
	// ErrRestartRequired is returned after new credentials were saved and a
	// restart was requested.
	ErrRestartRequired = errors.New("restart required to apply new credentials")

	// ErrAccessPointFailed is returned when the fallback access point could not start.
	ErrAccessPointFailed = errors.New("failed to start access point")
)

// State is a provisioning step.
type State int

const (
	StateUnconfigured State = iota
	StateConnectingStation
	StateApFallbackServing
	StateConnected
	StateRestartRequired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "Unconfigured"
	case StateConnectingStation:
		return "ConnectingStation"
	case StateApFallbackServing:
		return "ApFallbackServing"
	case StateConnected:
		return "Connected"
	case StateRestartRequired:
		return "RestartRequired"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// CredentialLoader reads the stored credentials. *credentials.Store implements it.
type CredentialLoader interface {
	Load() (*credentials.WiFiCredentials, bool)
}

// Network joins networks and starts the access point. *wifi.Manager implements it.
type Network interface {
	Connect(ctx context.Context, creds *credentials.WiFiCredentials, timeout time.Duration) (wifi.Outcome, error)
	StartAccessPoint(ctx context.Context, cfg wifi.APConfig) error
}

// Portal collects one credential submission. *portal.Server implements it.
type Portal interface {
	ListenAndServe(ctx context.Context, addr string) (*credentials.WiFiCredentials, error)
}

// Result is a successful provisioning: the joined network.
type Result struct {
	Link        wifi.Link
	Credentials credentials.WiFiCredentials
}

// Controller runs the provisioning sequence.
type Controller struct {
	store     CredentialLoader
	network   Network
	portal    Portal
	restarter Restarter

	// ConnectTimeout bounds the station join.
	ConnectTimeout time.Duration
	// PortalAddr is where the portal listens while the access point is up.
	PortalAddr string
	// AccessPoint is the fallback network.
	AccessPoint wifi.APConfig

	states []State
}

// New creates a controller with the fixed timeout, portal port and access point.
func New(store CredentialLoader, network Network, p Portal, restarter Restarter) *Controller {
	return &Controller{
		store:          store,
		network:        network,
		portal:         p,
		restarter:      restarter,
		ConnectTimeout: DefaultConnectTimeout,
		PortalAddr:     portal.DefaultAddr,
		AccessPoint:    wifi.DefaultAccessPoint(),
	}
}

// States returns the states entered so far, in order.
func (c *Controller) States() []State {
	out := make([]State, len(c.states))
	copy(out, c.states)
	return out
}

// State returns the current state.
func (c *Controller) State() State {
	if len(c.states) == 0 {
		return StateUnconfigured
	}
	return c.states[len(c.states)-1]
}

func (c *Controller) enter(next State) {
	if len(c.states) > 0 {
		logging.LogStateTransition(c.State().String(), next.String())
	}
	c.states = append(c.states, next)
}

// Run provisions the network.
//
// On success it returns the joined link. When the fallback path was taken
// it does not return a Result: a saved submission yields ErrRestartRequired
// (after the restarter ran), and an access point failure yields an error
// wrapping ErrAccessPointFailed with the controller in StateFailed.
// Run may be called once per controller.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if len(c.states) > 0 {
		return nil, errors.New("provisioning already ran")
	}
	c.enter(StateUnconfigured)

	creds, ok := c.store.Load()
	if !ok {
		logging.Info("Failed to load WiFi credentials, starting AP mode")
		return nil, c.serveFallback(ctx)
	}

	c.enter(StateConnectingStation)
	outcome, err := c.network.Connect(ctx, creds, c.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	switch outcome.Status {
	case wifi.StatusConnected:
		c.enter(StateConnected)
		result := &Result{Credentials: *creds}
		if outcome.Link != nil {
			result.Link = *outcome.Link
		}
		return result, nil
	default:
		logging.Info("Station connect did not succeed, starting AP mode",
			zap.String("outcome", outcome.Status.String()),
		)
		return nil, c.serveFallback(ctx)
	}
}

func (c *Controller) serveFallback(ctx context.Context) error {
	c.enter(StateApFallbackServing)

	if err := c.network.StartAccessPoint(ctx, c.AccessPoint); err != nil {
		c.enter(StateFailed)
		return fmt.Errorf("%w: %w", ErrAccessPointFailed, err)
	}

	creds, err := c.portal.ListenAndServe(ctx, c.PortalAddr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.enter(StateFailed)
		return fmt.Errorf("captive portal failed: %w", err)
	}

	logging.Info("New credentials saved, restarting",
		zap.String("ssid", creds.SSID),
	)
	c.enter(StateRestartRequired)

	if err := c.restarter.Restart(); err != nil {
		return fmt.Errorf("%w: restart failed: %w", ErrRestartRequired, err)
	}
	return ErrRestartRequired
}
