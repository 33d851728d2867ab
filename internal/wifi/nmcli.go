package wifi

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// DefaultCommandTimeout bounds a single nmcli invocation.
const DefaultCommandTimeout = 30 * time.Second

// nmcli device state for a fully configured connection.
const nmStateConnected = 100

// apConnectionName is the NetworkManager profile created for the hotspot.
const apConnectionName = "drowsiwatch-ap"

// Runner runs an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return out, err
}

// NMCLIRadio drives a NetworkManager-managed interface through nmcli.
type NMCLIRadio struct {
	iface  string
	runner Runner

	// CommandTimeout bounds each nmcli call.
	CommandTimeout time.Duration
}

// NewNMCLIRadio returns a radio for iface. A nil runner uses ExecRunner.
func NewNMCLIRadio(iface string, runner Runner) *NMCLIRadio {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &NMCLIRadio{
		iface:          iface,
		runner:         runner,
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Interface implements Radio.
func (r *NMCLIRadio) Interface() string {
	return r.iface
}

func (r *NMCLIRadio) run(ctx context.Context, op string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.CommandTimeout)
	defer cancel()

	out, err := r.runner.Run(ctx, "nmcli", args...)
	if err != nil {
		return out, commandError(op, out, err)
	}
	return out, nil
}

// Join implements Radio. The request returns without waiting for
// activation; Connected reports progress.
func (r *NMCLIRadio) Join(ctx context.Context, ssid, psk string) error {
	logging.Debug("nmcli join", zap.String("ssid", ssid), zap.String("interface", r.iface))
	_, err := r.run(ctx, "join",
		"--wait", "0",
		"device", "wifi", "connect", ssid,
		"password", psk,
		"ifname", r.iface,
	)
	return err
}

// Connected implements Radio.
func (r *NMCLIRadio) Connected(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "-t", "-f", "GENERAL.STATE", "device", "show", r.iface)
	if err != nil {
		return false, err
	}

	state, err := parseDeviceState(out)
	if err != nil {
		return false, err
	}
	return state == nmStateConnected, nil
}

// Address implements Radio.
func (r *NMCLIRadio) Address(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "address", "-g", "IP4.ADDRESS", "device", "show", r.iface)
	if err != nil {
		return "", err
	}
	return parseAddress(out)
}

// StartAccessPoint implements Radio.
func (r *NMCLIRadio) StartAccessPoint(ctx context.Context, cfg APConfig) error {
	args := []string{
		"device", "wifi", "hotspot",
		"ifname", r.iface,
		"con-name", apConnectionName,
		"ssid", cfg.SSID,
		"channel", strconv.Itoa(cfg.Channel),
		"band", "bg",
	}
	if cfg.Security == SecurityWPAPSK {
		args = append(args, "password", cfg.Key)
	}

	_, err := r.run(ctx, "start_ap", args...)
	return err
}

// parseDeviceState reads terse "GENERAL.STATE:100 (connected)" output.
func parseDeviceState(out []byte) (int, error) {
	for _, line := range strings.Split(string(out), "\n") {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), "GENERAL.STATE:")
		if !ok {
			continue
		}
		code, _, _ := strings.Cut(value, " ")
		state, err := strconv.Atoi(code)
		if err != nil {
			return 0, parseError("status", out, fmt.Sprintf("bad device state %q", value))
		}
		return state, nil
	}
	return 0, parseError("status", out, "no GENERAL.STATE in output")
}

// parseAddress reads "-g IP4.ADDRESS" output such as "192.168.1.23/24" or
// "192.168.1.23/24 | 10.0.0.5/8" and returns the first address without its prefix length.
func parseAddress(out []byte) (string, error) {
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", parseError("address", out, "interface has no IPv4 address")
	}

	first, _, _ := strings.Cut(value, "|")
	first = strings.TrimSpace(strings.SplitN(first, "\n", 2)[0])
	addr, _, _ := strings.Cut(first, "/")
	if addr == "" {
		return "", parseError("address", out, "empty IPv4 address")
	}
	return addr, nil
}

func trimOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
