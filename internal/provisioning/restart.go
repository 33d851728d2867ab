package provisioning

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// RestartExitCode is the exit status that asks the service supervisor to
// start the daemon again (EX_TEMPFAIL).
const RestartExitCode = 75

// Restarter restarts the device or the daemon so saved credentials take effect.
type Restarter interface {
	Restart() error
}

// ExitRestarter exits the process with RestartExitCode and relies on the
// supervisor (systemd Restart=on-failure) to start it again.
type ExitRestarter struct {
	exit func(code int)
}

// NewExitRestarter returns a restarter that calls os.Exit.
func NewExitRestarter() *ExitRestarter {
	return &ExitRestarter{exit: os.Exit}
}

// Restart implements Restarter. It does not return unless exit is replaced.
func (r *ExitRestarter) Restart() error {
	logging.Info("Exiting for restart", zap.Int("exit_code", RestartExitCode))
	logging.Sync()
	r.exit(RestartExitCode)
	return nil
}

// RebootRestarter reboots the whole device.
type RebootRestarter struct {
	// Command is the reboot command line.
	Command []string

	run func(name string, args ...string) ([]byte, error)
}

// NewRebootRestarter returns a restarter that runs "reboot".
func NewRebootRestarter() *RebootRestarter {
	return &RebootRestarter{
		Command: []string{"reboot"},
		run: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

// Restart implements Restarter.
func (r *RebootRestarter) Restart() error {
	if len(r.Command) == 0 {
		return fmt.Errorf("no reboot command configured")
	}

	logging.Info("Rebooting device", zap.Strings("command", r.Command))
	logging.Sync()

	out, err := r.run(r.Command[0], r.Command[1:]...)
	if err != nil {
		return fmt.Errorf("reboot command failed: %w (output: %s)", err, out)
	}
	return nil
}
