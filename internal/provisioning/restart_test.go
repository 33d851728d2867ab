package provisioning

import (
	"errors"
	"strings"
	"testing"
)

func TestExitRestarter(t *testing.T) {
	var code int
	r := &ExitRestarter{exit: func(c int) { code = c }}

	if err := r.Restart(); err != nil {
		t.Fatal(err)
	}
	if code != RestartExitCode {
		t.Errorf("exit code = %d, want %d", code, RestartExitCode)
	}
}

func TestRebootRestarter(t *testing.T) {
	var ran []string
	r := NewRebootRestarter()
	r.run = func(name string, args ...string) ([]byte, error) {
		ran = append([]string{name}, args...)
		return nil, nil
	}

	if err := r.Restart(); err != nil {
		t.Fatal(err)
	}
	if strings.Join(ran, " ") != "reboot" {
		t.Errorf("ran %q, want reboot", ran)
	}
}

func TestRebootRestarter_Errors(t *testing.T) {
	r := NewRebootRestarter()
	r.run = func(name string, args ...string) ([]byte, error) {
		return []byte("must be superuser"), errors.New("exit status 1")
	}

	err := r.Restart()
	if err == nil || !strings.Contains(err.Error(), "must be superuser") {
		t.Errorf("Restart() error = %v", err)
	}

	r.Command = nil
	if err := r.Restart(); err == nil {
		t.Error("Restart() with no command succeeded")
	}
}
