package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults_Validate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults().Validate() error = %v", err)
	}
}

func TestDefaults_Values(t *testing.T) {
	s := Defaults()

	if s.WiFi.ConnectTimeout != 15*time.Second {
		t.Errorf("connect timeout = %v, want 15s", s.WiFi.ConnectTimeout)
	}
	if s.WiFi.PollInterval != time.Second {
		t.Errorf("poll interval = %v, want 1s", s.WiFi.PollInterval)
	}
	if s.Stream.Port != 1024 {
		t.Errorf("stream port = %d, want 1024", s.Stream.Port)
	}
	if s.Stream.LoopInterval != 100*time.Millisecond {
		t.Errorf("loop interval = %v, want 100ms", s.Stream.LoopInterval)
	}
	if s.Portal.Addr != ":80" {
		t.Errorf("portal addr = %q, want :80", s.Portal.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Stream.Port != Defaults().Stream.Port {
		t.Errorf("Load() of missing file did not return defaults")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drowsiwatch.yaml")
	content := `version: 1
data_dir: /tmp/dw
wifi:
  connect_timeout: 30s
stream:
  port: 2048
actuator:
  driver: log
camera:
  source: dir
  dir: /tmp/frames
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.DataDir != "/tmp/dw" {
		t.Errorf("DataDir = %q", s.DataDir)
	}
	if s.WiFi.ConnectTimeout != 30*time.Second {
		t.Errorf("ConnectTimeout = %v, want 30s", s.WiFi.ConnectTimeout)
	}
	if s.WiFi.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want default 1s kept", s.WiFi.PollInterval)
	}
	if s.WiFi.Interface != "wlan0" {
		t.Errorf("Interface = %q, want default kept", s.WiFi.Interface)
	}
	if s.Stream.Port != 2048 {
		t.Errorf("Port = %d, want 2048", s.Stream.Port)
	}
	if s.Actuator.Driver != DriverLog {
		t.Errorf("Driver = %q, want log", s.Actuator.Driver)
	}
	if s.Camera.Source != SourceDir || s.Camera.Dir != "/tmp/frames" {
		t.Errorf("Camera = %+v", s.Camera)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{"bad yaml", "version: [1\n", "failed to parse"},
		{"wrong version", "version: 2\n", "unsupported settings version"},
		{"bad duration", "version: 1\nwifi:\n  connect_timeout: soon\n", "failed to parse"},
		{"invalid port", "version: 1\nstream:\n  port: 70000\n", "stream.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "drowsiwatch.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		field  string
	}{
		{"empty data dir", func(s *Settings) { s.DataDir = "" }, "data_dir"},
		{"zero connect timeout", func(s *Settings) { s.WiFi.ConnectTimeout = 0 }, "wifi.connect_timeout"},
		{"negative poll", func(s *Settings) { s.WiFi.PollInterval = -time.Second }, "wifi.poll_interval"},
		{"port zero", func(s *Settings) { s.Stream.Port = 0 }, "stream.port"},
		{"port too large", func(s *Settings) { s.Stream.Port = 65536 }, "stream.port"},
		{"zero receive poll", func(s *Settings) { s.Stream.ReceivePoll = 0 }, "stream.receive_poll"},
		{"negative loop", func(s *Settings) { s.Stream.LoopInterval = -1 }, "stream.loop_interval"},
		{"negative write timeout", func(s *Settings) { s.Stream.WriteTimeout = -time.Second }, "stream.write_timeout"},
		{"unknown source", func(s *Settings) { s.Camera.Source = "rtsp" }, "camera.source"},
		{"command missing", func(s *Settings) { s.Camera.Command = nil }, "camera.command"},
		{"dir missing", func(s *Settings) { s.Camera.Source = SourceDir; s.Camera.Dir = "" }, "camera.dir"},
		{"no worker", func(s *Settings) { s.Model.WorkerCommand = nil }, "model.worker_command"},
		{"no labels", func(s *Settings) { s.Model.LabelsPath = "" }, "model.labels_path"},
		{"unknown driver", func(s *Settings) { s.Actuator.Driver = "pwm" }, "actuator.driver"},
		{"gpio without chip", func(s *Settings) { s.Actuator.Chip = "" }, "actuator.chip"},
		{"mqtt without prefix", func(s *Settings) { s.MQTT.Broker = "tcp://b:1883"; s.MQTT.TopicPrefix = "" }, "mqtt.topic_prefix"},
		{"unknown restart", func(s *Settings) { s.Restart.Mode = "poweroff" }, "restart.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.modify(s)

			err := s.Validate()
			if err == nil {
				t.Fatal("Validate() expected error")
			}

			var fieldErr *FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("Validate() error %v is not a *FieldError", err)
			}
			if fieldErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", fieldErr.Field, tt.field)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	s := Defaults()
	s.DataDir = ""
	s.Stream.Port = -1

	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, field := range []string{"data_dir", "stream.port"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "drowsiwatch.yaml")

	s := Defaults()
	s.Stream.Port = 4321
	s.MQTT.Broker = "tcp://broker:1883"

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Stream.Port != 4321 || loaded.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Stream.ReceivePoll != 5*time.Millisecond {
		t.Errorf("ReceivePoll = %v after round trip", loaded.Stream.ReceivePoll)
	}
}
