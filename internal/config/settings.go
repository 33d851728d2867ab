package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its settings file.
const DefaultPath = "/etc/drowsiwatch/drowsiwatch.yaml"

// CurrentVersion is the only settings file version understood.
const CurrentVersion = 1

// Camera sources.
const (
	SourceCommand = "command"
	SourceDir     = "dir"
)

// Actuator drivers.
const (
	DriverGPIO = "gpio"
	DriverLog  = "log"
)

// Restart modes.
const (
	RestartExit   = "exit"
	RestartReboot = "reboot"
)

var fileMutex sync.Mutex

// Settings is the whole settings file.
type Settings struct {
	Version  int              `yaml:"version"`
	DataDir  string           `yaml:"data_dir"`
	WiFi     WiFiSettings     `yaml:"wifi"`
	Portal   PortalSettings   `yaml:"portal"`
	Stream   StreamSettings   `yaml:"stream"`
	Camera   CameraSettings   `yaml:"camera"`
	Model    ModelSettings    `yaml:"model"`
	Actuator ActuatorSettings `yaml:"actuator"`
	Monitor  MonitorSettings  `yaml:"monitor"`
	MQTT     MQTTSettings     `yaml:"mqtt"`
	MDNS     MDNSSettings     `yaml:"mdns"`
	Restart  RestartSettings  `yaml:"restart"`
}

// WiFiSettings configures station mode.
type WiFiSettings struct {
	Interface      string        `yaml:"interface"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// PortalSettings configures the captive portal.
type PortalSettings struct {
	Addr string `yaml:"addr"`
}

// StreamSettings configures the streaming session server.
type StreamSettings struct {
	Port         int           `yaml:"port"`
	ReceivePoll  time.Duration `yaml:"receive_poll"`
	LoopInterval time.Duration `yaml:"loop_interval"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"` // zero: no send timeout
}

// CameraSettings selects and configures the frame source.
type CameraSettings struct {
	Source  string   `yaml:"source"`            // "command" or "dir"
	Command []string `yaml:"command,omitempty"` // capture command, one frame per run on stdout
	Dir     string   `yaml:"dir,omitempty"`     // replay directory
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
}

// ModelSettings locates the classifier worker and its files.
type ModelSettings struct {
	WorkerCommand []string `yaml:"worker_command"`
	ModelPath     string   `yaml:"model_path"`
	LabelsPath    string   `yaml:"labels_path"`
}

// ActuatorSettings selects the buzzer driver.
type ActuatorSettings struct {
	Driver    string `yaml:"driver"` // "gpio" or "log"
	Chip      string `yaml:"chip,omitempty"`
	Line      int    `yaml:"line"`
	ActiveLow bool   `yaml:"active_low"`
}

// MonitorSettings configures the WebSocket live view. An empty Addr disables it.
type MonitorSettings struct {
	Addr string `yaml:"addr"`
}

// MQTTSettings configures event publishing. An empty Broker disables it.
type MQTTSettings struct {
	Broker      string `yaml:"broker,omitempty"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id,omitempty"`
}

// MDNSSettings configures service advertisement.
type MDNSSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"` // defaults to the hostname
}

// RestartSettings picks how a restart request is carried out.
type RestartSettings struct {
	Mode string `yaml:"mode"` // "exit" or "reboot"
}

// Defaults returns the settings used when no file exists.
func Defaults() *Settings {
	return &Settings{
		Version: CurrentVersion,
		DataDir: "/var/lib/drowsiwatch",
		WiFi: WiFiSettings{
			Interface:      "wlan0",
			ConnectTimeout: 15 * time.Second,
			PollInterval:   time.Second,
		},
		Portal: PortalSettings{Addr: ":80"},
		Stream: StreamSettings{
			Port:         1024,
			ReceivePoll:  5 * time.Millisecond,
			LoopInterval: 100 * time.Millisecond,
		},
		Camera: CameraSettings{
			Source:  SourceCommand,
			Command: []string{"rpicam-still", "-n", "-t", "1", "--width", "240", "--height", "240", "-e", "jpg", "-o", "-"},
			Width:   240,
			Height:  240,
		},
		Model: ModelSettings{
			WorkerCommand: []string{"python3", "/usr/lib/drowsiwatch/classify_worker.py"},
			ModelPath:     "/var/lib/drowsiwatch/trained.tflite",
			LabelsPath:    "/var/lib/drowsiwatch/labels.txt",
		},
		Actuator: ActuatorSettings{
			Driver: DriverGPIO,
			Chip:   "gpiochip0",
			Line:   18,
		},
		Monitor: MonitorSettings{Addr: ":8080"},
		MQTT:    MQTTSettings{TopicPrefix: "drowsiwatch"},
		MDNS:    MDNSSettings{Enabled: true},
		Restart: RestartSettings{Mode: RestartExit},
	}
}

// Load reads the settings file at path. A missing file yields Defaults().
// The result is validated before it is returned.
func Load(path string) (*Settings, error) {
	settings := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if settings.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported settings version: %d (expected %d)", settings.Version, CurrentVersion)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	return settings, nil
}

// Save writes the settings to path atomically, creating the directory if needed.
func (s *Settings) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	header := []byte(`# drowsiwatch settings
# WiFi credentials are not stored here; see <data_dir>/config.json.

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary settings file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save settings file: %w", err)
	}

	return nil
}

// FieldError names the setting that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// Validate checks every field and joins all problems found into one error.
// Each problem is a *FieldError.
func (s *Settings) Validate() error {
	var errs []error
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if s.DataDir == "" {
		fail("data_dir", "must not be empty")
	}

	if s.WiFi.Interface == "" {
		fail("wifi.interface", "must not be empty")
	}
	if s.WiFi.ConnectTimeout <= 0 {
		fail("wifi.connect_timeout", "must be positive, got %s", s.WiFi.ConnectTimeout)
	}
	if s.WiFi.PollInterval <= 0 {
		fail("wifi.poll_interval", "must be positive, got %s", s.WiFi.PollInterval)
	}

	if s.Portal.Addr == "" {
		fail("portal.addr", "must not be empty")
	}

	if s.Stream.Port < 1 || s.Stream.Port > 65535 {
		fail("stream.port", "must be 1-65535, got %d", s.Stream.Port)
	}
	if s.Stream.ReceivePoll <= 0 {
		fail("stream.receive_poll", "must be positive, got %s", s.Stream.ReceivePoll)
	}
	if s.Stream.LoopInterval < 0 {
		fail("stream.loop_interval", "must not be negative, got %s", s.Stream.LoopInterval)
	}
	if s.Stream.WriteTimeout < 0 {
		fail("stream.write_timeout", "must not be negative, got %s", s.Stream.WriteTimeout)
	}

	switch s.Camera.Source {
	case SourceCommand:
		if len(s.Camera.Command) == 0 {
			fail("camera.command", "required when source is %q", SourceCommand)
		}
	case SourceDir:
		if s.Camera.Dir == "" {
			fail("camera.dir", "required when source is %q", SourceDir)
		}
	default:
		fail("camera.source", "must be %q or %q, got %q", SourceCommand, SourceDir, s.Camera.Source)
	}
	if s.Camera.Width <= 0 || s.Camera.Height <= 0 {
		fail("camera.width", "frame size must be positive, got %dx%d", s.Camera.Width, s.Camera.Height)
	}

	if len(s.Model.WorkerCommand) == 0 {
		fail("model.worker_command", "must not be empty")
	}
	if s.Model.ModelPath == "" {
		fail("model.model_path", "must not be empty")
	}
	if s.Model.LabelsPath == "" {
		fail("model.labels_path", "must not be empty")
	}

	switch s.Actuator.Driver {
	case DriverGPIO:
		if s.Actuator.Chip == "" {
			fail("actuator.chip", "required for the gpio driver")
		}
		if s.Actuator.Line < 0 {
			fail("actuator.line", "must not be negative, got %d", s.Actuator.Line)
		}
	case DriverLog:
	default:
		fail("actuator.driver", "must be %q or %q, got %q", DriverGPIO, DriverLog, s.Actuator.Driver)
	}

	if s.MQTT.Broker != "" && s.MQTT.TopicPrefix == "" {
		fail("mqtt.topic_prefix", "required when a broker is set")
	}

	switch s.Restart.Mode {
	case RestartExit, RestartReboot:
	default:
		fail("restart.mode", "must be %q or %q, got %q", RestartExit, RestartReboot, s.Restart.Mode)
	}

	return errors.Join(errs...)
}

