package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/drowsiwatch/internal/actuator"
	"github.com/muurk/drowsiwatch/internal/camera"
	"github.com/muurk/drowsiwatch/internal/config"
	"github.com/muurk/drowsiwatch/internal/credentials"
	"github.com/muurk/drowsiwatch/internal/discovery"
	"github.com/muurk/drowsiwatch/internal/inference"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/monitor"
	"github.com/muurk/drowsiwatch/internal/portal"
	"github.com/muurk/drowsiwatch/internal/provisioning"
	"github.com/muurk/drowsiwatch/internal/stream"
	"github.com/muurk/drowsiwatch/internal/version"
	"github.com/muurk/drowsiwatch/internal/wifi"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	Long: `Run the drowsiness alarm daemon.

Startup order:
  1. The buzzer is silenced.
  2. WiFi is provisioned. With no stored credentials, or when the join times
     out, the device starts its own access point and serves the configuration
     portal. A submitted network is saved and the daemon restarts.
  3. The label file, model worker and camera are opened; failure aborts
     startup.
  4. The stream server listens on the station address and serves one peer
     at a time until the daemon is stopped.`,
	Example: `  # Run with the default settings file
  drowsiwatch run

  # Run with debug logging and a bench settings file
  drowsiwatch run --config ./bench.yaml --log-level debug`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	level := logLevel
	if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		level = "info"
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Starting drowsiwatch",
		zap.String("version", version.Full()),
		zap.String("config", configPath),
	)

	driver, closeDriver, err := openActuator(settings.Actuator)
	if err != nil {
		return err
	}
	defer closeDriver()

	ctrl := actuator.NewController(driver)
	if err := ctrl.SetAlerting(false); err != nil {
		return fmt.Errorf("failed to silence buzzer: %w", err)
	}
	defer func() { _ = ctrl.Close() }()

	link, err := provisionNetwork(ctx, settings)
	if err != nil {
		return err
	}
	if link == nil {
		return nil
	}

	labels, err := inference.LoadLabels(settings.Model.LabelsPath)
	if err != nil {
		return err
	}
	worker, err := inference.StartWorker(ctx, inference.WorkerConfig{
		Command:   settings.Model.WorkerCommand,
		ModelPath: settings.Model.ModelPath,
	})
	if err != nil {
		return err
	}
	defer func() { _ = worker.Close() }()

	if n := worker.Outputs(); n > 0 && n != len(labels) {
		logging.Warn("Model outputs and labels differ; extra entries are ignored",
			zap.Int("outputs", n),
			zap.Int("labels", len(labels)),
		)
	}

	cam, err := openCamera(settings.Camera)
	if err != nil {
		return err
	}
	defer func() { _ = cam.Close() }()

	hub := monitor.NewHub()
	ctrl.OnChange(hub.ActuatorChanged)
	startObservers(ctx, settings, hub)

	srv := stream.New(cam, worker, ctrl, labels)
	srv.ReceivePoll = settings.Stream.ReceivePoll
	srv.LoopInterval = settings.Stream.LoopInterval
	srv.WriteTimeout = settings.Stream.WriteTimeout
	srv.Events = hub

	if settings.MDNS.Enabled {
		ad, err := discovery.Advertise(settings.MDNS.Instance, settings.Stream.Port)
		if err != nil {
			logging.Warn("mDNS advertisement unavailable", zap.Error(err))
		} else {
			defer ad.Shutdown()
		}
	}

	addr := net.JoinHostPort(link.Address, strconv.Itoa(settings.Stream.Port))
	err = srv.ListenAndServe(ctx, addr)
	if ctx.Err() != nil {
		logging.Info("Shutdown signal received, stopping")
		return nil
	}
	return err
}

// provisionNetwork is replaced in tests.
var provisionNetwork = provision

// provision runs WiFi provisioning. A nil link with a nil error means the
// daemon should stop quietly: it was asked to restart or to shut down.
func provision(ctx context.Context, settings *config.Settings) (*wifi.Link, error) {
	store := credentials.NewStore(settings.DataDir)

	mgr := wifi.NewManager(wifi.NewNMCLIRadio(settings.WiFi.Interface, nil))
	mgr.PollInterval = settings.WiFi.PollInterval

	prov := provisioning.New(store, mgr, portal.New(store), newRestarter(settings.Restart.Mode))
	prov.ConnectTimeout = settings.WiFi.ConnectTimeout
	prov.PortalAddr = settings.Portal.Addr

	result, err := prov.Run(ctx)
	switch {
	case err == nil:
		return &result.Link, nil
	case errors.Is(err, provisioning.ErrRestartRequired):
		logging.Info("Credentials saved, waiting for restart")
		return nil, nil
	case ctx.Err() != nil:
		return nil, nil
	}

	// Failed: idle with the buzzer silent until the operator intervenes.
	logging.Error("Provisioning failed, idling until stopped",
		zap.String("state", prov.State().String()),
		zap.Error(err),
	)
	<-ctx.Done()
	return nil, err
}

func newRestarter(mode string) provisioning.Restarter {
	if mode == config.RestartReboot {
		return provisioning.NewRebootRestarter()
	}
	return provisioning.NewExitRestarter()
}

func openActuator(cfg config.ActuatorSettings) (actuator.Driver, func(), error) {
	if cfg.Driver == config.DriverLog {
		return actuator.LogDriver{}, func() {}, nil
	}

	driver, err := actuator.OpenGPIO(actuator.GPIOConfig{
		Chip:      cfg.Chip,
		Line:      cfg.Line,
		ActiveLow: cfg.ActiveLow,
	})
	if err != nil {
		return nil, nil, err
	}
	return driver, func() { _ = driver.Close() }, nil
}

func openCamera(cfg config.CameraSettings) (camera.Source, error) {
	if cfg.Source == config.SourceDir {
		return camera.NewDirSource(cfg.Dir, cfg.Width, cfg.Height)
	}
	return camera.NewCommandSource(cfg.Command, cfg.Width, cfg.Height)
}

// startObservers runs the live view and the MQTT publisher in the
// background. Neither can stop the daemon.
func startObservers(ctx context.Context, settings *config.Settings, hub *monitor.Hub) {
	if settings.Monitor.Addr != "" {
		go func() {
			if err := monitor.ListenAndServe(ctx, settings.Monitor.Addr, hub); err != nil && ctx.Err() == nil {
				logging.Error("Monitor stopped", zap.Error(err))
			}
		}()
	}

	if settings.MQTT.Broker == "" {
		return
	}

	device := settings.MDNS.Instance
	if device == "" {
		device, _ = os.Hostname()
	}
	clientID := settings.MQTT.ClientID
	if clientID == "" {
		clientID = "drowsiwatch-" + device
	}

	pub := monitor.NewMQTTPublisher(monitor.MQTTConfig{
		Broker:      settings.MQTT.Broker,
		ClientID:    clientID,
		TopicPrefix: settings.MQTT.TopicPrefix,
		Device:      device,
	})
	events, unsubscribe := hub.Subscribe()

	go func() {
		defer unsubscribe()
		pub.Serve(ctx, events)
	}()
}
