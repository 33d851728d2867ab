package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/drowsiwatch/internal/config"
	"github.com/muurk/drowsiwatch/internal/credentials"
	"github.com/muurk/drowsiwatch/internal/discovery"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/portal"
	"github.com/muurk/drowsiwatch/internal/ui"
	"github.com/muurk/drowsiwatch/internal/watch"
)

// Tool command flags
var (
	scanTimeout  time.Duration
	portalAddr   string
	watchFind    string
	revealSecret bool
	setSSID      string
	setPassword  string
	assumeYes    bool
	forceInit    bool
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(portalCmd)
	rootCmd.AddCommand(credentialsCmd)
	rootCmd.AddCommand(configCmd)

	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for advertisements")

	watchCmd.Flags().StringVar(&watchFind, "find", "", "Resolve the device by mDNS instance name instead of an address")
	watchCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to look for the device with --find")

	portalCmd.Flags().StringVar(&portalAddr, "addr", "", "Listen address (defaults to portal.addr from the settings)")

	credentialsShowCmd.Flags().BoolVar(&revealSecret, "reveal", false, "Print the password in clear")
	credentialsSetCmd.Flags().StringVar(&setSSID, "ssid", "", "Network name")
	credentialsSetCmd.Flags().StringVar(&setPassword, "password", "", "Network password")
	_ = credentialsSetCmd.MarkFlagRequired("ssid")
	_ = credentialsSetCmd.MarkFlagRequired("password")
	credentialsClearCmd.Flags().BoolVar(&assumeYes, "yes", false, "Do not ask for confirmation")
	credentialsCmd.AddCommand(credentialsShowCmd, credentialsSetCmd, credentialsClearCmd)

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing settings file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}

// initToolLogging keeps helper commands quiet unless --log-level or the
// environment asks for logs.
func initToolLogging() error {
	return logging.Initialize(logLevel)
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find devices on the local network",
	Long: `Listen for mDNS advertisements of the drowsiwatch stream service and list
every device that answers.`,
	Example: `  # Listen for the default 5 seconds
  drowsiwatch discover

  # Longer scan for busy networks
  drowsiwatch discover --timeout 15s`,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if err := initToolLogging(); err != nil {
		return err
	}
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Discover devices", "drowsiwatch discover", []ui.Field{
		{Key: "Service", Value: discovery.ServiceType},
		{Key: "Timeout", Value: scanTimeout.String()},
	})

	scanner := discovery.NewScanner()
	scanner.Timeout = scanTimeout
	devices, err := scanner.Scan(cmd.Context())
	if err != nil {
		p.PrintError("Scan", err, []string{
			"Check that this machine has a multicast-capable interface",
			"Allow UDP port 5353 through the firewall",
		})
		return err
	}

	if len(devices) == 0 {
		p.PrintWarning("No devices found", nil)
		p.Println(ui.HintStyle.Render("  Make sure the device finished provisioning and is on this network."))
		return nil
	}

	for _, d := range devices {
		fields := []ui.Field{
			{Key: "Address", Value: d.Addr()},
			{Key: "Host", Value: d.Hostname},
		}
		if v := d.Version(); v != "" {
			fields = append(fields, ui.Field{Key: "Version", Value: v})
		}
		p.PrintSuccess(d.Instance, fields)
	}
	p.Println(ui.HintStyle.Render("Use 'drowsiwatch watch <address>' to connect to a device"))
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch [host:port]",
	Short: "Connect to a device as the monitoring peer",
	Long: `Open an interactive session with a device's stream port. Predictions are
shown as they arrive; n, u and m send Normal, Unhealthy and MicroSleep
statuses to exercise the buzzer.

The device serves one peer at a time, so watching blocks any other monitor
until you quit.`,
	Example: `  drowsiwatch watch 192.168.1.40:1024
  drowsiwatch watch --find cab-unit-3`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := initToolLogging(); err != nil {
		return err
	}

	var addr string
	switch {
	case len(args) == 1:
		addr = args[0]
	case watchFind != "":
		scanner := discovery.NewScanner()
		scanner.Timeout = scanTimeout
		device, err := scanner.WaitForDevice(cmd.Context(), watchFind)
		if err != nil {
			return err
		}
		addr = device.Addr()
	default:
		return errors.New("give an address or --find <instance>")
	}

	if !strings.Contains(addr, ":") {
		addr += ":" + strconv.Itoa(discovery.DefaultPort)
	}
	return watch.Run(cmd.Context(), addr)
}

var portalCmd = &cobra.Command{
	Use:   "portal",
	Short: "Serve the configuration portal without touching the radio",
	Long: `Serve the captive configuration portal on the current network until one
network is submitted, then save it to the credential store and exit.

Useful on the bench: the access point is not started and nothing restarts.`,
	RunE: runPortal,
}

func runPortal(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := initToolLogging(); err != nil {
		return err
	}

	addr := portalAddr
	if addr == "" {
		addr = settings.Portal.Addr
	}

	p := ui.NewPrinter(cmd.OutOrStdout())
	store := credentials.NewStore(settings.DataDir)
	p.PrintHeader("Configuration portal", "drowsiwatch portal", []ui.Field{
		{Key: "Listening", Value: addr},
		{Key: "Store", Value: store.Path()},
	})

	creds, err := portal.New(store).ListenAndServe(cmd.Context(), addr)
	if err != nil {
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	}

	p.PrintSuccess("Credentials saved", []ui.Field{
		{Key: "SSID", Value: creds.SSID},
		{Key: "Store", Value: store.Path()},
	})
	return nil
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Inspect or change the stored WiFi credentials",
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored network",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		p := ui.NewPrinter(cmd.OutOrStdout())

		creds, ok := store.Load()
		if !ok {
			p.PrintWarning("No usable credentials stored", []ui.Field{
				{Key: "Store", Value: store.Path()},
			})
			p.Println(ui.HintStyle.Render("  The device will start its access point and portal on the next boot."))
			return nil
		}

		password := strings.Repeat("•", len(creds.Password))
		if revealSecret {
			password = creds.Password
		}
		p.PrintSuccess("Stored network", []ui.Field{
			{Key: "SSID", Value: creds.SSID},
			{Key: "Password", Value: password},
			{Key: "Store", Value: store.Path()},
		})
		return nil
	},
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a network, replacing any existing one",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		creds := credentials.WiFiCredentials{SSID: setSSID, Password: setPassword}
		if !creds.Valid() {
			return errors.New("both --ssid and --password must be non-empty")
		}
		if err := store.Save(creds); err != nil {
			return err
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Credentials saved", []ui.Field{
			{Key: "SSID", Value: creds.SSID},
			{Key: "Store", Value: store.Path()},
		})
		return nil
	},
}

var credentialsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored network",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		p := ui.NewPrinter(cmd.OutOrStdout())

		if !assumeYes && !p.Confirm("Clear WiFi credentials", []string{
			"The stored network will be deleted",
			"On the next boot the device starts its access point and portal",
		}, "clear", cmd.InOrStdin()) {
			return nil
		}

		if err := store.Clear(); err != nil {
			return err
		}
		p.PrintSuccess("Credentials cleared", []ui.Field{{Key: "Store", Value: store.Path()}})
		return nil
	},
}

func openStore() (*credentials.Store, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if err := initToolLogging(); err != nil {
		return nil, err
	}
	return credentials.NewStore(settings.DataDir), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the settings file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}
		if err := config.Defaults().Save(configPath); err != nil {
			return err
		}
		ui.NewPrinter(cmd.OutOrStdout()).PrintSuccess("Settings written", []ui.Field{{Key: "Path", Value: configPath}})
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to render settings: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
