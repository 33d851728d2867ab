// Drowsiwatch is the drowsiness alarm daemon and its operator tooling.
//
// On the device, 'drowsiwatch run' provisions WiFi (falling back to an
// access point with a configuration portal) and then streams classifier
// predictions to one peer over TCP while the peer's drowsiness statuses
// drive the buzzer.
//
// Usage:
//
//	drowsiwatch run [flags]
//	drowsiwatch discover
//	drowsiwatch watch <host:port>
//
// See 'drowsiwatch --help' for all commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/drowsiwatch/internal/config"
	"github.com/muurk/drowsiwatch/internal/logging"
	"github.com/muurk/drowsiwatch/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "drowsiwatch",
	Short: "Drowsiness alarm daemon",
	Long: `Drowsiwatch runs on a camera-equipped controller in a vehicle cab.

It joins the configured WiFi network (or serves a configuration portal on its
own access point when it cannot), classifies camera frames, and streams the
results to a monitoring peer. Status messages from the peer sound the buzzer.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $"+logging.LogLevelEnvVar)

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("drowsiwatch %s\n", version.Full())
	},
}

// loadSettings reads the settings file named by --config.
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return settings, nil
}
