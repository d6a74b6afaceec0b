// Jkbms-bridge decodes JK-BMS RS485 "JK02" frames and republishes them to
// Home Assistant over MQTT.
//
// Frames arrive on an MQTT topic (from an RS485 sniffer) or straight from a
// serial adapter. Each BMS is announced through MQTT discovery the first
// time its Settings frame is seen; afterwards its settings and live state
// are published as JSON.
//
// Usage:
//
//	jkbms-bridge [serve] [--config path]
//	jkbms-bridge decode [file|-]
//	jkbms-bridge version
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configEnv names the variable holding the config file path.
const configEnv = "JKBMS_CONFIG"

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command serves.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jkbms-bridge",
		Short: "JK-BMS RS485 to Home Assistant MQTT bridge",
		Long: `Decode JK-BMS JK02 frames and publish them to Home Assistant.

Without a config file the bridge runs on defaults plus the Home Assistant
add-on environment (MQTT_BROKER_HOST, MQTT_BROKER_PORT, MQTT_USERNAME,
MQTT_PASSWORD, TOPIC_TX, TOPIC_VALUES, TOPIC_REGISTRATION, LOG_LEVEL).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv(configEnv),
		"Path to YAML config file (env "+configEnv+"; empty = defaults + environment)")

	root.AddCommand(newServeCmd(), newDecodeCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "jkbms-bridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// runServe runs the bridge with a context cancelled on SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, configPath)
}
