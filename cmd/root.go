// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/pktstream/internal/daemon"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pktstream",
	Short: "pktstream - live packet telemetry streaming and storage",
	Long: `pktstream captures frames on one network interface, turns each into a
(timestamp, length, protocol) reading, and streams batches of readings to
browsers over Server-Sent Events and WebSocket while persisting them to
InfluxDB and optional export sinks (UDP line protocol, Kafka, console).

The signaling endpoint relays WebRTC offers and ICE candidates between
connected peers over the same bus.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/pktstream/config.yml",
		"config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}
