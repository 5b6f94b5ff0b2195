package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/pktstream/internal/daemon"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pktstream daemon in foreground",
	Long: `Run the pktstream daemon process in foreground.

The daemon will:
  1. Load configuration from the config file and the environment
  2. Initialize logging and metrics
  3. Connect the storage sinks and subscribe the storage writer to the bus
  4. Open the capture interface and start the stream pipeline
  5. Serve /health and /static, the SSE signaling endpoint and WebSocket
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Examples:
  pktstream serve -c config.yml
  CAPTURE_IFACE=eth0 INFLUX_TOKEN=... pktstream serve -c ""`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d, err := daemon.New(configFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run(ctx)
}
