package cmd

import (
	"syscall"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Send SIGHUP to the running daemon. The log level is applied immediately;
other changes are reported as requiring a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile, err := resolvePIDFile(daemonPIDFile, configFile)
		if err != nil {
			return err
		}
		return runSignal(pidFile, syscall.SIGHUP, processSignaler{}, cmd.OutOrStdout())
	},
}
