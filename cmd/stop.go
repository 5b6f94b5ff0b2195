package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/pktstream/internal/config"
)

// Signaler delivers a signal to a process.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

type processSignaler struct{}

func (processSignaler) Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

var daemonPIDFile string

var signalNames = map[syscall.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGHUP:  "SIGHUP",
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the pktstream daemon",
	Long: `Stop the pktstream daemon gracefully.

This command sends SIGTERM to the process named in the PID file. The daemon
stops capture, closes the servers, drains the bus into the sinks and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile, err := resolvePIDFile(daemonPIDFile, configFile)
		if err != nil {
			return err
		}
		return runSignal(pidFile, syscall.SIGTERM, processSignaler{}, cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{stopCmd, reloadCmd} {
		c.Flags().StringVarP(&daemonPIDFile, "pidfile", "p", "",
			"PID file path (default: pid_file from the config)")
	}
}

// resolvePIDFile prefers the flag, then the pid_file config key.
func resolvePIDFile(flag, cfgPath string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.PIDFile == "" {
		return "", fmt.Errorf("no PID file: set pid_file in the config or pass --pidfile")
	}
	return cfg.PIDFile, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("daemon not running? %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

func runSignal(pidFile string, sig syscall.Signal, s Signaler, out io.Writer) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}
	if err := s.Signal(pid, sig); err != nil {
		return fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
	}
	fmt.Fprintf(out, "✓ Sent %s to daemon (pid %d)\n", signalNames[sig], pid)
	return nil
}
