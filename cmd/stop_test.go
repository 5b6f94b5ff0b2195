package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSignaler records the signals a command sends.
type MockSignaler struct {
	mock.Mock
}

func (m *MockSignaler) Signal(pid int, sig syscall.Signal) error {
	args := m.Called(pid, sig)
	return args.Error(0)
}

func writePIDFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pktstream.pid")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunSignal_TableDriven(t *testing.T) {
	tests := []struct {
		name           string
		sig            syscall.Signal
		mockError      error
		expectedError  string
		expectedOutput string
	}{
		{
			name:           "stop",
			sig:            syscall.SIGTERM,
			expectedOutput: "✓ Sent SIGTERM to daemon (pid 4242)",
		},
		{
			name:           "reload",
			sig:            syscall.SIGHUP,
			expectedOutput: "✓ Sent SIGHUP to daemon (pid 4242)",
		},
		{
			name:          "process gone",
			sig:           syscall.SIGTERM,
			mockError:     errors.New("no such process"),
			expectedError: "no such process",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pidFile := writePIDFile(t, "4242\n")
			s := new(MockSignaler)
			s.On("Signal", 4242, tt.sig).Return(tt.mockError)

			var buf bytes.Buffer
			err := runSignal(pidFile, tt.sig, s, &buf)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Empty(t, buf.String())
			} else {
				require.NoError(t, err)
				assert.Contains(t, buf.String(), tt.expectedOutput)
			}
			s.AssertExpectations(t)
		})
	}
}

func TestRunSignal_BadPIDFile(t *testing.T) {
	tests := []struct {
		name    string
		pidFile func(t *testing.T) string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.pid") }},
		{"garbage", func(t *testing.T) string { return writePIDFile(t, "not-a-pid") }},
		{"zero", func(t *testing.T) string { return writePIDFile(t, "0") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := new(MockSignaler)
			var buf bytes.Buffer

			err := runSignal(tt.pidFile(t), syscall.SIGTERM, s, &buf)

			assert.Error(t, err)
			s.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything)
		})
	}
}

func TestResolvePIDFile(t *testing.T) {
	path, err := resolvePIDFile("/run/custom.pid", "")
	require.NoError(t, err)
	assert.Equal(t, "/run/custom.pid", path)

	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
pktstream:
  capture:
    interface: "eth0"
  storage:
    influxdb:
      token: "t"
  pid_file: "/run/pktstream.pid"
`), 0644))

	path, err = resolvePIDFile("", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "/run/pktstream.pid", path)
}

func TestResolvePIDFile_NotConfigured(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
pktstream:
  capture:
    interface: "eth0"
  storage:
    influxdb:
      token: "t"
`), 0644))

	_, err := resolvePIDFile("", cfgPath)
	assert.ErrorContains(t, err, "no PID file")
}
