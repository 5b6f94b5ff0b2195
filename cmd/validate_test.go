package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pktstream/internal/config"
	"firestige.xyz/pktstream/internal/core"
)

const validConfig = `
pktstream:
  capture:
    interface: "eth0"
  storage:
    influxdb:
      token: "super-secret"
    exports:
      - name: "console"
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunValidate_Valid(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(writeConfigFile(t, validConfig), false, &buf)

	require.NoError(t, err)
	assert.Equal(t, "VALID: interface \"eth0\", 1 export(s), influxdb enabled=true\n", buf.String())
}

func TestRunValidate_Invalid(t *testing.T) {
	var buf bytes.Buffer
	err := runValidate(writeConfigFile(t, `
pktstream:
  capture:
    interface: "eth0"
`), false, &buf)

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Contains(t, err.Error(), "INVALID")
	assert.Empty(t, buf.String())
}

func TestRunValidate_PrintRedactsToken(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runValidate(writeConfigFile(t, validConfig), true, &buf))

	out := buf.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "interval: 200ms")

	var printed map[string]config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &printed))
	cfg := printed["pktstream"]
	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, "******", cfg.Storage.InfluxDB.Token)
	assert.Equal(t, 10000, cfg.Storage.MaxSize)
	require.Len(t, cfg.Storage.Exports, 1)
	assert.Equal(t, "console", cfg.Storage.Exports[0].Name)
}
