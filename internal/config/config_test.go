package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "xray-bench", cfg.App.Name)
	assert.Equal(t, uint16(0x16c0), cfg.Dalsa.VendorID)
	assert.Equal(t, uint16(0x0483), cfg.Dalsa.ProductID)
	assert.Equal(t, 2, cfg.Dalsa.Interface)
	assert.Equal(t, uint8(7), cfg.Dalsa.BulkEndpoint)
	assert.Equal(t, 500*time.Millisecond, cfg.Dalsa.ReadTimeout)
	assert.Equal(t, "dalsa", cfg.Faxitron.Link)
	assert.Equal(t, 2*time.Second, cfg.Faxitron.Margin)
	assert.Equal(t, 20, cfg.FX3.Attempts)
	assert.Equal(t, uint16(0x04b4), cfg.FX3.BootloaderVendorID)
}

func TestLoad_FileOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
dalsa:
  readTimeout: 250ms
  maxRetries: 3
faxitron:
  link: serial
  serial:
    port: /dev/ttyUSB0
    baudRate: 19200
auth:
  enabled: true
  apiKeys: ["k1", "k2"]
`))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Dalsa.ReadTimeout)
	assert.Equal(t, 3, cfg.Dalsa.MaxRetries)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Faxitron.Serial.Port)
	assert.Equal(t, 19200, cfg.Faxitron.Serial.BaudRate)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("XRB_DALSA_MAXPOLLS", "42")
	cfg, err := Load(writeConfig(t, "app:\n  env: test\n"))
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Dalsa.MaxPolls)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	t.Setenv("XRB_CONFIG", writeConfig(t, "app:\n  name: from-env\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.App.Name)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "faxitron:\n  link: serial\n"))
	assert.ErrorContains(t, err, "serial.port")

	_, err = Load(writeConfig(t, "faxitron:\n  link: bluetooth\n"))
	assert.ErrorContains(t, err, "bluetooth")

	_, err = Load(writeConfig(t, "auth:\n  enabled: true\n"))
	assert.ErrorContains(t, err, "apiKeys")
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeConfig(t, "dalsa: [unterminated\n"))
	assert.Error(t, err)
}
