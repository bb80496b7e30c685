package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/xray-bench/internal/config"
	"github.com/taoyao-code/xray-bench/internal/protocol/dalsa/dalsatest"
	"github.com/taoyao-code/xray-bench/internal/protocol/wire"
)

func TestWireConfig(t *testing.T) {
	wc := WireConfig(cfgpkg.DalsaConfig{OutEndpoint: 5, InEndpoint: 6, ReadTimeout: 250 * time.Millisecond, MaxRetries: 4})
	assert.Equal(t, uint8(5), wc.OutEndpoint)
	assert.Equal(t, uint8(6), wc.InEndpoint)
	assert.Equal(t, 512, wc.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, wc.ReadTimeout)
	assert.Equal(t, 4, wc.MaxRetries)
}

func TestReadoutConfig(t *testing.T) {
	rc := ReadoutConfig(cfgpkg.DalsaConfig{PollInterval: 20 * time.Millisecond, MaxPolls: 9})
	assert.Equal(t, 20*time.Millisecond, rc.PollInterval)
	assert.Equal(t, 9, rc.MaxPolls)
	assert.Equal(t, uint8(7), rc.BulkEndpoint)
}

func TestOpenCabinet_DalsaTunnel(t *testing.T) {
	dev := dalsatest.New()
	cfg := wire.DefaultConfig()
	cfg.ReadTimeout = time.Millisecond
	link := &DalsaLink{Codec: wire.NewCodec(dev.Port, cfg)}

	cabinet, closer, err := OpenCabinet(cfgpkg.FaxitronConfig{Link: "dalsa"}, link, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, closer)

	kv, err := cabinet.GetVoltage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, kv)
}

func TestOpenCabinet_NoLink(t *testing.T) {
	_, _, err := OpenCabinet(cfgpkg.FaxitronConfig{Link: "dalsa"}, nil, zap.NewNop())
	assert.ErrorIs(t, err, wire.ErrDeviceNotFound)
}

func TestLoadPresets(t *testing.T) {
	ps, err := LoadPresets("")
	require.NoError(t, err)
	assert.Empty(t, ps.List())

	p := filepath.Join(t.TempDir(), "presets.yaml")
	require.NoError(t, os.WriteFile(p, []byte("presets:\n  - name: hand\n    exposure_time: 3\n    voltage: 22\n"), 0o600))
	ps, err = LoadPresets(p)
	require.NoError(t, err)
	got, ok := ps.Get("hand")
	require.True(t, ok)
	assert.Equal(t, 22, got.Voltage)
}

func TestInstanceID(t *testing.T) {
	t.Setenv("XRB_INSTANCE_ID", "bench-3")
	assert.Equal(t, "bench-3", InstanceID())

	t.Setenv("XRB_INSTANCE_ID", "")
	assert.True(t, strings.HasPrefix(InstanceID(), "xray-bench-"))
}
