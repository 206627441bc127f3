package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, int64(8453), cfg.NetworkID)
	require.Equal(t, time.Second, cfg.TickInterval.Duration)
	require.Equal(t, 15*time.Minute, cfg.PendingLifeTTL.Duration)
	require.Equal(t, 150*time.Millisecond, cfg.Wool.Debounce.Duration)
	require.Equal(t, 10, cfg.Authority.DailyCap)
	require.False(t, cfg.Chain.Enabled())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
network_id: 1
tick_interval: 500ms
poll_interval: 10s
pending_life_ttl: 5m
wool:
  debounce: 250ms
  test_mode: true
remote:
  base_url: https://wool.example.com
log:
  format: json
authority:
  admin_key: s3cret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, int64(1), cfg.NetworkID)
	require.Equal(t, 500*time.Millisecond, cfg.TickInterval.Duration)
	require.Equal(t, 5*time.Minute, cfg.PendingLifeTTL.Duration)
	require.True(t, cfg.Wool.TestMode)
	require.Equal(t, "https://wool.example.com", cfg.Remote.BaseURL)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "s3cret", cfg.Authority.AdminKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WOOLIGOTCHI_LISTEN", ":7000")
	t.Setenv("WOOLIGOTCHI_NETWORK_ID", "84532")
	t.Setenv("WOOLIGOTCHI_TEST_MODE", "true")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Listen)
	require.Equal(t, int64(84532), cfg.NetworkID)
	require.True(t, cfg.Wool.TestMode)
}

func TestChainKeyFromEnvAndFile(t *testing.T) {
	t.Setenv("WG_KEY", "0xabc")
	path := writeConfig(t, `
chain:
  rpc_url: http://localhost:8545
  vault: "0x000000000000000000000000000000000000dead"
  private_key_env: WG_KEY
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xabc", cfg.Chain.PrivateKey)

	keyFile := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyFile, []byte("0xdef\n"), 0o600))
	path = writeConfig(t, `
chain:
  rpc_url: http://localhost:8545
  vault: "0x000000000000000000000000000000000000dead"
  private_key_file: `+keyFile+`
`)
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xdef", cfg.Chain.PrivateKey)
}

func TestValidation(t *testing.T) {
	for name, body := range map[string]string{
		"tiny tick":     "tick_interval: 1ms\n",
		"bad format":    "log:\n  format: xml\n",
		"short ttl":     "pending_life_ttl: 10s\n",
		"missing vault": "chain:\n  rpc_url: http://x\n  private_key: 0x1\n",
		"missing key":   "chain:\n  rpc_url: http://x\n  vault: 0x1\n",
		"bad duration":  "tick_interval: soon\n",
		"unknown field": "colour: blue\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}
