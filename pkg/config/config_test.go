package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
session_id: desk-1
endpoints:
  auth_url: https://auth.example
  trade_url: https://trade.example
  stream_url: wss://stream.example/ws
  proxy_url: http://127.0.0.1:8088/forward
secret_store:
  in_memory: true
token_retry_delay_ms: 200
reconnect_delay_ms: 5000
commission_rate: 0.05
instruments:
  - symbol_id: "1001"
    symbol: SBER
    lot: 10
    min_price_increment: "0.01"
    currency: RUB
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// TestLoadFromFile 测试 YAML 加载、下限与默认值
func TestLoadFromFile(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "base.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "desk-1", cfg.SessionID)
	assert.Equal(t, MinRetryDelay, cfg.TokenRetryDelay, "低于下限的重试间隔被抬升")
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultBalanceDebounce, cfg.BalanceDebounce)
	assert.Equal(t, 0.05, cfg.CommissionRate)
	require.Len(t, cfg.Instruments, 1)
	assert.Equal(t, int64(10), cfg.Instruments[0].Lot)
	assert.Equal(t, "0.01", cfg.Instruments[0].MinPriceIncrement.String())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("COMMISSION_RATE", "0.1")
	t.Setenv("SESSION_ID", "from-env")
	cfg, err := LoadFromFile(writeFile(t, "base.yml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.CommissionRate)
	assert.Equal(t, "from-env", cfg.SessionID)
}

func TestValidateMissingEndpoint(t *testing.T) {
	_, err := LoadFromFile(writeFile(t, "bad.yaml", "session_id: x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_URL")
}

func TestUnsupportedExtension(t *testing.T) {
	_, err := LoadFromFile(writeFile(t, "cfg.toml", "x=1"))
	require.Error(t, err)
}
