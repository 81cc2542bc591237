package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iwinswap/iwinswap-swap-router-go/pkg/chains"
)

const fullConfig = `
cluster: devnet
feed_url: ws://localhost:8546
metrics_addr: ":9100"
log_level: debug
wallet: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
routing:
  max_hops: 2
  max_accounts: 48
  freshness_slots: 150
  overquote: 0.05
  slippage_bps: 30
  single_hop_cooldown: 1m
  multi_hop_cooldown: 20s
tokens:
  - mint: So11111111111111111111111111111111111111112
    symbol: SOL
    decimals: 9
venues:
  - protocol: constant-product
    config:
      programId: CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C
      pools: []
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Full", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, fullConfig))
		require.NoError(t, err)

		assert.Equal(t, chains.Devnet, cfg.Cluster)
		assert.Equal(t, rpc.DevNet.RPC, cfg.RPCURL, "rpc_url defaults to the cluster endpoint")
		assert.Equal(t, "ws://localhost:8546", cfg.FeedURL)
		assert.Equal(t, "router.log", cfg.LogFile)
		assert.False(t, cfg.Wallet.IsZero())

		assert.Equal(t, 2, cfg.Routing.MaxHops)
		assert.Equal(t, uint64(150), cfg.Routing.FreshnessSlots)
		assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.Routing.Overquote))
		assert.Equal(t, uint16(30), cfg.Routing.SlippageBps)
		assert.Equal(t, time.Minute, cfg.Routing.SingleHopCooldown)
		assert.Equal(t, 20*time.Second, cfg.Routing.MultiHopCooldown)

		require.Len(t, cfg.Tokens, 1)
		assert.Equal(t, uint8(9), cfg.Tokens[0].Decimals)
		require.Len(t, cfg.Venues, 1)
		assert.Equal(t, "constant-product", cfg.Venues[0].Protocol)

		level, err := cfg.Level()
		require.NoError(t, err)
		assert.Equal(t, "DEBUG", level.String())
	})

	t.Run("EnvironmentOverrides", func(t *testing.T) {
		t.Setenv(EnvRPCURL, "http://rpc.internal:8899")
		t.Setenv(EnvFeedURL, "ws://feed.internal:8546")
		t.Setenv(EnvLogLevel, "warn")

		cfg, err := LoadConfig(writeConfig(t, fullConfig))
		require.NoError(t, err)
		assert.Equal(t, "http://rpc.internal:8899", cfg.RPCURL)
		assert.Equal(t, "ws://feed.internal:8546", cfg.FeedURL)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "feed_url: ws://x\nvenues:\n  - protocol: fixed-rate\n"))
		require.NoError(t, err)
		assert.Equal(t, chains.MainnetBeta, cfg.Cluster)
		assert.Equal(t, rpc.MainNetBeta.RPC, cfg.RPCURL)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, uint16(50), cfg.Routing.SlippageBps)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"MissingFeed", "venues:\n  - protocol: fixed-rate\n", "feed_url"},
		{"NoVenues", "feed_url: ws://x\n", "venue"},
		{"UnknownCluster", "cluster: moonnet\nfeed_url: ws://x\nvenues:\n  - protocol: fixed-rate\n", "moonnet"},
		{"BadLogLevel", "feed_url: ws://x\nlog_level: loud\nvenues:\n  - protocol: fixed-rate\n", "log_level"},
		{"Slippage", "feed_url: ws://x\nrouting:\n  slippage_bps: 10001\nvenues:\n  - protocol: fixed-rate\n", "slippage_bps"},
		{"Overquote", "feed_url: ws://x\nrouting:\n  overquote: 1.5\nvenues:\n  - protocol: fixed-rate\n", "overquote"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
