package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Iwinswap/iwinswap-swap-router-go/pkg/chains"
	solanapkg "github.com/Iwinswap/iwinswap-swap-router-go/pkg/chains/solana"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/token"
)

// Environment variables that override the file. A .env file in the working
// directory is loaded first when present.
const (
	EnvRPCURL      = "ROUTER_RPC_URL"
	EnvFeedURL     = "ROUTER_FEED_URL"
	EnvMetricsAddr = "ROUTER_METRICS_ADDR"
	EnvLogLevel    = "ROUTER_LOG_LEVEL"
)

type ClientConfig struct {
	Cluster     chains.Cluster `yaml:"cluster"`
	RPCURL      string         `yaml:"rpc_url"`
	FeedURL     string         `yaml:"feed_url"`
	MetricsAddr string         `yaml:"metrics_addr"`
	LogFile     string         `yaml:"log_file"`
	LogLevel    string         `yaml:"log_level"`

	// Wallet, when set, lets the console build execution plans.
	Wallet solana.PublicKey `yaml:"wallet"`

	Routing RoutingConfig           `yaml:"routing"`
	Tokens  []token.TokenView       `yaml:"tokens"`
	Venues  []solanapkg.VenueConfig `yaml:"venues"`
}

type RoutingConfig struct {
	MaxHops           int             `yaml:"max_hops"`
	MaxAccounts       int             `yaml:"max_accounts"`
	ReservedAccounts  int             `yaml:"reserved_accounts"`
	FreshnessSlots    uint64          `yaml:"freshness_slots"`
	Overquote         decimal.Decimal `yaml:"overquote"`
	SlippageBps       uint16          `yaml:"slippage_bps"`
	PipelineWorkers   int             `yaml:"pipeline_workers"`
	SingleHopCooldown time.Duration   `yaml:"single_hop_cooldown"`
	MultiHopCooldown  time.Duration   `yaml:"multi_hop_cooldown"`
}

// LoadConfig reads a configuration file from the given path, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) applyEnv() {
	overrides := map[string]*string{
		EnvRPCURL:      &c.RPCURL,
		EnvFeedURL:     &c.FeedURL,
		EnvMetricsAddr: &c.MetricsAddr,
		EnvLogLevel:    &c.LogLevel,
	}
	for name, field := range overrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}
}

func (c *ClientConfig) applyDefaults() {
	if c.Cluster == "" {
		c.Cluster = chains.MainnetBeta
	}
	if c.LogFile == "" {
		c.LogFile = "router.log"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Routing.SlippageBps == 0 {
		c.Routing.SlippageBps = 50
	}
}

func (c *ClientConfig) validate() error {
	if c.RPCURL == "" {
		endpoint, err := c.Cluster.RPCEndpoint()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		c.RPCURL = endpoint
	}
	if c.FeedURL == "" {
		return errors.New("config: feed_url is required")
	}
	if len(c.Venues) == 0 {
		return errors.New("config: at least one venue is required")
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	if c.Routing.SlippageBps > 10_000 {
		return errors.New("config: slippage_bps must not exceed 10000")
	}
	if c.Routing.Overquote.IsNegative() || c.Routing.Overquote.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.New("config: overquote must be in [0, 1)")
	}
	return nil
}

// Level parses LogLevel.
func (c *ClientConfig) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}
