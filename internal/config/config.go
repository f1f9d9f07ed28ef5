// Package config loads the liquidator configuration.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional TOML file, then environment variables. Load calls Validate before
// returning, so a *Config handed to the wiring code is always consistent.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-liquidator/internal/pkg/blockchain"
	"github.com/archon-research/stl-liquidator/internal/pkg/usd"
)

// Candidate source names.
const (
	SourceIndexer = "indexer"
	SourceChain   = "chain"
)

// Sink types.
const (
	SinkLog   = "log"
	SinkSNS   = "sns"
	SinkSQS   = "sqs"
	SinkRedis = "redis"
)

type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Registry  RegistryConfig  `toml:"registry"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Source    SourceConfig    `toml:"source"`
	Indexer   IndexerConfig   `toml:"indexer"`
	Pricing   PricingConfig   `toml:"pricing"`
	Denylist  DenylistConfig  `toml:"denylist"`
	Sink      SinkConfig      `toml:"sink"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Health    HealthConfig    `toml:"health"`
}

type ChainConfig struct {
	RPCURL      string        `toml:"rpc_url"`
	Multicall3  string        `toml:"multicall3"`
	CallTimeout time.Duration `toml:"call_timeout"`
}

type RegistryConfig struct {
	// Addresses in priority order.
	Addresses      []string `toml:"addresses"`
	OracleOverride string   `toml:"oracle_override"`
}

type ScannerConfig struct {
	PollInterval    time.Duration `toml:"poll_interval"`
	MinDebtUSD      float64       `toml:"min_debt_usd"`
	GasCeilingGwei  float64       `toml:"gas_ceiling_gwei"`
	DisableGasGuard bool          `toml:"disable_gas_guard"`
	MaxCandidates   int           `toml:"max_candidates"`
	MaxHandoffs     int           `toml:"max_handoffs"`
	RepeatWindow    time.Duration `toml:"repeat_window"`
	RetentionWindow time.Duration `toml:"retention_window"`
	WatchThreshold  float64       `toml:"watch_threshold"`
	Simulate        bool          `toml:"simulate"`
	StaleAfter      time.Duration `toml:"stale_after"`
	ExcludedMarkets []string      `toml:"excluded_markets"`
}

type SourceConfig struct {
	Primary        string `toml:"primary"`
	Fallback       bool   `toml:"fallback"`
	LookbackBlocks uint64 `toml:"lookback_blocks"`
	ChunkSize      uint64 `toml:"chunk_size"`
}

type IndexerConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Schemas     []string      `toml:"schemas"`
	PageSize    int           `toml:"page_size"`
	MaxPages    int           `toml:"max_pages"`
	Timeout     time.Duration `toml:"timeout"`
	Attempts    int           `toml:"attempts"`
	BackoffStep time.Duration `toml:"backoff_step"`
	RateLimit   float64       `toml:"rate_limit"`
}

type PricingConfig struct {
	UnpricedTTL time.Duration `toml:"unpriced_ttl"`
}

type DenylistConfig struct {
	Path          string        `toml:"path"`
	WatchInterval time.Duration `toml:"watch_interval"`
}

type SinkConfig struct {
	Type string `toml:"type"`

	// AWS settings shared by the sns and sqs sinks.
	AWSRegion   string `toml:"aws_region"`
	AWSEndpoint string `toml:"aws_endpoint"`

	// Static credentials, for local stacks. Empty uses the default chain.
	AWSAccessKeyID     string `toml:"aws_access_key_id"`
	AWSSecretAccessKey string `toml:"aws_secret_access_key"`

	SNSTopicARN string `toml:"sns_topic_arn"`
	SQSQueueURL string `toml:"sqs_queue_url"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisStream   string `toml:"redis_stream"`
	RedisMaxLen   int64  `toml:"redis_max_len"`

	// LogCapacity bounds the accounts kept by the log sink.
	LogCapacity int `toml:"log_capacity"`
}

type TelemetryConfig struct {
	ServiceName  string  `toml:"service_name"`
	Environment  string  `toml:"environment"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	Tracing      bool    `toml:"tracing"`
	SampleRate   float64 `toml:"sample_rate"`
}

type HealthConfig struct {
	Addr string `toml:"addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Chain: ChainConfig{
			Multicall3:  blockchain.Multicall3Address,
			CallTimeout: 20 * time.Second,
		},
		Scanner: ScannerConfig{
			PollInterval:    30 * time.Second,
			MinDebtUSD:      100,
			GasCeilingGwei:  50,
			RepeatWindow:    10 * time.Minute,
			RetentionWindow: time.Hour,
			WatchThreshold:  1.05,
			StaleAfter:      5 * time.Minute,
		},
		Source: SourceConfig{
			Primary:        SourceIndexer,
			Fallback:       true,
			LookbackBlocks: 10_000,
			ChunkSize:      2_000,
		},
		Indexer: IndexerConfig{
			Schemas:     []string{"accounts", "positions"},
			PageSize:    200,
			MaxPages:    50,
			Timeout:     6 * time.Second,
			Attempts:    5,
			BackoffStep: time.Second,
			RateLimit:   5,
		},
		Pricing: PricingConfig{
			UnpricedTTL: 15 * time.Minute,
		},
		Denylist: DenylistConfig{
			WatchInterval: 2 * time.Second,
		},
		Sink: SinkConfig{
			Type:        SinkLog,
			AWSRegion:   "us-east-1",
			RedisStream: "stl:liquidations",
			RedisMaxLen: 10_000,
			LogCapacity: 1000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stl-liquidator",
			Environment: "development",
			SampleRate:  1.0,
		},
		Health: HealthConfig{
			Addr: ":8080",
		},
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored and variables already set are kept.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// Validate rejects inconsistent settings. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Chain.RPCURL != "", "chain.rpc_url is required")
	check(common.IsHexAddress(c.Chain.Multicall3), "chain.multicall3 %q is not an address", c.Chain.Multicall3)
	check(c.Chain.CallTimeout > 0, "chain.call_timeout must be positive")

	check(len(c.Registry.Addresses) > 0, "registry.addresses must list at least one registry")
	for _, a := range c.Registry.Addresses {
		check(common.IsHexAddress(a), "registry address %q is not an address", a)
	}
	check(c.Registry.OracleOverride == "" || common.IsHexAddress(c.Registry.OracleOverride),
		"registry.oracle_override %q is not an address", c.Registry.OracleOverride)

	check(c.Scanner.PollInterval > 0, "scanner.poll_interval must be positive")
	check(c.Scanner.MinDebtUSD >= 0, "scanner.min_debt_usd must not be negative")
	check(c.Scanner.DisableGasGuard || c.Scanner.GasCeilingGwei > 0, "scanner.gas_ceiling_gwei must be positive unless the gas guard is disabled")
	check(c.Scanner.MaxCandidates >= 0, "scanner.max_candidates must not be negative")
	check(c.Scanner.MaxHandoffs >= 0, "scanner.max_handoffs must not be negative")
	check(c.Scanner.RepeatWindow > 0, "scanner.repeat_window must be positive")
	check(c.Scanner.RetentionWindow >= c.Scanner.RepeatWindow, "scanner.retention_window must be at least scanner.repeat_window")
	check(c.Scanner.WatchThreshold > 0, "scanner.watch_threshold must be positive")
	for _, m := range c.Scanner.ExcludedMarkets {
		check(common.IsHexAddress(m), "excluded market %q is not an address", m)
	}

	switch c.Source.Primary {
	case SourceIndexer:
		check(c.Indexer.Endpoint != "" || c.Source.Fallback, "indexer.endpoint is required when the indexer is the only source")
	case SourceChain:
	default:
		errs = append(errs, fmt.Errorf("source.primary %q must be %q or %q", c.Source.Primary, SourceIndexer, SourceChain))
	}
	check(c.Source.LookbackBlocks > 0, "source.lookback_blocks must be positive")
	check(c.Source.ChunkSize > 0, "source.chunk_size must be positive")

	check(c.Indexer.PageSize > 0, "indexer.page_size must be positive")
	check(c.Indexer.MaxPages > 0, "indexer.max_pages must be positive")
	check(c.Indexer.Attempts >= 1, "indexer.attempts must be at least 1")
	check(c.Indexer.RateLimit > 0, "indexer.rate_limit must be positive")
	for _, s := range c.Indexer.Schemas {
		check(s == "accounts" || s == "positions", "indexer schema %q is not supported", s)
	}

	check(c.Pricing.UnpricedTTL > 0, "pricing.unpriced_ttl must be positive")
	check(c.Denylist.WatchInterval > 0, "denylist.watch_interval must be positive")

	switch c.Sink.Type {
	case SinkLog:
	case SinkSNS:
		check(c.Sink.SNSTopicARN != "", "sink.sns_topic_arn is required for the sns sink")
	case SinkSQS:
		check(c.Sink.SQSQueueURL != "", "sink.sqs_queue_url is required for the sqs sink")
	case SinkRedis:
		check(c.Sink.RedisAddr != "", "sink.redis_addr is required for the redis sink")
		check(c.Sink.RedisMaxLen >= 0, "sink.redis_max_len must not be negative")
	default:
		errs = append(errs, fmt.Errorf("sink.type %q must be one of log, sns, sqs, redis", c.Sink.Type))
	}
	check((c.Sink.AWSAccessKeyID == "") == (c.Sink.AWSSecretAccessKey == ""),
		"sink.aws_access_key_id and sink.aws_secret_access_key must be set together")

	check(c.Telemetry.SampleRate >= 0 && c.Telemetry.SampleRate <= 1, "telemetry.sample_rate must be between 0 and 1")

	return errors.Join(errs...)
}

// RegistryAddresses returns the registries in priority order.
func (c *Config) RegistryAddresses() []common.Address {
	return toAddresses(c.Registry.Addresses)
}

// OracleOverrideAddress returns the oracle override, or the zero address.
func (c *Config) OracleOverrideAddress() common.Address {
	if c.Registry.OracleOverride == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Registry.OracleOverride)
}

// ExcludedMarketAddresses returns the markets never aggregated.
func (c *Config) ExcludedMarketAddresses() []common.Address {
	return toAddresses(c.Scanner.ExcludedMarkets)
}

// MinDebtUSD18 returns the minimum debt as 18-decimal USD.
func (c *Config) MinDebtUSD18() *big.Int {
	return usd.FromFloat(c.Scanner.MinDebtUSD)
}

// GasCeilingWei returns the gas ceiling in wei.
func (c *Config) GasCeilingWei() *big.Int {
	return decimal.NewFromFloat(c.Scanner.GasCeilingGwei).Shift(9).BigInt()
}

func toAddresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, a := range in {
		out = append(out, common.HexToAddress(a))
	}
	return out
}
