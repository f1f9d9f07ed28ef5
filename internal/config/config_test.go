package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	registryA = "0x1111111111111111111111111111111111111111"
	registryB = "0x2222222222222222222222222222222222222222"
	marketX   = "0x3333333333333333333333333333333333333333"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liquidator.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "http://localhost:8545"
	cfg.Registry.Addresses = []string{registryA}
	cfg.Indexer.Endpoint = "http://indexer.local/graphql"
	return cfg
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[chain]
rpc_url = "http://node:8545"
call_timeout = "5s"

[registry]
addresses = ["`+registryA+`", "`+registryB+`"]

[scanner]
poll_interval = "1m"
min_debt_usd = 250.5
max_handoffs = 3
excluded_markets = ["`+marketX+`"]

[source]
primary = "chain"
fallback = false

[sink]
type = "redis"
redis_addr = "localhost:6379"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Chain.RPCURL != "http://node:8545" {
		t.Errorf("rpc url = %q", cfg.Chain.RPCURL)
	}
	if cfg.Chain.CallTimeout != 5*time.Second {
		t.Errorf("call timeout = %v, want 5s", cfg.Chain.CallTimeout)
	}
	if cfg.Scanner.PollInterval != time.Minute {
		t.Errorf("poll interval = %v, want 1m", cfg.Scanner.PollInterval)
	}
	if cfg.Scanner.MaxHandoffs != 3 {
		t.Errorf("max handoffs = %d, want 3", cfg.Scanner.MaxHandoffs)
	}
	if cfg.Source.Primary != SourceChain || cfg.Source.Fallback {
		t.Errorf("source = %+v", cfg.Source)
	}
	// Untouched sections keep their defaults.
	if cfg.Scanner.RepeatWindow != 10*time.Minute {
		t.Errorf("repeat window = %v, want default 10m", cfg.Scanner.RepeatWindow)
	}
	if cfg.Sink.RedisStream != "stl:liquidations" {
		t.Errorf("redis stream = %q", cfg.Sink.RedisStream)
	}

	regs := cfg.RegistryAddresses()
	if len(regs) != 2 || regs[0] != common.HexToAddress(registryA) || regs[1] != common.HexToAddress(registryB) {
		t.Errorf("registries = %v, want [A B] in order", regs)
	}
	if ex := cfg.ExcludedMarketAddresses(); len(ex) != 1 || ex[0] != common.HexToAddress(marketX) {
		t.Errorf("excluded = %v", ex)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[chain]
rpc_url = "http://node:8545"
rpc_ulr = "typo"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "chain.rpc_ulr") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[chain]
rpc_url = "http://file:8545"

[registry]
addresses = ["`+registryA+`"]

[indexer]
endpoint = "http://file/graphql"
`)
	t.Setenv("RPC_URL", "http://env:8545")
	t.Setenv("UNITROLLER_LIST", registryB+", "+registryA)
	t.Setenv("CHECK_INTERVAL_MS", "15000")
	t.Setenv("SIMULATE", "true")
	t.Setenv("MAX_LIQUIDATIONS", "2")
	t.Setenv("EXCLUDED_MARKETS", marketX)
	t.Setenv("BLOCK_CHUNK", "500")
	t.Setenv("MIN_DEBT_USD", "42")
	t.Setenv("SUBGRAPH_RETRIES", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Chain.RPCURL != "http://env:8545" {
		t.Errorf("rpc url = %q, want env value", cfg.Chain.RPCURL)
	}
	if got := cfg.Registry.Addresses; len(got) != 2 || got[0] != registryB {
		t.Errorf("registries = %v, want env order", got)
	}
	if cfg.Scanner.PollInterval != 15*time.Second {
		t.Errorf("poll interval = %v, want 15s", cfg.Scanner.PollInterval)
	}
	if !cfg.Scanner.Simulate {
		t.Error("simulate should be enabled")
	}
	if cfg.Scanner.MaxHandoffs != 2 {
		t.Errorf("max handoffs = %d, want 2", cfg.Scanner.MaxHandoffs)
	}
	if cfg.Source.ChunkSize != 500 {
		t.Errorf("chunk size = %d, want 500", cfg.Source.ChunkSize)
	}
	if cfg.Indexer.Attempts != 3 {
		t.Errorf("indexer attempts = %d, want 3", cfg.Indexer.Attempts)
	}
	if cfg.Scanner.MinDebtUSD != 42 {
		t.Errorf("min debt = %v, want 42", cfg.Scanner.MinDebtUSD)
	}
}

func TestLoad_SingleComptroller(t *testing.T) {
	t.Setenv("RPC_URL", "http://env:8545")
	t.Setenv("COMPTROLLER", registryA)
	t.Setenv("UNITROLLER_LIST", "")
	t.Setenv("SUBGRAPH_URL", "http://indexer/graphql")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Registry.Addresses; len(got) != 1 || got[0] != registryA {
		t.Errorf("registries = %v, want [%s]", got, registryA)
	}
}

func TestLoad_BadFloat(t *testing.T) {
	t.Setenv("RPC_URL", "http://env:8545")
	t.Setenv("COMPTROLLER", registryA)
	t.Setenv("GAS_CEILING_GWEI", "lots")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "GAS_CEILING_GWEI") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing rpc",
			mutate:  func(c *Config) { c.Chain.RPCURL = "" },
			wantErr: "chain.rpc_url",
		},
		{
			name:    "no registries",
			mutate:  func(c *Config) { c.Registry.Addresses = nil },
			wantErr: "registry.addresses",
		},
		{
			name:    "bad registry",
			mutate:  func(c *Config) { c.Registry.Addresses = []string{"0xnope"} },
			wantErr: "0xnope",
		},
		{
			name:    "bad oracle override",
			mutate:  func(c *Config) { c.Registry.OracleOverride = "oracle" },
			wantErr: "oracle_override",
		},
		{
			name:    "unknown source",
			mutate:  func(c *Config) { c.Source.Primary = "ipfs" },
			wantErr: "source.primary",
		},
		{
			name: "indexer without endpoint or fallback",
			mutate: func(c *Config) {
				c.Indexer.Endpoint = ""
				c.Source.Fallback = false
			},
			wantErr: "indexer.endpoint",
		},
		{
			name:    "indexer without endpoint but with fallback",
			mutate:  func(c *Config) { c.Indexer.Endpoint = "" },
			wantErr: "",
		},
		{
			name:    "retention shorter than repeat window",
			mutate:  func(c *Config) { c.Scanner.RetentionWindow = time.Minute },
			wantErr: "retention_window",
		},
		{
			name:    "zero gas ceiling",
			mutate:  func(c *Config) { c.Scanner.GasCeilingGwei = 0 },
			wantErr: "gas_ceiling_gwei",
		},
		{
			name: "zero gas ceiling with guard disabled",
			mutate: func(c *Config) {
				c.Scanner.GasCeilingGwei = 0
				c.Scanner.DisableGasGuard = true
			},
		},
		{
			name:    "sns without topic",
			mutate:  func(c *Config) { c.Sink.Type = SinkSNS },
			wantErr: "sns_topic_arn",
		},
		{
			name:    "sqs without queue",
			mutate:  func(c *Config) { c.Sink.Type = SinkSQS },
			wantErr: "sqs_queue_url",
		},
		{
			name:    "zero indexer attempts",
			mutate:  func(c *Config) { c.Indexer.Attempts = 0 },
			wantErr: "indexer.attempts",
		},
		{
			name:    "half static credentials",
			mutate:  func(c *Config) { c.Sink.AWSAccessKeyID = "test" },
			wantErr: "aws_secret_access_key",
		},
		{
			name:    "unknown sink",
			mutate:  func(c *Config) { c.Sink.Type = "kafka" },
			wantErr: "sink.type",
		},
		{
			name:    "unknown schema",
			mutate:  func(c *Config) { c.Indexer.Schemas = []string{"markets"} },
			wantErr: "markets",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 2 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.RPCURL = ""
	cfg.Sink.Type = "kafka"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"chain.rpc_url", "sink.type"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestUnitConversions(t *testing.T) {
	cfg := validConfig()
	cfg.Scanner.MinDebtUSD = 100
	cfg.Scanner.GasCeilingGwei = 1.5

	wantDebt, _ := new(big.Int).SetString("100000000000000000000", 10)
	if got := cfg.MinDebtUSD18(); got.Cmp(wantDebt) != 0 {
		t.Errorf("min debt = %s, want %s", got, wantDebt)
	}
	if got := cfg.GasCeilingWei(); got.Cmp(big.NewInt(1_500_000_000)) != 0 {
		t.Errorf("gas ceiling = %s, want 1500000000", got)
	}
	if got := cfg.OracleOverrideAddress(); got != (common.Address{}) {
		t.Errorf("oracle override = %s, want zero", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("STL_DOTENV_PROBE=from-file\nSTL_DOTENV_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STL_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("STL_DOTENV_PROBE") })

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("STL_DOTENV_PROBE"); got != "from-file" {
		t.Errorf("probe = %q, want from-file", got)
	}
	if got := os.Getenv("STL_DOTENV_KEEP"); got != "from-env" {
		t.Errorf("existing variable overwritten: %q", got)
	}
}
