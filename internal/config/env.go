package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/archon-research/stl-liquidator/internal/pkg/env"
)

// applyEnv overrides file values with environment variables. Variable names
// follow the deployment conventions already used for the bot (RPC_URL,
// COMPTROLLER, UNITROLLER_LIST, SUBGRAPH_URL, ...).
func (c *Config) applyEnv() error {
	c.Chain.RPCURL = env.Get("RPC_URL", c.Chain.RPCURL)
	c.Chain.Multicall3 = env.Get("MULTICALL3_ADDRESS", c.Chain.Multicall3)
	c.Chain.CallTimeout = env.GetDuration("RPC_CALL_TIMEOUT", c.Chain.CallTimeout)

	// UNITROLLER_LIST is the full priority list; COMPTROLLER alone is a
	// single-registry deployment.
	c.Registry.Addresses = env.GetList("UNITROLLER_LIST", c.Registry.Addresses)
	if v, ok := os.LookupEnv("COMPTROLLER"); ok && v != "" && os.Getenv("UNITROLLER_LIST") == "" {
		c.Registry.Addresses = []string{v}
	}
	c.Registry.OracleOverride = env.Get("ORACLE_ADDRESS", c.Registry.OracleOverride)

	// CHECK_INTERVAL_MS is a bare millisecond count.
	c.Scanner.PollInterval = env.GetDuration("CHECK_INTERVAL_MS", c.Scanner.PollInterval)
	c.Scanner.PollInterval = env.GetDuration("POLL_INTERVAL", c.Scanner.PollInterval)
	var err error
	if c.Scanner.MinDebtUSD, err = getFloat("MIN_DEBT_USD", c.Scanner.MinDebtUSD); err != nil {
		return err
	}
	if c.Scanner.GasCeilingGwei, err = getFloat("GAS_CEILING_GWEI", c.Scanner.GasCeilingGwei); err != nil {
		return err
	}
	c.Scanner.DisableGasGuard = env.GetBool("DISABLE_GAS_GUARD", c.Scanner.DisableGasGuard)
	c.Scanner.MaxCandidates = env.GetInt("MAX_CANDIDATES", c.Scanner.MaxCandidates)
	c.Scanner.MaxHandoffs = env.GetInt("MAX_LIQUIDATIONS", c.Scanner.MaxHandoffs)
	c.Scanner.RepeatWindow = env.GetDuration("REPEAT_WINDOW", c.Scanner.RepeatWindow)
	c.Scanner.RetentionWindow = env.GetDuration("RETENTION_WINDOW", c.Scanner.RetentionWindow)
	if c.Scanner.WatchThreshold, err = getFloat("WATCH_THRESHOLD", c.Scanner.WatchThreshold); err != nil {
		return err
	}
	c.Scanner.Simulate = env.GetBool("SIMULATE", c.Scanner.Simulate)
	c.Scanner.StaleAfter = env.GetDuration("STALE_AFTER", c.Scanner.StaleAfter)
	c.Scanner.ExcludedMarkets = env.GetList("EXCLUDED_MARKETS", c.Scanner.ExcludedMarkets)

	c.Source.Primary = env.Get("CANDIDATE_SOURCE", c.Source.Primary)
	c.Source.Fallback = env.GetBool("CHAIN_FALLBACK", c.Source.Fallback)
	c.Source.LookbackBlocks = uint64(env.GetInt64("LOOKBACK_BLOCKS", int64(c.Source.LookbackBlocks)))
	c.Source.ChunkSize = uint64(env.GetInt64("BLOCK_CHUNK", int64(c.Source.ChunkSize)))

	c.Indexer.Endpoint = env.Get("SUBGRAPH_URL", c.Indexer.Endpoint)
	c.Indexer.Schemas = env.GetList("SUBGRAPH_SCHEMAS", c.Indexer.Schemas)
	c.Indexer.PageSize = env.GetInt("SUBGRAPH_PAGE_SIZE", c.Indexer.PageSize)
	c.Indexer.MaxPages = env.GetInt("SUBGRAPH_MAX_PAGES", c.Indexer.MaxPages)
	c.Indexer.Timeout = env.GetDuration("SUBGRAPH_TIMEOUT", c.Indexer.Timeout)
	// SUBGRAPH_RETRIES has always meant total attempts.
	c.Indexer.Attempts = env.GetInt("SUBGRAPH_RETRIES", c.Indexer.Attempts)
	c.Indexer.Attempts = env.GetInt("SUBGRAPH_ATTEMPTS", c.Indexer.Attempts)
	c.Indexer.BackoffStep = env.GetDuration("SUBGRAPH_BACKOFF", c.Indexer.BackoffStep)
	if c.Indexer.RateLimit, err = getFloat("SUBGRAPH_RATE_LIMIT", c.Indexer.RateLimit); err != nil {
		return err
	}

	c.Pricing.UnpricedTTL = env.GetDuration("UNPRICED_TTL", c.Pricing.UnpricedTTL)

	c.Denylist.Path = env.Get("DENYLIST_FILE", c.Denylist.Path)
	c.Denylist.WatchInterval = env.GetDuration("DENYLIST_WATCH_INTERVAL", c.Denylist.WatchInterval)

	c.Sink.Type = env.Get("SINK_TYPE", c.Sink.Type)
	c.Sink.AWSRegion = env.Get("AWS_REGION", c.Sink.AWSRegion)
	c.Sink.AWSEndpoint = env.Get("AWS_ENDPOINT_URL", c.Sink.AWSEndpoint)
	c.Sink.AWSAccessKeyID = env.Get("AWS_ACCESS_KEY_ID", c.Sink.AWSAccessKeyID)
	c.Sink.AWSSecretAccessKey = env.Get("AWS_SECRET_ACCESS_KEY", c.Sink.AWSSecretAccessKey)
	c.Sink.SNSTopicARN = env.Get("AWS_SNS_TOPIC_LIQUIDATIONS", c.Sink.SNSTopicARN)
	c.Sink.SQSQueueURL = env.Get("AWS_SQS_QUEUE_LIQUIDATIONS", c.Sink.SQSQueueURL)
	c.Sink.RedisAddr = env.Get("REDIS_ADDR", c.Sink.RedisAddr)
	c.Sink.RedisPassword = env.Get("REDIS_PASSWORD", c.Sink.RedisPassword)
	c.Sink.RedisDB = env.GetInt("REDIS_DB", c.Sink.RedisDB)
	c.Sink.RedisStream = env.Get("REDIS_STREAM", c.Sink.RedisStream)
	c.Sink.RedisMaxLen = env.GetInt64("REDIS_STREAM_MAXLEN", c.Sink.RedisMaxLen)

	c.Telemetry.ServiceName = env.Get("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.Environment = env.Get("ENVIRONMENT", c.Telemetry.Environment)
	c.Telemetry.OTLPEndpoint = env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.Tracing = env.GetBool("TRACING_ENABLED", c.Telemetry.Tracing)

	c.Health.Addr = env.Get("HEALTH_ADDR", c.Health.Addr)
	return nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a number: %w", key, v, err)
	}
	return f, nil
}
