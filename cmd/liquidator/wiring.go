package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/chainlogs"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/indexer"
	"github.com/archon-research/stl-liquidator/internal/adapters/outbound/memory"
	redisadapter "github.com/archon-research/stl-liquidator/internal/adapters/outbound/redis"
	snsadapter "github.com/archon-research/stl-liquidator/internal/adapters/outbound/sns"
	sqsadapter "github.com/archon-research/stl-liquidator/internal/adapters/outbound/sqs"
	"github.com/archon-research/stl-liquidator/internal/config"
	"github.com/archon-research/stl-liquidator/internal/ports/outbound"
)

// buildSources returns the primary candidate source and, when enabled, the
// chain log fallback. An indexer without an endpoint is replaced by the
// chain source outright.
func buildSources(cfg *config.Config, reader outbound.ChainReader, markets chainlogs.MarketLister, logger *slog.Logger) (primary, fallback outbound.CandidateSource, err error) {
	chain, err := chainlogs.NewSource(chainlogs.Config{
		LookbackBlocks: cfg.Source.LookbackBlocks,
		ChunkSize:      cfg.Source.ChunkSize,
		CallTimeout:    cfg.Chain.CallTimeout,
		Logger:         logger,
	}, reader, markets)
	if err != nil {
		return nil, nil, fmt.Errorf("creating chain log source: %w", err)
	}

	if cfg.Source.Primary == config.SourceChain || cfg.Indexer.Endpoint == "" {
		return chain, nil, nil
	}

	schemas := make([]indexer.Schema, 0, len(cfg.Indexer.Schemas))
	for _, s := range cfg.Indexer.Schemas {
		schemas = append(schemas, indexer.Schema(s))
	}
	idx, err := indexer.NewSource(indexer.Config{
		Endpoint:    cfg.Indexer.Endpoint,
		Schemas:     schemas,
		PageSize:    cfg.Indexer.PageSize,
		MaxPages:    cfg.Indexer.MaxPages,
		Timeout:     cfg.Indexer.Timeout,
		Attempts:    cfg.Indexer.Attempts,
		BackoffStep: cfg.Indexer.BackoffStep,
		RateLimit:   cfg.Indexer.RateLimit,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating indexer source: %w", err)
	}

	if cfg.Source.Fallback {
		return idx, chain, nil
	}
	return idx, nil, nil
}

// newSink creates the account sink named by cfg.Sink.Type.
func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (outbound.AccountSink, error) {
	switch cfg.Sink.Type {
	case config.SinkSNS:
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if cfg.Sink.AWSEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Sink.AWSEndpoint)
			}
		})
		return snsadapter.NewAccountSink(client, snsadapter.Config{
			TopicARN: cfg.Sink.SNSTopicARN,
			Logger:   logger,
		})

	case config.SinkSQS:
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return sqsadapter.NewAccountSink(awsCfg, sqsadapter.Config{
			QueueURL: cfg.Sink.SQSQueueURL,
		}, logger, func(o *sqs.Options) {
			if cfg.Sink.AWSEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Sink.AWSEndpoint)
			}
		})

	case config.SinkRedis:
		sink, err := redisadapter.NewAccountSink(redisadapter.Config{
			Addr:     cfg.Sink.RedisAddr,
			Password: cfg.Sink.RedisPassword,
			DB:       cfg.Sink.RedisDB,
			Stream:   cfg.Sink.RedisStream,
			MaxLen:   cfg.Sink.RedisMaxLen,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis sink: %w", err)
		}
		if err := sink.Ping(ctx); err != nil {
			_ = sink.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return sink, nil

	case config.SinkLog, "":
		return memory.NewAccountSink(cfg.Sink.LogCapacity, logger), nil
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Sink.AWSRegion)}
	if cfg.Sink.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Sink.AWSAccessKeyID, cfg.Sink.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}
