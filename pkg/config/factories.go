package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/mediabus/internal/logger"
	"github.com/marmos91/mediabus/pkg/property"
	"github.com/marmos91/mediabus/pkg/source"
	"github.com/marmos91/mediabus/pkg/source/badger"
	sourceFs "github.com/marmos91/mediabus/pkg/source/fs"
	"github.com/marmos91/mediabus/pkg/source/memory"
	sourceS3 "github.com/marmos91/mediabus/pkg/source/s3"
)

// CreateSource creates a catalog source based on configuration.
//
// This factory function uses the Type field to determine which source
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the source's constructor.
//
// Supported types:
//   - "memory": Uses pkg/source/memory (in-memory catalog, optionally seeded from a YAML fixture)
//   - "badger": Uses pkg/source/badger (BadgerDB catalog, persistent)
//   - "filesystem": Uses pkg/source/fs (a directory tree, optionally watched)
//   - "s3": Uses pkg/source/s3 (Amazon S3 or compatible storage)
func CreateSource(ctx context.Context, cfg *SourceConfig) (source.Source, error) {
	switch cfg.Type {
	case "memory":
		return createMemorySource(ctx, cfg.Memory)
	case "badger":
		return createBadgerSource(ctx, cfg.Badger)
	case "filesystem":
		return createFilesystemSource(ctx, cfg.Filesystem)
	case "s3":
		return createS3Source(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown source type: %q (supported: memory, badger, filesystem, s3)", cfg.Type)
	}
}

// decodeOptions decodes a type-specific section, accepting durations as
// strings ("1h").
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// createMemorySource creates an in-memory catalog.
func createMemorySource(ctx context.Context, options map[string]any) (source.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type MemorySourceOptions struct {
		RootName   string `mapstructure:"root_name"`
		Searchable bool   `mapstructure:"searchable"`
		Fixture    string `mapstructure:"fixture"`
	}

	var opts MemorySourceOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode memory source config: %w", err)
	}

	if opts.Fixture == "" {
		return memory.NewMemorySource(memory.MemorySourceConfig{
			RootName:   opts.RootName,
			Searchable: opts.Searchable,
		}), nil
	}

	src, err := memory.LoadFile(opts.Fixture)
	if err != nil {
		return nil, fmt.Errorf("memory source: %w", err)
	}
	if opts.RootName != "" {
		props := property.NewTable()
		props[property.DisplayName] = property.String(opts.RootName)
		if err := src.Update(source.RootID, props); err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("memory source: %w", err)
		}
	}

	logger.Info("Memory source loaded", logger.KeyPath, opts.Fixture, "objects", src.Len())
	return src, nil
}

// createBadgerSource creates a BadgerDB-backed persistent catalog.
func createBadgerSource(ctx context.Context, options map[string]any) (source.Source, error) {
	type BadgerSourceOptions struct {
		DBPath     string `mapstructure:"db_path"`
		InMemory   bool   `mapstructure:"in_memory"`
		RootName   string `mapstructure:"root_name"`
		Searchable bool   `mapstructure:"searchable"`
	}

	var opts BadgerSourceOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger source config: %w", err)
	}

	if opts.DBPath == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger source: db_path is required")
	}

	src, err := badger.NewBadgerSource(ctx, badger.BadgerSourceConfig{
		DBPath:     opts.DBPath,
		InMemory:   opts.InMemory,
		RootName:   opts.RootName,
		Searchable: opts.Searchable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger source: %w", err)
	}
	return src, nil
}

// createFilesystemSource creates a source serving a directory tree.
func createFilesystemSource(ctx context.Context, options map[string]any) (source.Source, error) {
	type FilesystemSourceOptions struct {
		Root     string `mapstructure:"root"`
		RootName string `mapstructure:"root_name"`
		BaseURL  string `mapstructure:"base_url"`
		Watch    bool   `mapstructure:"watch"`
	}

	var opts FilesystemSourceOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem source config: %w", err)
	}

	if opts.Root == "" {
		return nil, fmt.Errorf("filesystem source: root is required")
	}

	src, err := sourceFs.NewFSSource(ctx, sourceFs.FSSourceConfig{
		Root:     opts.Root,
		RootName: opts.RootName,
		BaseURL:  opts.BaseURL,
		Watch:    opts.Watch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem source: %w", err)
	}
	return src, nil
}

// createS3Source creates a source serving an S3 bucket.
func createS3Source(ctx context.Context, options map[string]any) (source.Source, error) {
	type S3SourceOptions struct {
		Region          string        `mapstructure:"region"`
		Bucket          string        `mapstructure:"bucket"`
		KeyPrefix       string        `mapstructure:"key_prefix"`
		Endpoint        string        `mapstructure:"endpoint"`
		AccessKeyID     string        `mapstructure:"access_key_id"`
		SecretAccessKey string        `mapstructure:"secret_access_key"`
		MaxRetries      int           `mapstructure:"max_retries"`
		RootName        string        `mapstructure:"root_name"`
		PresignExpiry   time.Duration `mapstructure:"presign_expiry"`
	}

	var opts S3SourceOptions
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 source config: %w", err)
	}

	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 source: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 source: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client and Presigner
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoint with path-style addressing for MinIO, Localstack, etc.
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Source
	// ========================================================================

	src, err := sourceS3.NewS3Source(ctx, sourceS3.S3SourceConfig{
		Client:        client,
		Presigner:     s3.NewPresignClient(client),
		Bucket:        opts.Bucket,
		KeyPrefix:     opts.KeyPrefix,
		RootName:      opts.RootName,
		PresignExpiry: opts.PresignExpiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 source: %w", err)
	}

	logger.Info("S3 source initialized",
		"bucket", opts.Bucket, "region", opts.Region, "prefix", opts.KeyPrefix)

	return src, nil
}
