package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	"github.com/wolfman30/clinic-queue/internal/documents"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// BuildDatabase opens the pgx pool used by the engine and a database/sql
// handle over the same pool for the audit reader.
func BuildDatabase(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, *sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return pool, stdlib.OpenDBFromPool(pool), nil
}

// BuildDocumentStore returns the S3 document store, or nil when no bucket is
// configured and documents stay inline.
func BuildDocumentStore(awsCfg aws.Config, cfg *appconfig.Config, logger *logging.Logger) queue.DocumentStore {
	if cfg == nil || strings.TrimSpace(cfg.DocumentBucket) == "" {
		return nil
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	store := documents.NewStore(client, cfg.DocumentBucket, logger)
	if store == nil {
		return nil
	}
	if logger != nil {
		logger.Info("prescription documents stored in s3", "bucket", cfg.DocumentBucket)
	}
	return store
}
