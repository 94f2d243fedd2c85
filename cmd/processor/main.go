// Package main is the entrypoint of the daily processor.
//
// Inside AWS Lambda it is triggered by an EventBridge schedule or by
// reprocess requests on an SQS queue. Run locally it processes one day and
// prints the result:
//
//	processor [YYYY-MM-DD]
//
// The date defaults to PROCESSING_DATE, then to the current UTC day. Results
// go to PostgreSQL when DATABASE_URL is set and to the embedded store under
// RESULT_STORE_DIR otherwise.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"cityflow/internal/codec"
	"cityflow/internal/config"
	"cityflow/internal/db"
	"cityflow/internal/geo"
	"cityflow/internal/metrics"
	"cityflow/internal/pipeline"
	"cityflow/internal/resultstore"
	"cityflow/internal/storage"
	"cityflow/internal/telemetry"
	"cityflow/internal/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("processor initializing",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
	)

	ctx := context.Background()
	handler, cleanup, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if isLambdaEnvironment() {
		lambda.Start(handler.HandleEvent)
		return nil
	}

	date := os.Getenv("PROCESSING_DATE")
	if len(args) > 0 && args[0] != "" {
		date = args[0]
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, runErr := handler.Handle(ctx, RunRequest{Date: date})
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error("failed to print result", "error", err)
	}
	return runErr
}

// wire builds the handler from configuration. The returned cleanup closes
// the result store.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Handler, func(), error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	endpoint := cfg.AWS.EndpointURL

	var raw, processed storage.ObjectStore
	if cfg.Storage.UseS3() {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
		raw = storage.NewS3Store(s3Client, cfg.Storage.RawBucket, logger)
		if cfg.Storage.ProcessedBucket != "" {
			processed = storage.NewS3Store(s3Client, cfg.Storage.ProcessedBucket, logger)
		}
	} else {
		local := storage.NewLocalStore(cfg.Storage.LocalDataDir)
		raw, processed = local, local
	}

	handler := &Handler{
		WorkerID: uuid.NewString(),
		Logger:   logger,
	}

	var results pipeline.ResultWriter
	cleanup := func() {}
	if cfg.Database.URL.IsSet() {
		pool, err := openPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		results = db.NewResultRepository(pool, codec.New())
		handler.JobLock = db.NewJobLockRepository(pool)
		handler.JobHistory = db.NewJobHistoryRepository(pool)
		cleanup = pool.Close
	} else {
		store, err := resultstore.Open(cfg.Database.ResultStoreDir, codec.New(), types.RealClock{})
		if err != nil {
			return nil, nil, err
		}
		results = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close result store", "error", err)
			}
		}
	}

	handler.Runner = pipeline.NewOrchestrator(pipeline.Deps{
		Loader:    pipeline.NewLoader(raw, logger),
		Metrics:   metrics.NewEngine(cfg.Engine.Params(), logger),
		Reference: geo.NewReferenceCache(pipeline.ReferenceFromStore(raw, cfg.Storage.ReferenceKey), logger),
		Results:   results,
		Processed: processed,
		Logger:    logger,
	})

	if cfg.Observability.EnableMetrics && !cfg.IsLocal() {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		handler.Metrics = telemetry.NewRunMetrics(cw, cfg.Environment, logger)
	}
	if cfg.AWS.RunQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		handler.Notifier = telemetry.NewRunPublisher(sqsClient, cfg.AWS.RunQueueURL, logger)
	}

	logger.Info("processor initialized",
		"worker_id", handler.WorkerID,
		"raw_s3", cfg.Storage.UseS3(),
		"postgres", cfg.Database.URL.IsSet(),
		"metrics", handler.Metrics != nil,
		"run_queue", cfg.AWS.RunQueueURL != "",
	)
	return handler, cleanup, nil
}

// openPool connects to PostgreSQL with the configured pool limits and checks
// connectivity.
func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "invalid DATABASE_URL", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create database pool", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to ping database", err)
	}
	return pool, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// newLogger creates a structured JSON logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
