// Package main is the entrypoint of the realtime feed fetcher.
//
// An EventBridge rule invokes it every few minutes inside AWS Lambda. Each
// invocation polls the enabled feeds (weather, traffic, bikes) once and
// writes every response as JSON Lines under
// raw/api/<feed>/<date>/stream-data-<unix>-<id>.json. Run locally it polls
// once, writes under LOCAL_DATA_DIR and prints the per-feed results.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cityflow/internal/config"
	"cityflow/internal/fetcher"
	"cityflow/internal/storage"
	"cityflow/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("fetcher initializing",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"sources", cfg.Fetcher.EnableSources,
	)

	inLambda := isLambdaEnvironment()
	f, err := wire(context.Background(), cfg, logger)
	if err != nil {
		return err
	}

	if inLambda {
		lambda.Start(newHandler(f, cfg.Storage.UseS3(), logger))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, status := f.Run(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		logger.Error("failed to print results", "error", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("no feed fetched successfully")
	}
	return nil
}

// wire builds the fetcher: S3 when S3_RAW_BUCKET is set, the local data
// directory otherwise.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fetcher.Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	endpoint := cfg.AWS.EndpointURL

	var store storage.ObjectStore
	if cfg.Storage.UseS3() {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
		store = storage.NewS3Store(s3Client, cfg.Storage.RawBucket, logger)
	} else {
		store = storage.NewLocalStore(cfg.Storage.LocalDataDir)
	}

	// Fetcher bounds each feed with REQUEST_TIMEOUT; this is a backstop.
	httpClient := &http.Client{Timeout: 2 * cfg.Fetcher.RequestTimeout}
	policy := fetcher.DefaultRetryPolicy()
	policy.MaxRetries = cfg.Fetcher.Retries
	client := fetcher.NewClient(httpClient, policy, cfg.Fetcher.UserAgent)

	var opts []fetcher.Option
	if cfg.Observability.EnableMetrics && !cfg.IsLocal() {
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		opts = append(opts, fetcher.WithRecorder(telemetry.NewRunMetrics(cw, cfg.Environment, logger)))
	}

	logger.Info("fetcher initialized",
		"raw_s3", cfg.Storage.UseS3(),
		"retries", policy.MaxRetries,
		"timeout", cfg.Fetcher.RequestTimeout,
	)
	return fetcher.New(client, store, cfg.Fetcher, logger, opts...), nil
}

// Poller runs one polling round.
type Poller interface {
	Run(ctx context.Context) ([]fetcher.Result, int)
}

// newHandler creates the Lambda handler. The response carries the per-feed
// results as a JSON array and is 200 when at least one feed succeeded.
// Without a raw bucket nothing is polled.
func newHandler(p Poller, hasBucket bool, logger *slog.Logger) func(ctx context.Context) (events.APIGatewayProxyResponse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	headers := map[string]string{"Content-Type": "application/json"}
	return func(ctx context.Context) (events.APIGatewayProxyResponse, error) {
		if !hasBucket {
			logger.ErrorContext(ctx, "fetcher invoked without a raw bucket")
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusInternalServerError,
				Headers:    headers,
				Body:       `{"error":"S3_RAW_BUCKET missing"}`,
			}, nil
		}

		start := time.Now()
		results, status := p.Run(ctx)
		body, err := json.Marshal(results)
		if err != nil {
			return events.APIGatewayProxyResponse{}, fmt.Errorf("encoding results: %w", err)
		}

		ok := 0
		for _, r := range results {
			if r.OK {
				ok++
			}
		}
		logger.InfoContext(ctx, "fetch round complete",
			"feeds", len(results),
			"ok", ok,
			"status", status,
			"duration", time.Since(start),
		)
		return events.APIGatewayProxyResponse{
			StatusCode: status,
			Headers:    headers,
			Body:       string(body),
		}, nil
	}
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
