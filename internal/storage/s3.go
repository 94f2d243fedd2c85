package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker/v2"

	"cityflow/internal/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store implements ObjectStore on a single bucket. Calls go through a
// circuit breaker so a failing bucket stops being hammered by every source
// loader at once.
type S3Store struct {
	client  S3API
	bucket  string
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewS3Store creates a store for bucket.
func NewS3Store(client S3API, bucket string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "s3:" + bucket,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// A missing key is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || isNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("object store breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &S3Store{client: client, bucket: bucket, breaker: cb, logger: logger}
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *S3Store) upstreamError(op, key string, err error) error {
	if isNotFound(err) {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundObject,
			fmt.Sprintf("object %s not found", key), err, map[string]any{"bucket": s.bucket})
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamObjectStore,
		fmt.Sprintf("failed to %s %s", op, key), err, map[string]any{"bucket": s.bucket})
}

// List pages through ListObjectsV2 and returns every key under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		out, err := s.breaker.Execute(func() (any, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, s.upstreamError("list", prefix, err)
		}
		for _, obj := range out.(*s3.ListObjectsV2Output).Contents {
			if obj.Key != nil && !isDirMarker(*obj.Key) {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return sortedUnique(keys), nil
}

func isDirMarker(key string) bool {
	return len(key) > 0 && key[len(key)-1] == '/'
}

// ListDirs lists the common prefixes directly below prefix.
func (s *S3Store) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	prefix = dirPrefix(prefix)
	var names []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		out, err := s.breaker.Execute(func() (any, error) {
			return paginator.NextPage(ctx)
		})
		if err != nil {
			return nil, s.upstreamError("list", prefix, err)
		}
		for _, cp := range out.(*s3.ListObjectsV2Output).CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			names = append(names, childName(prefix, *cp.Prefix))
		}
	}
	return sortedUnique(names), nil
}

// Get opens the object body. The caller closes it.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.breaker.Execute(func() (any, error) {
		return s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return nil, s.upstreamError("get", key, err)
	}
	return out.(*s3.GetObjectOutput).Body, nil
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
	})
	if err != nil {
		return s.upstreamError("put", key, err)
	}
	s.logger.DebugContext(ctx, "object written", "bucket", s.bucket, "key", key, "bytes", len(body))
	return nil
}
