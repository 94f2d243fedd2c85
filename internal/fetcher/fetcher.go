// Package fetcher pulls the realtime feeds (weather, traffic disruptions and
// bike-share station status) and lands each response in the raw zone as a
// JSON lines object under <prefix>/<feed>/<date>/.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"cityflow/internal/config"
	"cityflow/internal/storage"
	"cityflow/internal/types"
)

const detailLimit = 300

// FeedRecorder records the outcome of one feed fetch.
type FeedRecorder interface {
	RecordFeed(ctx context.Context, feed string, ok bool)
}

// Result is the outcome for one configured source.
type Result struct {
	Source string `json:"source"`
	OK     bool   `json:"ok"`
	Count  int    `json:"count,omitempty"`
	Key    string `json:"key,omitempty"`
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Fetcher fetches every enabled feed and writes it to the object store.
type Fetcher struct {
	client  *Client
	store   storage.ObjectStore
	cfg     config.FetcherConfig
	metrics FeedRecorder
	clock   types.Clock
	newID   func() string
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock sets the clock used for the landing date and key epoch.
func WithClock(c types.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithIDFunc sets the generator for the random key suffix.
func WithIDFunc(fn func() string) Option {
	return func(f *Fetcher) { f.newID = fn }
}

// WithRecorder sets where feed outcomes are reported.
func WithRecorder(r FeedRecorder) Option {
	return func(f *Fetcher) { f.metrics = r }
}

// New creates a Fetcher.
func New(client *Client, store storage.ObjectStore, cfg config.FetcherConfig, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		client: client,
		store:  store,
		cfg:    cfg,
		clock:  types.RealClock{},
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run fetches the enabled sources in order. A source failure is recorded on
// its Result and never stops the others. The returned status is 200 when at
// least one source succeeded and 500 otherwise.
func (f *Fetcher) Run(ctx context.Context) ([]Result, int) {
	results := make([]Result, 0, len(f.cfg.EnableSources))
	status := http.StatusInternalServerError

	for _, src := range f.cfg.EnableSources {
		name := strings.ToLower(strings.TrimSpace(src))
		if name == "" {
			continue
		}
		res := f.fetchSource(ctx, name)
		if res.OK {
			status = http.StatusOK
		}
		if f.metrics != nil {
			f.metrics.RecordFeed(ctx, name, res.OK)
		}
		results = append(results, res)
	}
	return results, status
}

func (f *Fetcher) fetchSource(ctx context.Context, name string) Result {
	feed, err := Resolve(name, f.cfg)
	if err != nil {
		f.logger.WarnContext(ctx, "feed skipped", "feed", name, "error", err.Error())
		return Result{Source: name, Error: err.Error()}
	}

	key, count, err := f.save(ctx, feed)
	if err != nil {
		res := Result{Source: name, Error: err.Error()}
		var se *statusError
		if errors.As(err, &se) {
			res.Detail = se.detail
		}
		f.logger.ErrorContext(ctx, "feed fetch failed", "feed", name, "error", err.Error())
		return res
	}

	f.logger.InfoContext(ctx, "feed saved", "feed", name, "key", key, "records", count)
	return Result{Source: name, OK: true, Count: count, Key: key}
}

// Key returns the object key for one fetch of a feed.
func (f *Fetcher) Key(feed string) string {
	now := f.clock.Now().UTC()
	file := fmt.Sprintf("stream-data-%d-%s.json", now.Unix(), f.newID())
	return path.Join(f.cfg.BasePrefix, feed, now.Format("2006-01-02"), file)
}

func (f *Fetcher) save(ctx context.Context, feed Feed) (string, int, error) {
	key := f.Key(feed.Name)

	body, err := f.get(ctx, feed)
	if err != nil {
		return "", 0, err
	}
	records := ToRecords(body)
	if err := f.store.Put(ctx, key, EncodeJSONLines(records), "application/json"); err != nil {
		return "", 0, err
	}
	return key, len(records), nil
}

// statusError is a non-retryable HTTP failure. detail holds the start of the
// response body.
type statusError struct {
	code   int
	detail string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}

func (f *Fetcher) get(ctx context.Context, feed Feed) ([]byte, error) {
	if f.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid feed URL", err)
	}
	for k, vs := range feed.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		head, _ := io.ReadAll(io.LimitReader(resp.Body, detailLimit))
		return nil, &statusError{code: resp.StatusCode, detail: strings.ToValidUTF8(string(head), "")}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "failed to read feed body", err)
	}
	return body, nil
}
