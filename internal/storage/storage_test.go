package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/types"
)

// fakeS3 is an in-memory bucket with page-limited listing.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	pageSize int
	failErr  error
	calls    int
}

func newFakeS3(pageSize int) *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, pageSize: pageSize}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failErr != nil {
		return nil, f.failErr
	}
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var entries []string
	seen := map[string]bool{}
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if delim != "" {
			rest := k[len(prefix):]
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, cp)
				}
				continue
			}
		}
		entries = append(entries, k)
	}
	sort.Strings(entries)

	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := min(start+f.pageSize, len(entries))

	out := &s3.ListObjectsV2Output{}
	for _, e := range entries[start:end] {
		if seen[e] {
			out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(e)})
		} else {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(e)})
		}
	}
	if end < len(entries) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	return out, nil
}

func seed(f *fakeS3, keys ...string) {
	for _, k := range keys {
		f.objects[k] = []byte(k)
	}
}

func TestS3Store_ListPaginates(t *testing.T) {
	f := newFakeS3(2)
	seed(f,
		"raw/api/bikes/2025-01-01/a.json",
		"raw/api/bikes/2025-01-01/b.json",
		"raw/api/bikes/2025-01-01/c.json",
		"raw/api/bikes/2025-01-02/d.json",
	)
	store := NewS3Store(f, "raw", nil)

	keys, err := store.List(context.Background(), APIPrefix("bikes", "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"raw/api/bikes/2025-01-01/a.json",
		"raw/api/bikes/2025-01-01/b.json",
		"raw/api/bikes/2025-01-01/c.json",
	}, keys)
}

func TestS3Store_ListDirs(t *testing.T) {
	f := newFakeS3(1)
	seed(f,
		"raw/batch/2025-01-02/x.csv",
		"raw/batch/2025-01-01/x.csv",
		"raw/batch/2025-01-01/y.csv",
		"raw/batch/readme.txt",
	)
	dirs, err := NewS3Store(f, "raw", nil).ListDirs(context.Background(), "raw/batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02"}, dirs)
}

func TestS3Store_GetPut(t *testing.T) {
	f := newFakeS3(10)
	store := NewS3Store(f, "raw", nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "raw/api/weather/2025-01-01/w.json", []byte(`{"a":1}`), "application/json"))
	b, err := ReadAll(ctx, store, "raw/api/weather/2025-01-01/w.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	_, err = store.Get(ctx, "nope")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundObject, appErr.Code)
}

func TestS3Store_BreakerOpensAfterFailures(t *testing.T) {
	f := newFakeS3(10)
	f.failErr = errors.New("connection reset")
	store := NewS3Store(f, "raw", nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := store.Get(ctx, "k")
		var appErr *types.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, types.ErrCodeUpstreamObjectStore, appErr.Code)
	}
	assert.Equal(t, 6, f.calls)

	_, err := store.Get(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, 6, f.calls, "open breaker must not reach the bucket")
}

func TestS3Store_NotFoundDoesNotTrip(t *testing.T) {
	f := newFakeS3(10)
	store := NewS3Store(f, "raw", nil)
	for i := 0; i < 10; i++ {
		_, _ = store.Get(context.Background(), "missing")
	}
	assert.Equal(t, 10, f.calls)
}

func TestLocalStore(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	for _, k := range []string{
		"raw/api/traffic/2025-01-01/s1.json",
		"raw/api/traffic/2025-01-01/s2.json",
		"raw/api/traffic/2025-01-03/s3.json",
		"raw/batch/2025-01-02/chantiers.csv",
	} {
		require.NoError(t, store.Put(ctx, k, []byte(k), "application/json"))
	}

	keys, err := store.List(ctx, APIPrefix("traffic", "2025-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/api/traffic/2025-01-01/s1.json", "raw/api/traffic/2025-01-01/s2.json"}, keys)

	partial, err := store.List(ctx, "raw/api/traffic/2025-01-01/s2")
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/api/traffic/2025-01-01/s2.json"}, partial)

	dirs, err := store.ListDirs(ctx, "raw/api/traffic")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01", "2025-01-03"}, dirs)

	none, err := store.List(ctx, "raw/api/bikes/2025-01-01/")
	require.NoError(t, err)
	assert.Empty(t, none)

	b, err := ReadAll(ctx, store, BatchKey("2025-01-02", "chantiers.csv"))
	require.NoError(t, err)
	assert.Equal(t, "raw/batch/2025-01-02/chantiers.csv", string(b))

	_, err = store.Get(ctx, "raw/batch/2025-01-02/missing.csv")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundObject, appErr.Code)
}

func TestHasExt(t *testing.T) {
	assert.True(t, HasExt("a/b.json", ".json"))
	assert.True(t, HasExt("a/b.json.gz", ".json"))
	assert.True(t, HasExt("a/b.csv.zst", ".csv", ".json"))
	assert.False(t, HasExt("a/b.txt", ".json"))
}
