package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/fetcher"
)

type fakePoller struct {
	results []fetcher.Result
	status  int
	calls   int
}

func (f *fakePoller) Run(context.Context) ([]fetcher.Result, int) {
	f.calls++
	return f.results, f.status
}

func TestHandler_Success(t *testing.T) {
	p := &fakePoller{
		results: []fetcher.Result{
			{Source: "bikes", OK: true, Count: 3, Key: "raw/api/bikes/2024-05-01/stream-data-1-a.json"},
			{Source: "weather", Error: "WEATHER_BASE_URL or WEATHER_API_KEY missing"},
		},
		status: http.StatusOK,
	}

	resp, err := newHandler(p, true, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.Equal(t, 1, p.calls)

	var got []fetcher.Result
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &got))
	assert.Equal(t, p.results, got)
}

func TestHandler_AllFailed(t *testing.T) {
	p := &fakePoller{
		results: []fetcher.Result{{Source: "traffic", Error: "HTTP 503: Service Unavailable"}},
		status:  http.StatusInternalServerError,
	}

	resp, err := newHandler(p, true, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `[{"source":"traffic","ok":false,"error":"HTTP 503: Service Unavailable"}]`, resp.Body)
}

func TestHandler_NoResultsEncodesEmptyArray(t *testing.T) {
	p := &fakePoller{results: []fetcher.Result{}, status: http.StatusInternalServerError}

	resp, err := newHandler(p, true, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.Body)
}

func TestHandler_MissingBucket(t *testing.T) {
	p := &fakePoller{}

	resp, err := newHandler(p, false, nil)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"S3_RAW_BUCKET missing"}`, resp.Body)
	assert.Zero(t, p.calls)
}

func TestIsLambdaEnvironment(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	t.Setenv("_LAMBDA_SERVER_PORT", "")
	require.NoError(t, os.Unsetenv("AWS_LAMBDA_RUNTIME_API"))
	require.NoError(t, os.Unsetenv("_LAMBDA_SERVER_PORT"))
	assert.False(t, isLambdaEnvironment())

	t.Setenv("AWS_LAMBDA_RUNTIME_API", "localhost:9001")
	assert.True(t, isLambdaEnvironment())
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		assert.NotNil(t, newLogger(level), level)
	}
}
