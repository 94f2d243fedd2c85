package resultstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cityflow/internal/codec"
	"cityflow/internal/types"
)

var stamp = time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := Open("", codec.New(), types.FixedClock{T: stamp})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_PutGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, types.KindMetric, "2024-05-01", "dmja", []map[string]any{{"dmja": 12.5}}))

	doc, err := s.Get(ctx, types.KindMetric, "2024-05-01", "dmja")
	require.NoError(t, err)
	assert.Equal(t, "dmja", doc.Name)
	assert.Equal(t, "2024-05-01", doc.Date)
	assert.JSONEq(t, `[{"dmja":12.5}]`, string(doc.Data))
	assert.True(t, stamp.Equal(doc.UpdatedAt))
}

func TestBadgerStore_PutOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, types.KindReport, "2024-05-01", "processing_report", map[string]int{"v": 1}))
	require.NoError(t, s.Put(ctx, types.KindReport, "2024-05-01", "processing_report", map[string]int{"v": 2}))

	doc, err := s.Get(ctx, types.KindReport, "2024-05-01", "processing_report")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(doc.Data))
}

func TestBadgerStore_GetNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.Get(context.Background(), types.KindCorrelations, "2024-05-01", types.CorrelationsDocument)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundCorrelation, appErr.Code)
	assert.Equal(t, 404, appErr.HTTPStatus())
}

func TestBadgerStore_ListByDate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, types.KindMetric, "2024-05-01", "top_compteurs", []int{1}))
	require.NoError(t, s.Put(ctx, types.KindMetric, "2024-05-01", "dmja", []int{2}))
	require.NoError(t, s.Put(ctx, types.KindMetric, "2024-05-02", "dmja", []int{3}))
	require.NoError(t, s.Put(ctx, types.KindReport, "2024-05-01", "dmja", []int{4}))

	docs, err := s.ListByDate(ctx, types.KindMetric, "2024-05-01")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "dmja", docs[0].Name)
	assert.JSONEq(t, `[2]`, string(docs[0].Data))
	assert.Equal(t, "top_compteurs", docs[1].Name)

	none, err := s.ListByDate(ctx, types.KindMetric, "2023-01-01")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBadgerStore_ListDatesAndNames(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, date := range []string{"2024-05-01", "2024-05-03", "2024-05-02"} {
		require.NoError(t, s.Put(ctx, types.KindMetric, date, "dmja", 1))
		require.NoError(t, s.Put(ctx, types.KindMetric, date, "anomalies", 1))
	}
	require.NoError(t, s.Put(ctx, types.KindReport, "2024-06-01", "processing_report", 1))

	dates, err := s.ListDates(ctx, types.KindMetric, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-03", "2024-05-02", "2024-05-01"}, dates)

	limited, err := s.ListDates(ctx, types.KindMetric, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-03", "2024-05-02"}, limited)

	names, err := s.ListNames(ctx, types.KindMetric)
	require.NoError(t, err)
	assert.Equal(t, []string{"anomalies", "dmja"}, names)

	empty, err := s.ListDates(ctx, types.KindCorrelations, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir, codec.New(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, types.KindMetric, "2024-05-01", "dmja", 7))
	require.NoError(t, s.Close())

	s, err = Open(dir, codec.New(), nil)
	require.NoError(t, err)
	defer s.Close()
	doc, err := s.Get(ctx, types.KindMetric, "2024-05-01", "dmja")
	require.NoError(t, err)
	assert.JSONEq(t, `7`, string(doc.Data))
}
