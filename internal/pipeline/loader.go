package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	"cityflow/internal/geo"
	"cityflow/internal/ingest"
	"cityflow/internal/relation"
	"cityflow/internal/storage"
	"cityflow/internal/types"
)

// LoadConcurrencyLimit bounds the number of sources read at the same time.
const LoadConcurrencyLimit = 4

// Sources holds the merged ingestion result of every source found for a day.
// A source with no file for the day is absent from its map.
type Sources struct {
	API   map[string]ingest.Result
	Batch map[string]ingest.Result
}

// Data returns the relation of a source, or an empty relation when the
// source was not loaded.
func (s Sources) Data(name string) relation.Relation {
	if res, ok := s.API[name]; ok {
		return res.Data
	}
	if res, ok := s.Batch[name]; ok {
		return res.Data
	}
	return relation.Empty()
}

// Loader reads the raw landing zone of an ObjectStore.
type Loader struct {
	store   storage.ObjectStore
	schemas []ingest.Schema
	logger  *slog.Logger
}

// NewLoader creates a loader for every known source. A nil logger falls back
// to slog.Default().
func NewLoader(store storage.ObjectStore, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, schemas: ingest.Schemas(), logger: logger}
}

// AvailableDates lists the day folders present under raw/batch/ and under
// every raw/api/<source>/, sorted ascending.
func (l *Loader) AvailableDates(ctx context.Context) ([]string, error) {
	dates, err := l.store.ListDirs(ctx, storage.RawBatchPrefix)
	if err != nil {
		return nil, err
	}
	feeds, err := l.store.ListDirs(ctx, storage.RawAPIPrefix)
	if err != nil {
		return nil, err
	}
	for _, feed := range feeds {
		days, err := l.store.ListDirs(ctx, storage.RawAPIPrefix+feed+"/")
		if err != nil {
			return nil, err
		}
		dates = append(dates, days...)
	}
	slices.Sort(dates)
	return slices.Compact(dates), nil
}

// ResolveDate picks the day to process: desired when data exists for it,
// otherwise the latest day with data, otherwise desired unchanged.
func (l *Loader) ResolveDate(ctx context.Context, desired string) (string, error) {
	if _, err := civil.ParseDate(desired); err != nil {
		return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("invalid processing date %q", desired), err, map[string]any{"date": desired})
	}
	available, err := l.AvailableDates(ctx)
	if err != nil {
		return "", err
	}
	if slices.Contains(available, desired) {
		return desired, nil
	}
	if len(available) > 0 {
		latest := available[len(available)-1]
		l.logger.WarnContext(ctx, "no data for requested date, using latest available",
			"requested", desired,
			"date", latest,
		)
		return latest, nil
	}
	return desired, nil
}

// Load reads every source of the day concurrently. Missing files are skipped;
// undecodable files are recorded as quality errors. Only object store
// failures abort the load.
func (l *Loader) Load(ctx context.Context, date string) (Sources, error) {
	out := Sources{API: map[string]ingest.Result{}, Batch: map[string]ingest.Result{}}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(LoadConcurrencyLimit)

	for _, schema := range l.schemas {
		g.Go(func() error {
			var (
				res ingest.Result
				ok  bool
				err error
			)
			switch schema.Kind {
			case ingest.KindAPI:
				res, ok, err = l.loadAPI(gCtx, schema, date)
			default:
				res, ok, err = l.loadBatch(gCtx, schema, date)
			}
			if err != nil || !ok {
				return err
			}

			l.logger.InfoContext(gCtx, "source loaded",
				"source", schema.Name,
				"date", date,
				"rows", res.Data.Len(),
				"passed", res.Quality.Passed,
			)
			mu.Lock()
			defer mu.Unlock()
			if schema.Kind == ingest.KindAPI {
				out.API[schema.Name] = res
			} else {
				out.Batch[schema.Name] = res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Sources{}, err
	}
	return out, nil
}

func (l *Loader) loadAPI(ctx context.Context, schema ingest.Schema, date string) (ingest.Result, bool, error) {
	keys, err := l.store.List(ctx, storage.APIPrefix(schema.Name, date))
	if err != nil {
		return ingest.Result{}, false, err
	}
	keys = slices.DeleteFunc(keys, func(k string) bool { return !storage.HasExt(k, ".json", ".jsonl") })
	if len(keys) == 0 {
		return ingest.Result{}, false, nil
	}

	runs := make([]ingest.Result, 0, len(keys))
	for _, key := range keys {
		res, found, err := l.process(ctx, schema, key)
		if err != nil {
			return ingest.Result{}, false, err
		}
		if found {
			runs = append(runs, res)
		}
	}
	return ingest.Merge(runs...), true, nil
}

func (l *Loader) loadBatch(ctx context.Context, schema ingest.Schema, date string) (ingest.Result, bool, error) {
	key := storage.BatchKey(date, schema.File)
	res, found, err := l.process(ctx, schema, key)
	if err != nil || !found {
		if err == nil {
			l.logger.DebugContext(ctx, "batch file not found", "source", schema.Name, "key", key)
		}
		return ingest.Result{}, false, err
	}
	return res, true, nil
}

// decodeFailure formats the quality message of an undecodable file, keeping
// the decoder's cause when err wraps one.
func decodeFailure(key string, err error) string {
	msg := err.Error()
	if cause := errors.Unwrap(err); cause != nil {
		msg += ": " + cause.Error()
	}
	return fmt.Sprintf("error: failed to decode %s: %s", key, msg)
}

// process reads and processes one object. found is false when the object
// does not exist.
func (l *Loader) process(ctx context.Context, schema ingest.Schema, key string) (ingest.Result, bool, error) {
	body, err := l.store.Get(ctx, key)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundObject {
			return ingest.Result{}, false, nil
		}
		return ingest.Result{}, false, err
	}
	defer body.Close()

	res, err := schema.Process(body, key)
	if err != nil {
		l.logger.WarnContext(ctx, "failed to decode source file",
			"source", schema.Name,
			"key", key,
			"error", err,
		)
		q := types.NewQualityReport()
		q.Add(decodeFailure(key, err))
		return ingest.Result{
			Data:     relation.Empty(),
			Quality:  q,
			Metadata: map[string]any{"source": schema.Name, "input_path": key},
		}, true, nil
	}
	return res, true, nil
}

// ReferenceFromStore returns a loader reading the counter location table, a
// ';' separated CSV, from key. A missing object yields an empty table.
func ReferenceFromStore(store storage.ObjectStore, key string) geo.ReferenceLoader {
	return func(ctx context.Context) (relation.Relation, error) {
		body, err := store.Get(ctx, key)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundObject {
				return relation.Empty(), nil
			}
			return relation.Relation{}, err
		}
		defer body.Close()
		return ingest.ReadCSV(body, ';')
	}
}
