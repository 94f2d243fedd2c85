// Package resultstore keeps computed results in an embedded Badger database.
// It backs local runs and the API when no PostgreSQL DSN is configured.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"cityflow/internal/codec"
	"cityflow/internal/types"
)

// BadgerStore stores one entry per (kind, date, name) under the key
// "<kind>/<date>/<name>". Values are zstd compressed JSON envelopes.
type BadgerStore struct {
	db    *badger.DB
	codec *codec.Codec
	clock types.Clock
}

type envelope struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// Open opens (or creates) a store in dir. An empty dir keeps everything in
// memory.
func Open(dir string, c *codec.Codec, clock types.Clock) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to open result store", err)
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &BadgerStore{db: db, codec: c, clock: clock}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func key(kind types.DocumentKind, date, name string) []byte {
	return []byte(string(kind) + "/" + date + "/" + name)
}

func prefix(kind types.DocumentKind, date string) []byte {
	if date == "" {
		return []byte(string(kind) + "/")
	}
	return []byte(string(kind) + "/" + date + "/")
}

// Put upserts a document.
func (s *BadgerStore) Put(_ context.Context, kind types.DocumentKind, date, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalCodec, "failed to encode payload", err)
	}
	body, err := s.codec.Encode(envelope{UpdatedAt: s.clock.Now().UTC(), Data: data})
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(kind, date, name), body)
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to store %s %s", kind, name), err)
	}
	return nil
}

func (s *BadgerStore) decode(kind types.DocumentKind, date, name string, body []byte) (types.Document, error) {
	var env envelope
	if err := s.codec.Decode(body, &env); err != nil {
		return types.Document{}, err
	}
	return types.Document{Kind: kind, Date: date, Name: name, Data: env.Data, UpdatedAt: env.UpdatedAt}, nil
}

// Get returns a single document.
func (s *BadgerStore) Get(_ context.Context, kind types.DocumentKind, date, name string) (types.Document, error) {
	var body []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(kind, date, name))
		if err != nil {
			return err
		}
		body, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return types.Document{}, types.NewAppErrorWithDetails(kind.NotFoundCode(),
			fmt.Sprintf("%s %q not found for %s", kind, name, date), nil,
			map[string]any{"date": date, "name": name})
	}
	if err != nil {
		return types.Document{}, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to get %s", kind), err)
	}
	return s.decode(kind, date, name, body)
}

// ListByDate returns every document of a kind for one date, ordered by name.
func (s *BadgerStore) ListByDate(_ context.Context, kind types.DocumentKind, date string) ([]types.Document, error) {
	var docs []types.Document
	p := prefix(kind, date)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 32, Prefix: p})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(p))
			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := s.decode(kind, date, name, body)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to list %s", kind), err)
	}
	return docs, nil
}

// keys walks the key space of a kind and returns "<date>/<name>" suffixes.
func (s *BadgerStore) keys(kind types.DocumentKind) ([]string, error) {
	var out []string
	p := prefix(kind, "")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: p})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, strings.TrimPrefix(string(it.Item().Key()), string(p)))
		}
		return nil
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to scan %s keys", kind), err)
	}
	return out, nil
}

// ListDates returns the distinct dates holding documents of a kind, most
// recent first. A limit <= 0 returns every date.
func (s *BadgerStore) ListDates(_ context.Context, kind types.DocumentKind, limit int) ([]string, error) {
	keys, err := s.keys(kind)
	if err != nil {
		return nil, err
	}
	dates := []string{}
	for _, k := range keys {
		date, _, _ := strings.Cut(k, "/")
		if len(dates) == 0 || dates[len(dates)-1] != date {
			dates = append(dates, date)
		}
	}
	slices.Reverse(dates)
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}

// ListNames returns the distinct document names stored for a kind.
func (s *BadgerStore) ListNames(_ context.Context, kind types.DocumentKind) ([]string, error) {
	keys, err := s.keys(kind)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, k := range keys {
		_, name, _ := strings.Cut(k, "/")
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}
