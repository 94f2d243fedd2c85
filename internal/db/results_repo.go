package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cityflow/internal/codec"
	"cityflow/internal/types"
)

// ResultRepository persists computed metrics, correlations and reports in the
// results table. Payloads are stored as zstd compressed JSON; one row exists
// per (kind, date, name) and writes replace the previous payload.
type ResultRepository struct {
	db    DBTX
	codec *codec.Codec
}

// NewResultRepository creates a ResultRepository backed by the given
// database connection (pool or transaction).
func NewResultRepository(db DBTX, c *codec.Codec) *ResultRepository {
	return &ResultRepository{db: db, codec: c}
}

// Put upserts a document.
func (r *ResultRepository) Put(ctx context.Context, kind types.DocumentKind, date, name string, payload any) error {
	body, err := r.codec.Encode(payload)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO results (kind, date, name, payload, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (kind, date, name) DO UPDATE
		   SET payload = EXCLUDED.payload,
		       updated_at = EXCLUDED.updated_at`,
		string(kind), date, name, body,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to store %s %s", kind, name), err)
	}
	return nil
}

// Get returns a single document.
func (r *ResultRepository) Get(ctx context.Context, kind types.DocumentKind, date, name string) (types.Document, error) {
	var (
		body      []byte
		updatedAt time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT payload, updated_at FROM results
		 WHERE kind = $1 AND date = $2 AND name = $3`,
		string(kind), date, name,
	).Scan(&body, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Document{}, types.NewAppErrorWithDetails(kind.NotFoundCode(),
				fmt.Sprintf("%s %q not found for %s", kind, name, date), nil,
				map[string]any{"date": date, "name": name})
		}
		return types.Document{}, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to get %s", kind), err)
	}
	data, err := r.codec.Decompress(body)
	if err != nil {
		return types.Document{}, err
	}
	return types.Document{Kind: kind, Date: date, Name: name, Data: data, UpdatedAt: updatedAt.UTC()}, nil
}

// ListByDate returns every document of a kind for one date, ordered by name.
func (r *ResultRepository) ListByDate(ctx context.Context, kind types.DocumentKind, date string) ([]types.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, payload, updated_at FROM results
		 WHERE kind = $1 AND date = $2
		 ORDER BY name`,
		string(kind), date,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to list %s", kind), err)
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var (
			name      string
			body      []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&name, &body, &updatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to scan %s row", kind), err)
		}
		data, err := r.codec.Decompress(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, types.Document{Kind: kind, Date: date, Name: name, Data: data, UpdatedAt: updatedAt.UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to iterate %s rows", kind), err)
	}
	return docs, nil
}

// ListDates returns the distinct dates holding documents of a kind, most
// recent first. A limit <= 0 returns every date.
func (r *ResultRepository) ListDates(ctx context.Context, kind types.DocumentKind, limit int) ([]string, error) {
	query := `SELECT DISTINCT date FROM results WHERE kind = $1 ORDER BY date DESC`
	args := []any{string(kind)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.strings(ctx, query, fmt.Sprintf("failed to list %s dates", kind), args...)
}

// ListNames returns the distinct document names stored for a kind.
func (r *ResultRepository) ListNames(ctx context.Context, kind types.DocumentKind) ([]string, error) {
	return r.strings(ctx,
		`SELECT DISTINCT name FROM results WHERE kind = $1 ORDER BY name`,
		fmt.Sprintf("failed to list %s names", kind), string(kind))
}

func (r *ResultRepository) strings(ctx context.Context, query, msg string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, msg, err)
	}
	return out, nil
}
