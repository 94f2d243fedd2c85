package geo

import (
	"context"
	"log/slog"
	"sync"

	"cityflow/internal/relation"
)

// ReferenceLoader fetches the static reference table of counter locations.
type ReferenceLoader func(ctx context.Context) (relation.Relation, error)

// ReferenceCache loads the static reference mapping once per process. A
// failed load is not cached, so the next run retries.
type ReferenceCache struct {
	load   ReferenceLoader
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	coords Mapping
}

// NewReferenceCache creates a cache backed by load. A nil loader yields an
// always-empty mapping.
func NewReferenceCache(load ReferenceLoader, logger *slog.Logger) *ReferenceCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferenceCache{load: load, logger: logger}
}

// NewStaticReference returns a cache pre-populated with m.
func NewStaticReference(m Mapping) *ReferenceCache {
	return &ReferenceCache{logger: slog.Default(), loaded: true, coords: m}
}

// Mapping returns the cached reference mapping, loading it on first use.
func (c *ReferenceCache) Mapping(ctx context.Context) (Mapping, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.coords, nil
	}
	if c.load == nil {
		c.loaded = true
		c.coords = Mapping{}
		return c.coords, nil
	}

	table, err := c.load(ctx)
	if err != nil {
		return Mapping{}, err
	}
	c.coords = ExtractMapping(table)
	c.loaded = true
	c.logger.InfoContext(ctx, "loaded coordinate reference", "counters", len(c.coords))
	return c.coords, nil
}
