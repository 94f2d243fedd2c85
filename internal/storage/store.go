// Package storage reads the raw landing zone and writes fetched feeds. Two
// backends share the ObjectStore interface: S3 in deployed environments and a
// local directory tree for development.
package storage

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
)

// ObjectStore is the minimal object API the pipeline needs. Keys always use
// "/" separators.
type ObjectStore interface {
	// List returns every object key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// ListDirs returns the names of the immediate sub-prefixes of prefix,
	// sorted, without the trailing slash.
	ListDirs(ctx context.Context, prefix string) ([]string, error)
	// Get opens an object. A missing key yields a not_found_object AppError.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Put writes an object, replacing any existing one.
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Raw zone layout.
const (
	RawAPIPrefix   = "raw/api/"
	RawBatchPrefix = "raw/batch/"
)

// APIPrefix is the prefix holding one feed's files for a day.
func APIPrefix(source, date string) string {
	return RawAPIPrefix + source + "/" + date + "/"
}

// BatchKey is the key of a batch file for a day.
func BatchKey(date, file string) string {
	return RawBatchPrefix + date + "/" + file
}

// dirPrefix makes sure a non-empty prefix ends with a slash.
func dirPrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	return prefix
}

// childName returns the first path element of key below prefix, or "" when
// key sits directly in prefix.
func childName(prefix, key string) string {
	rest := strings.TrimPrefix(key, prefix)
	i := strings.Index(rest, "/")
	if i <= 0 {
		return ""
	}
	return rest[:i]
}

func sortedUnique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// HasExt reports whether key ends in one of the extensions, ignoring a
// trailing compression suffix.
func HasExt(key string, exts ...string) bool {
	base := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(key, ".gz"), ".gzip"), ".zst")
	ext := path.Ext(base)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
