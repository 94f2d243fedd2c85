// Package ingest turns raw source files into normalized relations. Each
// source is described by a Schema: how to read it, how to rename and cast
// its columns, which quality checks to run and which derived columns to add.
package ingest

import (
	"fmt"
	"io"
	"path"

	"cityflow/internal/relation"
	"cityflow/internal/types"
)

// Format is the on-disk encoding of a source file.
type Format int

const (
	FormatCSV Format = iota
	FormatJSONLines
)

// Kind tells where a source lands in the raw zone.
type Kind string

const (
	KindAPI   Kind = "api"
	KindBatch Kind = "batch"
)

// Step transforms a relation during cleaning.
type Step func(relation.Relation) relation.Relation

// Check inspects a cleaned relation and records findings on the report.
type Check func(relation.Relation, *types.QualityReport)

// Enrichment adds derived columns once checks have run.
type Enrichment func(relation.Relation, Context) relation.Relation

// Context describes the file being processed.
type Context struct {
	Source string
	Key    string
	// IngestionDate is the name of the folder holding the file, normally
	// the YYYY-MM-DD landing date.
	IngestionDate string
	File          string
}

// NewContext derives the context from an object key.
func NewContext(source, key string) Context {
	return Context{
		Source:        source,
		Key:           key,
		IngestionDate: path.Base(path.Dir(key)),
		File:          path.Base(key),
	}
}

// Schema describes one source.
type Schema struct {
	Name   string
	Kind   Kind
	Format Format
	// File is the batch file name looked up under raw/batch/<date>/.
	File      string
	Separator rune
	// Explode names the JSON array whose elements are the records.
	Explode  string
	Drop     []string
	Rename   map[string]string
	Required []string
	Clean    []Step
	Checks   []Check
	Enrich   []Enrichment
}

// Result is the outcome of processing one or more files of a source.
type Result struct {
	Data     relation.Relation
	Quality  types.QualityReport
	Metadata map[string]any
}

// Process reads one file of the source and runs the cleaning, quality and
// enrichment stages in that order. It fails only when the file cannot be
// decoded; data problems are reported on the quality report.
func (s Schema) Process(r io.Reader, key string) (Result, error) {
	raw, err := s.read(r, key)
	if err != nil {
		return Result{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPayload,
			fmt.Sprintf("failed to decode %s file", s.Name), err, map[string]any{"key": key})
	}

	frame := raw
	if len(s.Drop) > 0 {
		frame = frame.Drop(s.Drop...)
	}
	if len(s.Rename) > 0 {
		mapping := make(map[string]string, len(s.Rename))
		for from, to := range s.Rename {
			mapping[normalizeHeader(from)] = to
		}
		frame = frame.Rename(mapping)
	}
	for _, step := range s.Clean {
		frame = step(frame)
	}

	quality := types.NewQualityReport()
	s.checkRequired(frame, &quality)
	if frame.IsEmpty() {
		quality.Add("warning: empty dataset")
	}
	for _, check := range s.Checks {
		check(frame, &quality)
	}

	ctx := NewContext(s.Name, key)
	frame = addMetadata(frame, ctx)
	for _, enrich := range s.Enrich {
		frame = enrich(frame, ctx)
	}

	return Result{
		Data:     frame,
		Quality:  quality,
		Metadata: map[string]any{"source": s.Name, "input_path": key},
	}, nil
}

func (s Schema) read(r io.Reader, key string) (relation.Relation, error) {
	body, done, err := decompress(key, r)
	if err != nil {
		return relation.Relation{}, err
	}
	defer done()

	switch s.Format {
	case FormatJSONLines:
		return ReadJSONLines(body, s.Explode)
	default:
		sep := s.Separator
		if sep == 0 {
			sep = ';'
		}
		return ReadCSV(body, sep)
	}
}

func (s Schema) checkRequired(r relation.Relation, q *types.QualityReport) {
	if len(s.Required) == 0 {
		return
	}
	if missing := r.Missing(s.Required...); len(missing) > 0 {
		q.Add(fmt.Sprintf("error: missing expected columns %v", missing))
		return
	}
	q.Add("ok: required columns present")
}

func addMetadata(r relation.Relation, ctx Context) relation.Relation {
	r = r.WithColumn("source", func(relation.Record) relation.Value { return relation.String(ctx.Source) })
	if ctx.Key == "" {
		return r
	}
	r = r.WithColumn("ingestion_date", func(relation.Record) relation.Value { return relation.String(ctx.IngestionDate) })
	return r.WithColumn("source_file", func(relation.Record) relation.Value { return relation.String(ctx.File) })
}

// Merge combines the results of several files of one source. Rows are
// concatenated in input order and the quality reports are folded together.
// With no input the result is empty and carries an informational message.
func Merge(results ...Result) Result {
	if len(results) == 0 {
		q := types.NewQualityReport()
		q.Add("info: no files found")
		return Result{Data: relation.Empty(), Quality: q, Metadata: map[string]any{}}
	}

	var parts []relation.Relation
	quality := types.NewQualityReport()
	inputs := make([]map[string]any, 0, len(results))
	for _, res := range results {
		if !res.Data.IsEmpty() {
			parts = append(parts, res.Data)
		}
		quality.Merge(res.Quality)
		inputs = append(inputs, res.Metadata)
	}
	data := relation.Empty()
	if len(parts) > 0 {
		data = relation.Concat(parts...)
	}
	return Result{Data: data, Quality: quality, Metadata: map[string]any{"inputs": inputs}}
}
