package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/unicode/norm"

	"cityflow/internal/relation"
)

const maxLineSize = 16 << 20

var bom = []byte{0xef, 0xbb, 0xbf}

// universalReader drops a leading UTF-8 byte order mark and turns carriage
// returns into newlines so CSV and JSON lines files exported on any platform
// split the same way. Blank lines produced by CRLF pairs are skipped by both
// readers.
type universalReader struct {
	r       *bufio.Reader
	checked bool
}

func newUniversalReader(r io.Reader) *universalReader {
	return &universalReader{r: bufio.NewReader(r)}
}

func (u *universalReader) Read(buf []byte) (int, error) {
	if !u.checked {
		u.checked = true
		if head, err := u.r.Peek(len(bom)); err == nil && bytes.Equal(head, bom) {
			if _, err := u.r.Discard(len(bom)); err != nil {
				return 0, err
			}
		}
	}
	n, err := u.r.Read(buf)
	for i := 0; i < n; i++ {
		if buf[i] == '\r' {
			buf[i] = '\n'
		}
	}
	return n, err
}

// decompress wraps r according to the object key extension. Unknown
// extensions are read as is.
func decompress(key string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(key, ".gz"), strings.HasSuffix(key, ".gzip"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { _ = gr.Close() }, nil
	case strings.HasSuffix(key, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	}
	return r, func() {}, nil
}

// normalizeHeader trims a column name and puts it in NFC form so accented
// headers match regardless of how the exporting tool composed them.
func normalizeHeader(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ReadCSV reads a delimited file with a header row. Every cell is kept as a
// string; blank cells are null. Duplicate headers get a ".N" suffix.
func ReadCSV(r io.Reader, sep rune) (relation.Relation, error) {
	cr := csv.NewReader(newUniversalReader(r))
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return relation.Empty(), nil
	}
	if err != nil {
		return relation.Relation{}, fmt.Errorf("read header: %w", err)
	}

	cols := make([]string, len(header))
	seen := map[string]int{}
	for i, h := range header {
		name := normalizeHeader(h)
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n)
		} else {
			seen[name] = 1
		}
		cols[i] = name
	}

	var rows []relation.Record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return relation.Relation{}, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		rec := make(relation.Record, len(cols))
		for i, col := range cols {
			if i < len(fields) {
				rec[col] = cell(fields[i])
			}
		}
		rows = append(rows, rec)
	}
	return relation.New(cols, rows...), nil
}

func cell(s string) relation.Value {
	if strings.TrimSpace(s) == "" {
		return relation.Null()
	}
	return relation.String(s)
}

// ReadJSONLines reads one JSON object per line. Nested objects are
// flattened with "." separated keys and arrays are kept as JSON text. When
// explode names an array field, each of its object elements becomes a row
// in place of the enclosing object.
func ReadJSONLines(r io.Reader, explode string) (relation.Relation, error) {
	sc := bufio.NewScanner(newUniversalReader(r))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var rows []relation.Record
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return relation.Relation{}, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, expand(obj, explode)...)
	}
	if err := sc.Err(); err != nil {
		return relation.Relation{}, err
	}
	return relation.FromRecords(rows), nil
}

func expand(obj map[string]any, explode string) []relation.Record {
	if explode != "" {
		if items, ok := obj[explode].([]any); ok {
			var out []relation.Record
			for _, item := range items {
				child, ok := item.(map[string]any)
				if !ok {
					continue
				}
				rec := relation.Record{}
				flatten("", child, rec)
				out = append(out, rec)
			}
			return out
		}
	}
	rec := relation.Record{}
	flatten("", obj, rec)
	return []relation.Record{rec}
}

func flatten(prefix string, obj map[string]any, out relation.Record) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := obj[k].(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = jsonValue(obj[k])
	}
}

func jsonValue(v any) relation.Value {
	switch t := v.(type) {
	case nil:
		return relation.Null()
	case string:
		return cell(t)
	case bool:
		return relation.Bool(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return relation.Number(f)
		}
		return relation.String(t.String())
	case map[string]any:
		return relation.Null()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return relation.Null()
	}
	return relation.String(string(b))
}
