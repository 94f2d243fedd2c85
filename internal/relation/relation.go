// Package relation provides the in-memory tabular record set used by every
// CityFlow engine. A Relation is an ordered list of columns plus an ordered
// list of rows; all transforms return a new Relation and leave their
// receiver untouched.
package relation

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Record is one row. A column absent from the map reads as null.
type Record map[string]Value

// Get returns the value of col, or null.
func (r Record) Get(col string) Value {
	return r[col]
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Relation is an immutable table of records with an explicit column order.
type Relation struct {
	cols []string
	rows []Record
}

// New builds a relation with the given columns and rows. Rows are copied.
func New(cols []string, rows ...Record) Relation {
	out := Relation{cols: slices.Clone(cols), rows: make([]Record, len(rows))}
	for i, r := range rows {
		out.rows[i] = r.Clone()
	}
	return out
}

// Empty returns a relation with the declared columns and no rows.
func Empty(cols ...string) Relation {
	return Relation{cols: slices.Clone(cols)}
}

// FromRecords builds a relation whose columns are the union of the record
// keys, in order of first appearance. Keys within a single record are taken
// in sorted order.
func FromRecords(rows []Record) Relation {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return New(cols, rows...)
}

// Columns returns a copy of the column list.
func (r Relation) Columns() []string { return slices.Clone(r.cols) }

// Len returns the row count.
func (r Relation) Len() int { return len(r.rows) }

// IsEmpty reports whether the relation has no rows.
func (r Relation) IsEmpty() bool { return len(r.rows) == 0 }

// Row returns row i. The returned record must not be modified.
func (r Relation) Row(i int) Record { return r.rows[i] }

// Rows returns the row slice. The records must not be modified.
func (r Relation) Rows() []Record { return slices.Clone(r.rows) }

// Has reports whether every named column is declared.
func (r Relation) Has(cols ...string) bool {
	return len(r.Missing(cols...)) == 0
}

// Missing returns the named columns that are not declared.
func (r Relation) Missing(cols ...string) []string {
	var missing []string
	for _, c := range cols {
		if !slices.Contains(r.cols, c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// First returns the first of the candidate columns that is declared.
func (r Relation) First(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if slices.Contains(r.cols, c) {
			return c, true
		}
	}
	return "", false
}

// Column returns the values of col in row order.
func (r Relation) Column(col string) []Value {
	out := make([]Value, len(r.rows))
	for i, row := range r.rows {
		out[i] = row[col]
	}
	return out
}

// Floats returns the finite numeric values of col, skipping missing cells.
func (r Relation) Floats(col string) []float64 {
	out := make([]float64, 0, len(r.rows))
	for _, row := range r.rows {
		if f, ok := row[col].ToFloat(); ok {
			out = append(out, f)
		}
	}
	return out
}

// Unique returns the distinct non-null values of col in order of first
// appearance.
func (r Relation) Unique(col string) []Value {
	seen := map[string]bool{}
	var out []Value
	for _, row := range r.rows {
		v := row[col]
		if v.IsNull() {
			continue
		}
		k := v.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// Filter keeps the rows for which keep returns true.
func (r Relation) Filter(keep func(Record) bool) Relation {
	out := Relation{cols: slices.Clone(r.cols)}
	for _, row := range r.rows {
		if keep(row) {
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// WithColumn sets col on every row to the value computed by fn. The column is
// appended to the column list if not already declared.
func (r Relation) WithColumn(col string, fn func(Record) Value) Relation {
	out := Relation{cols: slices.Clone(r.cols), rows: make([]Record, len(r.rows))}
	if !slices.Contains(out.cols, col) {
		out.cols = append(out.cols, col)
	}
	for i, row := range r.rows {
		nr := row.Clone()
		nr[col] = fn(row)
		out.rows[i] = nr
	}
	return out
}

// Select projects the relation onto cols, in that order. Undeclared columns
// are added and read as null.
func (r Relation) Select(cols ...string) Relation {
	out := Relation{cols: slices.Clone(cols), rows: make([]Record, len(r.rows))}
	for i, row := range r.rows {
		nr := make(Record, len(cols))
		for _, c := range cols {
			if v, ok := row[c]; ok {
				nr[c] = v
			}
		}
		out.rows[i] = nr
	}
	return out
}

// Drop removes the named columns.
func (r Relation) Drop(cols ...string) Relation {
	keep := make([]string, 0, len(r.cols))
	for _, c := range r.cols {
		if !slices.Contains(cols, c) {
			keep = append(keep, c)
		}
	}
	return r.Select(keep...)
}

// Rename renames columns according to mapping. Unmapped columns keep their
// name. When a rename collides with an existing column the renamed column
// wins.
func (r Relation) Rename(mapping map[string]string) Relation {
	var cols []string
	for _, c := range r.cols {
		if n, ok := mapping[c]; ok {
			c = n
		}
		if !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	out := Relation{cols: cols, rows: make([]Record, len(r.rows))}
	for i, row := range r.rows {
		nr := make(Record, len(row))
		for k, v := range row {
			if _, renamed := mapping[k]; !renamed {
				nr[k] = v
			}
		}
		for k, v := range row {
			if n, renamed := mapping[k]; renamed {
				nr[n] = v
			}
		}
		out.rows[i] = nr
	}
	return out
}

// SortBy returns the rows stably sorted by cmp.
func (r Relation) SortBy(cmp func(a, b Record) int) Relation {
	out := Relation{cols: slices.Clone(r.cols), rows: slices.Clone(r.rows)}
	slices.SortStableFunc(out.rows, cmp)
	return out
}

// SortByColumn stably sorts by a single column. Nulls always sort last.
func (r Relation) SortByColumn(col string, desc bool) Relation {
	return r.SortBy(func(a, b Record) int {
		av, bv := a[col], b[col]
		if av.IsNull() || bv.IsNull() {
			return Compare(av, bv)
		}
		c := Compare(av, bv)
		if desc {
			return -c
		}
		return c
	})
}

// NLargest returns the n rows with the largest value of col, ordered
// descending. Ties keep their original order.
func (r Relation) NLargest(n int, col string) Relation {
	return r.SortByColumn(col, true).Head(n)
}

// Head returns the first n rows.
func (r Relation) Head(n int) Relation {
	if n < 0 {
		n = 0
	}
	if n > len(r.rows) {
		n = len(r.rows)
	}
	return Relation{cols: slices.Clone(r.cols), rows: slices.Clone(r.rows[:n])}
}

// Tail returns the last n rows.
func (r Relation) Tail(n int) Relation {
	if n < 0 {
		n = 0
	}
	if n > len(r.rows) {
		n = len(r.rows)
	}
	return Relation{cols: slices.Clone(r.cols), rows: slices.Clone(r.rows[len(r.rows)-n:])}
}

// Concat appends the rows of others. The column list is the union in order of
// first appearance.
func Concat(parts ...Relation) Relation {
	var out Relation
	for _, p := range parts {
		for _, c := range p.cols {
			if !slices.Contains(out.cols, c) {
				out.cols = append(out.cols, c)
			}
		}
		out.rows = append(out.rows, p.rows...)
	}
	return out
}

// Records converts the relation to JSON-native maps.
func (r Relation) Records() []map[string]any {
	out := make([]map[string]any, len(r.rows))
	for i, row := range r.rows {
		m := make(map[string]any, len(r.cols))
		for _, c := range r.cols {
			m[c] = row[c].Interface()
		}
		out[i] = m
	}
	return out
}

// MarshalJSON encodes the relation as an array of objects whose keys follow
// the column order.
func (r Relation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range r.rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, c := range r.cols {
			if j > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(c)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			v, err := row[c].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// String renders a short description for logs.
func (r Relation) String() string {
	return "relation[" + strings.Join(r.cols, ",") + "](" + strconv.Itoa(len(r.rows)) + " rows)"
}
