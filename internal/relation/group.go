package relation

import (
	"slices"
	"strings"
)

// Group is one bucket produced by GroupBy.
type Group struct {
	Key  []Value
	Rows Relation
}

// KeyRecord returns the group key as a record keyed by the grouping columns.
func (g Group) KeyRecord(cols []string) Record {
	rec := make(Record, len(cols))
	for i, c := range cols {
		rec[c] = g.Key[i]
	}
	return rec
}

// GroupBy buckets rows by the values of keys. Rows with a missing key value
// are dropped and groups are returned sorted by key.
func (r Relation) GroupBy(keys ...string) []Group {
	index := map[string]int{}
	var groups []Group
	for _, row := range r.rows {
		key := make([]Value, len(keys))
		missing := false
		for i, k := range keys {
			key[i] = row[k]
			if key[i].IsMissing() {
				missing = true
				break
			}
		}
		if missing {
			continue
		}
		id := compositeKey(key)
		gi, ok := index[id]
		if !ok {
			gi = len(groups)
			index[id] = gi
			groups = append(groups, Group{Key: key, Rows: Relation{cols: r.cols}})
		}
		groups[gi].Rows.rows = append(groups[gi].Rows.rows, row)
	}
	slices.SortStableFunc(groups, func(a, b Group) int {
		return compareKeys(a.Key, b.Key)
	})
	for i := range groups {
		groups[i].Rows.cols = slices.Clone(r.cols)
	}
	return groups
}

// Aggregation reduces the rows of a group to a single value.
type Aggregation struct {
	Column string
	Fn     func(Relation) Value
}

// Aggregate groups by keys and produces one row per group with the key
// columns followed by the aggregation columns.
func (r Relation) Aggregate(keys []string, aggs ...Aggregation) Relation {
	cols := slices.Clone(keys)
	for _, a := range aggs {
		cols = append(cols, a.Column)
	}
	out := Relation{cols: cols}
	for _, g := range r.GroupBy(keys...) {
		rec := g.KeyRecord(keys)
		for _, a := range aggs {
			rec[a.Column] = a.Fn(g.Rows)
		}
		out.rows = append(out.rows, rec)
	}
	return out
}

func compositeKey(key []Value) string {
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = v.key()
	}
	return strings.Join(parts, "\x1f")
}

func compareKeys(a, b []Value) int {
	for i := range a {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// InnerJoin matches rows of r and right on the key columns. Output rows
// follow the left order, and for each left row the matching right rows in
// their order. Right-side non-key columns that collide with left columns are
// suffixed with suffix.
func (r Relation) InnerJoin(right Relation, on []string, suffix string) Relation {
	cols, rename := joinColumns(r.cols, right.cols, on, suffix)
	idx := right.index(on)
	out := Relation{cols: cols}
	for _, lrow := range r.rows {
		key, ok := rowKey(lrow, on)
		if !ok {
			continue
		}
		for _, ri := range idx[key] {
			out.rows = append(out.rows, mergeRows(lrow, right.rows[ri], on, rename))
		}
	}
	return out
}

// LeftJoin keeps every left row. Rows with matches are repeated once per
// matching right row; rows without a match keep nulls in the right columns.
func (r Relation) LeftJoin(right Relation, on []string, suffix string) Relation {
	cols, rename := joinColumns(r.cols, right.cols, on, suffix)
	idx := right.index(on)
	out := Relation{cols: cols}
	for _, lrow := range r.rows {
		key, ok := rowKey(lrow, on)
		matches := idx[key]
		if !ok || len(matches) == 0 {
			out.rows = append(out.rows, lrow.Clone())
			continue
		}
		for _, ri := range matches {
			out.rows = append(out.rows, mergeRows(lrow, right.rows[ri], on, rename))
		}
	}
	return out
}

// OuterJoin is a full outer join on a single key column. Output is sorted by
// key; within a key the left and right matches form a cartesian product.
func (r Relation) OuterJoin(right Relation, on string, suffix string) Relation {
	keys := []string{on}
	cols, rename := joinColumns(r.cols, right.cols, keys, suffix)
	lidx := r.index(keys)
	ridx := right.index(keys)

	type bucket struct {
		key   Value
		left  []int
		right []int
	}
	buckets := map[string]*bucket{}
	var order []*bucket
	add := func(v Value) *bucket {
		k := v.key()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{key: v}
			buckets[k] = b
			order = append(order, b)
		}
		return b
	}
	for _, row := range r.rows {
		if row[on].IsMissing() {
			continue
		}
		if b := add(row[on]); b.left == nil {
			b.left = lidx[compositeKey([]Value{row[on]})]
		}
	}
	for _, row := range right.rows {
		if row[on].IsMissing() {
			continue
		}
		if b := add(row[on]); b.right == nil {
			b.right = ridx[compositeKey([]Value{row[on]})]
		}
	}
	slices.SortStableFunc(order, func(a, b *bucket) int { return Compare(a.key, b.key) })

	out := Relation{cols: cols}
	for _, b := range order {
		switch {
		case len(b.left) == 0:
			for _, ri := range b.right {
				out.rows = append(out.rows, mergeRows(Record{on: b.key}, right.rows[ri], keys, rename))
			}
		case len(b.right) == 0:
			for _, li := range b.left {
				out.rows = append(out.rows, r.rows[li].Clone())
			}
		default:
			for _, li := range b.left {
				for _, ri := range b.right {
					out.rows = append(out.rows, mergeRows(r.rows[li], right.rows[ri], keys, rename))
				}
			}
		}
	}
	return out
}

func (r Relation) index(on []string) map[string][]int {
	idx := map[string][]int{}
	for i, row := range r.rows {
		key, ok := rowKey(row, on)
		if !ok {
			continue
		}
		idx[key] = append(idx[key], i)
	}
	return idx
}

func rowKey(row Record, on []string) (string, bool) {
	key := make([]Value, len(on))
	for i, c := range on {
		key[i] = row[c]
		if key[i].IsMissing() {
			return "", false
		}
	}
	return compositeKey(key), true
}

func joinColumns(left, right, on []string, suffix string) ([]string, map[string]string) {
	cols := slices.Clone(left)
	rename := map[string]string{}
	for _, c := range right {
		if slices.Contains(on, c) {
			continue
		}
		name := c
		if slices.Contains(left, c) {
			name = c + suffix
		}
		rename[c] = name
		cols = append(cols, name)
	}
	return cols, rename
}

func mergeRows(left, right Record, on []string, rename map[string]string) Record {
	out := left.Clone()
	for c, v := range right {
		if slices.Contains(on, c) {
			continue
		}
		if name, ok := rename[c]; ok {
			out[name] = v
		}
	}
	return out
}
