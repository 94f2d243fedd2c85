package metrics

import (
	"bytes"
	"encoding/json"

	"cityflow/internal/relation"
	"cityflow/internal/types"
)

// Result is one computed metric. Variant names the input schema that was
// used when a metric supports several (for example qualite_service).
type Result struct {
	Name    types.MetricName
	Data    relation.Relation
	Variant string
}

// Set is an ordered collection of metric results keyed by name.
type Set struct {
	order   []types.MetricName
	results map[types.MetricName]Result
	quality []types.MetricQuality
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{results: map[types.MetricName]Result{}}
}

// Put adds or replaces a result. Insertion order is kept for new names.
func (s *Set) Put(r Result) {
	if _, ok := s.results[r.Name]; !ok {
		s.order = append(s.order, r.Name)
	}
	s.results[r.Name] = r
}

// Get returns the result for name.
func (s *Set) Get(name types.MetricName) (Result, bool) {
	r, ok := s.results[name]
	return r, ok
}

// Relation returns the data of name, or an empty relation when absent.
func (s *Set) Relation(name types.MetricName) relation.Relation {
	if r, ok := s.results[name]; ok {
		return r.Data
	}
	return relation.Empty()
}

// Has reports whether name was computed.
func (s *Set) Has(name types.MetricName) bool {
	_, ok := s.results[name]
	return ok
}

// Names returns the computed metric names in insertion order.
func (s *Set) Names() []types.MetricName {
	out := make([]types.MetricName, len(s.order))
	copy(out, s.order)
	return out
}

// Quality returns one entry per attempted metric, in attempt order, including
// metrics that failed and are absent from the results.
func (s *Set) Quality() []types.MetricQuality {
	out := make([]types.MetricQuality, len(s.quality))
	copy(out, s.quality)
	return out
}

func (s *Set) putQuality(name types.MetricName, q types.QualityReport, rows int) {
	s.quality = append(s.quality, types.MetricQuality{
		Metric:   string(name),
		Passed:   q.Passed,
		Messages: q.Messages,
		Rows:     rows,
	})
}

// Len returns the number of results.
func (s *Set) Len() int { return len(s.order) }

// MarshalJSON encodes the set as an object of name to rows, in insertion
// order.
func (s *Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range s.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(name))
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := s.results[name].Data.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
