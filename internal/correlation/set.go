package correlation

import (
	"bytes"
	"encoding/json"

	"cityflow/internal/relation"
	"cityflow/internal/types"
)

// Result is one computed correlation.
type Result struct {
	Name types.CorrelationName
	Data relation.Relation
}

// Set is an ordered collection of correlation results keyed by name.
type Set struct {
	order   []types.CorrelationName
	results map[types.CorrelationName]Result
}

func NewSet() *Set {
	return &Set{results: map[types.CorrelationName]Result{}}
}

func (s *Set) Put(r Result) {
	if _, ok := s.results[r.Name]; !ok {
		s.order = append(s.order, r.Name)
	}
	s.results[r.Name] = r
}

func (s *Set) Get(name types.CorrelationName) (Result, bool) {
	r, ok := s.results[name]
	return r, ok
}

func (s *Set) Has(name types.CorrelationName) bool {
	_, ok := s.results[name]
	return ok
}

// Names returns the computed names in insertion order.
func (s *Set) Names() []types.CorrelationName {
	out := make([]types.CorrelationName, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) Len() int { return len(s.order) }

// MarshalJSON encodes the set as an object of name to rows.
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
