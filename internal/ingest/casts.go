package ingest

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"cityflow/internal/geo"
	"cityflow/internal/relation"
)

// present applies fn only to the columns the relation actually has.
func present(r relation.Relation, cols []string, fn func(relation.Relation, string) relation.Relation) relation.Relation {
	for _, c := range cols {
		if r.Has(c) {
			r = fn(r, c)
		}
	}
	return r
}

// castTime parses timestamps and converts them to UTC. Unparseable values
// become null.
func castTime(cols ...string) Step {
	return func(r relation.Relation) relation.Relation {
		return present(r, cols, func(r relation.Relation, col string) relation.Relation {
			return r.WithColumn(col, func(row relation.Record) relation.Value {
				t, ok := row.Get(col).ToTime()
				if !ok {
					return relation.Null()
				}
				return relation.Time(t.UTC())
			})
		})
	}
}

var dayLayouts = []string{"02/01/2006", "2006/01/02"}

// parseDay accepts ISO dates, timestamps and the French DD/MM/YYYY form.
func parseDay(v relation.Value) (civil.Date, bool) {
	if d, ok := v.ToDate(); ok {
		return d, true
	}
	s, ok := v.Str()
	if !ok {
		return civil.Date{}, false
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

func castDate(cols ...string) Step {
	return func(r relation.Relation) relation.Relation {
		return present(r, cols, func(r relation.Relation, col string) relation.Relation {
			return r.WithColumn(col, func(row relation.Record) relation.Value {
				d, ok := parseDay(row.Get(col))
				if !ok {
					return relation.Null()
				}
				return relation.Date(d)
			})
		})
	}
}

func castNumber(cols ...string) Step {
	return func(r relation.Relation) relation.Relation {
		return present(r, cols, toNumber)
	}
}

func toNumber(r relation.Relation, col string) relation.Relation {
	return r.WithColumn(col, func(row relation.Record) relation.Value {
		f, ok := row.Get(col).ToFloat()
		if !ok {
			return relation.Null()
		}
		return relation.Number(f)
	})
}

// castNumberPrefix casts every column whose name starts with one of the
// prefixes.
func castNumberPrefix(prefixes ...string) Step {
	return func(r relation.Relation) relation.Relation {
		for _, col := range r.Columns() {
			for _, p := range prefixes {
				if strings.HasPrefix(col, p) {
					r = toNumber(r, col)
					break
				}
			}
		}
		return r
	}
}

// castOuiNon maps OUI/NON (any case) to booleans; other values become null.
func castOuiNon(cols ...string) Step {
	return func(r relation.Relation) relation.Relation {
		return present(r, cols, func(r relation.Relation, col string) relation.Relation {
			return r.WithColumn(col, func(row relation.Record) relation.Value {
				s, _ := row.Get(col).Str()
				switch strings.ToUpper(strings.TrimSpace(s)) {
				case "OUI":
					return relation.Bool(true)
				case "NON":
					return relation.Bool(false)
				}
				return relation.Null()
			})
		})
	}
}

// splitPoint derives latitude and longitude from a "lat,lon" column.
func splitPoint(col string) Step {
	return func(r relation.Relation) relation.Relation {
		if !r.Has(col) {
			return r
		}
		parse := func(row relation.Record) (geo.Coordinates, bool) {
			s, ok := row.Get(col).Str()
			if !ok {
				return geo.Coordinates{}, false
			}
			return geo.ParseCoordinates(s)
		}
		r = r.WithColumn("latitude", func(row relation.Record) relation.Value {
			if c, ok := parse(row); ok {
				return relation.Number(c.Latitude)
			}
			return relation.Null()
		})
		return r.WithColumn("longitude", func(row relation.Record) relation.Value {
			if c, ok := parse(row); ok {
				return relation.Number(c.Longitude)
			}
			return relation.Null()
		})
	}
}

// geometryType reads the "type" member of a GeoJSON column. Undecodable
// shapes yield null.
func geometryType(col string) Step {
	return func(r relation.Relation) relation.Relation {
		if !r.Has(col) {
			return r
		}
		return r.WithColumn("geometry_type", func(row relation.Record) relation.Value {
			s, ok := row.Get(col).Str()
			if !ok {
				return relation.Null()
			}
			var shape struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(s), &shape); err != nil || shape.Type == "" {
				return relation.Null()
			}
			return relation.String(shape.Type)
		})
	}
}

var trimestrePattern = regexp.MustCompile(`T(\d)`)

// trimestreNum extracts the quarter digit of labels such as "T2".
func trimestreNum(row relation.Record) relation.Value {
	s, ok := row.Get("trimestre").ToStr()
	if !ok {
		return relation.Null()
	}
	m := trimestrePattern.FindStringSubmatch(s)
	if m == nil {
		return relation.Null()
	}
	n, _ := strconv.Atoi(m[1])
	return relation.Int(n)
}

var postalPattern = regexp.MustCompile(`\b(75\d{3})\b`)

// arrondissement keeps the Paris postal code found in a commune label.
func arrondissement(row relation.Record) relation.Value {
	s, ok := row.Get("code_commune").ToStr()
	if !ok {
		return relation.Null()
	}
	m := postalPattern.FindStringSubmatch(s)
	if m == nil {
		return relation.Null()
	}
	return relation.String(m[1])
}
