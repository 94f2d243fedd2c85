// Package geo resolves GPS coordinates for counting stations.
//
// Coordinates are taken, in priority order, from a same-day snapshot, then
// from a static reference table, then from a deterministic synthetic point
// inside the Paris bounding box. After Resolve every distinct compteur_id in
// the readings carries a latitude and a longitude.
package geo

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"cityflow/internal/relation"
)

// Bounding box used for synthetic coordinates.
const (
	MinLatitude  = 48.80
	MaxLatitude  = 48.90
	MinLongitude = 2.25
	MaxLongitude = 2.42
)

// Column names written by Resolve.
const (
	ColumnID        = "compteur_id"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
)

var (
	idCandidates     = []string{"compteur_id", "id_compteur", "stationcode", "station_id", "id"}
	flatCandidates   = [][2]string{{"latitude", "longitude"}, {"lat", "lon"}}
	nestedCandidates = []string{"coordonnees_geo", "coordonnees", "geo_point", "geo_point_2d"}
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Mapping associates a compteur_id with its coordinates.
type Mapping map[string]Coordinates

// ExtractMapping builds an id to coordinates mapping from a source relation.
// Several id and coordinate naming conventions are accepted; rows whose
// coordinates do not parse are dropped and the first occurrence of an id wins.
func ExtractMapping(src relation.Relation) Mapping {
	out := Mapping{}
	if src.IsEmpty() {
		return out
	}
	idCol, ok := src.First(idCandidates...)
	if !ok {
		return out
	}
	for _, row := range src.Rows() {
		id, ok := row.Get(idCol).ToStr()
		if !ok || id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		if c, ok := rowCoordinates(src, row); ok {
			out[id] = c
		}
	}
	return out
}

func rowCoordinates(src relation.Relation, row relation.Record) (Coordinates, bool) {
	for _, pair := range flatCandidates {
		if !src.Has(pair[0], pair[1]) {
			continue
		}
		lat, okLat := row.Get(pair[0]).ToFloat()
		lon, okLon := row.Get(pair[1]).ToFloat()
		if okLat && okLon {
			return Coordinates{Latitude: lat, Longitude: lon}, true
		}
	}
	for _, col := range nestedCandidates {
		if !src.Has(col) {
			continue
		}
		s, ok := row.Get(col).Str()
		if !ok {
			continue
		}
		if c, ok := ParseCoordinates(s); ok {
			return c, true
		}
	}
	return Coordinates{}, false
}

// ParseCoordinates accepts a JSON object with lat/lon (or latitude/longitude)
// keys, or a "lat,lon" string.
func ParseCoordinates(s string) (Coordinates, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Coordinates{}, false
	}
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return Coordinates{}, false
		}
		lat, okLat := number(obj, "lat", "latitude")
		lon, okLon := number(obj, "lon", "longitude")
		if !okLat || !okLon {
			return Coordinates{}, false
		}
		return Coordinates{Latitude: lat, Longitude: lon}, true
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Coordinates{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: lat, Longitude: lon}, true
}

func number(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Resolve returns a copy of readings with latitude and longitude populated
// on every row that has a compteur_id. A row whose two axes are both valid is
// kept as is. Otherwise both axes come from the same place: the first source
// that knows the counter, else the synthetic position, so a row never mixes
// axes of different origins.
func Resolve(readings relation.Relation, sources ...Mapping) relation.Relation {
	if !readings.Has(ColumnID) {
		return readings
	}
	pair := func(row relation.Record) (relation.Value, relation.Value) {
		lat, lon := row.Get(ColumnLatitude), row.Get(ColumnLongitude)
		_, latOK := lat.ToFloat()
		_, lonOK := lon.ToFloat()
		if latOK && lonOK {
			return lat, lon
		}
		id, ok := row.Get(ColumnID).ToStr()
		if !ok {
			if !latOK {
				lat = relation.Null()
			}
			if !lonOK {
				lon = relation.Null()
			}
			return lat, lon
		}
		c := Synthetic(id)
		for _, m := range sources {
			if found, ok := m[id]; ok {
				c = found
				break
			}
		}
		return relation.Number(c.Latitude), relation.Number(c.Longitude)
	}
	out := readings.WithColumn(ColumnLatitude, func(r relation.Record) relation.Value {
		lat, _ := pair(r)
		return lat
	})
	return out.WithColumn(ColumnLongitude, func(r relation.Record) relation.Value {
		_, lon := pair(r)
		return lon
	})
}

// Synthetic returns the deterministic in-bounds position of a counter that
// no source knows.
func Synthetic(id string) Coordinates {
	return Coordinates{
		Latitude:  MinLatitude + HashToUnit(id, 0)*(MaxLatitude-MinLatitude),
		Longitude: MinLongitude + HashToUnit(id, 1)*(MaxLongitude-MinLongitude),
	}
}

// HashToUnit maps (id, axis) to [0,1) using the first 16 hex digits of the
// BLAKE2b-256 digest of "id:axis".
func HashToUnit(id string, axis int) float64 {
	sum := blake2b.Sum256([]byte(id + ":" + strconv.Itoa(axis)))
	digits := hex.EncodeToString(sum[:])[:16]
	n, _ := strconv.ParseUint(digits, 16, 64)
	u := float64(n) / 18446744073709551616.0
	if u >= 1 {
		u = math.Nextafter(1, 0)
	}
	return u
}
