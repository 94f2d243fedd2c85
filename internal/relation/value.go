package relation

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "timestamp"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// Value is a tagged scalar cell. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	f    float64
	b    bool
	t    time.Time
	d    civil.Date
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number wraps a float. NaN and infinities are kept as numbers but read back
// as missing through Float.
func Number(f float64) Value { return Value{kind: KindNumber, f: f} }

// Int wraps an integer as a number.
func Int(i int) Value { return Value{kind: KindNumber, f: float64(i)} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time wraps a timestamp. The zero time is stored as null.
func Time(t time.Time) Value {
	if t.IsZero() {
		return Value{}
	}
	return Value{kind: KindTime, t: t}
}

// Date wraps a calendar day. Invalid dates are stored as null.
func Date(d civil.Date) Value {
	if !d.IsValid() {
		return Value{}
	}
	return Value{kind: KindDate, d: d}
}

// Kind returns the dynamic kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v carries no value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsMissing reports whether v is null or a non-finite number.
func (v Value) IsMissing() bool {
	if v.kind == KindNull {
		return true
	}
	if v.kind == KindNumber {
		_, ok := v.Float()
		return !ok
	}
	return false
}

// Str returns the string content for string values.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Float returns the number for finite numeric values.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber || math.IsNaN(v.f) || math.IsInf(v.f, 0) {
		return 0, false
	}
	return v.f, true
}

// Bool returns the boolean content for bool values.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Time returns the timestamp for time values.
func (v Value) Time() (time.Time, bool) {
	if v.kind != KindTime {
		return time.Time{}, false
	}
	return v.t, true
}

// Date returns the calendar day for date values.
func (v Value) Date() (civil.Date, bool) {
	if v.kind != KindDate {
		return civil.Date{}, false
	}
	return v.d, true
}

// ToFloat coerces numbers, numeric strings and booleans to a finite float.
// Anything else is reported as missing.
func (v Value) ToFloat() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.Float()
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.Replace(v.s, ",", ".", 1)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ToTime coerces timestamps, dates (midnight UTC) and parseable strings to a
// time. Strings without an offset are read as UTC.
func (v Value) ToTime() (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, true
	case KindDate:
		return v.d.In(time.UTC), true
	case KindString:
		return ParseTime(v.s)
	}
	return time.Time{}, false
}

// ToDate coerces dates, timestamps (calendar day in their own zone) and
// parseable strings to a civil date.
func (v Value) ToDate() (civil.Date, bool) {
	switch v.kind {
	case KindDate:
		return v.d, true
	case KindTime:
		return civil.DateOf(v.t), true
	case KindString:
		s := strings.TrimSpace(v.s)
		if d, err := civil.ParseDate(s); err == nil {
			return d, true
		}
		if t, ok := ParseTime(s); ok {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// ToStr renders any non-null value as a string.
func (v Value) ToStr() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindNumber:
		return strconv.FormatFloat(v.f, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindTime:
		return v.t.Format(time.RFC3339), true
	case KindDate:
		return v.d.String(), true
	}
	return "", false
}

// ParseTime parses the timestamp layouts found in the source feeds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Interface returns the JSON-native form of v: nil for null and non-finite
// numbers, RFC 3339 strings for timestamps and YYYY-MM-DD for dates.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		if f, ok := v.Float(); ok {
			return f
		}
		return nil
	case KindBool:
		return v.b
	case KindTime:
		return v.t.Format(time.RFC3339)
	case KindDate:
		return v.d.String()
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Equal reports whether two values have the same kind and content.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

// Compare orders values: null sorts last, then by kind, then by content.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		switch {
		case a.kind == KindNull:
			return 1
		case b.kind == KindNull:
			return -1
		case a.kind < b.kind:
			return -1
		default:
			return 1
		}
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindNumber:
		return compareFloat(a.f, b.f)
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindTime:
		return a.t.Compare(b.t)
	case KindDate:
		switch {
		case a.d.Before(b.d):
			return -1
		case a.d.After(b.d):
			return 1
		}
		return 0
	}
	return 0
}

func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// key returns a string usable as a map key that identifies the value.
func (v Value) key() string {
	switch v.kind {
	case KindString:
		return "s" + v.s
	case KindNumber:
		return "n" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return "b" + strconv.FormatBool(v.b)
	case KindTime:
		return "t" + strconv.FormatInt(v.t.UnixNano(), 10)
	case KindDate:
		return "d" + v.d.String()
	}
	return "0"
}
