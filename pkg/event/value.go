// Package event models the raw activity records delivered by the indexing provider.
//
// Payloads are externally defined and loosely typed, so they are kept as a decoded JSON
// tree and read through Value, whose accessors never panic: a missing key, a null, an
// out-of-range index or a type mismatch all produce an absent Value.
package event

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/shopspring/decimal"
)

// Value is one node of a decoded JSON document. The zero Value is absent.
type Value struct {
	v any
}

// Of wraps an already decoded JSON node (map[string]any, []any, string, json.Number, bool or nil).
func Of(v any) Value {
	return Value{v: v}
}

// Exists reports whether the node is present and not JSON null.
func (v Value) Exists() bool {
	return v.v != nil
}

// Raw returns the underlying decoded node.
func (v Value) Raw() any {
	return v.v
}

// Get returns the member key of an object node.
func (v Value) Get(key string) Value {
	m, ok := v.v.(map[string]any)
	if !ok {
		return Value{}
	}
	return Value{v: m[key]}
}

// Index returns element i of an array node.
func (v Value) Index(i int) Value {
	arr, ok := v.v.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return Value{}
	}
	return Value{v: arr[i]}
}

// Path resolves a dot-separated path such as "events.nft.mint" or "accountData.0.account".
// Numeric segments index into arrays.
func (v Value) Path(path string) Value {
	if path == "" {
		return v
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if !cur.Exists() {
			return Value{}
		}
		if _, isArr := cur.v.([]any); isArr {
			i, err := strconv.Atoi(seg)
			if err != nil {
				return Value{}
			}
			cur = cur.Index(i)
			continue
		}
		cur = cur.Get(seg)
	}
	return cur
}

// List returns the elements of an array node, or nil.
func (v Value) List() []Value {
	arr, ok := v.v.([]any)
	if !ok {
		return nil
	}
	out := make([]Value, len(arr))
	for i, e := range arr {
		out[i] = Value{v: e}
	}
	return out
}

// String returns string nodes as-is and numbers in their literal form.
func (v Value) String() (string, bool) {
	switch t := v.v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// StringOr returns the string form of the node, or def when absent or empty.
func (v Value) StringOr(def string) string {
	if s, ok := v.String(); ok && s != "" {
		return s
	}
	return def
}

// Decimal parses number nodes and numeric strings.
func (v Value) Decimal() (decimal.Decimal, bool) {
	var lit string
	switch t := v.v.(type) {
	case json.Number:
		lit = t.String()
	case string:
		lit = strings.TrimSpace(t)
	case float64:
		return decimal.NewFromFloat(t), true
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Int64 returns the integral part of a numeric node.
func (v Value) Int64() (int64, bool) {
	d, ok := v.Decimal()
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// UnixTime interprets a numeric node as seconds since the epoch. Fractions keep millisecond precision.
func (v Value) UnixTime() (time.Time, bool) {
	d, ok := v.Decimal()
	if !ok {
		return time.Time{}, false
	}
	ms := d.Mul(decimal.NewFromInt(1000)).IntPart()
	return time.UnixMilli(ms).UTC(), true
}

// Text renders any present node as text: scalars in literal form, objects and arrays as JSON.
func (v Value) Text() (string, bool) {
	switch t := v.v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
