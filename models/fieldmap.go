package models

import (
	"fmt"
	"strconv"
)

// FieldMap is a sparse record: known field name -> value. Values are plain
// JSON-ish scalars (string, float64, int64, bool). A field a provider does
// not know is simply absent.
type FieldMap map[string]any

// IsPopulated reports whether v counts as a real value for merging purposes.
// Absent (nil), empty strings and numeric zeros are all "not populated", so a
// provider returning price=0 never blocks a later provider's real price.
func IsPopulated(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case bool:
		return x
	}
	return v != nil
}

// Populated reports whether the named field holds a real value.
func (m FieldMap) Populated(name string) bool {
	v, ok := m[name]
	return ok && IsPopulated(v)
}

// NonNullCount returns the number of populated fields, used to pick the
// richer of two records sharing a natural key.
func (m FieldMap) NonNullCount() int {
	n := 0
	for _, v := range m {
		if IsPopulated(v) {
			n++
		}
	}
	return n
}

// StringField returns the named field rendered as a string, or "" when the
// field is absent or unpopulated.
func (m FieldMap) StringField(name string) string {
	v, ok := m[name]
	if !ok || !IsPopulated(v) {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	}
	return fmt.Sprintf("%v", v)
}

// FloatField returns the named field as a float64, or 0 when absent or not
// numeric.
func (m FieldMap) FloatField(name string) float64 {
	switch x := m[name].(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// IntField returns the named field as an int64, or 0 when absent.
func (m FieldMap) IntField(name string) int64 {
	switch x := m[name].(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
