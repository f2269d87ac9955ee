package vehicle

import (
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// Truthy reports whether a feed value carries information. nil, false, the
// empty string, numeric zero and empty collections are falsy. The string "0"
// is truthy here; ToBool is the place that reads it as false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

// ToBool converts a TeslaFi flag. The feed sends flags as "1"/"0", numbers,
// booleans or empty strings.
func ToBool(v any) *bool {
	if v == nil {
		return nil
	}
	if b, ok := v.(bool); ok {
		return &b
	}
	if !Truthy(v) {
		return ptr(false)
	}
	if s, ok := v.(string); ok && s == "0" {
		return ptr(false)
	}
	return ptr(true)
}

// ToFloat converts a numeric feed value, returning nil for absent or
// unparseable input.
func ToFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

// ToInt truncates a numeric feed value ("22.0" -> 22).
func ToInt(v any) *int {
	f := ToFloat(v)
	if f == nil {
		return nil
	}
	i := int(*f)
	return &i
}

// ToString converts a scalar feed value to its string form.
func ToString(v any) *string {
	if v == nil {
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil
	}
	return &s
}

func lowerOrNil(v any) *string {
	s := ToString(v)
	if s == nil {
		return nil
	}
	l := strings.ToLower(*s)
	return &l
}

func ptr[T any](v T) *T {
	return &v
}

// IsTrue dereferences an optional flag, treating unknown as false.
func IsTrue(b *bool) bool {
	return b != nil && *b
}
