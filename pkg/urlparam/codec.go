package urlparam

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrParse wraps every codec parse failure.
var ErrParse = errors.New("urlparam: parse error")

// Codec converts a typed value to and from its query-string representation.
type Codec[T any] interface {
	// Parse converts a raw query value. Failures wrap ErrParse.
	Parse(raw string) (T, error)

	// Serialize converts a value to its raw query form.
	Serialize(v T) string
}

// NewCodec builds a Codec from a pair of functions. Parse errors are wrapped
// with ErrParse.
func NewCodec[T any](parse func(string) (T, error), serialize func(T) string) Codec[T] {
	return funcCodec[T]{parse: parse, serialize: serialize}
}

type funcCodec[T any] struct {
	parse     func(string) (T, error)
	serialize func(T) string
}

func (c funcCodec[T]) Parse(raw string) (T, error) {
	v, err := c.parse(raw)
	if err != nil {
		var zero T
		if errors.Is(err, ErrParse) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %q: %v", ErrParse, raw, err)
	}
	return v, nil
}

func (c funcCodec[T]) Serialize(v T) string {
	return c.serialize(v)
}

// String is the identity codec.
func String() Codec[string] {
	return NewCodec(
		func(s string) (string, error) { return s, nil },
		func(s string) string { return s },
	)
}

// Int parses base-10 integers.
func Int() Codec[int] {
	return NewCodec(strconv.Atoi, strconv.Itoa)
}

// Float parses floating point numbers.
func Float() Codec[float64] {
	return NewCodec(
		func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) },
	)
}

// Bool parses "true"/"false" (and the other forms strconv.ParseBool accepts).
func Bool() Codec[bool] {
	return NewCodec(strconv.ParseBool, strconv.FormatBool)
}

// Enum accepts only the listed values.
func Enum(values ...string) Codec[string] {
	allowed := make(map[string]struct{}, len(values))
	for _, v := range values {
		allowed[v] = struct{}{}
	}
	return NewCodec(
		func(s string) (string, error) {
			if _, ok := allowed[s]; !ok {
				return "", fmt.Errorf("%w: %q is not one of %v", ErrParse, s, values)
			}
			return s, nil
		},
		func(s string) string { return s },
	)
}

// Timestamp encodes times as Unix milliseconds.
func Timestamp() Codec[time.Time] {
	return NewCodec(
		func(s string) (time.Time, error) {
			ms, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.UnixMilli(ms).UTC(), nil
		},
		func(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) },
	)
}

// Comma encodes a slice as comma-separated elements: ?tags=go,web,api
// An empty raw value parses to an empty slice.
func Comma[T any](elem Codec[T]) Codec[[]T] {
	return NewCodec(
		func(s string) ([]T, error) {
			if s == "" {
				return []T{}, nil
			}
			parts := strings.Split(s, ",")
			out := make([]T, 0, len(parts))
			for _, p := range parts {
				v, err := elem.Parse(p)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return out, nil
		},
		func(vs []T) string {
			parts := make([]string, len(vs))
			for i, v := range vs {
				parts[i] = elem.Serialize(v)
			}
			return strings.Join(parts, ",")
		},
	)
}

// JSON encodes values as base64url JSON: ?filter=eyJjYXQiOiJ0ZWNoIn0
// A value that cannot be marshalled serializes to "".
func JSON[T any]() Codec[T] {
	return NewCodec(
		func(s string) (T, error) {
			var out T
			data, err := base64.RawURLEncoding.DecodeString(s)
			if err != nil {
				return out, err
			}
			if err := json.Unmarshal(data, &out); err != nil {
				return out, err
			}
			return out, nil
		},
		func(v T) string {
			data, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return base64.RawURLEncoding.EncodeToString(data)
		},
	)
}

// Reflect handles any scalar kind (string, ints, uints, floats, bool) through
// reflection. It is the codec used when none is given.
func Reflect[T any]() Codec[T] {
	return NewCodec(
		func(s string) (T, error) {
			var out T
			if err := setFieldValue(reflect.ValueOf(&out).Elem(), s); err != nil {
				return out, err
			}
			return out, nil
		},
		func(v T) string {
			return formatValue(reflect.ValueOf(v))
		},
	)
}

func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Invalid:
		return ""
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func setFieldValue(v reflect.Value, s string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	default:
		return fmt.Errorf("unsupported type: %v", v.Kind())
	}
	return nil
}
