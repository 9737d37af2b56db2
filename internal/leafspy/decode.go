package leafspy

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// ErrDecode is matched by every error returned from Decode.
var ErrDecode = errors.New("leafspy: decode failed")

// DecodeError describes the field that made a message undecodable.
type DecodeError struct {
	Field  string
	Value  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("leafspy: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("leafspy: field %s=%q: %s", e.Field, e.Value, e.Reason)
}

// Is makes errors.Is(err, ErrDecode) succeed for any *DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decode builds a Message from webhook query values. The password parameter
// is ignored. Decoding is strict: a missing required field or a value that
// cannot be coerced to its declared type fails the whole message. An empty
// value for an optional field is treated as absent.
func Decode(values url.Values) (*Message, error) {
	msg := &Message{raw: make(map[string]string, len(values))}
	for key, vals := range values {
		if key == PasswordParam || len(vals) == 0 {
			continue
		}
		msg.raw[key] = strings.TrimSpace(vals[0])
	}

	v := reflect.ValueOf(msg).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("query")
		if tag == "" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		required := opts == "required"

		raw, ok := msg.raw[name]
		if !ok || raw == "" {
			if required {
				return nil, &DecodeError{Field: name, Reason: "required field missing"}
			}
			continue
		}

		if err := setFieldValue(v.Field(i), raw); err != nil {
			return nil, &DecodeError{Field: name, Value: raw, Reason: err.Error()}
		}
	}

	return msg, nil
}

// setFieldValue coerces valueStr into field. Pointer fields receive a newly
// allocated value; plain fields are set in place.
func setFieldValue(field reflect.Value, valueStr string) error {
	target := field
	if field.Kind() == reflect.Ptr {
		target = reflect.New(field.Type().Elem()).Elem()
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Accept "1.0" style integers but reject fractional values.
		floatVal, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) || floatVal != math.Trunc(floatVal) {
			return fmt.Errorf("not an integer")
		}
		target.SetInt(int64(floatVal))
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(valueStr, 64)
		if err != nil || math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return fmt.Errorf("not a number")
		}
		target.SetFloat(floatVal)
	case reflect.String:
		target.SetString(valueStr)
	default:
		return fmt.Errorf("unsupported field type: %s", target.Kind())
	}

	if field.Kind() == reflect.Ptr {
		field.Set(target.Addr())
	}
	return nil
}
