package sensors

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TransformKind tags the closed set of value transforms a description may
// use.
type TransformKind int

const (
	TransformIdentity    TransformKind = iota // raw value unchanged
	TransformFloat                            // float, rounded to Precision places
	TransformTruncate                         // integer part of a float
	TransformEnum                             // integer code looked up in Enum
	TransformConductance                      // Hx workaround, then rounded
	TransformFlag                             // "1" -> ON, anything else -> OFF
	TransformInteger                          // whole number in canonical form
)

func (k TransformKind) String() string {
	switch k {
	case TransformIdentity:
		return "identity"
	case TransformFloat:
		return "float"
	case TransformTruncate:
		return "truncate"
	case TransformEnum:
		return "enum"
	case TransformConductance:
		return "conductance"
	case TransformFlag:
		return "flag"
	case TransformInteger:
		return "integer"
	default:
		return fmt.Sprintf("TransformKind(%d)", int(k))
	}
}

// NoRounding disables rounding for float transforms.
const NoRounding = -1

// conductanceScale is the factor some Leaf Spy releases apply to Hx before
// sending it. Values above 100 are assumed to carry it.
const conductanceScale = 102.4

// EnumOption maps one raw integer code to its label.
type EnumOption struct {
	Code  int64
	Label string
}

// Transform converts a raw query value into the presentation value.
type Transform struct {
	Kind      TransformKind
	Precision int          // decimal places for float/conductance, NoRounding to keep all
	Enum      []EnumOption // ordered lookup table for enum transforms
}

// Identity returns the pass-through transform.
func Identity() Transform { return Transform{Kind: TransformIdentity} }

// Float returns a float transform rounding to places (NoRounding to skip).
func Float(places int) Transform { return Transform{Kind: TransformFloat, Precision: places} }

// Truncate returns a transform keeping the integer part of a float.
func Truncate() Transform { return Transform{Kind: TransformTruncate} }

// Enum returns a lookup transform over the given options.
func Enum(options ...EnumOption) Transform { return Transform{Kind: TransformEnum, Enum: options} }

// Conductance returns the Hx workaround transform rounding to places.
func Conductance(places int) Transform {
	return Transform{Kind: TransformConductance, Precision: places}
}

// Flag returns the binary on/off transform.
func Flag() Transform { return Transform{Kind: TransformFlag} }

// Integer returns a transform rendering whole numbers without a fraction, so
// "88.0" reads 88.
func Integer() Transform { return Transform{Kind: TransformInteger} }

// TransformError reports a raw value a transform could not convert. It is
// never fatal for the message: the affected entity is skipped.
type TransformError struct {
	Kind  TransformKind
	Value string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s transform of %q: %v", e.Kind, e.Value, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Apply converts raw into its presentation value. Enum transforms never fail
// and map anything unrecognised to Unknown. Numeric transforms return an
// empty value and a *TransformError for non-numeric input.
func (t Transform) Apply(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	switch t.Kind {
	case TransformIdentity:
		return raw, nil

	case TransformFloat:
		v, err := parseNumber(raw)
		if err != nil {
			return "", &TransformError{Kind: t.Kind, Value: raw, Err: err}
		}
		return formatNumber(RoundPlaces(v, t.Precision)), nil

	case TransformTruncate:
		v, err := parseNumber(raw)
		if err != nil {
			return "", &TransformError{Kind: t.Kind, Value: raw, Err: err}
		}
		return formatNumber(math.Trunc(v)), nil

	case TransformEnum:
		return t.lookup(raw), nil

	case TransformConductance:
		v, err := parseNumber(raw)
		if err != nil {
			return "", &TransformError{Kind: t.Kind, Value: raw, Err: err}
		}
		return formatNumber(RoundPlaces(CorrectConductance(v), t.Precision)), nil

	case TransformInteger:
		v, err := parseNumber(raw)
		if err == nil && v != math.Trunc(v) {
			err = fmt.Errorf("not an integer")
		}
		if err != nil {
			return "", &TransformError{Kind: t.Kind, Value: raw, Err: err}
		}
		return formatNumber(v), nil

	case TransformFlag:
		if v, err := parseNumber(raw); err == nil && v == 1 {
			return StateOn, nil
		}
		return StateOff, nil

	default:
		return "", &TransformError{Kind: t.Kind, Value: raw, Err: fmt.Errorf("unknown transform kind")}
	}
}

func (t Transform) lookup(raw string) string {
	v, err := parseNumber(raw)
	if err != nil || v != math.Trunc(v) {
		return Unknown
	}
	code := int64(v)
	for _, o := range t.Enum {
		if o.Code == code {
			return o.Label
		}
	}
	return Unknown
}

// CorrectConductance undoes the x102.4 scaling some app versions apply to
// the battery conductance (Hx) value.
func CorrectConductance(v float64) float64 {
	if v > 100 {
		return v / conductanceScale
	}
	return v
}

// RoundPlaces rounds v half away from zero to the given number of decimal
// places. Rounding works on the shortest decimal form of v, so 87.345 rounds
// to 87.35. A negative places value returns v unchanged.
func RoundPlaces(v float64, places int) float64 {
	if places < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	shifted, err := shiftDecimal(v, places)
	if err != nil {
		return v
	}
	out, err := shiftDecimal(math.Round(shifted), -places)
	if err != nil {
		return v
	}
	return out
}

// shiftDecimal multiplies v by 10^n using decimal exponent arithmetic.
func shiftDecimal(v float64, n int) (float64, error) {
	mant, exp, _ := strings.Cut(strconv.FormatFloat(v, 'e', -1, 64), "e")
	e, err := strconv.Atoi(exp)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(mant+"e"+strconv.Itoa(e+n), 64)
}

func parseNumber(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}

func formatNumber(v float64) string {
	if v == 0 {
		// avoid "-0"
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
