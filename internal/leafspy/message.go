package leafspy

import (
	"fmt"
	"sort"
)

// PasswordParam is the query parameter Leaf Spy uses to carry the shared
// secret. It is stripped before decoding.
const PasswordParam = "pass"

// Message is one decoded Leaf Spy webhook call.
//
// Query parameter names are case-sensitive and map onto fields through the
// `query` tag. Pointer fields are optional: nil means the app did not send
// the value. VIN is the only required field. The struct is treated as
// immutable once Decode returns it.
type Message struct {
	// --- Identity ---
	VIN  string  `query:"VIN,required"`
	User *string `query:"user"`
	Seq  *int64  `query:"Seq"`
	Trip *int64  `query:"Trip"`

	// --- Location ---
	Lat   *float64 `query:"Lat"`
	Long  *float64 `query:"Long"`
	Elv   *float64 `query:"Elv"`
	Speed *float64 `query:"Speed"`

	// --- Battery ---
	SOC      *float64 `query:"SOC"`
	SOH      *float64 `query:"SOH"`
	AHr      *float64 `query:"AHr"`
	Hx       *float64 `query:"Hx"`
	Gids     *int64   `query:"Gids"`
	BatTemp  *float64 `query:"BatTemp"`
	BatVolts *float64 `query:"BatVolts"`
	BatAmps  *float64 `query:"BatAmps"`

	// --- Charging ---
	PlugState *int64 `query:"PlugState"`
	ChrgMode  *int64 `query:"ChrgMode"`
	ChrgPwr   *int64 `query:"ChrgPwr"`

	// --- Vehicle ---
	Odo    *float64 `query:"Odo"`
	Amb    *float64 `query:"Amb"`
	PwrSw  *int64   `query:"PwrSw"`
	RPM    *int64   `query:"RPM"`
	Wpr    *int64   `query:"Wpr"`
	Tunits *string  `query:"Tunits"`

	// --- Phone ---
	DevBat *int64 `query:"DevBat"`

	// raw holds every query value as received, typed fields included.
	raw map[string]string
}

// Field returns the raw string value of a query parameter as it arrived on
// the wire. The second return value reports whether the parameter was sent.
func (m *Message) Field(name string) (string, bool) {
	if m == nil || m.raw == nil {
		return "", false
	}
	v, ok := m.raw[name]
	return v, ok
}

// Fields returns the names of all parameters present in the message, sorted.
func (m *Message) Fields() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.raw))
	for k := range m.raw {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// HasLocation reports whether both coordinates are present.
func (m *Message) HasLocation() bool {
	return m != nil && m.Lat != nil && m.Long != nil
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("leafspy.Message{VIN: %q, fields: %d}", m.VIN, len(m.raw))
}
