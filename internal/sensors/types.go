package sensors

// Platform is the Home Assistant entity platform a description renders as.
type Platform string

const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
)

// Home Assistant state classes used by the registries.
const (
	StateClassMeasurement     = "measurement"
	StateClassTotalIncreasing = "total_increasing"
)

// Home Assistant entity categories.
const (
	CategoryDiagnostic = "diagnostic"
)

// Binary sensor payloads, matching the MQTT binary_sensor defaults.
const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// Unknown is the value every enum transform falls back to.
const Unknown = "unknown"

// Description provides metadata for one Leaf Spy entity and how its value
// is derived from the webhook.
type Description struct {
	Key              string // stable identity suffix, snake_case
	Field            string // source query parameter, case-sensitive
	Name             string
	Platform         Platform
	DeviceClass      string
	StateClass       string
	Unit             string
	Icon             string
	EntityCategory   string
	EnabledByDefault bool
	Transform        Transform
}

// Options returns the allowed values for enum descriptions, including
// Unknown. It returns nil for every other transform kind.
func (d Description) Options() []string {
	if d.Transform.Kind != TransformEnum {
		return nil
	}
	opts := make([]string, 0, len(d.Transform.Enum)+1)
	for _, o := range d.Transform.Enum {
		opts = append(opts, o.Label)
	}
	return append(opts, Unknown)
}

// TotalIncreasing reports whether downstream statistics must treat the value
// as a monotonically increasing total.
func (d Description) TotalIncreasing() bool {
	return d.StateClass == StateClassTotalIncreasing
}
