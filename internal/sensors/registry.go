package sensors

// Precision constants for numeric sensors. Odometer is truncated to whole
// kilometres.
const (
	PrecisionStateOfCharge = 2
	PrecisionStateOfHealth = 2
	PrecisionConductance   = 2
	PrecisionAmpHours      = 2
	PrecisionElevation     = 0
	PrecisionTemperature   = NoRounding
	PrecisionElectrical    = NoRounding
	PrecisionVehicleSpeed  = NoRounding
)

// Enum tables. Every label set is extended with Unknown by Description.Options.
var (
	PlugStates = []EnumOption{
		{0, "Not plugged"},
		{1, "Partial plugged"},
		{2, "Plugged"},
	}

	ChargeModes = []EnumOption{
		{0, "Not charging"},
		{1, "Level 1 charging"},
		{2, "Level 2 charging"},
		{3, "Level 3 quick charging"},
	}

	WiperStates = []EnumOption{
		{80, "High"},
		{40, "Low"},
		{20, "Switch"},
		{10, "Intermittent"},
		{8, "Stopped"},
	}
)

// SensorTypes is the sensor registry. Order is preserved when entities are
// created.
var SensorTypes = []Description{
	{
		Key: "device_battery", Field: "DevBat", Name: "Phone battery",
		Platform: PlatformSensor, DeviceClass: "battery", StateClass: StateClassMeasurement,
		Unit: "%", Transform: Integer(),
	},
	{
		Key: "gids", Field: "Gids", Name: "Gids",
		Platform: PlatformSensor, StateClass: StateClassMeasurement,
		Unit: "Gids", Icon: "mdi:battery", EnabledByDefault: true, Transform: Integer(),
	},
	{
		Key: "elevation", Field: "Elv", Name: "Elevation",
		Platform: PlatformSensor, DeviceClass: "distance", StateClass: StateClassMeasurement,
		Unit: "m", Icon: "mdi:elevation-rise", EnabledByDefault: true,
		Transform: Float(PrecisionElevation),
	},
	{
		Key: "sequence_number", Field: "Seq", Name: "Sequence",
		Platform: PlatformSensor, Icon: "mdi:numeric", EntityCategory: CategoryDiagnostic,
		EnabledByDefault: true, Transform: Integer(),
	},
	{
		Key: "trip_number", Field: "Trip", Name: "Trip number",
		Platform: PlatformSensor, Icon: "mdi:road-variant", EnabledByDefault: true,
		Transform: Integer(),
	},
	{
		Key: "odometer", Field: "Odo", Name: "Mileage",
		Platform: PlatformSensor, DeviceClass: "distance", StateClass: StateClassTotalIncreasing,
		Unit: "km", Icon: "mdi:counter", EnabledByDefault: true, Transform: Truncate(),
	},
	{
		Key: "state_of_charge", Field: "SOC", Name: "Battery level (SOC)",
		Platform: PlatformSensor, DeviceClass: "battery", StateClass: StateClassMeasurement,
		Unit: "%", EnabledByDefault: true, Transform: Float(PrecisionStateOfCharge),
	},
	{
		Key: "amp_hours", Field: "AHr", Name: "Capacity (AHr)",
		Platform: PlatformSensor, StateClass: StateClassMeasurement,
		Unit: "Ah", Icon: "mdi:battery-heart-variant", EnabledByDefault: true,
		Transform: Float(PrecisionAmpHours),
	},
	{
		Key: "battery_temperature", Field: "BatTemp", Name: "Battery temperature",
		Platform: PlatformSensor, DeviceClass: "temperature", StateClass: StateClassMeasurement,
		Unit: "°C", Icon: "mdi:thermometer", EnabledByDefault: true,
		Transform: Float(PrecisionTemperature),
	},
	{
		Key: "ambient_temperature", Field: "Amb", Name: "Ambient temperature",
		Platform: PlatformSensor, DeviceClass: "temperature", StateClass: StateClassMeasurement,
		Unit: "°C", Icon: "mdi:sun-thermometer", Transform: Float(PrecisionTemperature),
	},
	{
		Key: "charge_power", Field: "ChrgPwr", Name: "Charge power",
		Platform: PlatformSensor, DeviceClass: "power", StateClass: StateClassMeasurement,
		Unit: "W", Icon: "mdi:lightning-bolt", Transform: Integer(),
	},
	{
		Key: "front_wiper_status", Field: "Wpr", Name: "Front wiper",
		Platform: PlatformSensor, DeviceClass: "enum", Icon: "mdi:wiper",
		EnabledByDefault: true, Transform: Enum(WiperStates...),
	},
	{
		Key: "plug_state", Field: "PlugState", Name: "Plug state",
		Platform: PlatformSensor, DeviceClass: "enum", Icon: "mdi:power-plug",
		Transform: Enum(PlugStates...),
	},
	{
		Key: "charge_mode", Field: "ChrgMode", Name: "Charge mode",
		Platform: PlatformSensor, DeviceClass: "enum", Icon: "mdi:battery-charging-wireless",
		Transform: Enum(ChargeModes...),
	},
	{
		Key: "vehicle_identification_number", Field: "VIN", Name: "VIN",
		Platform: PlatformSensor, Icon: "mdi:identifier", EntityCategory: CategoryDiagnostic,
		EnabledByDefault: true, Transform: Identity(),
	},
	{
		Key: "power_switch_state", Field: "PwrSw", Name: "Power switch",
		Platform: PlatformSensor, Icon: "mdi:power", EnabledByDefault: true,
		Transform: Integer(),
	},
	{
		Key: "temperature_units", Field: "Tunits", Name: "Temperature units",
		Platform: PlatformSensor, Icon: "mdi:temperature-celsius", EntityCategory: CategoryDiagnostic,
		EnabledByDefault: true, Transform: Identity(),
	},
	{
		Key: "motor_rpm", Field: "RPM", Name: "Motor RPM",
		Platform: PlatformSensor, StateClass: StateClassMeasurement,
		Unit: "RPM", Icon: "mdi:engine", Transform: Integer(),
	},
	{
		Key: "state_of_health", Field: "SOH", Name: "Battery health (SOH)",
		Platform: PlatformSensor, StateClass: StateClassMeasurement,
		Unit: "%", Icon: "mdi:battery-heart-variant", EnabledByDefault: true,
		Transform: Float(PrecisionStateOfHealth),
	},
	{
		Key: "hx_value", Field: "Hx", Name: "Hx",
		Platform: PlatformSensor, StateClass: StateClassMeasurement,
		Unit: "%", Icon: "mdi:battery-heart-variant", EnabledByDefault: true,
		Transform: Conductance(PrecisionConductance),
	},
	{
		Key: "vehicle_speed", Field: "Speed", Name: "Speed",
		Platform: PlatformSensor, DeviceClass: "speed", StateClass: StateClassMeasurement,
		Unit: "m/s", EnabledByDefault: true, Transform: Float(PrecisionVehicleSpeed),
	},
	{
		Key: "battery_voltage", Field: "BatVolts", Name: "Battery voltage",
		Platform: PlatformSensor, DeviceClass: "voltage", StateClass: StateClassMeasurement,
		Unit: "V", EnabledByDefault: true, Transform: Float(PrecisionElectrical),
	},
	{
		Key: "battery_current", Field: "BatAmps", Name: "Battery current",
		Platform: PlatformSensor, DeviceClass: "current", StateClass: StateClassMeasurement,
		Unit: "A", EnabledByDefault: true, Transform: Float(PrecisionElectrical),
	},
}

// BinarySensorTypes is the binary sensor registry.
var BinarySensorTypes = []Description{
	{
		Key: "power", Field: "PwrSw", Name: "Power",
		Platform: PlatformBinarySensor, DeviceClass: "power", Icon: "mdi:power",
		EnabledByDefault: true, Transform: Flag(),
	},
}

// Registry returns the descriptions for a platform.
func Registry(p Platform) []Description {
	switch p {
	case PlatformSensor:
		return SensorTypes
	case PlatformBinarySensor:
		return BinarySensorTypes
	default:
		return nil
	}
}

// Lookup returns the description with the given key on a platform.
func Lookup(p Platform, key string) (Description, bool) {
	for _, d := range Registry(p) {
		if d.Key == key {
			return d, true
		}
	}
	return Description{}, false
}

// WithPrecision returns a copy of descs where float and conductance
// transforms use the decimal places from overrides (keyed by description
// key). Descriptions without an override are copied unchanged.
func WithPrecision(descs []Description, overrides map[string]int) []Description {
	out := make([]Description, len(descs))
	copy(out, descs)
	if len(overrides) == 0 {
		return out
	}
	for i := range out {
		places, ok := overrides[out[i].Key]
		if !ok {
			continue
		}
		switch out[i].Transform.Kind {
		case TransformFloat, TransformConductance:
			out[i].Transform.Precision = places
		}
	}
	return out
}
