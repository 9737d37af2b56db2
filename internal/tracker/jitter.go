package tracker

import "math"

// minMovement is the distance below which a new fix counts as GPS jitter.
const minMovement = 10.0 // metres

// changed reports whether next differs from prev beyond GPS jitter. Name,
// altitude and battery level are compared exactly.
func changed(prev, next *Location) bool {
	if prev.State != next.State || prev.Name != next.Name {
		return true
	}
	if !equalPtr(prev.Altitude, next.Altitude) || !equalPtr(prev.BatteryLevel, next.BatteryLevel) {
		return true
	}
	return haversineMeters(prev.Latitude, prev.Longitude, next.Latitude, next.Longitude) >= minMovement
}

func equalPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// haversineMeters returns great-circle distance in metres between two lat/lon points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0 // Earth radius in metres
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	lat1Rad := toRad(lat1)
	lat2Rad := toRad(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return r * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
