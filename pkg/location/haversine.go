package location

import (
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine helpers.
const EarthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance in meters between two points (lat/lng in degrees).
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	φ1, φ2 := rad(lat1), rad(lat2)
	Δφ := rad(lat2 - lat1)
	Δλ := rad(lng2 - lng1)
	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	// rounding can push a a hair past 1 for antipodal points
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// HaversineKm is HaversineMeters in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineMeters(lat1, lng1, lat2, lng2) / 1000
}

// Format renders a coordinate pair as two fixed 6-decimal numbers: "lat, lng".
// The %f verb ignores locale, so the separator is always '.'.
func Format(lat, lng float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lng)
}

// Accuracy renders an accuracy radius in meters with one decimal, e.g. "12.5m".
func Accuracy(meters float64) string {
	return fmt.Sprintf("%.1fm", meters)
}
