package search

import (
	"math"
)

// EarthRadiusKm is the mean radius of Earth used for Haversine distance
const EarthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between two
// points given in degrees
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// ValidateCoordinates checks that latitude is in [-90,90] and longitude in [-180,180]
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &ValidationError{Field: "lat", Message: "must be between -90 and 90"}
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return &ValidationError{Field: "lng", Message: "must be between -180 and 180"}
	}
	return nil
}

// Located is a geo filter candidate
type Located struct {
	Lat float64
	Lng float64
	// DistanceKm is set by FilterByRadius
	DistanceKm float64
	Result     SearchResult
}

// FilterByRadius drops candidates farther than radiusKm from center and
// attaches the computed distance to the rest. Input order is preserved.
func FilterByRadius(candidates []Located, center GeoPoint) []Located {
	out := make([]Located, 0, len(candidates))
	for _, c := range candidates {
		d := Haversine(center.Lat, center.Lng, c.Lat, c.Lng)
		if d > center.RadiusKm {
			continue
		}
		c.DistanceKm = d
		out = append(out, c)
	}
	return out
}

// DistanceRelevance maps a distance into a score that is 1.0 at the center
// and 0.5 at the radius boundary
func DistanceRelevance(distanceKm, radiusKm float64) float64 {
	if radiusKm <= 0 {
		return 0
	}
	return math.Max(0, 1-distanceKm/(2*radiusKm))
}
