package gps

import "math"

// earthRadiusM is the IUGG mean Earth radius.
const earthRadiusM = 6371008.8

// Distance returns the great-circle distance between two fixes in meters,
// using the haversine formula.
func Distance(a, b Fix) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Haversine returns the great-circle distance in meters between two
// (lat, lon) pairs given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Offset returns the point reached by moving north and east meters from
// (lat, lon). Small-distance approximation, used for synthetic tracks.
func Offset(lat, lon, northM, eastM float64) (float64, float64) {
	dLat := northM / earthRadiusM * 180.0 / math.Pi
	dLon := eastM / (earthRadiusM * math.Cos(lat*math.Pi/180.0)) * 180.0 / math.Pi
	return lat + dLat, lon + dLon
}
