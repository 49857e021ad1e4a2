package geo

import "math"

// Earth radius in meters.
const earthRadiusM = 6371000.0

// RelocationThresholdM is the GPS movement between consecutive samples that
// opens a new deployment period.
const RelocationThresholdM = 100.0

// DistanceM returns the haversine great-circle distance in meters.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}
