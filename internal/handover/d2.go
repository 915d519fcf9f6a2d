// Package handover implements stage 6: 3GPP NTN measurement-event
// detection (A3/A4/A5/D2) and candidate-pool verification.
package handover

import (
	"math"

	"github.com/asgard/heimdall/internal/frames"
)

const deg2rad = math.Pi / 180.0

// meanEarthRadiusM is the IUGG mean Earth radius used for great-circle
// distances.
const meanEarthRadiusM = 6371008.8

// GroundDistanceM returns the great-circle (Haversine) distance in meters
// between the UE and a satellite's sub-satellite point. The D2 event is
// defined on this 2-D ground distance; slant range must never be used.
func GroundDistanceM(ue frames.Geodetic, subSatLatDeg, subSatLonDeg float64) float64 {
	lat1 := ue.LatDeg * deg2rad
	lat2 := subSatLatDeg * deg2rad
	dLat := (subSatLatDeg - ue.LatDeg) * deg2rad
	dLon := (subSatLonDeg - ue.LonDeg) * deg2rad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return meanEarthRadiusM * c
}
