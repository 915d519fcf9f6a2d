// Package visibility implements stage 4: per-sample link feasibility
// against the fixed ground station and candidate-pool construction.
package visibility

import (
	"math"

	"github.com/asgard/heimdall/internal/frames"
)

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// LookAngles holds the topocentric geometry from observer to satellite.
type LookAngles struct {
	ElevationDeg float64
	AzimuthDeg   float64
	RangeKm      float64
}

// Observer precomputes the ground station's ECEF position and the
// ECEF→ENU rotation terms.
type Observer struct {
	Geo    frames.Geodetic
	ECEFKm [3]float64

	sinLat, cosLat float64
	sinLon, cosLon float64
}

// NewObserver builds the fixed observer for a run.
func NewObserver(geo frames.Geodetic) *Observer {
	lat := geo.LatDeg * deg2rad
	lon := geo.LonDeg * deg2rad
	o := &Observer{Geo: geo, ECEFKm: frames.ECEFFromGeodetic(geo)}
	o.sinLat, o.cosLat = math.Sincos(lat)
	o.sinLon, o.cosLon = math.Sincos(lon)
	return o
}

// Look computes elevation, azimuth, and slant range to a satellite ECEF
// position via the east-north-up frame.
func (o *Observer) Look(satECEFKm [3]float64) LookAngles {
	dx := satECEFKm[0] - o.ECEFKm[0]
	dy := satECEFKm[1] - o.ECEFKm[1]
	dz := satECEFKm[2] - o.ECEFKm[2]

	east := -o.sinLon*dx + o.cosLon*dy
	north := -o.sinLat*o.cosLon*dx - o.sinLat*o.sinLon*dy + o.cosLat*dz
	up := o.cosLat*o.cosLon*dx + o.cosLat*o.sinLon*dy + o.sinLat*dz

	rng := math.Sqrt(dx*dx + dy*dy + dz*dz)
	el := math.Asin(up/rng) * rad2deg
	az := math.Mod(math.Atan2(east, north)*rad2deg+360.0, 360.0)

	return LookAngles{ElevationDeg: el, AzimuthDeg: az, RangeKm: rng}
}

// RangeRadialVelocityKmS projects the satellite's ECEF velocity onto the
// observer line of sight: positive when the range is opening.
func (o *Observer) RangeRadialVelocityKmS(satECEFKm, satVelKmS [3]float64) float64 {
	dx := satECEFKm[0] - o.ECEFKm[0]
	dy := satECEFKm[1] - o.ECEFKm[1]
	dz := satECEFKm[2] - o.ECEFKm[2]
	rng := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if rng == 0 {
		return 0
	}
	return (dx*satVelKmS[0] + dy*satVelKmS[1] + dz*satVelKmS[2]) / rng
}
