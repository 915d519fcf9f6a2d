package frames

import (
	"fmt"
	"math"

	"github.com/asgard/heimdall/internal/pipeline"
)

// WGS84 ellipsoid.
const (
	WGS84AKm = 6378.137
	WGS84F   = 1.0 / 298.257223563
	wgs84E2  = WGS84F * (2.0 - WGS84F)
)

// Geodetic holds WGS84 coordinates: degrees and meters above the ellipsoid.
type Geodetic struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltM   float64 `json:"alt_m"`
}

// GeodeticFromECEF converts ITRS/ECEF Cartesian coordinates (km) to WGS84
// geodetic using Bowring's method, which converges to sub-millimeter in
// three iterations for any LEO or terrestrial position.
func GeodeticFromECEF(posKm [3]float64) (Geodetic, error) {
	x, y, z := posKm[0], posKm[1], posKm[2]
	p := math.Sqrt(x*x + y*y)

	lonDeg := math.Atan2(y, x) * rad2deg

	if p < 1e-9 {
		if math.Abs(z) < 1e-9 {
			return Geodetic{}, fmt.Errorf("%w: zero ECEF vector", pipeline.ErrTransformSingular)
		}
		lat := 90.0
		if z < 0 {
			lat = -90.0
		}
		altKm := math.Abs(z) - WGS84AKm*(1.0-WGS84F)
		return Geodetic{LatDeg: lat, LonDeg: lonDeg, AltM: altKm * 1000}, nil
	}

	b := WGS84AKm * (1.0 - WGS84F)
	theta := math.Atan2(z*WGS84AKm, p*b)
	sinTheta, cosTheta := math.Sincos(theta)

	lat := math.Atan2(
		z+wgs84E2/(1.0-WGS84F)*b*sinTheta*sinTheta*sinTheta,
		p-wgs84E2*WGS84AKm*cosTheta*cosTheta*cosTheta,
	)
	for i := 0; i < 3; i++ {
		sinLat := math.Sin(lat)
		N := WGS84AKm / math.Sqrt(1.0-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*N*sinLat, p)
	}

	sinLat, cosLat := math.Sincos(lat)
	N := WGS84AKm / math.Sqrt(1.0-wgs84E2*sinLat*sinLat)

	var altKm float64
	if math.Abs(cosLat) > 1e-10 {
		altKm = p/cosLat - N
	} else {
		altKm = math.Abs(z)/math.Abs(sinLat) - N*(1.0-wgs84E2)
	}

	return Geodetic{LatDeg: lat * rad2deg, LonDeg: lonDeg, AltM: altKm * 1000}, nil
}

// ECEFFromGeodetic converts WGS84 geodetic coordinates to ECEF (km).
func ECEFFromGeodetic(g Geodetic) [3]float64 {
	lat := g.LatDeg * deg2rad
	lon := g.LonDeg * deg2rad
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	N := WGS84AKm / math.Sqrt(1.0-wgs84E2*sinLat*sinLat)
	hKm := g.AltM / 1000.0

	return [3]float64{
		(N + hKm) * cosLat * cosLon,
		(N + hKm) * cosLat * sinLon,
		(N*(1.0-wgs84E2) + hKm) * sinLat,
	}
}
