// Package signal implements stage 5: per-sample radio-layer quality for
// every candidate-pool satellite.
package signal

import (
	"math"
)

// SpeedOfLightMS is c in meters per second.
const SpeedOfLightMS = 299792458.0

// thermalNoiseDensityDBmHz is kT at 290 K.
const thermalNoiseDensityDBmHz = -174.0

// Standard-atmosphere layer parameters for the simplified gaseous
// absorption model: equivalent heights and surface water-vapour density.
const (
	oxygenEquivalentHeightKm = 6.0
	vapourEquivalentHeightKm = 2.0
	vapourDensityGM3         = 7.5
)

// FreeSpacePathLossDB returns the ITU-R P.525 free-space loss for a slant
// range in km and carrier frequency in GHz.
func FreeSpacePathLossDB(rangeKm, freqGHz float64) float64 {
	return 92.45 + 20*math.Log10(rangeKm) + 20*math.Log10(freqGHz)
}

// gammaOxygenDBKm is the specific attenuation of dry air below 57 GHz
// (ITU-R P.676 simplified form).
func gammaOxygenDBKm(freqGHz float64) float64 {
	f2 := freqGHz * freqGHz
	return (7.19e-3 + 6.09/(f2+0.227) + 4.81/((freqGHz-57)*(freqGHz-57)+1.50)) * f2 * 1e-3
}

// gammaVapourDBKm is the specific attenuation of water vapour below
// 350 GHz for the standard surface density.
func gammaVapourDBKm(freqGHz float64) float64 {
	f2 := freqGHz * freqGHz
	rho := vapourDensityGM3
	return (0.050 + 0.0021*rho +
		3.6/((freqGHz-22.2)*(freqGHz-22.2)+8.5) +
		10.6/((freqGHz-183.3)*(freqGHz-183.3)+9.0) +
		8.9/((freqGHz-325.4)*(freqGHz-325.4)+26.3)) * f2 * rho * 1e-4
}

// AtmosphericLossDB returns the simplified ITU-R P.618 gaseous absorption
// along the slant path: zenith attenuation scaled by the cosecant of the
// elevation. Valid for the elevations the link gate admits (>= 5 degrees).
func AtmosphericLossDB(elevationDeg, freqGHz float64) float64 {
	zenith := gammaOxygenDBKm(freqGHz)*oxygenEquivalentHeightKm +
		gammaVapourDBKm(freqGHz)*vapourEquivalentHeightKm
	sinEl := math.Sin(elevationDeg * math.Pi / 180.0)
	if sinEl < 0.05 {
		sinEl = 0.05
	}
	return zenith / sinEl
}

// DopplerShiftHz returns the carrier Doppler for a radial velocity in m/s
// (positive when the range is opening, giving a negative shift).
func DopplerShiftHz(radialVelMS, freqGHz float64) float64 {
	return -radialVelMS / SpeedOfLightMS * freqGHz * 1e9
}

// PropagationDelayMs returns the one-way delay for a slant range in km.
func PropagationDelayMs(rangeKm float64) float64 {
	return rangeKm * 1000.0 / SpeedOfLightMS * 1000.0
}

// LinkBudget holds the explicit RF terms. Every field comes from config;
// nothing here defaults.
type LinkBudget struct {
	FrequencyGHz    float64
	EIRPdBW         float64
	RxGainDB        float64
	CableLossDB     float64
	NoiseFigureDB   float64
	BandwidthMHz    float64
	ResourceBlocks  int
	InterferenceDBm float64
}

// RSRPdBm computes reference signal received power from the explicit
// budget terms and the path losses.
func (b LinkBudget) RSRPdBm(fsplDB, atmosDB float64) float64 {
	eirpDBm := b.EIRPdBW + 30.0
	return eirpDBm + b.RxGainDB - fsplDB - atmosDB - b.CableLossDB
}

// NoiseFloorDBm is thermal noise over the configured bandwidth plus the
// receiver noise figure.
func (b LinkBudget) NoiseFloorDBm() float64 {
	return thermalNoiseDensityDBmHz + 10*math.Log10(b.BandwidthMHz*1e6) + b.NoiseFigureDB
}

// SINRdB computes signal over interference plus noise, all in dBm.
func (b LinkBudget) SINRdB(rsrpDBm float64) float64 {
	in := mwFromDBm(b.InterferenceDBm) + mwFromDBm(b.NoiseFloorDBm())
	return rsrpDBm - dbmFromMw(in)
}

// RSRQdB computes N_RB * RSRP / RSSI per the TS 38.215 definition, with
// RSSI modeled as signal plus interference plus noise over the measured
// bandwidth.
func (b LinkBudget) RSRQdB(rsrpDBm float64) float64 {
	rssiDBm := dbmFromMw(mwFromDBm(rsrpDBm) + mwFromDBm(b.InterferenceDBm) + mwFromDBm(b.NoiseFloorDBm()))
	return 10*math.Log10(float64(b.ResourceBlocks)) + rsrpDBm - rssiDBm
}

func mwFromDBm(dbm float64) float64 {
	return math.Pow(10, dbm/10.0)
}

func dbmFromMw(mw float64) float64 {
	return 10 * math.Log10(mw)
}
