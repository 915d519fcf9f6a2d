package frames

import (
	"math"
	"time"
)

// TAI-UTC leap-second offset valid for the supported TLE era. The
// arcsecond-level precession-nutation arguments change by far less than
// the series truncation error across a leap second, so a constant serves.
const taiMinusUTCSec = 37.0

// ttMinusUTCSec converts UTC to Terrestrial Time.
const ttMinusUTCSec = taiMinusUTCSec + 32.184

// Transformer applies the TEME → GCRS → ITRS chain at grid times using a
// loaded Earth-orientation table. It is read-only after construction and
// safe for concurrent workers.
type Transformer struct {
	eop *EOPTable
}

// NewTransformer wraps an Earth-orientation table.
func NewTransformer(eop *EOPTable) *Transformer {
	return &Transformer{eop: eop}
}

// Rotations holds the frame rotations for one instant.
type Rotations struct {
	TEMEToGCRS Mat3
	GCRSToITRS Mat3
	// TEMEToITRS is the composed chain, what stage 3 applies per state.
	TEMEToITRS Mat3
}

// At computes the rotation set for one UTC instant. Missing Earth
// orientation data for the epoch is an error; identity polar motion is
// never substituted.
func (tr *Transformer) At(t time.Time) (Rotations, error) {
	eop, err := tr.eop.Lookup(t)
	if err != nil {
		return Rotations{}, err
	}

	jdUTC := JulianDate(t)
	jdUT1 := jdUTC + eop.DUT1Sec/86400.0
	T := julianCenturies(jdUTC + ttMinusUTCSec/86400.0)

	P := precessionMatrix(T)
	dpsi, deps := nutationAngles(T)
	epsM := meanObliquity(T)
	N := nutationMatrix(dpsi, deps, epsM)
	eqeq := dpsi * math.Cos(epsM)

	NP := N.Mul(P)

	// TEME shares the true equator of date but its equinox trails the true
	// equinox by the equation of the equinoxes.
	temeToTOD := rotZ(-eqeq)
	temeToGCRS := NP.Transpose().Mul(temeToTOD)

	gast := GMST(jdUT1) + eqeq
	gcrsToITRS := polarMotionMatrix(eop.XpArcsec, eop.YpArcsec).Mul(rotZ(gast)).Mul(NP)

	return Rotations{
		TEMEToGCRS: temeToGCRS,
		GCRSToITRS: gcrsToITRS,
		TEMEToITRS: gcrsToITRS.Mul(temeToGCRS),
	}, nil
}

// TEMEToITRS transforms one TEME state to ITRS, including the Earth
// rotation term on velocity.
func (tr *Transformer) TEMEToITRS(t time.Time, posTEMEKm, velTEMEKmS [3]float64) (posKm, velKmS [3]float64, err error) {
	rot, err := tr.At(t)
	if err != nil {
		return posKm, velKmS, err
	}
	posKm = rot.TEMEToITRS.Apply(posTEMEKm)
	v := rot.TEMEToITRS.Apply(velTEMEKmS)
	// v_itrs = M·v_teme − ω × r_itrs, with ω along +Z.
	velKmS = [3]float64{
		v[0] + EarthRotationRadS*posKm[1],
		v[1] - EarthRotationRadS*posKm[0],
		v[2],
	}
	return posKm, velKmS, nil
}
