package frames

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asgard/heimdall/internal/pipeline"
)

// eopLine builds one finals2000A.all line with values at the USNO columns.
func eopLine(mjd, xp, yp, dut1 float64) string {
	buf := make([]byte, 90)
	for i := range buf {
		buf[i] = ' '
	}
	copy(buf[7:], fmt.Sprintf("%8.2f", mjd))
	copy(buf[18:], fmt.Sprintf("%9.6f", xp))
	copy(buf[37:], fmt.Sprintf("%9.6f", yp))
	copy(buf[58:], fmt.Sprintf("%10.7f", dut1))
	return string(buf)
}

func writeEOPFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finals2000A.all")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEOPAndInterpolate(t *testing.T) {
	// MJD 60324 is 2024-01-15.
	path := writeEOPFile(t,
		eopLine(60324, 0.040, 0.350, -0.015),
		eopLine(60325, 0.060, 0.330, -0.017),
	)
	table, err := LoadEOP(path)
	if err != nil {
		t.Fatalf("LoadEOP: %v", err)
	}

	rec, err := table.Lookup(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if math.Abs(rec.XpArcsec-0.050) > 1e-9 {
		t.Errorf("xp = %f, want 0.050 (midpoint)", rec.XpArcsec)
	}
	if math.Abs(rec.YpArcsec-0.340) > 1e-9 {
		t.Errorf("yp = %f, want 0.340", rec.YpArcsec)
	}
	if math.Abs(rec.DUT1Sec-(-0.016)) > 1e-9 {
		t.Errorf("dut1 = %f, want -0.016", rec.DUT1Sec)
	}
}

func TestLookupOutsideTable(t *testing.T) {
	path := writeEOPFile(t, eopLine(60324, 0.040, 0.350, -0.015))
	table, err := LoadEOP(path)
	if err != nil {
		t.Fatalf("LoadEOP: %v", err)
	}
	_, err = table.Lookup(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, pipeline.ErrMissingIERSData) {
		t.Errorf("want ErrMissingIERSData, got %v", err)
	}
}

func TestLoadEOPMissingFile(t *testing.T) {
	if _, err := LoadEOP(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, pipeline.ErrMissingIERSData) {
		t.Errorf("want ErrMissingIERSData, got %v", err)
	}
}

func TestGeodeticECEFRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		geo  Geodetic
	}{
		{"reference station", Geodetic{LatDeg: 24.9439, LonDeg: 121.3708, AltM: 100}},
		{"equator", Geodetic{LatDeg: 0, LonDeg: 0, AltM: 0}},
		{"high latitude", Geodetic{LatDeg: 78.2, LonDeg: 15.6, AltM: 450}},
		{"southern hemisphere", Geodetic{LatDeg: -33.86, LonDeg: 151.21, AltM: 58}},
		{"leo altitude", Geodetic{LatDeg: 45, LonDeg: -120, AltM: 550_000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecef := ECEFFromGeodetic(tt.geo)
			back, err := GeodeticFromECEF(ecef)
			if err != nil {
				t.Fatalf("GeodeticFromECEF: %v", err)
			}
			ecef2 := ECEFFromGeodetic(back)
			for i := 0; i < 3; i++ {
				// 1 cm in km
				if math.Abs(ecef2[i]-ecef[i]) > 1e-5 {
					t.Errorf("axis %d: %f vs %f km", i, ecef2[i], ecef[i])
				}
			}
			if math.Abs(back.LatDeg-tt.geo.LatDeg) > 0.01 {
				t.Errorf("lat %f, want %f", back.LatDeg, tt.geo.LatDeg)
			}
			if math.Abs(back.AltM-tt.geo.AltM) > 0.1 {
				t.Errorf("alt %f, want %f", back.AltM, tt.geo.AltM)
			}
		})
	}
}

func TestGMSTAtJ2000(t *testing.T) {
	got := GMST(j2000JD) * rad2deg
	want := 280.46061837
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("GMST(J2000) = %f deg, want %f", got, want)
	}
}

func TestERATracksGMST(t *testing.T) {
	// GMST leads ERA by the accumulated precession in right ascension:
	// roughly 4612 arcseconds per century, ~0.31 degrees in 2024.
	jd := 2460324.5 // 2024-01-15
	diff := (GMST(jd) - EarthRotationAngle(jd)) * rad2deg
	for diff < -180 {
		diff += 360
	}
	for diff > 180 {
		diff -= 360
	}
	if diff < 0.2 || diff > 0.45 {
		t.Errorf("GMST-ERA = %f deg, want ~0.31", diff)
	}
}

func TestNutationBounds(t *testing.T) {
	for _, T := range []float64{-0.1, 0, 0.12, 0.24} {
		dpsi, deps := nutationAngles(T)
		if math.Abs(dpsi) > 20*arcsec2rad || math.Abs(deps) > 12*arcsec2rad {
			t.Errorf("T=%f: dpsi=%g deps=%g rad out of physical bounds", T, dpsi, deps)
		}
	}
}

func TestRotationMatricesOrthonormal(t *testing.T) {
	T := 0.24 // ~2024
	dpsi, deps := nutationAngles(T)
	mats := map[string]Mat3{
		"precession": precessionMatrix(T),
		"nutation":   nutationMatrix(dpsi, deps, meanObliquity(T)),
		"polar":      polarMotionMatrix(0.05, 0.35),
		"rotZ":       rotZ(1.234),
	}
	for name, m := range mats {
		t.Run(name, func(t *testing.T) {
			prod := m.Mul(m.Transpose())
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					want := 0.0
					if i == j {
						want = 1.0
					}
					if math.Abs(prod[i][j]-want) > 1e-12 {
						t.Errorf("M·Mᵀ[%d][%d] = %g", i, j, prod[i][j])
					}
				}
			}
		})
	}
}

func TestChainReducesToGMSTRotation(t *testing.T) {
	// With zero polar motion and zero DUT1, the composed TEME→ITRS chain
	// must reduce to a pure rotation by GMST: the precession-nutation
	// legs cancel through the equation of the equinoxes.
	path := writeEOPFile(t,
		eopLine(60324, 0, 0, 0),
		eopLine(60325, 0, 0, 0),
	)
	table, err := LoadEOP(path)
	if err != nil {
		t.Fatalf("LoadEOP: %v", err)
	}
	tr := NewTransformer(table)
	at := time.Date(2024, 1, 15, 6, 30, 0, 0, time.UTC)

	rot, err := tr.At(at)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	want := rotZ(GMST(JulianDate(at)))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(rot.TEMEToITRS[i][j]-want[i][j]) > 1e-9 {
				t.Errorf("[%d][%d] = %g, want %g", i, j, rot.TEMEToITRS[i][j], want[i][j])
			}
		}
	}
}

func TestStationaryObserverReproduced(t *testing.T) {
	// An ITRS vector built from the configured observer must map back to
	// the configured coordinates within 0.01 deg / 0.1 m.
	observer := Geodetic{LatDeg: 24.9439, LonDeg: 121.3708, AltM: 0}
	got, err := GeodeticFromECEF(ECEFFromGeodetic(observer))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.LatDeg-observer.LatDeg) > 0.01 ||
		math.Abs(got.LonDeg-observer.LonDeg) > 0.01 ||
		math.Abs(got.AltM-observer.AltM) > 0.1 {
		t.Errorf("got %+v, want %+v", got, observer)
	}
}
