package signal

import (
	"math"
	"testing"

	"github.com/asgard/heimdall/internal/frames"
	"github.com/asgard/heimdall/internal/visibility"
)

func TestFreeSpacePathLoss(t *testing.T) {
	tests := []struct {
		rangeKm float64
		freqGHz float64
		want    float64
	}{
		{1000, 12.0, 92.45 + 60 + 20*math.Log10(12)},
		{2000, 12.0, 92.45 + 20*math.Log10(2000) + 20*math.Log10(12)},
		{550, 2.0, 92.45 + 20*math.Log10(550) + 20*math.Log10(2)},
	}
	for _, tt := range tests {
		got := FreeSpacePathLossDB(tt.rangeKm, tt.freqGHz)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FSPL(%f km, %f GHz) = %f, want %f", tt.rangeKm, tt.freqGHz, got, tt.want)
		}
	}
}

func TestAtmosphericLossBehavior(t *testing.T) {
	zenith := AtmosphericLossDB(90, 12.0)
	low := AtmosphericLossDB(5, 12.0)

	if zenith <= 0 || zenith > 1 {
		t.Errorf("zenith gaseous loss at Ku = %f dB, want a fraction of a dB", zenith)
	}
	if low <= zenith {
		t.Error("loss must grow toward the horizon")
	}
	if ratio := low / zenith; math.Abs(ratio-1/math.Sin(5*math.Pi/180)) > 0.01 {
		t.Errorf("cosecant scaling broken: ratio %f", ratio)
	}
}

func TestDopplerSign(t *testing.T) {
	// Opening range (positive radial velocity) lowers the carrier.
	if DopplerShiftHz(7000, 12.0) >= 0 {
		t.Error("receding satellite must give negative Doppler")
	}
	if DopplerShiftHz(-7000, 12.0) <= 0 {
		t.Error("approaching satellite must give positive Doppler")
	}
	// |f_d| = v/c * f: 7.5 km/s at 12 GHz is ~300 kHz.
	got := math.Abs(DopplerShiftHz(7500, 12.0))
	if got < 290e3 || got > 310e3 {
		t.Errorf("Doppler magnitude = %f Hz, want ~300 kHz", got)
	}
}

func TestPropagationDelay(t *testing.T) {
	got := PropagationDelayMs(600)
	want := 600e3 / SpeedOfLightMS * 1e3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("delay = %f ms, want %f", got, want)
	}
	if got < 1.9 || got > 2.1 {
		t.Errorf("600 km should be ~2 ms, got %f", got)
	}
}

func testBudget() LinkBudget {
	return LinkBudget{
		FrequencyGHz:    12.0,
		EIRPdBW:         50.0,
		RxGainDB:        35.0,
		CableLossDB:     2.0,
		NoiseFigureDB:   7.0,
		BandwidthMHz:    20.0,
		ResourceBlocks:  106,
		InterferenceDBm: -110.0,
	}
}

func TestRSRPExplicitTerms(t *testing.T) {
	b := testBudget()
	got := b.RSRPdBm(170.0, 0.5)
	want := (50.0 + 30.0) + 35.0 - 170.0 - 0.5 - 2.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("RSRP = %f, want %f", got, want)
	}
}

func TestNoiseFloor(t *testing.T) {
	b := testBudget()
	got := b.NoiseFloorDBm()
	want := -174.0 + 10*math.Log10(20e6) + 7.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("noise floor = %f, want %f", got, want)
	}
}

func TestSINRAndRSRQConsistency(t *testing.T) {
	b := testBudget()
	rsrp := -95.0

	sinr := b.SINRdB(rsrp)
	// Signal over (I+N) is necessarily below signal over N alone.
	if sinr >= rsrp-b.NoiseFloorDBm() {
		t.Errorf("SINR %f must sit below S/N %f", sinr, rsrp-b.NoiseFloorDBm())
	}

	rsrq := b.RSRQdB(rsrp)
	// RSRQ is bounded above by 10log10(N_RB) when RSSI is pure signal.
	if rsrq >= 10*math.Log10(float64(b.ResourceBlocks)) {
		t.Errorf("RSRQ %f exceeds its definitional bound", rsrq)
	}
}

func TestDopplerProjectionMatchesRangeDifferencing(t *testing.T) {
	// The projected radial velocity must agree with slant-range
	// differencing to within 1% over one grid step.
	station := frames.Geodetic{LatDeg: 24.9439, LonDeg: 121.3708, AltM: 0}
	o := visibility.NewObserver(station)

	pos := frames.ECEFFromGeodetic(frames.Geodetic{LatDeg: 20.0, LonDeg: 118.0, AltM: 550_000})
	vel := [3]float64{3.1, 5.9, 2.4} // km/s, oblique pass

	const dt = 1.0 // seconds
	pos2 := [3]float64{pos[0] + vel[0]*dt, pos[1] + vel[1]*dt, pos[2] + vel[2]*dt}

	r1 := o.Look(pos).RangeKm
	r2 := o.Look(pos2).RangeKm
	differenced := (r2 - r1) / dt

	projected := o.RangeRadialVelocityKmS(pos, vel)
	if rel := math.Abs(projected-differenced) / math.Abs(differenced); rel > 0.01 {
		t.Errorf("projection %f vs differencing %f km/s (rel %f)", projected, differenced, rel)
	}

	f1 := DopplerShiftHz(projected*1000, 12.0)
	f2 := DopplerShiftHz(differenced*1000, 12.0)
	if rel := math.Abs(f1-f2) / math.Abs(f2); rel > 0.01 {
		t.Errorf("Doppler disagreement: %f vs %f Hz", f1, f2)
	}
}
