package visibility

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/asgard/heimdall/internal/frames"
	"github.com/asgard/heimdall/internal/pipeline"
)

var station = frames.Geodetic{LatDeg: 24.9439, LonDeg: 121.3708, AltM: 0}

// satAbove places a satellite directly above a geodetic point.
func satAbove(geo frames.Geodetic, altKm float64) [3]float64 {
	up := geo
	up.AltM = altKm * 1000
	return frames.ECEFFromGeodetic(up)
}

func TestLookOverhead(t *testing.T) {
	o := NewObserver(station)
	look := o.Look(satAbove(station, 550))

	if math.Abs(look.ElevationDeg-90) > 0.01 {
		t.Errorf("elevation = %f, want 90", look.ElevationDeg)
	}
	if math.Abs(look.RangeKm-550) > 0.5 {
		t.Errorf("range = %f km, want ~550", look.RangeKm)
	}
}

func TestLookAzimuthQuadrants(t *testing.T) {
	o := NewObserver(station)
	tests := []struct {
		name   string
		target frames.Geodetic
		wantAz float64
	}{
		{"north", frames.Geodetic{LatDeg: station.LatDeg + 5, LonDeg: station.LonDeg}, 0},
		{"east", frames.Geodetic{LatDeg: station.LatDeg, LonDeg: station.LonDeg + 5}, 90},
		{"south", frames.Geodetic{LatDeg: station.LatDeg - 5, LonDeg: station.LonDeg}, 180},
		{"west", frames.Geodetic{LatDeg: station.LatDeg, LonDeg: station.LonDeg - 5}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			look := o.Look(satAbove(tt.target, 550))
			diff := math.Abs(look.AzimuthDeg - tt.wantAz)
			if diff > 180 {
				diff = 360 - diff
			}
			// Meridian convergence bends the ENU azimuth slightly.
			if diff > 3 {
				t.Errorf("azimuth = %f, want ~%f", look.AzimuthDeg, tt.wantAz)
			}
			if look.ElevationDeg < -90 || look.ElevationDeg > 90 {
				t.Errorf("elevation %f outside [-90, 90]", look.ElevationDeg)
			}
		})
	}
}

func TestAssessConnectableInvariant(t *testing.T) {
	o := NewObserver(station)
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	overhead := satAbove(station, 550)
	farAway := frames.ECEFFromGeodetic(frames.Geodetic{LatDeg: -24, LonDeg: -58, AltM: 550_000})

	track := &frames.SatelliteTrack{
		CatalogID: 44713,
		FullChain: true,
		Samples: []frames.Sample{
			{Time: base, PosKm: overhead, Geo: station, Valid: true},
			{Time: base.Add(30 * time.Second), PosKm: farAway, Valid: true},
			{Time: base.Add(60 * time.Second), Valid: false},
		},
	}

	entry, err := assess(track, o, 5.0)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if entry.ConnectableCount != 1 {
		t.Fatalf("connectable count = %d, want 1", entry.ConnectableCount)
	}
	for i, s := range entry.Samples {
		if s.IsConnectable {
			if s.ElevationDeg < 5.0 || s.RangeKm < MinRangeKm || s.RangeKm > MaxRangeKm || !s.Valid {
				t.Errorf("sample %d breaks the connectable invariant: %+v", i, s)
			}
		}
	}
	if entry.Samples[2].IsConnectable {
		t.Error("invalid sample must not be connectable")
	}
	if len(entry.Samples) != 3 {
		t.Error("pool entries carry the full series, not a connectable snapshot")
	}
}

func TestAssessMissingPositionFails(t *testing.T) {
	o := NewObserver(station)
	track := &frames.SatelliteTrack{
		CatalogID: 44713,
		Samples: []frames.Sample{
			{Time: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), Valid: true}, // no position
		},
	}
	if _, err := assess(track, o, 5.0); !errors.Is(err, pipeline.ErrFieldMissing) {
		t.Errorf("want ErrFieldMissing, got %v", err)
	}
}

func TestRangeGate(t *testing.T) {
	o := NewObserver(station)
	// 2500 km up is above the link budget window even at zenith.
	tooFar := satAbove(station, 2500)
	look := o.Look(tooFar)
	if look.RangeKm <= MaxRangeKm {
		t.Fatalf("setup: range %f should exceed gate", look.RangeKm)
	}
}
