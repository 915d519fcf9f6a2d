package frames

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/logging"
	"github.com/asgard/heimdall/internal/pipeline"
	"github.com/asgard/heimdall/internal/propagation"
)

func loadTestEOP(t *testing.T) *EOPTable {
	t.Helper()
	path := writeEOPFile(t,
		eopLine(60324, 0.040, 0.350, -0.015),
		eopLine(60325, 0.060, 0.330, -0.017),
	)
	table, err := LoadEOP(path)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func temeSeries(t *testing.T, n int) *propagation.SatelliteSeries {
	t.Helper()
	base := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	series := &propagation.SatelliteSeries{
		CatalogID:     44713,
		Constellation: config.Starlink,
	}
	for i := 0; i < n; i++ {
		// A circular LEO arc; exact geometry is irrelevant, the chain and
		// markers are under test.
		series.States = append(series.States, propagation.State{
			Time:   base.Add(time.Duration(i) * 30 * time.Second),
			PosKm:  [3]float64{6921, float64(i) * 5, 200},
			VelKmS: [3]float64{0, 7.5, 0.5},
			Valid:  true,
		})
	}
	return series
}

func rotationsFor(t *testing.T, table *EOPTable, series *propagation.SatelliteSeries) map[int64]Rotations {
	t.Helper()
	tr := NewTransformer(table)
	out := make(map[int64]Rotations)
	for _, st := range series.States {
		rot, err := tr.At(st.Time)
		if err != nil {
			t.Fatalf("At(%s): %v", st.Time, err)
		}
		out[st.Time.UnixNano()] = rot
	}
	return out
}

func TestTransformSatelliteCarriesFullChainMarker(t *testing.T) {
	table := loadTestEOP(t)
	series := temeSeries(t, 10)

	track := transformSatellite(series, rotationsFor(t, table, series))
	if track == nil {
		t.Fatal("satellite dropped unexpectedly")
	}
	if !track.FullChain {
		t.Error("retained satellites must carry the full-chain marker")
	}
	for i, sample := range track.Samples {
		if !sample.Valid {
			t.Fatalf("sample %d invalid", i)
		}
		altKm := sample.Geo.AltM / 1000
		if altKm < 200 || altKm > 2500 {
			t.Errorf("sample %d altitude %f km outside the LEO shell", i, altKm)
		}
	}
}

func TestValidateOutputRejectsMissingMarker(t *testing.T) {
	table := loadTestEOP(t)
	series := temeSeries(t, 5)
	track := transformSatellite(series, rotationsFor(t, table, series))

	payload := &Payload{
		IERSFingerprint: table.Fingerprint,
		Algorithm:       AlgorithmVersion,
		Satellites:      []SatelliteTrack{*track},
	}
	s := &Stage{}
	sc := &pipeline.Context{Log: logging.New("test")}

	vr, err := s.ValidateOutput(sc, payload)
	if err != nil || !vr.Passed {
		t.Fatalf("marked payload must validate: %v %+v", err, vr)
	}

	payload.Satellites[0].FullChain = false
	vr, err = s.ValidateOutput(sc, payload)
	if err != nil {
		t.Fatal(err)
	}
	if vr.Passed {
		t.Error("a satellite without the full-chain marker must fail validation")
	}
}

func TestValidateInputMissingIERSFile(t *testing.T) {
	cfg := &config.Config{
		Paths: config.Paths{IERSFile: filepath.Join(t.TempDir(), "absent")},
	}
	s := NewStage(cfg)
	sc := &pipeline.Context{
		Log:      logging.New("test"),
		Upstream: &pipeline.Artifact{},
	}
	if err := s.ValidateInput(sc); !errors.Is(err, pipeline.ErrMissingIERSData) {
		t.Errorf("want ErrMissingIERSData, got %v", err)
	}
}
