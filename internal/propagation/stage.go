package propagation

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/alitto/pond"
	gosatellite "github.com/joshuaferrara/go-satellite"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/observability"
	"github.com/asgard/heimdall/internal/pipeline"
	"github.com/asgard/heimdall/internal/tle"
)

// AlgorithmVersion participates in the stage 2 cache key; bump it whenever
// propagation semantics change.
const AlgorithmVersion = "sgp4-gosatellite-v1"

// maxConsecutiveInvalid drops a satellite from all subsequent processing.
const maxConsecutiveInvalid = 3

// sdp4PeriodMinutes is the SGP4/SDP4 crossover: periods at or above this
// need the deep-space propagator.
const sdp4PeriodMinutes = 225.0

// sampleModeSatellites bounds work per constellation when SAMPLING_MODE=1.
const sampleModeSatellites = 25

// State is one TEME state vector on the grid.
type State struct {
	Time   time.Time  `json:"time"`
	PosKm  [3]float64 `json:"pos_km"`
	VelKmS [3]float64 `json:"vel_km_s"`
	Valid  bool       `json:"valid"`
}

// SatelliteSeries is the full propagated time-series for one satellite.
type SatelliteSeries struct {
	CatalogID     int                  `json:"catalog_id"`
	Name          string               `json:"name"`
	Constellation config.Constellation `json:"constellation"`
	States        []State              `json:"states"`
}

// Payload is the stage 2 artifact body.
type Payload struct {
	CalculationEpoch time.Time                     `json:"calculation_epoch"`
	Grids            map[config.Constellation]Grid `json:"grids"`
	Satellites       []SatelliteSeries             `json:"satellites"`
	Algorithm        string                        `json:"algorithm"`
}

// Stage implements stage 2: orbital propagation.
type Stage struct {
	cfg *config.Config
}

// NewStage creates the propagation stage.
func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return "stage2" }

// Number implements pipeline.Stage.
func (s *Stage) Number() int { return 2 }

// ValidateInput implements pipeline.Stage.
func (s *Stage) ValidateInput(sc *pipeline.Context) error {
	if sc.Upstream == nil {
		return fmt.Errorf("%w: stage 1", pipeline.ErrUpstreamArtifactMissing)
	}
	for name := range s.cfg.Constellations {
		if err := ValidateHorizon(name, s.cfg.Horizon(name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stage) upstreamPayload(sc *pipeline.Context) (*tle.Payload, error) {
	var p tle.Payload
	if err := json.Unmarshal(sc.Upstream.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: stage 1 payload: %v", pipeline.ErrUpstreamSchemaMismatch, err)
	}
	if p.CalculationEpoch.IsZero() || len(p.Records) == 0 {
		return nil, fmt.Errorf("%w: stage 1 payload empty", pipeline.ErrUpstreamSchemaMismatch)
	}
	return &p, nil
}

// Execute implements pipeline.Stage.
func (s *Stage) Execute(sc *pipeline.Context) (interface{}, map[string]interface{}, error) {
	up, err := s.upstreamPayload(sc)
	if err != nil {
		return nil, nil, err
	}

	grids := make(map[config.Constellation]Grid, len(s.cfg.Constellations))
	for name := range s.cfg.Constellations {
		g, err := NewGrid(up.CalculationEpoch, s.cfg.Step(), s.cfg.Horizon(name))
		if err != nil {
			return nil, nil, err
		}
		grids[name] = g
	}

	cacheKey := pipeline.Key(
		sc.Upstream.Metadata.Fingerprint,
		fmt.Sprintf("step=%s", s.cfg.Step()),
		fmt.Sprintf("sampling=%v", s.cfg.SamplingMode),
		AlgorithmVersion,
	)
	metrics := observability.GetMetrics()
	var cached Payload
	if ok, err := sc.Cache.Get(cacheKey, &cached); err != nil {
		return nil, nil, err
	} else if ok {
		metrics.CacheHits.WithLabelValues(s.Name()).Inc()
		sc.Log.Info("cache hit, %d satellites", len(cached.Satellites))
		return &cached, s.summarize(&cached), nil
	}
	metrics.CacheMisses.WithLabelValues(s.Name()).Inc()

	records := up.Records
	if s.cfg.SamplingMode {
		records = sampleRecords(records, sampleModeSatellites)
		sc.Log.Warn("sampling mode: limited to %d satellites", len(records))
	}

	// Per-satellite fan-out into pre-sized slots; the merge is a no-op, so
	// output order never depends on worker scheduling.
	results := make([]*SatelliteSeries, len(records))
	errs := make([]error, len(records))
	pool := pond.New(sc.Workers, len(records))
	for i, rec := range records {
		if sc.Cancel.Cancelled() {
			break
		}
		i, rec := i, rec
		grid := grids[rec.Constellation]
		pool.Submit(func() {
			results[i], errs[i] = propagateSatellite(rec, grid)
		})
	}
	pool.StopAndWait()

	if sc.Cancel.Cancelled() {
		return nil, nil, fmt.Errorf("stage 2 cancelled")
	}
	for i, err := range errs {
		if err != nil {
			return nil, nil, pipeline.NewStageError(s.Number(), s.Name(), fmt.Sprintf("%d", records[i].CatalogID), err)
		}
	}

	payload := &Payload{
		CalculationEpoch: up.CalculationEpoch,
		Grids:            grids,
		Satellites:       make([]SatelliteSeries, 0, len(results)),
		Algorithm:        AlgorithmVersion,
	}
	dropped := 0
	for _, r := range results {
		if r == nil {
			dropped++
			continue
		}
		payload.Satellites = append(payload.Satellites, *r)
		metrics.SatellitesProcessed.WithLabelValues(s.Name(), string(r.Constellation)).Inc()
		metrics.SamplesComputed.WithLabelValues(s.Name()).Add(float64(len(r.States)))
	}
	if dropped > 0 {
		metrics.SatellitesDropped.WithLabelValues(s.Name(), "all").Add(float64(dropped))
		sc.Log.Warn("dropped %d satellites after %d consecutive invalid samples", dropped, maxConsecutiveInvalid)
	}
	if len(payload.Satellites) == 0 {
		return nil, nil, fmt.Errorf("%w: no satellite survived propagation", pipeline.ErrEmptyInput)
	}

	if err := sc.Cache.Put(cacheKey, payload); err != nil {
		sc.Log.Warn("cache put: %v", err)
	}
	return payload, s.summarize(payload), nil
}

func (s *Stage) summarize(p *Payload) map[string]interface{} {
	samples := 0
	for _, sat := range p.Satellites {
		samples += len(sat.States)
	}
	return map[string]interface{}{
		"satellites": len(p.Satellites),
		"samples":    samples,
		"algorithm":  p.Algorithm,
	}
}

// sampleRecords keeps the first n records per constellation, preserving the
// catalog-id order.
func sampleRecords(records []*tle.Record, n int) []*tle.Record {
	counts := make(map[config.Constellation]int)
	var out []*tle.Record
	for _, r := range records {
		if counts[r.Constellation] >= n {
			continue
		}
		counts[r.Constellation]++
		out = append(out, r)
	}
	return out
}

// propagateSatellite runs SGP4 for one satellite over its grid. A nil
// result (with nil error) means the satellite was dropped for consecutive
// invalid samples.
func propagateSatellite(rec *tle.Record, grid Grid) (*SatelliteSeries, error) {
	if rec.PeriodMinutes() >= sdp4PeriodMinutes {
		// Deep-space orbits never occur in the supported LEO
		// constellations; refuse rather than propagate wrongly.
		return nil, fmt.Errorf("%w: catalog %d period %.1f min needs SDP4",
			pipeline.ErrPropagationDiverged, rec.CatalogID, rec.PeriodMinutes())
	}

	sat := gosatellite.TLEToSat(rec.Line1, rec.Line2, gosatellite.GravityWGS72)

	series := &SatelliteSeries{
		CatalogID:     rec.CatalogID,
		Name:          rec.Name,
		Constellation: rec.Constellation,
		States:        make([]State, grid.Samples),
	}

	consecutiveInvalid := 0
	for i := 0; i < grid.Samples; i++ {
		t := grid.At(i)
		pos, vel := gosatellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

		st := State{
			Time:   t,
			PosKm:  [3]float64{pos.X, pos.Y, pos.Z},
			VelKmS: [3]float64{vel.X, vel.Y, vel.Z},
			Valid:  stateValid(pos, vel),
		}
		series.States[i] = st

		if st.Valid {
			consecutiveInvalid = 0
			continue
		}
		consecutiveInvalid++
		if consecutiveInvalid >= maxConsecutiveInvalid {
			return nil, nil
		}
	}
	return series, nil
}

// stateValid flags SGP4 divergence: non-finite components or a radius
// outside the LEO shell.
func stateValid(pos, vel gosatellite.Vector3) bool {
	for _, v := range []float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	// Earth radius + 200 km .. + 2500 km
	return r > 6578.137 && r < 8878.137
}

// ValidateOutput implements pipeline.Stage.
func (s *Stage) ValidateOutput(sc *pipeline.Context, payload interface{}) (pipeline.ValidationResults, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return pipeline.ValidationResults{}, fmt.Errorf("%w: stage 2 payload type", pipeline.ErrUpstreamSchemaMismatch)
	}
	v := pipeline.NewValidation()

	v.Record(pipeline.CheckStructure, len(p.Grids) > 0 && p.Algorithm == AlgorithmVersion, "grids and algorithm present")
	v.Record(pipeline.CheckCounts, len(p.Satellites) > 0, fmt.Sprintf("%d satellites", len(p.Satellites)))

	gridOK := true
	sorted := true
	for i, sat := range p.Satellites {
		if i > 0 && p.Satellites[i-1].CatalogID >= sat.CatalogID {
			sorted = false
		}
		grid := p.Grids[sat.Constellation]
		if len(sat.States) != grid.Samples {
			gridOK = false
			break
		}
		for j, st := range sat.States {
			if !st.Time.Equal(grid.At(j)) {
				gridOK = false
				break
			}
		}
		if !gridOK {
			break
		}
	}
	v.Record(pipeline.CheckRanges, gridOK, "every series matches its grid exactly")
	v.Record(pipeline.CheckConsistency,
		sorted && p.CalculationEpoch.Equal(upstreamEpoch(sc)),
		"sorted by catalog id; epoch matches stage 1")
	v.Record(pipeline.CheckCompliance, p.Algorithm != "", "propagator version recorded")

	return v.Results(), nil
}

func upstreamEpoch(sc *pipeline.Context) time.Time {
	var p tle.Payload
	if sc.Upstream == nil || json.Unmarshal(sc.Upstream.Data, &p) != nil {
		return time.Time{}
	}
	return p.CalculationEpoch
}
