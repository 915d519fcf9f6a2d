package visibility

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond"
	"github.com/samber/lo"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/frames"
	"github.com/asgard/heimdall/internal/observability"
	"github.com/asgard/heimdall/internal/pipeline"
)

// Link-budget range gate shared by every constellation profile.
const (
	MinRangeKm = 200.0
	MaxRangeKm = 2000.0
)

// Sample is one visibility sample. Position and the line-of-sight radial
// velocity carry through so stages 5 and 6 run from this artifact alone.
type Sample struct {
	Time          time.Time       `json:"time"`
	ElevationDeg  float64         `json:"elevation_deg"`
	AzimuthDeg    float64         `json:"azimuth_deg"`
	RangeKm       float64         `json:"range_km"`
	RadialVelKmS  float64         `json:"radial_vel_km_s"`
	IsConnectable bool            `json:"is_connectable"`
	Valid         bool            `json:"valid"`
	Geo           frames.Geodetic `json:"geodetic"`
	PosKm         [3]float64      `json:"pos_ecef_km"`
}

// PoolEntry is one candidate satellite with its full time-series. The pool
// is a union over time, not a snapshot: samples where the satellite is not
// connectable stay in the series so event detection sees continuity.
type PoolEntry struct {
	CatalogID        int      `json:"catalog_id"`
	Name             string   `json:"name"`
	ConnectableCount int      `json:"connectable_count"`
	Samples          []Sample `json:"samples"`
}

// Payload is the stage 4 artifact body: the candidate pool per
// constellation.
type Payload struct {
	CalculationEpoch time.Time                            `json:"calculation_epoch"`
	Observer         frames.Geodetic                      `json:"observer"`
	Pools            map[config.Constellation][]PoolEntry `json:"pools"`
	Thresholds       map[config.Constellation]float64     `json:"elevation_thresholds_deg"`
}

// Stage implements stage 4: link feasibility.
type Stage struct {
	cfg *config.Config
}

// NewStage creates the feasibility stage.
func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return "stage4" }

// Number implements pipeline.Stage.
func (s *Stage) Number() int { return 4 }

// ValidateInput implements pipeline.Stage.
func (s *Stage) ValidateInput(sc *pipeline.Context) error {
	if sc.Upstream == nil {
		return fmt.Errorf("%w: stage 3", pipeline.ErrUpstreamArtifactMissing)
	}
	return nil
}

func (s *Stage) upstreamPayload(sc *pipeline.Context) (*frames.Payload, error) {
	var p frames.Payload
	if err := json.Unmarshal(sc.Upstream.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: stage 3 payload: %v", pipeline.ErrUpstreamSchemaMismatch, err)
	}
	if len(p.Satellites) == 0 {
		return nil, fmt.Errorf("%w: stage 3 payload empty", pipeline.ErrUpstreamSchemaMismatch)
	}
	return &p, nil
}

// Execute implements pipeline.Stage.
func (s *Stage) Execute(sc *pipeline.Context) (interface{}, map[string]interface{}, error) {
	up, err := s.upstreamPayload(sc)
	if err != nil {
		return nil, nil, err
	}

	observer := NewObserver(frames.Geodetic{
		LatDeg: s.cfg.Observer.LatitudeDeg,
		LonDeg: s.cfg.Observer.LongitudeDeg,
		AltM:   s.cfg.Observer.AltitudeM,
	})

	entries := make([]*PoolEntry, len(up.Satellites))
	constellations := make([]config.Constellation, len(up.Satellites))
	errs := make([]error, len(up.Satellites))
	pool := pond.New(sc.Workers, len(up.Satellites))
	for i := range up.Satellites {
		if sc.Cancel.Cancelled() {
			break
		}
		i := i
		sat := &up.Satellites[i]
		threshold := *s.cfg.Constellations[sat.Constellation].ElevationThresholdDeg
		constellations[i] = sat.Constellation
		pool.Submit(func() {
			entries[i], errs[i] = assess(sat, observer, threshold)
		})
	}
	pool.StopAndWait()

	if sc.Cancel.Cancelled() {
		return nil, nil, fmt.Errorf("stage 4 cancelled")
	}
	for i, err := range errs {
		if err != nil {
			return nil, nil, pipeline.NewStageError(s.Number(), s.Name(),
				fmt.Sprintf("%d", up.Satellites[i].CatalogID), err)
		}
	}

	payload := &Payload{
		CalculationEpoch: up.CalculationEpoch,
		Observer:         observer.Geo,
		Pools:            make(map[config.Constellation][]PoolEntry),
		Thresholds:       make(map[config.Constellation]float64),
	}
	for name, profile := range s.cfg.Constellations {
		payload.Thresholds[name] = *profile.ElevationThresholdDeg
	}

	metrics := observability.GetMetrics()
	for i, entry := range entries {
		if entry == nil || entry.ConnectableCount == 0 {
			continue
		}
		name := constellations[i]
		payload.Pools[name] = append(payload.Pools[name], *entry)
		metrics.SatellitesProcessed.WithLabelValues(s.Name(), string(name)).Inc()
	}
	for name := range payload.Pools {
		sort.Slice(payload.Pools[name], func(a, b int) bool {
			return payload.Pools[name][a].CatalogID < payload.Pools[name][b].CatalogID
		})
	}

	total := lo.SumBy(lo.Values(payload.Pools), func(entries []PoolEntry) int { return len(entries) })
	if total == 0 {
		return nil, nil, fmt.Errorf("%w: candidate pool is empty", pipeline.ErrEmptyInput)
	}
	sc.Log.Info("candidate pool: %d satellites across %d constellations", total, len(payload.Pools))

	return payload, s.summarize(payload), nil
}

func (s *Stage) summarize(p *Payload) map[string]interface{} {
	summary := map[string]interface{}{
		"constellations": len(p.Pools),
	}
	for name, entries := range p.Pools {
		summary[string(name)+"_pool"] = len(entries)
	}
	return summary
}

// assess computes the per-sample link feasibility for one satellite. Any
// valid upstream sample missing its position fields is a hard error: the
// gate never substitutes defaults.
func assess(sat *frames.SatelliteTrack, observer *Observer, thresholdDeg float64) (*PoolEntry, error) {
	entry := &PoolEntry{
		CatalogID: sat.CatalogID,
		Name:      sat.Name,
		Samples:   make([]Sample, len(sat.Samples)),
	}

	for i, src := range sat.Samples {
		out := Sample{Time: src.Time, Valid: src.Valid, Geo: src.Geo, PosKm: src.PosKm}
		if src.Valid {
			if src.PosKm == ([3]float64{}) {
				return nil, fmt.Errorf("%w: ECEF position absent on valid sample at %s",
					pipeline.ErrFieldMissing, src.Time.Format(time.RFC3339))
			}
			look := observer.Look(src.PosKm)
			out.ElevationDeg = look.ElevationDeg
			out.AzimuthDeg = look.AzimuthDeg
			out.RangeKm = look.RangeKm
			out.RadialVelKmS = observer.RangeRadialVelocityKmS(src.PosKm, src.VelKmS)
			out.IsConnectable = look.ElevationDeg >= thresholdDeg &&
				look.RangeKm >= MinRangeKm && look.RangeKm <= MaxRangeKm
			if out.IsConnectable {
				entry.ConnectableCount++
			}
		}
		entry.Samples[i] = out
	}
	return entry, nil
}

// ValidateOutput implements pipeline.Stage.
func (s *Stage) ValidateOutput(sc *pipeline.Context, payload interface{}) (pipeline.ValidationResults, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return pipeline.ValidationResults{}, fmt.Errorf("%w: stage 4 payload type", pipeline.ErrUpstreamSchemaMismatch)
	}
	v := pipeline.NewValidation()

	v.Record(pipeline.CheckStructure, p.Pools != nil && len(p.Thresholds) > 0, "pools and thresholds present")

	total := 0
	for _, entries := range p.Pools {
		total += len(entries)
	}
	v.Record(pipeline.CheckCounts, total > 0, fmt.Sprintf("%d pool satellites", total))

	invariantOK := true
	for name, entries := range p.Pools {
		threshold := p.Thresholds[name]
		for _, entry := range entries {
			for _, sample := range entry.Samples {
				if sample.ElevationDeg < -90 || sample.ElevationDeg > 90 ||
					sample.AzimuthDeg < 0 || sample.AzimuthDeg >= 360 {
					if sample.Valid {
						invariantOK = false
						break
					}
				}
				if sample.IsConnectable &&
					(!sample.Valid || sample.ElevationDeg < threshold ||
						sample.RangeKm < MinRangeKm || sample.RangeKm > MaxRangeKm) {
					invariantOK = false
					break
				}
			}
			if !invariantOK {
				break
			}
		}
		if !invariantOK {
			break
		}
	}
	v.Record(pipeline.CheckRanges, invariantOK, "is_connectable implies threshold, range gate, and validity")

	sortedOK := true
	for _, entries := range p.Pools {
		for i := 1; i < len(entries); i++ {
			if entries[i-1].CatalogID >= entries[i].CatalogID {
				sortedOK = false
				break
			}
		}
	}
	v.Record(pipeline.CheckConsistency, sortedOK, "pool entries sorted by catalog id")

	// Every pool entry earned its place.
	earned := true
	for _, entries := range p.Pools {
		for _, entry := range entries {
			if entry.ConnectableCount == 0 {
				earned = false
				break
			}
		}
	}
	v.Record(pipeline.CheckCompliance, earned, "no pool entry without a connectable sample")

	return v.Results(), nil
}
