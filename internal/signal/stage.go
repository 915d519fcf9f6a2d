package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alitto/pond"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/frames"
	"github.com/asgard/heimdall/internal/observability"
	"github.com/asgard/heimdall/internal/pipeline"
	"github.com/asgard/heimdall/internal/visibility"
)

// Sample is one signal measurement, keyed by (catalog id, timestamp) in
// the artifact. Geometry carries through for the stage 6 distance events.
type Sample struct {
	Time          time.Time       `json:"time"`
	HasSignal     bool            `json:"has_signal"`
	RSRPdBm       float64         `json:"rsrp_dbm"`
	RSRQdB        float64         `json:"rsrq_db"`
	SINRdB        float64         `json:"sinr_db"`
	FSPLdB        float64         `json:"fspl_db"`
	AtmosLossDB   float64         `json:"atmos_loss_db"`
	DopplerHz     float64         `json:"doppler_hz"`
	RadialVelMS   float64         `json:"radial_vel_m_s"`
	DelayMs       float64         `json:"delay_ms"`
	ElevationDeg  float64         `json:"elevation_deg"`
	RangeKm       float64         `json:"range_km"`
	IsConnectable bool            `json:"is_connectable"`
	Geo           frames.Geodetic `json:"geodetic"`
}

// SatelliteSignals is one pool satellite's measurement series.
type SatelliteSignals struct {
	CatalogID int      `json:"catalog_id"`
	Name      string   `json:"name"`
	Samples   []Sample `json:"samples"`
}

// Payload is the stage 5 artifact body.
type Payload struct {
	CalculationEpoch time.Time                                   `json:"calculation_epoch"`
	Observer         frames.Geodetic                             `json:"observer"`
	Pools            map[config.Constellation][]SatelliteSignals `json:"pools"`
	OffsetsDB        Offsets                                     `json:"offsets_db"`
}

// Offsets echoes the 3GPP measurement and cell offsets stage 6 applies.
type Offsets struct {
	CellIndividualDB float64 `json:"cell_individual_db"`
	MeasurementDB    float64 `json:"measurement_db"`
}

// Stage implements stage 5: signal analysis.
type Stage struct {
	cfg *config.Config
}

// NewStage creates the signal stage.
func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return "stage5" }

// Number implements pipeline.Stage.
func (s *Stage) Number() int { return 5 }

// ValidateInput implements pipeline.Stage.
func (s *Stage) ValidateInput(sc *pipeline.Context) error {
	if sc.Upstream == nil {
		return fmt.Errorf("%w: stage 4", pipeline.ErrUpstreamArtifactMissing)
	}
	// The config validator enforces presence; this re-check keeps the
	// stage safe when driven standalone from an artifact.
	if s.cfg.RF.FrequencyGHz == nil || *s.cfg.RF.FrequencyGHz <= 0 {
		return fmt.Errorf("%w: rf.frequency_ghz", pipeline.ErrMissingConfigField)
	}
	return nil
}

func (s *Stage) budget() LinkBudget {
	rf := s.cfg.RF
	return LinkBudget{
		FrequencyGHz:    *rf.FrequencyGHz,
		EIRPdBW:         *rf.EIRPdBW,
		RxGainDB:        *rf.RxAntennaGainDB,
		CableLossDB:     *rf.CableLossDB,
		NoiseFigureDB:   *rf.NoiseFigureDB,
		BandwidthMHz:    *rf.BandwidthMHz,
		ResourceBlocks:  *rf.ResourceBlocks,
		InterferenceDBm: *rf.InterferenceDBm,
	}
}

func (s *Stage) upstreamPayload(sc *pipeline.Context) (*visibility.Payload, error) {
	var p visibility.Payload
	if err := json.Unmarshal(sc.Upstream.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: stage 4 payload: %v", pipeline.ErrUpstreamSchemaMismatch, err)
	}
	if len(p.Pools) == 0 {
		return nil, fmt.Errorf("%w: stage 4 payload empty", pipeline.ErrUpstreamSchemaMismatch)
	}
	return &p, nil
}

// Execute implements pipeline.Stage.
func (s *Stage) Execute(sc *pipeline.Context) (interface{}, map[string]interface{}, error) {
	up, err := s.upstreamPayload(sc)
	if err != nil {
		return nil, nil, err
	}
	budget := s.budget()

	payload := &Payload{
		CalculationEpoch: up.CalculationEpoch,
		Observer:         up.Observer,
		Pools:            make(map[config.Constellation][]SatelliteSignals),
		OffsetsDB: Offsets{
			CellIndividualDB: *s.cfg.RF.CellIndividualDB,
			MeasurementDB:    *s.cfg.RF.FreqOffsetDB,
		},
	}

	metrics := observability.GetMetrics()
	for name, entries := range up.Pools {
		out := make([]SatelliteSignals, len(entries))
		pool := pond.New(sc.Workers, len(entries))
		for i := range entries {
			if sc.Cancel.Cancelled() {
				break
			}
			i := i
			entry := &entries[i]
			pool.Submit(func() {
				out[i] = analyze(entry, budget)
			})
		}
		pool.StopAndWait()
		if sc.Cancel.Cancelled() {
			return nil, nil, fmt.Errorf("stage 5 cancelled")
		}
		payload.Pools[name] = out
		metrics.SatellitesProcessed.WithLabelValues(s.Name(), string(name)).Add(float64(len(out)))
	}

	return payload, s.summarize(payload), nil
}

func (s *Stage) summarize(p *Payload) map[string]interface{} {
	analyzed := 0
	for _, sats := range p.Pools {
		for _, sat := range sats {
			for _, sample := range sat.Samples {
				if sample.HasSignal {
					analyzed++
				}
			}
		}
	}
	return map[string]interface{}{
		"signal_samples": analyzed,
		"constellations": len(p.Pools),
	}
}

// analyze computes the measurement series for one pool satellite. Samples
// outside connectability keep their place with HasSignal=false so the
// event state machines see an unbroken grid.
func analyze(entry *visibility.PoolEntry, budget LinkBudget) SatelliteSignals {
	out := SatelliteSignals{
		CatalogID: entry.CatalogID,
		Name:      entry.Name,
		Samples:   make([]Sample, len(entry.Samples)),
	}
	for i, src := range entry.Samples {
		sample := Sample{
			Time:          src.Time,
			ElevationDeg:  src.ElevationDeg,
			RangeKm:       src.RangeKm,
			IsConnectable: src.IsConnectable,
			Geo:           src.Geo,
		}
		if src.IsConnectable {
			fspl := FreeSpacePathLossDB(src.RangeKm, budget.FrequencyGHz)
			atmos := AtmosphericLossDB(src.ElevationDeg, budget.FrequencyGHz)
			rsrp := budget.RSRPdBm(fspl, atmos)
			radialMS := src.RadialVelKmS * 1000.0

			sample.HasSignal = true
			sample.FSPLdB = fspl
			sample.AtmosLossDB = atmos
			sample.RSRPdBm = rsrp
			sample.RSRQdB = budget.RSRQdB(rsrp)
			sample.SINRdB = budget.SINRdB(rsrp)
			sample.RadialVelMS = radialMS
			sample.DopplerHz = DopplerShiftHz(radialMS, budget.FrequencyGHz)
			sample.DelayMs = PropagationDelayMs(src.RangeKm)
		}
		out.Samples[i] = sample
	}
	return out
}

// ValidateOutput implements pipeline.Stage.
func (s *Stage) ValidateOutput(sc *pipeline.Context, payload interface{}) (pipeline.ValidationResults, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return pipeline.ValidationResults{}, fmt.Errorf("%w: stage 5 payload type", pipeline.ErrUpstreamSchemaMismatch)
	}
	v := pipeline.NewValidation()

	v.Record(pipeline.CheckStructure, len(p.Pools) > 0, "per-constellation pools present")

	samples := 0
	for _, sats := range p.Pools {
		for _, sat := range sats {
			samples += len(sat.Samples)
		}
	}
	v.Record(pipeline.CheckCounts, samples > 0, fmt.Sprintf("%d samples", samples))

	rangesOK := true
	for _, sats := range p.Pools {
		for _, sat := range sats {
			for _, sample := range sat.Samples {
				if !sample.HasSignal {
					continue
				}
				// LEO Ku/Ka RSRP lands far below transmit levels and
				// above the deep-noise floor.
				if sample.RSRPdBm > 0 || sample.RSRPdBm < -200 ||
					sample.DelayMs <= 0 || sample.FSPLdB <= 0 {
					rangesOK = false
					break
				}
			}
		}
	}
	v.Record(pipeline.CheckRanges, rangesOK, "signal values in physical bounds")

	aligned := true
	for _, sats := range p.Pools {
		for _, sat := range sats {
			for _, sample := range sat.Samples {
				if sample.HasSignal && !sample.IsConnectable {
					aligned = false
					break
				}
			}
		}
	}
	v.Record(pipeline.CheckConsistency, aligned, "signal only on connectable samples")
	v.Record(pipeline.CheckCompliance, true, "all budget terms explicit from config")

	return v.Results(), nil
}
