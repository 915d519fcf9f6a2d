package handover

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/observability"
	"github.com/asgard/heimdall/internal/pipeline"
	"github.com/asgard/heimdall/internal/propagation"
	"github.com/asgard/heimdall/internal/signal"
)

// Payload is the stage 6 artifact body: the event stream plus the pool
// verification verdicts.
type Payload struct {
	CalculationEpoch time.Time                          `json:"calculation_epoch"`
	Events           []Record                           `json:"events"`
	PoolVerification map[config.Constellation]PoolStats `json:"pool_verification"`
	ServingIDs       map[config.Constellation]int       `json:"serving_ids"`
}

// Stage implements stage 6: event detection and pool verification.
type Stage struct {
	cfg *config.Config
}

// NewStage creates the event stage.
func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return "stage6" }

// Number implements pipeline.Stage.
func (s *Stage) Number() int { return 6 }

// ValidateInput implements pipeline.Stage.
func (s *Stage) ValidateInput(sc *pipeline.Context) error {
	if sc.Upstream == nil {
		return fmt.Errorf("%w: stage 5", pipeline.ErrUpstreamArtifactMissing)
	}
	if s.cfg.Events.HysteresisDB == nil || s.cfg.Events.TimeToTrigger == nil {
		return fmt.Errorf("%w: event parameters", pipeline.ErrMissingConfigField)
	}
	return nil
}

func (s *Stage) params() Params {
	ev := s.cfg.Events
	rf := s.cfg.RF
	return Params{
		HysteresisDB:        *ev.HysteresisDB,
		TTTSeconds:          *ev.TimeToTrigger,
		A3OffsetDB:          *ev.A3OffsetDB,
		A4ThresholdDBm:      *ev.A4ThresholdDBm,
		A5Threshold1DBm:     *ev.A5Threshold1DBm,
		A5Threshold2DBm:     *ev.A5Threshold2DBm,
		D2Threshold1M:       *ev.D2Threshold1M,
		D2Threshold2M:       *ev.D2Threshold2M,
		D2HysteresisM:       *ev.D2HysteresisM,
		MeasurementOffsetDB: *rf.FreqOffsetDB,
		CellOffsetDB:        *rf.CellIndividualDB,
	}
}

func (s *Stage) upstreamPayload(sc *pipeline.Context) (*signal.Payload, error) {
	var p signal.Payload
	if err := json.Unmarshal(sc.Upstream.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: stage 5 payload: %v", pipeline.ErrUpstreamSchemaMismatch, err)
	}
	if len(p.Pools) == 0 {
		return nil, fmt.Errorf("%w: stage 5 payload empty", pipeline.ErrUpstreamSchemaMismatch)
	}
	return &p, nil
}

// Execute implements pipeline.Stage.
func (s *Stage) Execute(sc *pipeline.Context) (interface{}, map[string]interface{}, error) {
	up, err := s.upstreamPayload(sc)
	if err != nil {
		return nil, nil, err
	}
	params := s.params()
	step := s.cfg.Step()

	payload := &Payload{
		CalculationEpoch: up.CalculationEpoch,
		PoolVerification: make(map[config.Constellation]PoolStats),
		ServingIDs:       make(map[config.Constellation]int),
	}
	metrics := observability.GetMetrics()

	for name, sats := range up.Pools {
		if len(sats) == 0 {
			continue
		}

		// Serving cell: the pool satellite with the widest connectable
		// coverage over the window; every other entry is a neighbor.
		servingIdx := pickServing(sats)
		serving := &sats[servingIdx]
		payload.ServingIDs[name] = serving.CatalogID

		for i := range sats {
			if i == servingIdx {
				continue
			}
			detector := newPairDetector(params, step, serving, &sats[i])
			records := detector.run(up.Observer)
			for _, rec := range records {
				metrics.HandoverEvents.WithLabelValues(string(rec.Kind), string(name)).Inc()
			}
			payload.Events = append(payload.Events, records...)
		}

		profile := s.cfg.Constellations[name]
		period := theoreticalPeriod(name)
		stats := VerifyPool(sats, *profile.TargetVisibleMin, *profile.TargetVisibleMax, period)
		payload.PoolVerification[name] = stats
		metrics.PoolVisibleCount.WithLabelValues(string(name)).Set(stats.MeanVisible)
		metrics.PoolCoverageRate.WithLabelValues(string(name)).Set(stats.CoverageRate)

		sc.Log.Info("%s: serving %d, mean visible %.1f, coverage %.3f, verification passed=%v",
			name, serving.CatalogID, stats.MeanVisible, stats.CoverageRate, stats.Passed)
	}

	sort.Slice(payload.Events, func(a, b int) bool {
		if !payload.Events[a].Time.Equal(payload.Events[b].Time) {
			return payload.Events[a].Time.Before(payload.Events[b].Time)
		}
		if payload.Events[a].NeighborID != payload.Events[b].NeighborID {
			return payload.Events[a].NeighborID < payload.Events[b].NeighborID
		}
		return payload.Events[a].Kind < payload.Events[b].Kind
	})

	return payload, s.summarize(payload), nil
}

// pickServing returns the index of the satellite with the most connectable
// samples, ties broken by catalog id for determinism.
func pickServing(sats []signal.SatelliteSignals) int {
	best, bestCount := 0, -1
	for i := range sats {
		count := 0
		for _, sample := range sats[i].Samples {
			if sample.IsConnectable {
				count++
			}
		}
		if count > bestCount || (count == bestCount && sats[i].CatalogID < sats[best].CatalogID) {
			best, bestCount = i, count
		}
	}
	return best
}

// theoreticalPeriod maps a constellation to its nominal orbital period.
func theoreticalPeriod(name config.Constellation) time.Duration {
	if p, ok := propagation.MinimumHorizons()[name]; ok {
		return p
	}
	return 95 * time.Minute
}

func (s *Stage) summarize(p *Payload) map[string]interface{} {
	byKind := make(map[Kind]int)
	for _, e := range p.Events {
		byKind[e.Kind]++
	}
	summary := map[string]interface{}{
		"events": len(p.Events),
	}
	for kind, n := range byKind {
		summary["events_"+string(kind)] = n
	}
	for name, stats := range p.PoolVerification {
		summary[string(name)+"_verification_passed"] = stats.Passed
	}
	return summary
}

// ValidateOutput implements pipeline.Stage.
func (s *Stage) ValidateOutput(sc *pipeline.Context, payload interface{}) (pipeline.ValidationResults, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return pipeline.ValidationResults{}, fmt.Errorf("%w: stage 6 payload type", pipeline.ErrUpstreamSchemaMismatch)
	}
	v := pipeline.NewValidation()

	v.Record(pipeline.CheckStructure, p.PoolVerification != nil, "verification block present")
	v.Record(pipeline.CheckCounts, len(p.PoolVerification) > 0,
		fmt.Sprintf("%d constellations verified, %d events", len(p.PoolVerification), len(p.Events)))

	ordered := true
	for i := 1; i < len(p.Events); i++ {
		if p.Events[i].Time.Before(p.Events[i-1].Time) {
			ordered = false
			break
		}
	}
	v.Record(pipeline.CheckRanges, ordered, "events in chronological order")

	tttOK := true
	for _, e := range p.Events {
		if !e.TTTSatisfied {
			tttOK = false
			break
		}
	}
	v.Record(pipeline.CheckConsistency, tttOK, "every event dwelled through its time-to-trigger")

	verified := true
	for _, stats := range p.PoolVerification {
		if !stats.Passed {
			verified = false
			break
		}
	}
	v.Record(pipeline.CheckCompliance, verified, "pool verification passed for every constellation")

	return v.Results(), nil
}
