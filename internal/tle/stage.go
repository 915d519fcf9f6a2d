package tle

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/observability"
	"github.com/asgard/heimdall/internal/pipeline"
)

// Payload is the stage 1 artifact body: the validated, deduplicated record
// list keyed by catalog id (sorted ascending), plus the calculation epoch
// every later stage anchors to.
type Payload struct {
	CalculationEpoch time.Time `json:"calculation_epoch"`
	Records          []*Record `json:"records"`
}

// Stage implements stage 1: TLE ingest.
type Stage struct {
	cfg *config.Config
}

// NewStage creates the ingest stage.
func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return "stage1" }

// Number implements pipeline.Stage.
func (s *Stage) Number() int { return 1 }

// ValidateInput implements pipeline.Stage.
func (s *Stage) ValidateInput(sc *pipeline.Context) error {
	return s.cfg.Validate()
}

// Execute implements pipeline.Stage.
func (s *Stage) Execute(sc *pipeline.Context) (interface{}, map[string]interface{}, error) {
	var all []*Record
	for name := range s.cfg.Constellations {
		recs, err := LoadDir(s.cfg.Paths.TLEDir, name)
		if err != nil {
			return nil, nil, err
		}
		sc.Log.Info("loaded %d raw records for %s", len(recs), name)
		all = append(all, recs...)
	}

	deduped := Deduplicate(all)
	calcEpoch := CalculationEpoch(deduped)
	kept, err := FilterEpochWindow(deduped, calcEpoch)
	if err != nil {
		return nil, nil, err
	}

	metrics := observability.GetMetrics()
	perConstellation := lo.CountValuesBy(kept, func(r *Record) config.Constellation { return r.Constellation })
	for name, n := range perConstellation {
		metrics.SatellitesProcessed.WithLabelValues(s.Name(), string(name)).Add(float64(n))
	}

	sc.Log.Info("retained %d satellites (from %d raw), calculation epoch %s",
		len(kept), len(all), calcEpoch.Format(time.RFC3339))

	payload := &Payload{CalculationEpoch: calcEpoch, Records: kept}
	summary := map[string]interface{}{
		"raw_records":       len(all),
		"retained":          len(kept),
		"calculation_epoch": calcEpoch,
	}
	for name, n := range perConstellation {
		summary[string(name)+"_count"] = n
	}
	return payload, summary, nil
}

// ValidateOutput implements pipeline.Stage.
func (s *Stage) ValidateOutput(sc *pipeline.Context, payload interface{}) (pipeline.ValidationResults, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return pipeline.ValidationResults{}, fmt.Errorf("%w: stage 1 payload type", pipeline.ErrUpstreamSchemaMismatch)
	}
	v := pipeline.NewValidation()

	v.Record(pipeline.CheckStructure, !p.CalculationEpoch.IsZero() && p.Records != nil, "epoch and record list present")
	v.Record(pipeline.CheckCounts, len(p.Records) > 0, fmt.Sprintf("%d records", len(p.Records)))

	rangesOK := true
	sorted := true
	for i, r := range p.Records {
		if r.validateRanges() != nil {
			rangesOK = false
			break
		}
		if i > 0 && p.Records[i-1].CatalogID >= r.CatalogID {
			sorted = false
			break
		}
	}
	v.Record(pipeline.CheckRanges, rangesOK, "element physical bounds")
	v.Record(pipeline.CheckConsistency, sorted, "records sorted and unique by catalog id")

	// No mocked records and no wall-clock epochs in a production run.
	compliant := true
	for _, r := range p.Records {
		if r.Line1 == "" || r.Line2 == "" {
			compliant = false
			break
		}
	}
	v.Record(pipeline.CheckCompliance, compliant, "all records carry source TLE lines")

	return v.Results(), nil
}
