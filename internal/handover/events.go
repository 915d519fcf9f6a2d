package handover

import (
	"math"
	"time"

	"github.com/asgard/heimdall/internal/frames"
	"github.com/asgard/heimdall/internal/signal"
)

// Kind is the 3GPP measurement-event type.
type Kind string

// Supported NTN measurement events.
const (
	A3 Kind = "A3" // neighbor becomes offset better than serving
	A4 Kind = "A4" // neighbor becomes better than absolute threshold
	A5 Kind = "A5" // serving below threshold1 and neighbor above threshold2
	D2 Kind = "D2" // distance-based: ground distance to sub-satellite points
)

// Record is one emitted event with every parameter in force at trigger
// time, for research auditability.
type Record struct {
	Kind         Kind               `json:"kind"`
	Enter        bool               `json:"enter"`
	Time         time.Time          `json:"time"`
	ServingID    int                `json:"serving_id"`
	NeighborID   int                `json:"neighbor_id,omitempty"`
	HysteresisDB float64            `json:"hysteresis_db"`
	TTTSeconds   float64            `json:"ttt_s"`
	TTTSatisfied bool               `json:"ttt_satisfied"`
	Thresholds   map[string]float64 `json:"thresholds"`
	Measurements map[string]float64 `json:"measurements"`
}

// Params holds the event parameters, all mandatory from config.
type Params struct {
	HysteresisDB    float64
	TTTSeconds      float64
	A3OffsetDB      float64
	A4ThresholdDBm  float64
	A5Threshold1DBm float64
	A5Threshold2DBm float64
	D2Threshold1M   float64
	D2Threshold2M   float64
	D2HysteresisM   float64
	// 3GPP offsets: Ofn/Ofp (measurement object) and Ocn/Ocp (cell
	// individual), applied symmetrically to serving and neighbor.
	MeasurementOffsetDB float64
	CellOffsetDB        float64
}

// tttSamples converts the time-to-trigger into whole grid samples.
func (p Params) tttSamples(step time.Duration) int {
	if step <= 0 {
		return 0
	}
	return int(math.Ceil(p.TTTSeconds / step.Seconds()))
}

// pairDetector runs the per-pair machines for one (serving, neighbor)
// combination across the shared grid.
type pairDetector struct {
	params   Params
	serving  *signal.SatelliteSignals
	neighbor *signal.SatelliteSignals

	a3 *StateMachine
	a4 *StateMachine
	a5 *StateMachine
	d2 *StateMachine
}

func newPairDetector(params Params, step time.Duration, serving, neighbor *signal.SatelliteSignals) *pairDetector {
	ttt := params.tttSamples(step)
	return &pairDetector{
		params:   params,
		serving:  serving,
		neighbor: neighbor,
		a3:       NewStateMachine(ttt),
		a4:       NewStateMachine(ttt),
		a5:       NewStateMachine(ttt),
		d2:       NewStateMachine(ttt),
	}
}

// run walks the grid once, stepping all four machines, and returns every
// emitted record.
func (d *pairDetector) run(ue frames.Geodetic) []Record {
	var out []Record
	p := d.params

	n := len(d.serving.Samples)
	if len(d.neighbor.Samples) < n {
		n = len(d.neighbor.Samples)
	}

	for i := 0; i < n; i++ {
		sv := &d.serving.Samples[i]
		nb := &d.neighbor.Samples[i]
		if !sv.HasSignal || !nb.HasSignal {
			// A gap resets nothing by itself: machines simply do not
			// advance on samples without both measurements.
			continue
		}

		// Mn/Mp with measurement-object and cell-individual offsets.
		mn := nb.RSRPdBm + p.MeasurementOffsetDB + p.CellOffsetDB
		mp := sv.RSRPdBm + p.MeasurementOffsetDB + p.CellOffsetDB

		t := sv.Time
		measure := func(extra map[string]float64) map[string]float64 {
			m := map[string]float64{
				"serving_rsrp_dbm":  sv.RSRPdBm,
				"neighbor_rsrp_dbm": nb.RSRPdBm,
			}
			for k, v := range extra {
				m[k] = v
			}
			return m
		}

		// A3: Mn + Ofn + Ocn - Hys > Mp + Ofp + Ocp + Off.
		a3Enter := mn-p.HysteresisDB > mp+p.A3OffsetDB
		a3Leave := mn+p.HysteresisDB < mp+p.A3OffsetDB
		if tr := d.a3.Step(t, a3Enter, a3Leave); tr != nil {
			out = append(out, d.record(A3, tr, map[string]float64{"a3_offset_db": p.A3OffsetDB}, measure(nil)))
		}

		// A4: Mn + Ofn + Ocn - Hys > Thresh.
		a4Enter := mn-p.HysteresisDB > p.A4ThresholdDBm
		a4Leave := mn+p.HysteresisDB < p.A4ThresholdDBm
		if tr := d.a4.Step(t, a4Enter, a4Leave); tr != nil {
			out = append(out, d.record(A4, tr, map[string]float64{"a4_threshold_dbm": p.A4ThresholdDBm}, measure(nil)))
		}

		// A5: serving worse than Thresh1 AND neighbor better than Thresh2,
		// each side carrying its own hysteresis.
		a5Enter := mp+p.HysteresisDB < p.A5Threshold1DBm && mn-p.HysteresisDB > p.A5Threshold2DBm
		a5Leave := mp-p.HysteresisDB > p.A5Threshold1DBm || mn+p.HysteresisDB < p.A5Threshold2DBm
		if tr := d.a5.Step(t, a5Enter, a5Leave); tr != nil {
			out = append(out, d.record(A5, tr, map[string]float64{
				"a5_threshold1_dbm": p.A5Threshold1DBm,
				"a5_threshold2_dbm": p.A5Threshold2DBm,
			}, measure(nil)))
		}

		// D2: Ml1/Ml2 are ground great-circle distances to the serving and
		// neighbor sub-satellite points, in meters.
		ml1 := GroundDistanceM(ue, sv.Geo.LatDeg, sv.Geo.LonDeg)
		ml2 := GroundDistanceM(ue, nb.Geo.LatDeg, nb.Geo.LonDeg)
		d2Enter := ml1-p.D2HysteresisM > p.D2Threshold1M && ml2+p.D2HysteresisM < p.D2Threshold2M
		d2Leave := ml1+p.D2HysteresisM < p.D2Threshold1M || ml2-p.D2HysteresisM > p.D2Threshold2M
		if tr := d.d2.Step(t, d2Enter, d2Leave); tr != nil {
			out = append(out, d.record(D2, tr, map[string]float64{
				"d2_threshold1_m": p.D2Threshold1M,
				"d2_threshold2_m": p.D2Threshold2M,
			}, measure(map[string]float64{"ml1_m": ml1, "ml2_m": ml2})))
		}
	}
	return out
}

func (d *pairDetector) record(kind Kind, tr *Transition, thresholds, measurements map[string]float64) Record {
	hys := d.params.HysteresisDB
	if kind == D2 {
		hys = d.params.D2HysteresisM
	}
	return Record{
		Kind:         kind,
		Enter:        tr.Enter,
		Time:         tr.Time,
		ServingID:    d.serving.CatalogID,
		NeighborID:   d.neighbor.CatalogID,
		HysteresisDB: hys,
		TTTSeconds:   d.params.TTTSeconds,
		TTTSatisfied: tr.TTTSatisfied,
		Thresholds:   thresholds,
		Measurements: measurements,
	}
}
