package frames

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/alitto/pond"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/observability"
	"github.com/asgard/heimdall/internal/pipeline"
	"github.com/asgard/heimdall/internal/propagation"
)

// AlgorithmVersion participates in the stage 3 cache key.
const AlgorithmVersion = "iau2000-itrs-v1"

// maxConsecutiveInvalid mirrors the stage 2 drop policy.
const maxConsecutiveInvalid = 3

// prefilterMarginDeg widens the spherical-Earth prefilter so it only ever
// discards satellites that are unambiguously below the horizon for the
// whole window. Retained satellites always get the full IAU chain.
const prefilterMarginDeg = 10.0

// Sample is one transformed state: WGS84 geodetic plus the ECEF vectors
// downstream distance and Doppler math consume.
type Sample struct {
	Time   time.Time  `json:"time"`
	Geo    Geodetic   `json:"geodetic"`
	PosKm  [3]float64 `json:"pos_ecef_km"`
	VelKmS [3]float64 `json:"vel_ecef_km_s"`
	Valid  bool       `json:"valid"`
}

// SatelliteTrack is one satellite's transformed series. FullChain records
// that every valid sample went through the complete IAU chain; the
// spherical prefilter never produces final coordinates.
type SatelliteTrack struct {
	CatalogID     int                  `json:"catalog_id"`
	Name          string               `json:"name"`
	Constellation config.Constellation `json:"constellation"`
	FullChain     bool                 `json:"full_chain"`
	Samples       []Sample             `json:"samples"`
}

// Payload is the stage 3 artifact body.
type Payload struct {
	CalculationEpoch time.Time        `json:"calculation_epoch"`
	IERSFingerprint  string           `json:"iers_fingerprint"`
	Satellites       []SatelliteTrack `json:"satellites"`
	PrefilteredOut   int              `json:"prefiltered_out"`
	Algorithm        string           `json:"algorithm"`
}

// Stage implements stage 3: coordinate transformation.
type Stage struct {
	cfg *config.Config
	eop *EOPTable
}

// NewStage creates the transform stage. The Earth-orientation table is
// loaded in ValidateInput so a missing file aborts before any work.
func NewStage(cfg *config.Config) *Stage {
	return &Stage{cfg: cfg}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string { return "stage3" }

// Number implements pipeline.Stage.
func (s *Stage) Number() int { return 3 }

// ValidateInput implements pipeline.Stage.
func (s *Stage) ValidateInput(sc *pipeline.Context) error {
	if sc.Upstream == nil {
		return fmt.Errorf("%w: stage 2", pipeline.ErrUpstreamArtifactMissing)
	}
	eop, err := LoadEOP(s.cfg.Paths.IERSFile)
	if err != nil {
		return err
	}
	if eop.FileAge > IERSStaleAfter {
		sc.Log.Warn("IERS finals file is %.0f days old; refresh recommended", eop.FileAge.Hours()/24)
	}
	s.eop = eop
	return nil
}

func (s *Stage) upstreamPayload(sc *pipeline.Context) (*propagation.Payload, error) {
	var p propagation.Payload
	if err := json.Unmarshal(sc.Upstream.Data, &p); err != nil {
		return nil, fmt.Errorf("%w: stage 2 payload: %v", pipeline.ErrUpstreamSchemaMismatch, err)
	}
	if len(p.Satellites) == 0 {
		return nil, fmt.Errorf("%w: stage 2 payload empty", pipeline.ErrUpstreamSchemaMismatch)
	}
	return &p, nil
}

// Execute implements pipeline.Stage.
func (s *Stage) Execute(sc *pipeline.Context) (interface{}, map[string]interface{}, error) {
	up, err := s.upstreamPayload(sc)
	if err != nil {
		return nil, nil, err
	}

	cacheKey := pipeline.Key(sc.Upstream.Metadata.Fingerprint, s.eop.Fingerprint, AlgorithmVersion)
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

	// Rotations depend only on time; compute them once per grid instant
	// before the per-satellite fan-out. A missing Earth-orientation epoch
	// aborts here, before any satellite work.
	tr := NewTransformer(s.eop)
	rotations := make(map[int64]Rotations)
	for _, grid := range up.Grids {
		for i := 0; i < grid.Samples; i++ {
			t := grid.At(i)
			key := t.UnixNano()
			if _, ok := rotations[key]; ok {
				continue
			}
			rot, err := tr.At(t)
			if err != nil {
				return nil, nil, err
			}
			rotations[key] = rot
		}
	}

	observer := Geodetic{
		LatDeg: s.cfg.Observer.LatitudeDeg,
		LonDeg: s.cfg.Observer.LongitudeDeg,
		AltM:   s.cfg.Observer.AltitudeM,
	}

	results := make([]*SatelliteTrack, len(up.Satellites))
	prefiltered := make([]bool, len(up.Satellites))
	pool := pond.New(sc.Workers, len(up.Satellites))
	for i := range up.Satellites {
		if sc.Cancel.Cancelled() {
			break
		}
		i := i
		sat := &up.Satellites[i]
		threshold := *s.cfg.Constellations[sat.Constellation].ElevationThresholdDeg
		pool.Submit(func() {
			if belowHorizonAllWindow(sat, observer, threshold) {
				prefiltered[i] = true
				return
			}
			results[i] = transformSatellite(sat, rotations)
		})
	}
	pool.StopAndWait()

	if sc.Cancel.Cancelled() {
		return nil, nil, fmt.Errorf("stage 3 cancelled")
	}

	payload := &Payload{
		CalculationEpoch: up.CalculationEpoch,
		IERSFingerprint:  s.eop.Fingerprint,
		Algorithm:        AlgorithmVersion,
	}
	dropped := 0
	for i, r := range results {
		if prefiltered[i] {
			payload.PrefilteredOut++
			continue
		}
		if r == nil {
			dropped++
			continue
		}
		payload.Satellites = append(payload.Satellites, *r)
		metrics.SatellitesProcessed.WithLabelValues(s.Name(), string(r.Constellation)).Inc()
		metrics.SamplesComputed.WithLabelValues(s.Name()).Add(float64(len(r.Samples)))
	}
	if dropped > 0 {
		metrics.SatellitesDropped.WithLabelValues(s.Name(), "all").Add(float64(dropped))
	}
	if len(payload.Satellites) == 0 {
		return nil, nil, fmt.Errorf("%w: no satellite survived transformation", pipeline.ErrEmptyInput)
	}
	sc.Log.Info("transformed %d satellites (%d prefiltered below horizon, %d dropped)",
		len(payload.Satellites), payload.PrefilteredOut, dropped)

	if err := sc.Cache.Put(cacheKey, payload); err != nil {
		sc.Log.Warn("cache put: %v", err)
	}
	return payload, s.summarize(payload), nil
}

func (s *Stage) summarize(p *Payload) map[string]interface{} {
	return map[string]interface{}{
		"satellites":      len(p.Satellites),
		"prefiltered_out": p.PrefilteredOut,
		"iers":            p.IERSFingerprint[:12],
		"algorithm":       p.Algorithm,
	}
}

// belowHorizonAllWindow is the spherical-Earth prefilter. It uses a crude
// GMST-only rotation and a spherical central-angle bound; its verdict is
// only ever used to skip work, never as a final geometric answer.
func belowHorizonAllWindow(sat *propagation.SatelliteSeries, observer Geodetic, thresholdDeg float64) bool {
	obsLat := observer.LatDeg * deg2rad
	obsLon := observer.LonDeg * deg2rad

	for i := 0; i < len(sat.States); i += 10 {
		st := &sat.States[i]
		if !st.Valid {
			continue
		}
		gmst := GMST(JulianDate(st.Time))
		lon := math.Atan2(st.PosKm[1], st.PosKm[0]) - gmst
		r := math.Sqrt(st.PosKm[0]*st.PosKm[0] + st.PosKm[1]*st.PosKm[1] + st.PosKm[2]*st.PosKm[2])
		lat := math.Asin(st.PosKm[2] / r)

		// Central angle between sub-satellite point and observer.
		cosC := math.Sin(obsLat)*math.Sin(lat) + math.Cos(obsLat)*math.Cos(lat)*math.Cos(lon-obsLon)
		c := math.Acos(math.Max(-1, math.Min(1, cosC)))

		// Maximum central angle at which the satellite can clear the
		// elevation threshold, minus a generous margin.
		el := (thresholdDeg - prefilterMarginDeg) * deg2rad
		maxC := math.Acos(WGS84AKm/r*math.Cos(el)) - el
		if c < maxC {
			return false
		}
	}
	return true
}

// transformSatellite applies the full IAU chain to every sample. A nil
// return drops the satellite after consecutive singular transforms.
func transformSatellite(sat *propagation.SatelliteSeries, rotations map[int64]Rotations) *SatelliteTrack {
	track := &SatelliteTrack{
		CatalogID:     sat.CatalogID,
		Name:          sat.Name,
		Constellation: sat.Constellation,
		FullChain:     true,
		Samples:       make([]Sample, len(sat.States)),
	}

	consecutiveInvalid := 0
	for i, st := range sat.States {
		sample := Sample{Time: st.Time}
		if st.Valid {
			rot, ok := rotations[st.Time.UnixNano()]
			if ok {
				pos := rot.TEMEToITRS.Apply(st.PosKm)
				v := rot.TEMEToITRS.Apply(st.VelKmS)
				vel := [3]float64{
					v[0] + EarthRotationRadS*pos[1],
					v[1] - EarthRotationRadS*pos[0],
					v[2],
				}
				if geo, err := GeodeticFromECEF(pos); err == nil {
					sample.Geo = geo
					sample.PosKm = pos
					sample.VelKmS = vel
					sample.Valid = true
				}
			}
		}
		track.Samples[i] = sample

		if sample.Valid {
			consecutiveInvalid = 0
			continue
		}
		consecutiveInvalid++
		if consecutiveInvalid >= maxConsecutiveInvalid {
			return nil
		}
	}
	return track
}

// ValidateOutput implements pipeline.Stage.
func (s *Stage) ValidateOutput(sc *pipeline.Context, payload interface{}) (pipeline.ValidationResults, error) {
	p, ok := payload.(*Payload)
	if !ok {
		return pipeline.ValidationResults{}, fmt.Errorf("%w: stage 3 payload type", pipeline.ErrUpstreamSchemaMismatch)
	}
	v := pipeline.NewValidation()

	v.Record(pipeline.CheckStructure, p.IERSFingerprint != "" && p.Algorithm == AlgorithmVersion, "IERS revision and algorithm recorded")
	v.Record(pipeline.CheckCounts, len(p.Satellites) > 0, fmt.Sprintf("%d satellites", len(p.Satellites)))

	rangesOK := true
	for _, sat := range p.Satellites {
		for _, sample := range sat.Samples {
			if !sample.Valid {
				continue
			}
			altKm := sample.Geo.AltM / 1000.0
			if altKm <= 200 || altKm >= 2500 ||
				sample.Geo.LatDeg < -90 || sample.Geo.LatDeg > 90 {
				rangesOK = false
				break
			}
		}
		if !rangesOK {
			break
		}
	}
	v.Record(pipeline.CheckRanges, rangesOK, "geodetic altitudes inside the LEO shell")

	sorted := true
	for i := 1; i < len(p.Satellites); i++ {
		if p.Satellites[i-1].CatalogID >= p.Satellites[i].CatalogID {
			sorted = false
			break
		}
	}
	v.Record(pipeline.CheckConsistency, sorted, "sorted by catalog id")

	fullChain := true
	for _, sat := range p.Satellites {
		if !sat.FullChain {
			fullChain = false
			break
		}
	}
	v.Record(pipeline.CheckCompliance, fullChain, "every retained satellite carries the full-chain marker")

	return v.Results(), nil
}

// IsMissingIERS reports whether err is the missing-Earth-orientation error,
// for orchestrator exit-code mapping.
func IsMissingIERS(err error) bool {
	return errors.Is(err, pipeline.ErrMissingIERSData)
}
