package handover

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/asgard/heimdall/internal/signal"
)

// Verification thresholds.
const (
	// CoverageRateFloor is the minimum fraction of grid points whose
	// visible count sits inside the target band.
	CoverageRateFloor = 0.95
	// PeriodCoverageFloor is the minimum span of the series relative to
	// one theoretical orbital period.
	PeriodCoverageFloor = 0.9
	// MaxGapFactor bounds the largest inter-sample gap against the mean.
	MaxGapFactor = 3.0
	// MinWindow is the shortest acceptable longest-continuous-visibility
	// run on the sampled subset.
	MinWindow = 5 * time.Minute
	// windowSubsetSize is how many pool satellites the continuity check
	// samples.
	windowSubsetSize = 10
)

// PoolStats is the per-constellation verification result.
type PoolStats struct {
	MeanVisible         float64 `json:"mean_visible"`
	CoverageRate        float64 `json:"coverage_rate"`
	PeriodCoverageRatio float64 `json:"orbital_period_coverage_ratio"`
	MaxGapSeconds       float64 `json:"max_gap_s"`
	MeanGapSeconds      float64 `json:"mean_gap_s"`
	LongestWindowSec    float64 `json:"longest_window_s"`

	MeanVisibleInBand bool `json:"mean_visible_in_band"`
	PeriodCoverageOK  bool `json:"period_coverage_ok"`
	GapUniformityOK   bool `json:"gap_uniformity_ok"`
	WindowOK          bool `json:"window_ok"`
	CoverageRateOK    bool `json:"coverage_rate_ok"`
	Passed            bool `json:"passed"`
}

// VerifyPool runs the four sub-checks plus the coverage-rate floor for one
// constellation's measurement series.
func VerifyPool(sats []signal.SatelliteSignals, bandMin, bandMax int, theoreticalPeriod time.Duration) PoolStats {
	var stats PoolStats
	if len(sats) == 0 {
		return stats
	}

	// All series share the grid; take timestamps from the longest.
	ref := 0
	for i := range sats {
		if len(sats[i].Samples) > len(sats[ref].Samples) {
			ref = i
		}
	}
	grid := sats[ref].Samples
	n := len(grid)
	if n == 0 {
		return stats
	}

	// Visible count per grid step.
	counts := make([]float64, n)
	for i := 0; i < n; i++ {
		c := 0.0
		for s := range sats {
			if i < len(sats[s].Samples) && sats[s].Samples[i].IsConnectable {
				c++
			}
		}
		counts[i] = c
	}
	stats.MeanVisible = stat.Mean(counts, nil)
	stats.MeanVisibleInBand = stats.MeanVisible >= float64(bandMin) && stats.MeanVisible <= float64(bandMax)

	inBand := 0
	for _, c := range counts {
		if c >= float64(bandMin) && c <= float64(bandMax) {
			inBand++
		}
	}
	stats.CoverageRate = float64(inBand) / float64(n)
	stats.CoverageRateOK = stats.CoverageRate >= CoverageRateFloor

	// Span vs one orbital period.
	span := grid[n-1].Time.Sub(grid[0].Time)
	stats.PeriodCoverageRatio = span.Seconds() / theoreticalPeriod.Seconds()
	stats.PeriodCoverageOK = stats.PeriodCoverageRatio >= PeriodCoverageFloor

	// Gap uniformity.
	if n > 1 {
		gaps := make([]float64, n-1)
		for i := 1; i < n; i++ {
			gaps[i-1] = grid[i].Time.Sub(grid[i-1].Time).Seconds()
		}
		stats.MaxGapSeconds = floats.Max(gaps)
		stats.MeanGapSeconds = stat.Mean(gaps, nil)
		stats.GapUniformityOK = stats.MaxGapSeconds <= MaxGapFactor*stats.MeanGapSeconds
	}

	// Longest continuous connectable run on a sampled subset.
	subset := len(sats)
	if subset > windowSubsetSize {
		subset = windowSubsetSize
	}
	var longest time.Duration
	for s := 0; s < subset; s++ {
		if w := longestWindow(sats[s].Samples); w > longest {
			longest = w
		}
	}
	stats.LongestWindowSec = longest.Seconds()
	stats.WindowOK = longest >= MinWindow

	stats.Passed = stats.MeanVisibleInBand && stats.PeriodCoverageOK &&
		stats.GapUniformityOK && stats.WindowOK && stats.CoverageRateOK
	return stats
}

// longestWindow finds the longest run of consecutive connectable samples.
func longestWindow(samples []signal.Sample) time.Duration {
	var longest, current time.Duration
	runStart := -1
	for i, s := range samples {
		if s.IsConnectable {
			if runStart < 0 {
				runStart = i
			}
			current = samples[i].Time.Sub(samples[runStart].Time)
			if current > longest {
				longest = current
			}
		} else {
			runStart = -1
		}
	}
	return longest
}
