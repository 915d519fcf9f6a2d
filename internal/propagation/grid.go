// Package propagation implements stage 2: SGP4 propagation of every
// satellite across a uniform per-constellation time grid.
package propagation

import (
	"fmt"
	"time"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/pipeline"
)

// Grid is the uniform sample grid one constellation is propagated on. The
// base is derived from TLE epochs, never from wall clock.
type Grid struct {
	Base    time.Time     `json:"base"`
	Step    time.Duration `json:"step_ns"`
	Samples int           `json:"samples"`
}

// NewGrid builds the grid for a constellation: anchored at the calculation
// epoch truncated to a whole second, covering the configured horizon.
func NewGrid(calcEpoch time.Time, step, horizon time.Duration) (Grid, error) {
	if step <= 0 {
		return Grid{}, fmt.Errorf("%w: grid step %s", pipeline.ErrValueOutOfRange, step)
	}
	if horizon < step {
		return Grid{}, fmt.Errorf("%w: horizon %s shorter than step", pipeline.ErrValueOutOfRange, horizon)
	}
	samples := int(horizon/step) + 1
	return Grid{
		Base:    calcEpoch.UTC().Truncate(time.Second),
		Step:    step,
		Samples: samples,
	}, nil
}

// At returns the i-th grid time.
func (g Grid) At(i int) time.Time {
	return g.Base.Add(time.Duration(i) * g.Step)
}

// Times materializes the full grid.
func (g Grid) Times() []time.Time {
	out := make([]time.Time, g.Samples)
	for i := range out {
		out[i] = g.At(i)
	}
	return out
}

// MinimumHorizons returns the per-constellation lower bounds one orbital
// period imposes on the configured horizon.
func MinimumHorizons() map[config.Constellation]time.Duration {
	return map[config.Constellation]time.Duration{
		config.Starlink: 95 * time.Minute,
		config.OneWeb:   110 * time.Minute,
	}
}

// ValidateHorizon checks that a configured horizon covers the minimum for
// its constellation.
func ValidateHorizon(name config.Constellation, horizon time.Duration) error {
	min, ok := MinimumHorizons()[name]
	if !ok {
		return nil
	}
	if horizon < min {
		return fmt.Errorf("%w: %s horizon %s below one orbital period (%s)",
			pipeline.ErrValueOutOfRange, name, horizon, min)
	}
	return nil
}
