// Package config defines the run configuration consumed by the pipeline
// stages. Every radio and event parameter is mandatory: absent fields fail
// validation instead of falling back to defaults, which keeps research runs
// auditable.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/asgard/heimdall/internal/pipeline"
)

// Constellation identifies a supported mega-constellation.
type Constellation string

const (
	Starlink Constellation = "starlink"
	OneWeb   Constellation = "oneweb"
)

// Observer is the fixed ground station for the run.
type Observer struct {
	LatitudeDeg  float64 `json:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg"`
	AltitudeM    float64 `json:"altitude_m"`
}

// ConstellationProfile holds the per-constellation mission parameters.
type ConstellationProfile struct {
	// Minimum elevation for a connectable link (degrees).
	ElevationThresholdDeg *float64 `json:"elevation_threshold_deg"`
	// Propagation horizon; must cover one orbital period.
	HorizonMinutes *float64 `json:"horizon_minutes"`
	// Target visible-count band for pool verification.
	TargetVisibleMin *int `json:"target_visible_min"`
	TargetVisibleMax *int `json:"target_visible_max"`
}

// GridParams controls the uniform time grid all stages share.
type GridParams struct {
	StepSeconds *float64 `json:"step_seconds"`
}

// RFParams holds the radio-layer parameters for stage 5. All fields are
// pointers so an omitted field is distinguishable from a provided zero.
type RFParams struct {
	FrequencyGHz     *float64 `json:"frequency_ghz"`
	EIRPdBW          *float64 `json:"eirp_dbw"`
	RxAntennaGainDB  *float64 `json:"rx_antenna_gain_db"`
	CableLossDB      *float64 `json:"cable_loss_db"`
	NoiseFigureDB    *float64 `json:"noise_figure_db"`
	BandwidthMHz     *float64 `json:"bandwidth_mhz"`
	ResourceBlocks   *int     `json:"resource_blocks"`
	InterferenceDBm  *float64 `json:"interference_floor_dbm"`
	CellIndividualDB *float64 `json:"cell_individual_offset_db"`
	FreqOffsetDB     *float64 `json:"measurement_offset_db"`
}

// EventParams holds the 3GPP measurement-event parameters for stage 6.
type EventParams struct {
	HysteresisDB    *float64 `json:"hysteresis_db"`
	TimeToTrigger   *float64 `json:"time_to_trigger_s"`
	A3OffsetDB      *float64 `json:"a3_offset_db"`
	A4ThresholdDBm  *float64 `json:"a4_threshold_dbm"`
	A5Threshold1DBm *float64 `json:"a5_threshold1_dbm"`
	A5Threshold2DBm *float64 `json:"a5_threshold2_dbm"`
	D2Threshold1M   *float64 `json:"d2_threshold1_m"`
	D2Threshold2M   *float64 `json:"d2_threshold2_m"`
	D2HysteresisM   *float64 `json:"d2_hysteresis_m"`
}

// Paths locates run inputs and outputs.
type Paths struct {
	TLEDir    string `json:"tle_dir"`
	IERSFile  string `json:"iers_file"`
	OutputDir string `json:"output_dir"`
}

// Config is the complete run configuration.
type Config struct {
	Observer       Observer                                 `json:"observer"`
	Constellations map[Constellation]*ConstellationProfile `json:"constellations"`
	Grid           GridParams                               `json:"grid"`
	RF             RFParams                                 `json:"rf"`
	Events         EventParams                              `json:"events"`
	Paths          Paths                                    `json:"paths"`
	NATSURL        string                                   `json:"nats_url,omitempty"`

	// Environment-derived knobs, set by ApplyEnv.
	SamplingMode bool `json:"-"`
	TestMode     bool `json:"-"`
	MaxWorkers   int  `json:"-"`
}

// Load reads a configuration file. File format particulars beyond the schema
// are the caller's concern; the core consumes the resulting struct.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyEnv()
	return &cfg, nil
}

// ApplyEnv folds SAMPLING_MODE, TEST_MODE, and MAX_WORKERS into the config.
func (c *Config) ApplyEnv() {
	c.SamplingMode = os.Getenv("SAMPLING_MODE") == "1"
	c.TestMode = os.Getenv("TEST_MODE") == "1"
	c.MaxWorkers = runtime.NumCPU()
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxWorkers = n
		}
	}
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", pipeline.ErrMissingConfigField, field)
}

// Validate checks that every mandatory parameter was provided and is in
// physical range. It reports the first missing field.
func (c *Config) Validate() error {
	if c.Observer.LatitudeDeg < -90 || c.Observer.LatitudeDeg > 90 {
		return fmt.Errorf("%w: observer.latitude_deg %.4f", pipeline.ErrValueOutOfRange, c.Observer.LatitudeDeg)
	}
	if c.Observer.LongitudeDeg < -180 || c.Observer.LongitudeDeg > 360 {
		return fmt.Errorf("%w: observer.longitude_deg %.4f", pipeline.ErrValueOutOfRange, c.Observer.LongitudeDeg)
	}
	if len(c.Constellations) == 0 {
		return missing("constellations")
	}
	for name, p := range c.Constellations {
		if p == nil || p.ElevationThresholdDeg == nil {
			return missing(string(name) + ".elevation_threshold_deg")
		}
		if p.HorizonMinutes == nil {
			return missing(string(name) + ".horizon_minutes")
		}
		if p.TargetVisibleMin == nil || p.TargetVisibleMax == nil {
			return missing(string(name) + ".target_visible band")
		}
		if *p.ElevationThresholdDeg < 0 || *p.ElevationThresholdDeg > 90 {
			return fmt.Errorf("%w: %s.elevation_threshold_deg %.2f", pipeline.ErrValueOutOfRange, name, *p.ElevationThresholdDeg)
		}
	}
	if c.Grid.StepSeconds == nil {
		return missing("grid.step_seconds")
	}
	if *c.Grid.StepSeconds <= 0 || *c.Grid.StepSeconds > 30 {
		return fmt.Errorf("%w: grid.step_seconds %.1f (0 < step <= 30)", pipeline.ErrValueOutOfRange, *c.Grid.StepSeconds)
	}

	rf := []struct {
		name string
		set  bool
	}{
		{"rf.frequency_ghz", c.RF.FrequencyGHz != nil},
		{"rf.eirp_dbw", c.RF.EIRPdBW != nil},
		{"rf.rx_antenna_gain_db", c.RF.RxAntennaGainDB != nil},
		{"rf.cable_loss_db", c.RF.CableLossDB != nil},
		{"rf.noise_figure_db", c.RF.NoiseFigureDB != nil},
		{"rf.bandwidth_mhz", c.RF.BandwidthMHz != nil},
		{"rf.resource_blocks", c.RF.ResourceBlocks != nil},
		{"rf.interference_floor_dbm", c.RF.InterferenceDBm != nil},
		{"rf.cell_individual_offset_db", c.RF.CellIndividualDB != nil},
		{"rf.measurement_offset_db", c.RF.FreqOffsetDB != nil},
	}
	for _, f := range rf {
		if !f.set {
			return missing(f.name)
		}
	}
	if *c.RF.FrequencyGHz <= 0 {
		return fmt.Errorf("%w: rf.frequency_ghz %.3f", pipeline.ErrValueOutOfRange, *c.RF.FrequencyGHz)
	}

	ev := []struct {
		name string
		set  bool
	}{
		{"events.hysteresis_db", c.Events.HysteresisDB != nil},
		{"events.time_to_trigger_s", c.Events.TimeToTrigger != nil},
		{"events.a3_offset_db", c.Events.A3OffsetDB != nil},
		{"events.a4_threshold_dbm", c.Events.A4ThresholdDBm != nil},
		{"events.a5_threshold1_dbm", c.Events.A5Threshold1DBm != nil},
		{"events.a5_threshold2_dbm", c.Events.A5Threshold2DBm != nil},
		{"events.d2_threshold1_m", c.Events.D2Threshold1M != nil},
		{"events.d2_threshold2_m", c.Events.D2Threshold2M != nil},
		{"events.d2_hysteresis_m", c.Events.D2HysteresisM != nil},
	}
	for _, f := range ev {
		if !f.set {
			return missing(f.name)
		}
	}

	if c.Paths.TLEDir == "" {
		return missing("paths.tle_dir")
	}
	if c.Paths.IERSFile == "" {
		return missing("paths.iers_file")
	}
	if c.Paths.OutputDir == "" {
		return missing("paths.output_dir")
	}
	return nil
}

// Step returns the grid step as a duration.
func (c *Config) Step() time.Duration {
	return time.Duration(*c.Grid.StepSeconds * float64(time.Second))
}

// Horizon returns the propagation horizon for a constellation.
func (c *Config) Horizon(name Constellation) time.Duration {
	return time.Duration(*c.Constellations[name].HorizonMinutes * float64(time.Minute))
}
