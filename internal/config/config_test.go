package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/asgard/heimdall/internal/pipeline"
)

func fullConfig() *Config {
	f := func(v float64) *float64 { return &v }
	i := func(v int) *int { return &v }
	return &Config{
		Observer: Observer{LatitudeDeg: 24.9439, LongitudeDeg: 121.3708, AltitudeM: 50},
		Constellations: map[Constellation]*ConstellationProfile{
			Starlink: {
				ElevationThresholdDeg: f(5),
				HorizonMinutes:        f(95),
				TargetVisibleMin:      i(10),
				TargetVisibleMax:      i(15),
			},
			OneWeb: {
				ElevationThresholdDeg: f(10),
				HorizonMinutes:        f(110),
				TargetVisibleMin:      i(3),
				TargetVisibleMax:      i(6),
			},
		},
		Grid: GridParams{StepSeconds: f(30)},
		RF: RFParams{
			FrequencyGHz:     f(12),
			EIRPdBW:          f(50),
			RxAntennaGainDB:  f(35),
			CableLossDB:      f(2),
			NoiseFigureDB:    f(7),
			BandwidthMHz:     f(20),
			ResourceBlocks:   i(106),
			InterferenceDBm:  f(-110),
			CellIndividualDB: f(0),
			FreqOffsetDB:     f(0),
		},
		Events: EventParams{
			HysteresisDB:    f(2),
			TimeToTrigger:   f(90),
			A3OffsetDB:      f(3),
			A4ThresholdDBm:  f(-100),
			A5Threshold1DBm: f(-105),
			A5Threshold2DBm: f(-95),
			D2Threshold1M:   f(1.2e6),
			D2Threshold2M:   f(6.0e5),
			D2HysteresisM:   f(5000),
		},
		Paths: Paths{TLEDir: "tle", IERSFile: "finals2000A.all", OutputDir: "data"},
	}
}

func TestValidateComplete(t *testing.T) {
	if err := fullConfig().Validate(); err != nil {
		t.Fatalf("complete config must validate: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"frequency", func(c *Config) { c.RF.FrequencyGHz = nil }, "frequency_ghz"},
		{"noise figure", func(c *Config) { c.RF.NoiseFigureDB = nil }, "noise_figure_db"},
		{"hysteresis", func(c *Config) { c.Events.HysteresisDB = nil }, "hysteresis_db"},
		{"ttt", func(c *Config) { c.Events.TimeToTrigger = nil }, "time_to_trigger_s"},
		{"d2 threshold", func(c *Config) { c.Events.D2Threshold1M = nil }, "d2_threshold1_m"},
		{"elevation", func(c *Config) { c.Constellations[Starlink].ElevationThresholdDeg = nil }, "elevation_threshold_deg"},
		{"step", func(c *Config) { c.Grid.StepSeconds = nil }, "step_seconds"},
		{"tle dir", func(c *Config) { c.Paths.TLEDir = "" }, "tle_dir"},
		{"iers file", func(c *Config) { c.Paths.IERSFile = "" }, "iers_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fullConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, pipeline.ErrMissingConfigField) {
				t.Fatalf("want ErrMissingConfigField, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should name %s", err, tt.field)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := fullConfig()
	bad := 120.0
	cfg.Constellations[Starlink].ElevationThresholdDeg = &bad
	if err := cfg.Validate(); !errors.Is(err, pipeline.ErrValueOutOfRange) {
		t.Errorf("elevation 120 must be rejected, got %v", err)
	}

	cfg = fullConfig()
	step := 60.0
	cfg.Grid.StepSeconds = &step
	if err := cfg.Validate(); !errors.Is(err, pipeline.ErrValueOutOfRange) {
		t.Errorf("60 s step exceeds the 30 s bound, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SAMPLING_MODE", "1")
	t.Setenv("TEST_MODE", "0")
	t.Setenv("MAX_WORKERS", "6")

	cfg := fullConfig()
	cfg.ApplyEnv()
	if !cfg.SamplingMode || cfg.TestMode {
		t.Errorf("sampling=%v test=%v", cfg.SamplingMode, cfg.TestMode)
	}
	if cfg.MaxWorkers != 6 {
		t.Errorf("workers = %d, want 6", cfg.MaxWorkers)
	}
}

func TestStepAndHorizon(t *testing.T) {
	cfg := fullConfig()
	if cfg.Step().Seconds() != 30 {
		t.Errorf("step = %s", cfg.Step())
	}
	if cfg.Horizon(OneWeb).Minutes() != 110 {
		t.Errorf("oneweb horizon = %s", cfg.Horizon(OneWeb))
	}
}
