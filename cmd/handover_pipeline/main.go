// Command handover_pipeline runs the six-stage LEO handover measurement
// pipeline end to end. Everything it needs comes from the environment and
// a single config path argument; per-stage behavior lives in the internal
// packages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/asgard/heimdall/internal/config"
	"github.com/asgard/heimdall/internal/frames"
	"github.com/asgard/heimdall/internal/handover"
	"github.com/asgard/heimdall/internal/logging"
	"github.com/asgard/heimdall/internal/pipeline"
	"github.com/asgard/heimdall/internal/propagation"
	"github.com/asgard/heimdall/internal/publish"
	"github.com/asgard/heimdall/internal/signal"
	"github.com/asgard/heimdall/internal/tle"
	"github.com/asgard/heimdall/internal/visibility"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; explicit environment always wins.
	_ = godotenv.Load()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: handover_pipeline <config.json>")
		return 1
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	runID := uuid.NewString()[:8]
	log := logging.New(runID)
	log.Info("starting pipeline run (workers=%d sampling=%v test=%v)",
		cfg.MaxWorkers, cfg.SamplingMode, cfg.TestMode)

	tracer, shutdown, err := setupTracing()
	if err != nil {
		log.Warn("tracing disabled: %v", err)
	}
	if shutdown != nil {
		defer shutdown()
	}

	publisher, err := publish.New(publish.Config{URL: cfg.NATSURL}, log)
	if err != nil {
		log.Warn("event publication disabled: %v", err)
	}
	defer publisher.Close()

	cancel := &pipeline.CancelFlag{}
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("interrupt received, cancelling between satellites")
		cancel.Cancel()
	}()

	sc := &pipeline.Context{
		Ctx:        context.Background(),
		Log:        log,
		RunID:      runID,
		OutputRoot: cfg.Paths.OutputDir,
		Cache:      pipeline.NewCache(filepath.Join(cfg.Paths.OutputDir, "cache")),
		Cancel:     cancel,
		Workers:    cfg.MaxWorkers,
	}

	runner := pipeline.NewRunner(tracer, publisher)
	stages := []pipeline.Stage{
		tle.NewStage(cfg),
		propagation.NewStage(cfg),
		frames.NewStage(cfg),
		visibility.NewStage(cfg),
		signal.NewStage(cfg),
		handover.NewStage(cfg),
	}

	var last *pipeline.Artifact
	for _, stage := range stages {
		sc.Upstream = last
		art, err := runner.Run(sc, stage)
		if err != nil {
			return pipeline.ExitCode(err)
		}
		last = art
	}

	if publisher != nil && last != nil {
		var final handover.Payload
		if err := json.Unmarshal(last.Data, &final); err == nil {
			if err := publisher.HandoverEvents(runID, final.Events); err != nil {
				log.Warn("publish handover events: %v", err)
			}
		}
	}

	log.Info("pipeline complete")
	return 0
}

// setupTracing installs the stdout span exporter when HEIMDALL_TRACE=1.
func setupTracing() (trace.Tracer, func(), error) {
	if os.Getenv("HEIMDALL_TRACE") != "1" {
		return nil, nil, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return otel.Tracer("heimdall/pipeline"), func() {
		_ = tp.Shutdown(context.Background())
	}, nil
}
