package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/asgard/heimdall/internal/observability"
)

// Notifier receives stage lifecycle notifications. The NATS publisher
// implements it; a nil notifier disables publication.
type Notifier interface {
	StageCompleted(stage string, runID string, summary map[string]interface{}) error
}

// Runner composes the stage lifecycle: validate input, execute, validate
// output, persist the artifact, write the validation snapshot.
type Runner struct {
	tracer   trace.Tracer
	metrics  *observability.Metrics
	notifier Notifier
}

// NewRunner creates a runner. tracer may be nil (no tracing), notifier may
// be nil (no publication).
func NewRunner(tracer trace.Tracer, notifier Notifier) *Runner {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("heimdall/pipeline")
	}
	return &Runner{
		tracer:   tracer,
		metrics:  observability.GetMetrics(),
		notifier: notifier,
	}
}

// Run executes one stage to completion and returns its artifact. Any error
// is a *StageError carrying the stage number for exit-code mapping. No
// JSON artifact or snapshot is left behind on failure.
func (r *Runner) Run(sc *Context, stage Stage) (*Artifact, error) {
	name := stage.Name()
	number := stage.Number()
	log := sc.Log.Stage(name)

	// Stages are independently runnable: without an in-memory upstream,
	// pick up the newest artifact the prior stage persisted.
	upstream := sc.Upstream
	if upstream == nil && number > 1 {
		art, err := LatestArtifact(sc.OutputRoot, number-1)
		if err == nil {
			upstream = art
			log.Info("resuming from persisted stage %d artifact", number-1)
		}
	}

	sc = &Context{
		Ctx:        sc.Ctx,
		Log:        log,
		RunID:      sc.RunID,
		OutputRoot: sc.OutputRoot,
		Upstream:   upstream,
		Cache:      sc.Cache,
		Cancel:     sc.Cancel,
		Workers:    sc.Workers,
	}

	ctx, span := r.tracer.Start(sc.Ctx, name)
	defer span.End()
	span.SetAttributes(attribute.Int("stage.number", number), attribute.String("run.id", sc.RunID))
	sc.Ctx = ctx

	r.metrics.StageRuns.WithLabelValues(name).Inc()
	start := time.Now()

	fail := func(err error) error {
		serr := asStageError(number, name, err)
		r.metrics.StageFailures.WithLabelValues(name, strconv.Itoa(ReasonClass(serr.Err))).Inc()
		log.Error("stage failed: %v", serr)
		return serr
	}

	log.Info("validating input")
	if err := stage.ValidateInput(sc); err != nil {
		return nil, fail(err)
	}

	log.Info("executing")
	payload, summary, err := stage.Execute(sc)
	if err != nil {
		return nil, fail(err)
	}

	vr, err := stage.ValidateOutput(sc, payload)
	if err != nil {
		return nil, fail(err)
	}
	if !vr.Passed {
		return nil, fail(fmt.Errorf("%w: output validation failed", ErrValueOutOfRange))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fail(fmt.Errorf("%w: marshal payload: %v", ErrArtifactWriteFailed, err))
	}

	art := &Artifact{
		Stage: name,
		Metadata: Metadata{
			Producer:      Producer,
			RunID:         sc.RunID,
			Timestamp:     time.Now().UTC(),
			Fingerprint:   Fingerprint(raw),
			SchemaVersion: SchemaVersion,
		},
		DataSummary:       summary,
		Data:              raw,
		ValidationResults: vr,
	}
	if sc.Upstream != nil {
		art.Metadata.UpstreamFingerprint = sc.Upstream.Metadata.Fingerprint
	}

	path, err := WriteArtifact(sc.OutputRoot, number, art)
	if err != nil {
		return nil, fail(err)
	}
	if tw, ok := stage.(TwinWriter); ok {
		if err := tw.WriteTwin(sc, payload, path); err != nil {
			os.Remove(path)
			return nil, fail(err)
		}
	}
	if err := WriteSnapshot(sc.OutputRoot, number, sc.RunID, vr); err != nil {
		os.Remove(path)
		return nil, fail(err)
	}

	r.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	log.Info("completed in %s, artifact %s", time.Since(start).Round(time.Millisecond), path)

	if r.notifier != nil {
		if err := r.notifier.StageCompleted(name, sc.RunID, summary); err != nil {
			log.Warn("publish stage completion: %v", err)
		}
	}
	return art, nil
}

func asStageError(number int, name string, err error) *StageError {
	if se, ok := err.(*StageError); ok {
		return se
	}
	return NewStageError(number, name, "", err)
}
