// Package pipeline provides the stage lifecycle shared by all six
// processing stages: input validation, execution, output validation,
// artifact persistence, and validation snapshots.
package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline error taxonomy. Stages wrap these with
// context via fmt.Errorf("...: %w", ...) so callers can match on kind.
var (
	// Input errors. The stage aborts with no artifact.
	ErrBadTLEFormat       = errors.New("bad TLE format")
	ErrChecksumMismatch   = errors.New("TLE checksum mismatch")
	ErrEpochOutOfRange    = errors.New("TLE epoch out of range")
	ErrEmptyInput         = errors.New("empty input")
	ErrMissingIERSData    = errors.New("IERS data unavailable for epoch")
	ErrMissingConfigField = errors.New("missing config field")

	// Upstream errors.
	ErrUpstreamArtifactMissing = errors.New("upstream artifact missing")
	ErrUpstreamSchemaMismatch  = errors.New("upstream schema mismatch")

	// Computational errors. Recovered per satellite; three consecutive
	// invalid samples drop the satellite.
	ErrPropagationDiverged = errors.New("propagation diverged")
	ErrTransformSingular   = errors.New("transform singular")

	// Invariant violations. Fail-fast, defaults are forbidden.
	ErrFieldMissing    = errors.New("required field missing")
	ErrValueOutOfRange = errors.New("value out of range")

	// I/O errors.
	ErrArtifactWriteFailed = errors.New("artifact write failed")
	ErrCacheCorrupt        = errors.New("cache corrupt")
)

// Reason classes for exit codes: stage number * 10 + reason class.
const (
	ReasonInput     = 1
	ReasonUpstream  = 2
	ReasonCompute   = 3
	ReasonInvariant = 4
	ReasonIO        = 5
)

// StageError wraps an error with the stage that raised it and the first
// offending record, so failures present stage, kind, and record id.
type StageError struct {
	Stage    int
	Name     string
	RecordID string
	Err      error
}

func (e *StageError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("stage %d (%s): record %s: %v", e.Stage, e.Name, e.RecordID, e.Err)
	}
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err for the given stage.
func NewStageError(stage int, name, recordID string, err error) *StageError {
	return &StageError{Stage: stage, Name: name, RecordID: recordID, Err: err}
}

// ReasonClass maps an error to its exit-code reason class.
func ReasonClass(err error) int {
	switch {
	case errors.Is(err, ErrBadTLEFormat),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrEpochOutOfRange),
		errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrMissingIERSData),
		errors.Is(err, ErrMissingConfigField):
		return ReasonInput
	case errors.Is(err, ErrUpstreamArtifactMissing),
		errors.Is(err, ErrUpstreamSchemaMismatch):
		return ReasonUpstream
	case errors.Is(err, ErrPropagationDiverged),
		errors.Is(err, ErrTransformSingular):
		return ReasonCompute
	case errors.Is(err, ErrFieldMissing),
		errors.Is(err, ErrValueOutOfRange):
		return ReasonInvariant
	case errors.Is(err, ErrArtifactWriteFailed),
		errors.Is(err, ErrCacheCorrupt):
		return ReasonIO
	default:
		return ReasonCompute
	}
}

// ExitCode computes the orchestrator exit code for a failed stage.
func ExitCode(err error) int {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage*10 + ReasonClass(se.Err)
	}
	return 1
}
