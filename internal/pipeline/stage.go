package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/asgard/heimdall/internal/logging"
)

// CancelFlag is the cooperative cancellation flag workers check between
// satellites. In-flight per-satellite work completes or is discarded whole.
type CancelFlag struct {
	flag atomic.Bool
}

// Cancel requests cancellation.
func (c *CancelFlag) Cancel() { c.flag.Store(true) }

// Cancelled reports whether cancellation was requested.
func (c *CancelFlag) Cancelled() bool { return c.flag.Load() }

// Context carries everything a stage needs: the run context, a correlated
// logger, the upstream artifact, and shared resources.
type Context struct {
	Ctx        context.Context
	Log        *logging.Logger
	RunID      string
	OutputRoot string
	Upstream   *Artifact
	Cache      *Cache
	Cancel     *CancelFlag
	Workers    int
}

// Stage is the uniform lifecycle every processor implements. The Runner
// composes the steps; stages never subclass anything.
type Stage interface {
	// Name is the short stage identifier, e.g. "stage2".
	Name() string
	// Number is the 1-based stage position.
	Number() int
	// ValidateInput checks upstream artifacts and configuration before
	// any work happens.
	ValidateInput(sc *Context) error
	// Execute produces the stage payload and its data summary.
	Execute(sc *Context) (payload interface{}, summary map[string]interface{}, err error)
	// ValidateOutput runs the five-check framework over the payload.
	ValidateOutput(sc *Context, payload interface{}) (ValidationResults, error)
}

// TwinWriter is implemented by stages that emit an HDF5 twin next to the
// JSON primary (stages 2 and 3).
type TwinWriter interface {
	WriteTwin(sc *Context, payload interface{}, jsonPath string) error
}
