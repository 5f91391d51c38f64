package proxy

import (
	"context"

	"studioproxy/pkg/types"
)

// CompletionJob is the unit of work handed to the automation session.
type CompletionJob struct {
	RequestID string
	Model     string
	Messages  []types.Message
	Params    types.GenParams
	Stream    bool
}

// Stream is a finite, non-restartable sequence of output chunks produced
// by the automation step. Next returns io.EOF after the last chunk.
// Implementations must honor ctx cancellation between chunks; the pause
// between Next calls is the backpressure signal.
type Stream interface {
	Next(ctx context.Context) (string, error)
}

// Session is the external automation collaborator: the single controlled
// browser session that actually performs chat completion. All methods are
// cooperatively cancellable through ctx. The proxy guarantees at most one
// RunCompletion is in flight at a time (processing lock); ApplyModel is
// only called under the model-switching lock.
type Session interface {
	// ApplyModel makes modelID the active model inside the session.
	ApplyModel(ctx context.Context, modelID string) error
	// ApplyParameters applies generation parameters for the active model.
	ApplyParameters(ctx context.Context, modelID string, params types.GenParams) error
	// RunCompletion submits the job and returns the output chunk sequence.
	// Non-streaming callers drain the sequence into a single payload.
	RunCompletion(ctx context.Context, job CompletionJob) (Stream, error)
	// ListModels reports the models selectable in the session.
	ListModels(ctx context.Context) ([]types.Model, error)
	// Ready reports whether the session can accept work.
	Ready() bool
}
