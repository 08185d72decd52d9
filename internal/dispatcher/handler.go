package dispatcher

import (
	"context"

	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
	"github.com/jakekausler/campaign-scheduler/internal/job"
)

// HandlerFunc processes a single reserved job and reports how the
// dispatcher should resolve it.
type HandlerFunc func(ctx context.Context, j *job.Job) Outcome

// Registry maps a job Kind to the handler that processes it.
type Registry struct {
	handlers map[job.Kind]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[job.Kind]HandlerFunc)}
}

// Register adds (or replaces) the handler for kind.
func (r *Registry) Register(kind job.Kind, handler HandlerFunc) {
	r.handlers[kind] = handler
}

// Get retrieves the handler registered for kind.
func (r *Registry) Get(kind job.Kind) (HandlerFunc, bool) {
	handler, ok := r.handlers[kind]
	return handler, ok
}

// Count returns the number of registered handlers.
func (r *Registry) Count() int {
	return len(r.handlers)
}

// Execute routes j to its handler. An unknown kind is terminal with
// ErrUnknownKind per spec.md §4.2.
func (r *Registry) Execute(ctx context.Context, j *job.Job) Outcome {
	handler, ok := r.Get(j.Kind)
	if !ok {
		return Terminal(scheduleerrors.ErrUnknownKind)
	}
	return handler(ctx, j)
}
