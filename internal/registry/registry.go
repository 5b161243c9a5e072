// Package registry maps job-type identifiers to executable handlers.
//
// A Registry is constructed once at startup, populated with every handler
// the deployment supports, and then only read. Reads are safe under
// concurrent trigger attempts.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/complyops/jobrunner/internal/domain/model"
)

// Handler is the capability bound to a job type. Execute performs one unit
// of work for the given job definition and reports a structured outcome.
// Returning an error is equivalent to returning a failing result; the
// orchestrator folds both into the job's state.
type Handler interface {
	Execute(ctx context.Context, job model.JobDefinition) (model.ExecutionResult, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job model.JobDefinition) (model.ExecutionResult, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, job model.JobDefinition) (model.ExecutionResult, error) {
	return f(ctx, job)
}

// Registry associates job types with handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty handler registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job type. Registering the same type twice
// is a wiring mistake and fails rather than silently replacing the handler.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" {
		return fmt.Errorf("job type is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is required", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler for %q already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// MustRegister registers a handler and panics on error. Intended for
// startup wiring where a duplicate registration is a programming error.
func (r *Registry) MustRegister(jobType string, h Handler) {
	if err := r.Register(jobType, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for the given job type, or an error wrapping
// model.ErrUnknownJobType when none is registered.
func (r *Registry) Resolve(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownJobType, jobType)
	}
	return h, nil
}

// Types returns all registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
