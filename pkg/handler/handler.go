// Package handler defines the capability contract business handlers
// implement, and a registry worker runtimes use to dispatch by job type.
package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkflow/jobqueue/pkg/models"
)

// BadPayloadError is returned by Validate when required payload keys are
// missing or malformed. WR treats it identically to any other handler
// failure — it is not a distinct retry class.
type BadPayloadError struct {
	Type   string
	Reason string
}

func (e *BadPayloadError) Error() string {
	return fmt.Sprintf("bad payload for job type %q: %s", e.Type, e.Reason)
}

// Handler is the capability a registered job type must satisfy: validate
// a payload shape, then execute it to a result or a failure. No base
// class, no exceptions — a plain two-method interface.
type Handler interface {
	Validate(payload models.Payload) error
	Execute(ctx context.Context, payload models.Payload) (result map[string]interface{}, err error)
}

// Registry maps a job type to its Handler, populated once at worker
// startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a job type to a handler. Intended for use at process
// startup only; not safe to call concurrently with Lookup under heavy
// churn, though the mutex makes individual calls safe.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler for a job type, or false if unregistered —
// the WR treats an unregistered type as a poison message.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job type names, for diagnostics and the
// submission-time closed-set check.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
