// Package tasks runs named background tasks with retries and sequential chains.
//
// Two dispatchers share one execution policy:
//   - Eager runs tasks in process before Enqueue returns (development, tests)
//   - RedisQueue publishes to Redis Streams consumed by Worker (production)
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Name identifies a registered task.
type Name string

// Queue isolates tasks so a slow stage cannot starve the others.
type Queue string

const (
	QueueWorkflow      Queue = "workflow"
	QueueProcessing    Queue = "processing"
	QueueEnrichment    Queue = "enrichment"
	QueueScoring       Queue = "scoring"
	QueueNotifications Queue = "notifications"
)

// Handler executes one attempt. The returned output feeds the next chain step.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Definition describes a task and its retry policy.
type Definition struct {
	Name       Name
	Queue      Queue
	MaxRetries int
	RetryDelay time.Duration
	Handler    Handler
	// OnExhausted runs once when retries are used up or the error is permanent.
	OnExhausted func(ctx context.Context, args json.RawMessage, err error)
}

// Step is one element of a chain. Only the first step's Args are used.
type Step struct {
	Name Name
	Args any
}

// Handle identifies a dispatched task or chain.
type Handle struct {
	ID string
}

// Dispatcher schedules tasks for execution.
type Dispatcher interface {
	Enqueue(ctx context.Context, name Name, args any) (Handle, error)
	// Chain runs steps in order; each later step receives the previous step's output.
	Chain(ctx context.Context, steps ...Step) (Handle, error)
}

// ErrHaltChain is returned by a handler to finish successfully without running later steps.
var ErrHaltChain = errors.New("tasks: halt chain")

// ErrUnknownTask is returned when dispatching a name that was never registered.
var ErrUnknownTask = errors.New("tasks: unknown task")

// RetryError asks for a retry after Delay instead of the definition's RetryDelay.
type RetryError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryError) Error() string { return fmt.Sprintf("retry in %s: %v", e.Delay, e.Err) }
func (e *RetryError) Unwrap() error { return e.Err }

// Retry wraps cause so the task is retried after delay.
func Retry(delay time.Duration, cause error) error {
	return &RetryError{Delay: delay, Err: cause}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Registry holds task definitions. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[Name]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Name]Definition)}
}

// Register adds def. Duplicate names and incomplete definitions panic.
func (r *Registry) Register(def Definition) {
	if def.Name == "" || def.Queue == "" || def.Handler == nil {
		panic(fmt.Sprintf("tasks: incomplete definition %q", def.Name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		panic(fmt.Sprintf("tasks: duplicate registration of %q", def.Name))
	}
	r.defs[def.Name] = def
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name Name) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Queues returns the distinct queues of all registered tasks, sorted.
func (r *Registry) Queues() []Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Queue
	for _, def := range r.defs {
		if !slices.Contains(out, def.Queue) {
			out = append(out, def.Queue)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Registry) resolve(steps []Step) ([]Definition, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("tasks: empty chain")
	}
	defs := make([]Definition, 0, len(steps))
	for _, s := range steps {
		def, ok := r.Lookup(s.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, s.Name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func marshalArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode task args: %w", err)
	}
	return data, nil
}
