// Package registry tracks the live tenant workers. Each worker owns one
// bot credential; the registry guarantees at most one live worker per
// credential and supervises their lifecycles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAlreadyRunning is returned by Start when a live worker already
// holds the credential.
var ErrAlreadyRunning = errors.New("worker already running for credential")

// Handle identifies a running worker.
type Handle struct {
	// Credential is the bot token the worker polls with; the uniqueness key.
	Credential string
	// OwnerID is the tenant the worker serves.
	OwnerID int64
	// SourceID is the owner's knowledge source binding, if any.
	SourceID string
}

// RunFunc is the worker body. It must block until ctx is cancelled or a
// fatal error occurs; returning deregisters the worker.
type RunFunc func(ctx context.Context) error

type entry struct {
	handle   Handle
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// Registry supervises tenant workers. Presence in the map is the
// liveness criterion: a credential stays held from Start until its
// worker goroutine has fully drained, so two pollers can never share a
// bot token even across a stop/start handover.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*entry
	logger  *slog.Logger

	// onChange, when set, observes the live worker count (metrics gauge).
	onChange func(count int)
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithCountObserver registers a callback invoked with the live worker
// count after every registration change. The callback runs under the
// registry lock and must not call back into the Registry.
func WithCountObserver(fn func(count int)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		workers: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Start registers the credential and launches the worker goroutine. The
// registration happens before the goroutine runs, so a second Start with
// the same credential fails immediately even if the first worker has not
// begun polling yet — and keeps failing while a stopped predecessor is
// still draining. The worker deregisters itself when run returns.
func (r *Registry) Start(ctx context.Context, h Handle, run RunFunc) error {
	if h.Credential == "" {
		return errors.New("start worker: empty credential")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	e := &entry{handle: h, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if _, exists := r.workers[h.Credential]; exists {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("owner %d: %w", h.OwnerID, ErrAlreadyRunning)
	}
	r.workers[h.Credential] = e
	r.notify(len(r.workers))
	r.mu.Unlock()

	r.logger.Info("worker started", "owner_id", h.OwnerID)

	go func() {
		defer close(e.done)
		err := run(workerCtx)

		// deregister only our own entry: a crashed worker must not
		// clobber a successor that reclaimed the credential
		r.mu.Lock()
		if cur, ok := r.workers[h.Credential]; ok && cur == e {
			delete(r.workers, h.Credential)
			r.notify(len(r.workers))
		}
		r.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("worker exited with error", "owner_id", h.OwnerID, "error", err)
		} else {
			r.logger.Info("worker stopped", "owner_id", h.OwnerID)
		}
	}()
	return nil
}

// Stop cancels the credential's worker and waits for it to finish. The
// credential is released only once the old poller has drained. It
// returns false when no live worker held the credential or a stop is
// already in flight; stopping an absent worker is never an error and
// never panics.
func (r *Registry) Stop(credential string) bool {
	r.mu.Lock()
	e, ok := r.workers[credential]
	if !ok || e.stopping {
		r.mu.Unlock()
		return false
	}
	e.stopping = true
	r.mu.Unlock()

	e.cancel()
	<-e.done
	return true
}

// StopAll stops every live worker belonging to the owner and returns how
// many were stopped. It snapshots the owner's credentials first, so
// workers the owner starts concurrently are not chased.
func (r *Registry) StopAll(ownerID int64) int {
	r.mu.Lock()
	snapshot := make([]*entry, 0, len(r.workers))
	for _, e := range r.workers {
		if e.handle.OwnerID == ownerID && !e.stopping {
			e.stopping = true
			snapshot = append(snapshot, e)
		}
	}
	r.mu.Unlock()

	r.drain(snapshot)
	return len(snapshot)
}

// Shutdown stops every live worker across all owners and returns how
// many were stopped. Used for process shutdown.
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	snapshot := make([]*entry, 0, len(r.workers))
	for _, e := range r.workers {
		if !e.stopping {
			e.stopping = true
			snapshot = append(snapshot, e)
		}
	}
	r.mu.Unlock()

	r.drain(snapshot)
	return len(snapshot)
}

func (r *Registry) drain(entries []*entry) {
	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		<-e.done
	}
}

// IsLive reports whether a worker currently holds the credential.
func (r *Registry) IsLive(credential string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[credential]
	return ok
}

// Active returns the handles of all live workers.
func (r *Registry) Active() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, e.handle)
	}
	return out
}

func (r *Registry) notify(count int) {
	if r.onChange != nil {
		r.onChange(count)
	}
}
