package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// hook is a named component with optional start and stop callbacks.
type hook struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle starts components in registration order and stops them in
// reverse.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []hook
	running bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Add registers a component. Either callback may be nil.
func (l *Lifecycle) Add(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, start: start, stop: stop})
}

// AddCloser registers a component that only needs closing on shutdown.
func (l *Lifecycle) AddCloser(name string, c interface{ Close() error }) {
	l.Add(name, nil, func(context.Context) error { return c.Close() })
}

// Start runs every start callback. On failure, components before the failing
// one are stopped in reverse order and dropped; the rest stay registered for
// Stop.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.start != nil {
			if err := h.start(ctx); err != nil {
				l.stopFrom(ctx, i-1)
				l.hooks = l.hooks[i:]
				return fmt.Errorf("starting %s: %w", h.name, err)
			}
		}
	}

	l.running = true
	return nil
}

// Stop runs every stop callback in reverse order. Components registered but
// never started are stopped too, so resources opened during wiring are
// released even when Start was not called.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errs := l.stopFrom(ctx, len(l.hooks)-1)
	l.running = false
	l.hooks = nil
	return errors.Join(errs...)
}

func (l *Lifecycle) stopFrom(ctx context.Context, last int) []error {
	var errs []error
	for i := last; i >= 0; i-- {
		h := l.hooks[i]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			slog.Warn("lifecycle stop failed", "component", h.name, "error", err)
			errs = append(errs, fmt.Errorf("stopping %s: %w", h.name, err))
		}
	}
	return errs
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (l *Lifecycle) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
