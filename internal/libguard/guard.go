// Package libguard provides a reference-counted guard around process-wide
// library state (FFmpeg network layer, GStreamer init).
//
// The first Acquire runs the init function, the last release runs deinit.
// A later Acquire after the count dropped to zero initializes again.
package libguard

import (
	"fmt"
	"log/slog"
	"sync"
)

// Guard owns the lifecycle of one library's global state
type Guard struct {
	name   string
	init   func() error
	deinit func()

	mu   sync.Mutex
	refs int
	// inits counts successful init calls (for tests and debug logs)
	inits int
}

// New creates a guard for the named library. deinit may be nil when the
// library has no teardown.
func New(name string, init func() error, deinit func()) *Guard {
	return &Guard{name: name, init: init, deinit: deinit}
}

// Acquire takes a reference, initializing the library on the first one
//
// The returned release func is idempotent: calling it more than once drops a
// single reference.
func (g *Guard) Acquire() (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.refs == 0 && g.init != nil {
		if err := g.init(); err != nil {
			return nil, fmt.Errorf("libguard: %s init failed: %w", g.name, err)
		}
		g.inits++
		slog.Debug("libguard: library initialized", "library", g.name, "inits", g.inits)
	}
	g.refs++

	var once sync.Once
	return func() {
		once.Do(g.release)
	}, nil
}

func (g *Guard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refs--
	if g.refs > 0 {
		return
	}
	g.refs = 0
	if g.deinit != nil {
		g.deinit()
		slog.Debug("libguard: library released", "library", g.name)
	}
}

// Refs returns the number of outstanding references
func (g *Guard) Refs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs
}

// Inits returns how many times the library was initialized
func (g *Guard) Inits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inits
}
