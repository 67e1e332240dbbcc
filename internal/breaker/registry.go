package breaker

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry hands out one breaker per service name. All callers sharing a
// name observe the same instance. Constructed explicitly (rather than a
// package-level singleton) so tests can isolate state via Reset.
type Registry struct {
	cfg    Config
	source QualitySource
	logger *slog.Logger

	mu        sync.Mutex
	breakers  map[string]*Breaker
	listeners []TransitionListener
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg Config, source QualitySource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	b := newBreaker(name, r.cfg, r.source, r.dispatchTransition, r.logger)
	r.breakers[name] = b
	return b
}

// AddTransitionListener registers a listener for every breaker's state
// transitions.
func (r *Registry) AddTransitionListener(fn TransitionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Names returns the registered breaker names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a diagnostic view of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })
	return snaps
}

// Reset drops every breaker. Used for test isolation and connection reset.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker)
}

func (r *Registry) dispatchTransition(name string, from, to State) {
	r.mu.Lock()
	listeners := make([]TransitionListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(name, from, to)
	}
}
