package netstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refnet/resilience/internal/probe"
)

// ChangeListener receives a fully-formed (state, quality) pair on every
// network change or reassessment.
type ChangeListener func(NetworkState, ConnectionQuality)

// Config holds network state manager configuration.
type Config struct {
	ReassessInterval time.Duration // periodic quality reassessment (default: 30s)
	HistorySize      int           // bounded score history for trend analysis (default: 20)
	Tuning           Tuning
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReassessInterval: 30 * time.Second,
		HistorySize:      20,
		Tuning:           DefaultTuning(),
	}
}

type listenerEntry struct {
	id uuid.UUID
	fn ChangeListener
}

// Manager owns the network state snapshot and quality history.
type Manager struct {
	cfg      Config
	observer PlatformObserver
	prober   probe.Prober
	logger   *slog.Logger

	mu             sync.RWMutex
	state          *NetworkState
	quality        *ConnectionQuality
	scores         []int
	qualityHistory []ConnectionQuality
	lastLatency    time.Duration
	initialized    bool

	initCh chan struct{}

	// listeners fire in registration order; dispatchMu serializes delivery
	// so no listener ever sees a half-updated pair.
	listenersMu sync.Mutex
	listeners   []listenerEntry
	dispatchMu  sync.Mutex

	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewManager creates a network state manager.
func NewManager(cfg Config, observer PlatformObserver, prober probe.Prober, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReassessInterval == 0 {
		cfg.ReassessInterval = 30 * time.Second
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = 20
	}

	return &Manager{
		cfg:      cfg,
		observer: observer,
		prober:   prober,
		logger:   logger,
		initCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start takes the first snapshot and begins periodic reassessment.
// An observer that cannot initialize degrades to a synthetic offline
// state; Start never fails for that reason.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	state, err := m.observer.Current(m.ctx)
	if err != nil {
		m.logger.Warn("network observer unavailable, assuming offline", "error", err)
		state = m.syntheticOffline()
	}
	m.applyState(state)

	unsub, err := m.observer.Subscribe(m.handleStateChange)
	if err != nil {
		m.logger.Warn("network observer subscription failed, relying on periodic reassessment", "error", err)
	} else {
		m.unsubscribe = unsub
	}

	// First snapshot is in place regardless of observer health.
	close(m.initCh)

	m.wg.Add(1)
	go m.reassessLoop()

	m.logger.Info("network state manager started",
		"connected", state.Connected,
		"type", state.Type,
		"reassess_interval", m.cfg.ReassessInterval,
	)

	return nil
}

// Stop halts reassessment and detaches from the observer.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("network state manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentState returns the latest snapshot, or nil before the first
// observation.
func (m *Manager) CurrentState() *NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil
	}
	s := *m.state
	return &s
}

// CurrentQuality returns the latest quality assessment, or nil before the
// first measurement.
func (m *Manager) CurrentQuality() *ConnectionQuality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.quality == nil {
		return nil
	}
	q := *m.quality
	return &q
}

// WaitForInitialization blocks until the first snapshot or timeout.
func (m *Manager) WaitForInitialization(ctx context.Context, timeout time.Duration) error {
	select {
	case <-m.initCh:
		return nil
	case <-time.After(timeout):
		return ErrInitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceReassessment runs an out-of-band measurement cycle immediately and
// notifies listeners, returning the fresh assessment.
func (m *Manager) ForceReassessment(ctx context.Context) ConnectionQuality {
	return m.reassess(ctx)
}

// AddChangeListener registers a listener. If a (state, quality) pair is
// already available it is delivered immediately. Returns an unsubscribe
// function.
func (m *Manager) AddChangeListener(fn ChangeListener) func() {
	id := uuid.New()

	m.listenersMu.Lock()
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: fn})
	m.listenersMu.Unlock()

	m.mu.RLock()
	state, quality := m.state, m.quality
	m.mu.RUnlock()

	if state != nil && quality != nil {
		m.dispatchMu.Lock()
		m.safeNotify(fn, *state, *quality)
		m.dispatchMu.Unlock()
	}

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		for i, e := range m.listeners {
			if e.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// AdaptiveConfig returns the tuning profile for the given strategy, or for
// the currently recommended one when strategy is nil.
func (m *Manager) AdaptiveConfig(strategy *Strategy) StrategyProfile {
	if strategy != nil {
		return strategy.Profile()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.quality == nil {
		return StrategyOffline.Profile()
	}
	return m.quality.Strategy.Profile()
}

// BackoffDelay computes the reconnect delay for the given attempt using
// the configured backoff bounds.
func (m *Manager) BackoffDelay(attempt int) time.Duration {
	t := m.cfg.Tuning
	return ExponentialBackoffDelay(attempt, t.BackoffBase, t.BackoffMax, t.BackoffFloor)
}

// QualityTrend classifies the direction of the bounded score history.
func (m *Manager) QualityTrend() Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Tuning.trendFrom(m.scores)
}

// QualityHistory returns a copy of the bounded assessment history, newest
// last.
func (m *Manager) QualityHistory() []ConnectionQuality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConnectionQuality, len(m.qualityHistory))
	copy(out, m.qualityHistory)
	return out
}

// reassessLoop runs the periodic measurement cycle.
func (m *Manager) reassessLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReassessInterval)
	defer ticker.Stop()

	// Measure immediately so quality is available right after Start.
	m.reassess(m.ctx)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reassess(m.ctx)
		}
	}
}

// reassess measures latency, recomputes quality, and notifies listeners.
func (m *Manager) reassess(ctx context.Context) ConnectionQuality {
	m.mu.RLock()
	state := m.state
	m.mu.RUnlock()

	if state == nil {
		return ConnectionQuality{Level: LevelOffline, Strategy: StrategyOffline}
	}

	latency := m.lastLatency
	if state.Connected && m.prober != nil {
		measured, err := m.prober.Probe(ctx)
		switch {
		case err == nil:
			latency = measured
		default:
			// Timeouts and transport errors count as a high-latency sample.
			latency = m.cfg.Tuning.ProbeTimeoutLatency
			m.logger.Debug("latency probe failed", "error", err)
		}
	}

	quality := m.updateQuality(*state, latency)
	m.notifyListeners(*state, quality)
	return quality
}

// handleStateChange ingests a platform network event. Quality is
// recomputed synchronously against the new snapshot before any listener
// fires.
func (m *Manager) handleStateChange(state NetworkState) {
	m.applyState(state)

	m.mu.RLock()
	latency := m.lastLatency
	m.mu.RUnlock()

	quality := m.updateQuality(state, latency)

	m.logger.Debug("network state changed",
		"connected", state.Connected,
		"type", state.Type,
		"score", quality.Score,
		"strategy", quality.Strategy,
	)

	m.notifyListeners(state, quality)
}

// applyState replaces the snapshot wholesale.
func (m *Manager) applyState(state NetworkState) {
	if state.ObservedAt.IsZero() {
		state.ObservedAt = m.now()
	}

	m.mu.Lock()
	m.state = &state
	m.initialized = true
	m.mu.Unlock()
}

// updateQuality computes and records a quality assessment for state.
func (m *Manager) updateQuality(state NetworkState, latency time.Duration) ConnectionQuality {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.cfg.Tuning
	var quality ConnectionQuality

	if !state.Connected {
		// Disconnection short-circuits scoring.
		quality = ConnectionQuality{
			Score:      0,
			Level:      LevelOffline,
			Strategy:   StrategyOffline,
			MeasuredAt: m.now(),
		}
	} else {
		ls := latencyScore(latency)
		stability := stabilityFrom(m.scores)
		throughput := t.throughputFor(state)
		score := t.composite(ls, stability, throughput)

		quality = ConnectionQuality{
			Score:      score,
			Level:      t.levelFor(score),
			Latency:    latency,
			Stability:  stability,
			Throughput: throughput,
			Strategy:   strategyFor(score, state.Type),
			MeasuredAt: m.now(),
		}
		m.lastLatency = latency
	}

	m.quality = &quality

	m.scores = append(m.scores, quality.Score)
	if len(m.scores) > m.cfg.HistorySize {
		m.scores = m.scores[len(m.scores)-m.cfg.HistorySize:]
	}
	m.qualityHistory = append(m.qualityHistory, quality)
	if len(m.qualityHistory) > m.cfg.HistorySize {
		m.qualityHistory = m.qualityHistory[len(m.qualityHistory)-m.cfg.HistorySize:]
	}

	return quality
}

// notifyListeners delivers the pair to every listener in registration
// order. A panicking listener is recovered so siblings still run.
func (m *Manager) notifyListeners(state NetworkState, quality ConnectionQuality) {
	m.listenersMu.Lock()
	entries := make([]listenerEntry, len(m.listeners))
	copy(entries, m.listeners)
	m.listenersMu.Unlock()

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for _, e := range entries {
		m.safeNotify(e.fn, state, quality)
	}
}

func (m *Manager) safeNotify(fn ChangeListener, state NetworkState, quality ConnectionQuality) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("network change listener panicked", "panic", r)
		}
	}()
	fn(state, quality)
}

// syntheticOffline builds the snapshot used when the observer cannot
// initialize. Indistinguishable from a genuinely offline device.
func (m *Manager) syntheticOffline() NetworkState {
	reachable := false
	return NetworkState{
		Connected:         false,
		Type:              NetworkUnknown,
		InternetReachable: &reachable,
		Details:           NetworkDetails{Strength: -1},
		ObservedAt:        m.now(),
	}
}
