package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refnet/resilience/internal/netstate"
	"github.com/refnet/resilience/internal/storage"
)

// State is an app lifecycle phase.
type State string

const (
	StateForegroundActive     State = "foreground_active"
	StateForegroundInactive   State = "foreground_inactive"
	StateBackgroundActive     State = "background_active"
	StateBackgroundSuspended  State = "background_suspended"
	StateBackgroundTerminated State = "background_terminated"
)

// Signal is a coarse OS app-lifecycle event.
type Signal string

const (
	SignalActive     Signal = "active"
	SignalInactive   Signal = "inactive"
	SignalBackground Signal = "background"
)

// Transition records one lifecycle state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// ChangeListener receives lifecycle transitions.
type ChangeListener func(from, to State)

// SignalObserver is the platform app-lifecycle observation capability.
type SignalObserver interface {
	// Subscribe registers a callback invoked on every lifecycle signal and
	// returns an unsubscribe function.
	Subscribe(fn func(Signal)) (func(), error)
}

// ConnectionSuspender suspends and resumes realtime connections.
// *fallback.Service satisfies it.
type ConnectionSuspender interface {
	Suspend(keep func(entityID string) bool) []string
	Resume() int
	StopAllPolling()
}

// Reassessor forces a fresh connection quality assessment.
// *netstate.Manager satisfies it.
type Reassessor interface {
	ForceReassessment(ctx context.Context) netstate.ConnectionQuality
}

// Config configures the app state manager.
type Config struct {
	// SuspendAfter is continuous background time before non-critical
	// connections are suspended.
	SuspendAfter time.Duration
	// CleanupAfter is continuous background time before remaining
	// resources are force-cleaned.
	CleanupAfter time.Duration

	BackgroundSyncEnabled  bool
	BackgroundSyncInterval time.Duration

	// KeepCriticalConnections exempts registered critical connection ids
	// from background suspension.
	KeepCriticalConnections bool

	// HistorySize bounds the retained transition history.
	HistorySize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SuspendAfter:            30 * time.Second,
		CleanupAfter:            10 * time.Minute,
		BackgroundSyncEnabled:   true,
		BackgroundSyncInterval:  5 * time.Minute,
		KeepCriticalConnections: true,
		HistorySize:             100,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SuspendAfter <= 0 {
		c.SuspendAfter = d.SuspendAfter
	}
	if c.CleanupAfter <= 0 {
		c.CleanupAfter = d.CleanupAfter
	}
	if c.BackgroundSyncInterval <= 0 {
		c.BackgroundSyncInterval = d.BackgroundSyncInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
}

// lastTransitionKey is where the most recent transition is persisted.
const lastTransitionKey = "lifecycle:last_transition"

type registeredListener struct {
	token string
	fn    ChangeListener
}

// Manager is the app lifecycle state machine.
type Manager struct {
	cfg        Config
	suspender  ConnectionSuspender
	reassessor Reassessor
	store      storage.Store
	observer   SignalObserver
	logger     *slog.Logger

	mu                  sync.Mutex
	state               State
	history             []Transition
	listeners           []registeredListener
	critical            map[string]struct{}
	backgroundStartedAt time.Time
	syncDeferredUntil   time.Time
	suspendTimer        *time.Timer
	cleanupTimer        *time.Timer
	syncCancel          context.CancelFunc
	unsubObserver       func()
	lastPersistErr      error
	started             bool

	wg  sync.WaitGroup
	now func() time.Time
}

// NewManager creates an app state manager. observer and store may be nil;
// without an observer, transitions are driven by HandleSignal.
func NewManager(cfg Config, suspender ConnectionSuspender, reassessor Reassessor, store storage.Store, observer SignalObserver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Manager{
		cfg:        cfg,
		suspender:  suspender,
		reassessor: reassessor,
		store:      store,
		observer:   observer,
		logger:     logger,
		state:      StateForegroundActive,
		critical:   make(map[string]struct{}),
		now:        time.Now,
	}
}

// Start subscribes to OS lifecycle signals.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if m.observer != nil {
		unsub, err := m.observer.Subscribe(m.HandleSignal)
		if err != nil {
			m.logger.Warn("app lifecycle observer unavailable", "error", err)
		} else {
			m.mu.Lock()
			m.unsubObserver = unsub
			m.mu.Unlock()
		}
	}

	return nil
}

// Stop cancels timers and the observer subscription.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	unsub := m.unsubObserver
	m.unsubObserver = nil
	m.cancelBackgroundWorkLocked()
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the bounded transition history, oldest first.
func (m *Manager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// LastPersistError reports the outcome of the most recent transition
// persistence attempt. Persistence is best-effort and never fatal.
func (m *Manager) LastPersistError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPersistErr
}

// AddStateChangeListener registers a listener fired synchronously, in
// registration order, on every transition. Returns an unsubscribe function.
func (m *Manager) AddStateChangeListener(fn ChangeListener) func() {
	token := uuid.NewString()

	m.mu.Lock()
	m.listeners = append(m.listeners, registeredListener{token: token, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.token == token {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddCriticalConnection exempts a connection id from background suspension.
func (m *Manager) AddCriticalConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.critical[id] = struct{}{}
}

// RemoveCriticalConnection deregisters a critical connection id. Callers
// must pair this with AddCriticalConnection to avoid leaking ids.
func (m *Manager) RemoveCriticalConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.critical, id)
}

// CriticalConnections returns the registered critical connection ids.
func (m *Manager) CriticalConnections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.critical))
	for id := range m.critical {
		out = append(out, id)
	}
	return out
}

// HandleSignal drives the state machine from an OS lifecycle signal.
func (m *Manager) HandleSignal(sig Signal) {
	switch sig {
	case SignalActive:
		m.toForeground(StateForegroundActive, "os signal active")
	case SignalInactive:
		m.toForeground(StateForegroundInactive, "os signal inactive")
	case SignalBackground:
		m.toBackground()
	default:
		m.logger.Warn("unknown lifecycle signal", "signal", sig)
	}
}

// toBackground enters background and schedules suspension and cleanup.
func (m *Manager) toBackground() {
	m.mu.Lock()
	if m.state == StateBackgroundActive || m.state == StateBackgroundSuspended || m.state == StateBackgroundTerminated {
		m.mu.Unlock()
		return
	}
	m.backgroundStartedAt = m.now()

	m.suspendTimer = time.AfterFunc(m.cfg.SuspendAfter, m.suspendNonCritical)
	m.cleanupTimer = time.AfterFunc(m.cfg.CleanupAfter, m.forceCleanup)

	if m.cfg.BackgroundSyncEnabled {
		ctx, cancel := context.WithCancel(context.Background())
		m.syncCancel = cancel
		m.wg.Add(1)
		go m.backgroundSyncLoop(ctx)
	}
	m.mu.Unlock()

	m.transition(StateBackgroundActive, "os signal background")
}

// toForeground returns to the foreground, cancels pending background work,
// and resumes suspended connections. Both active and inactive signals take
// this path: platforms can deliver inactive first when the app comes back
// from the background.
func (m *Manager) toForeground(to State, reason string) {
	m.mu.Lock()
	fromBackground := m.state == StateBackgroundActive ||
		m.state == StateBackgroundSuspended ||
		m.state == StateBackgroundTerminated
	wasSuspended := m.state == StateBackgroundSuspended || m.state == StateBackgroundTerminated
	m.cancelBackgroundWorkLocked()
	m.backgroundStartedAt = time.Time{}
	m.mu.Unlock()

	m.transition(to, reason)

	if wasSuspended && m.suspender != nil {
		resumed := m.suspender.Resume()
		m.logger.Info("connections resumed on foreground", "count", resumed)
	}

	if m.reassessor != nil && (fromBackground || to == StateForegroundActive) {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			m.reassessor.ForceReassessment(ctx)
		}()
	}
}

// cancelBackgroundWorkLocked stops suspension/cleanup timers and the
// background sync loop. Caller holds mu.
func (m *Manager) cancelBackgroundWorkLocked() {
	if m.suspendTimer != nil {
		m.suspendTimer.Stop()
		m.suspendTimer = nil
	}
	if m.cleanupTimer != nil {
		m.cleanupTimer.Stop()
		m.cleanupTimer = nil
	}
	if m.syncCancel != nil {
		m.syncCancel()
		m.syncCancel = nil
	}
}

// suspendNonCritical fires after SuspendAfter of continuous background time.
func (m *Manager) suspendNonCritical() {
	m.mu.Lock()
	if m.state != StateBackgroundActive {
		m.mu.Unlock()
		return
	}
	keepCritical := m.cfg.KeepCriticalConnections
	m.mu.Unlock()

	if m.suspender != nil {
		var keep func(string) bool
		if keepCritical {
			keep = m.isCritical
		}
		suspended := m.suspender.Suspend(keep)
		m.logger.Info("non-critical connections suspended",
			"count", len(suspended),
			"after", m.cfg.SuspendAfter,
		)
	}

	m.transition(StateBackgroundSuspended, "background suspend timeout")
}

// forceCleanup fires after CleanupAfter of continuous background time.
func (m *Manager) forceCleanup() {
	m.mu.Lock()
	if m.state != StateBackgroundActive && m.state != StateBackgroundSuspended {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.suspender != nil {
		m.suspender.StopAllPolling()
	}
	m.logger.Warn("background resources force-cleaned", "after", m.cfg.CleanupAfter)

	m.transition(StateBackgroundTerminated, "background cleanup timeout")
}

func (m *Manager) isCritical(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.critical[id]
	return ok
}

// DeferBackgroundSync skips background sync ticks until d has elapsed,
// typically on a resource optimization recommendation.
func (m *Manager) DeferBackgroundSync(d time.Duration) {
	m.mu.Lock()
	m.syncDeferredUntil = m.now().Add(d)
	m.mu.Unlock()
	m.logger.Info("background sync deferred", "for", d)
}

// backgroundSyncLoop periodically refreshes quality while backgrounded.
func (m *Manager) backgroundSyncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.BackgroundSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			deferred := m.now().Before(m.syncDeferredUntil)
			m.mu.Unlock()
			if deferred || m.reassessor == nil {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			m.reassessor.ForceReassessment(rctx)
			cancel()
		}
	}
}

// transition applies a state change, records it, persists it best-effort,
// and notifies listeners in registration order.
func (m *Manager) transition(to State, reason string) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to

	tr := Transition{From: from, To: to, At: m.now(), Reason: reason}
	m.history = append(m.history, tr)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}

	listeners := make([]registeredListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("app lifecycle transition",
		"from", from,
		"to", to,
		"reason", reason,
	)

	err := m.persistTransition(tr)
	m.mu.Lock()
	m.lastPersistErr = err
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("lifecycle transition not persisted", "error", err)
	}

	for _, l := range listeners {
		m.safeNotify(l.fn, from, to)
	}
}

func (m *Manager) safeNotify(fn ChangeListener, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle listener panic", "recovered", r)
		}
	}()
	fn(from, to)
}

// persistTransition writes the transition for crash-recovery diagnostics.
func (m *Manager) persistTransition(tr Transition) error {
	if m.store == nil {
		return nil
	}

	data, err := json.Marshal(tr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.store.Set(ctx, lastTransitionKey, string(data))
}

// LastPersistedTransition loads the transition persisted before a crash,
// if any.
func (m *Manager) LastPersistedTransition(ctx context.Context) (*Transition, error) {
	if m.store == nil {
		return nil, nil
	}

	raw, err := m.store.Get(ctx, lastTransitionKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var tr Transition
	if err := json.Unmarshal([]byte(raw), &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}
