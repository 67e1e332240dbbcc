package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/refnet/resilience/internal/netstate"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// QualitySource supplies current network readings for threshold adaptation.
// *netstate.Manager satisfies it.
type QualitySource interface {
	CurrentState() *netstate.NetworkState
	CurrentQuality() *netstate.ConnectionQuality
}

// Config holds circuit breaker tuning.
type Config struct {
	BaseFailureThreshold int           // consecutive failures tolerated before opening (default: 5)
	BaseRecoveryTimeout  time.Duration // initial OPEN duration (default: 30s)
	MaxRecoveryTimeout   time.Duration // cap for exponential recovery growth (default: 5m)
	ProactiveResetDelta  int           // quality jump that closes an open breaker (default: 25)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseFailureThreshold: 5,
		BaseRecoveryTimeout:  30 * time.Second,
		MaxRecoveryTimeout:   5 * time.Minute,
		ProactiveResetDelta:  25,
	}
}

// Recommendation is the breaker's advice to a caller.
type Recommendation struct {
	ShouldExecute     bool                   `json:"should_execute"`
	Strategy          netstate.Strategy      `json:"strategy"`
	FallbackSuggested bool                   `json:"fallback_suggested"`
	Reason            string                 `json:"reason"`
	NetworkInfo       *netstate.NetworkState `json:"network_info,omitempty"`
}

// Snapshot is a read-only view of breaker state for diagnostics.
type Snapshot struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	FailureThreshold    int           `json:"failure_threshold"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitempty"`
}

// TransitionListener observes breaker state transitions.
type TransitionListener func(name string, from, to State)

// Breaker is a failure-isolation state machine for one named service.
type Breaker struct {
	name   string
	cfg    Config
	source QualitySource
	logger *slog.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	openedAt            time.Time
	recoveryTimeout     time.Duration
	scoreAtOpen         int

	onTransition TransitionListener

	now func() time.Time
}

func newBreaker(name string, cfg Config, source QualitySource, onTransition TransitionListener, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:            name,
		cfg:             cfg,
		source:          source,
		logger:          logger.With("breaker", name),
		state:           StateClosed,
		recoveryTimeout: cfg.BaseRecoveryTimeout,
		onTransition:    onTransition,
		now:             time.Now,
	}
}

// CanExecute reports whether a call should be attempted. While OPEN it
// also checks the recovery timeout (moving to HALF_OPEN when elapsed) and
// the proactive quality-jump reset.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	transitions := b.advanceLocked()
	allowed := b.state != StateOpen
	b.mu.Unlock()

	b.emit(transitions)
	return allowed
}

// OnSuccess records a successful call. In HALF_OPEN it closes the breaker
// and clears the failure count.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	var transitions []transition
	switch b.state {
	case StateHalfOpen:
		transitions = append(transitions, b.toLocked(StateClosed))
		b.consecutiveFailures = 0
		b.recoveryTimeout = b.adaptiveRecoveryTimeoutLocked()
	case StateClosed:
		b.consecutiveFailures = 0
	}
	b.mu.Unlock()

	b.emit(transitions)
}

// OnFailure records a failed call, opening the breaker once the adaptive
// threshold is exceeded. A failure while HALF_OPEN reopens with a grown
// recovery timeout.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	b.lastFailureAt = b.now()

	var transitions []transition
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures > b.adaptiveThresholdLocked() {
			transitions = append(transitions, b.openLocked(b.adaptiveRecoveryTimeoutLocked()))
		}
	case StateHalfOpen:
		b.consecutiveFailures++
		grown := b.recoveryTimeout * 2
		if grown > b.cfg.MaxRecoveryTimeout {
			grown = b.cfg.MaxRecoveryTimeout
		}
		transitions = append(transitions, b.openLocked(grown))
	}
	b.mu.Unlock()

	b.emit(transitions)
}

// Recommendation returns the breaker's current advice.
func (b *Breaker) Recommendation() Recommendation {
	b.mu.Lock()
	transitions := b.advanceLocked()
	state := b.state
	timeout := b.recoveryTimeout
	b.mu.Unlock()
	b.emit(transitions)

	netInfo := b.currentNetState()

	if state == StateOpen {
		return Recommendation{
			ShouldExecute:     false,
			Strategy:          netstate.StrategyPollingOnly,
			FallbackSuggested: true,
			Reason:            fmt.Sprintf("circuit open, retry after %s", timeout),
			NetworkInfo:       netInfo,
		}
	}

	strategy := netstate.StrategyOffline
	if q := b.currentQuality(); q != nil {
		strategy = q.Strategy
	}

	reason := "circuit closed"
	if state == StateHalfOpen {
		reason = "circuit half-open, probing"
	}

	return Recommendation{
		ShouldExecute:     true,
		Strategy:          strategy,
		FallbackSuggested: strategy == netstate.StrategyPollingOnly || strategy == netstate.StrategyOffline,
		Reason:            reason,
		NetworkInfo:       netInfo,
	}
}

// State returns the current state after timeout/quality advancement.
func (b *Breaker) State() State {
	b.mu.Lock()
	transitions := b.advanceLocked()
	s := b.state
	b.mu.Unlock()
	b.emit(transitions)
	return s
}

// ConsecutiveFailures returns the current consecutive failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset forces the breaker back to CLOSED with a clean slate.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var transitions []transition
	if b.state != StateClosed {
		transitions = append(transitions, b.toLocked(StateClosed))
	}
	b.consecutiveFailures = 0
	b.recoveryTimeout = b.cfg.BaseRecoveryTimeout
	b.mu.Unlock()
	b.emit(transitions)
}

// Snapshot returns a read-only view for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		FailureThreshold:    b.adaptiveThresholdLocked(),
		RecoveryTimeout:     b.recoveryTimeout,
		LastFailureAt:       b.lastFailureAt,
	}
}

type transition struct{ from, to State }

// advanceLocked applies time- and quality-driven transitions out of OPEN.
func (b *Breaker) advanceLocked() []transition {
	if b.state != StateOpen {
		return nil
	}

	// A sharp quality improvement closes the breaker without waiting out
	// the timeout.
	if q := b.currentQuality(); q != nil && q.Score-b.scoreAtOpen >= b.cfg.ProactiveResetDelta {
		tr := b.toLocked(StateClosed)
		b.consecutiveFailures = 0
		b.recoveryTimeout = b.adaptiveRecoveryTimeoutLocked()
		return []transition{tr}
	}

	if b.now().Sub(b.openedAt) >= b.recoveryTimeout {
		return []transition{b.toLocked(StateHalfOpen)}
	}

	return nil
}

func (b *Breaker) openLocked(timeout time.Duration) transition {
	tr := b.toLocked(StateOpen)
	b.openedAt = b.now()
	b.recoveryTimeout = timeout
	b.scoreAtOpen = 0
	if q := b.currentQuality(); q != nil {
		b.scoreAtOpen = q.Score
	}
	return tr
}

func (b *Breaker) toLocked(to State) transition {
	tr := transition{from: b.state, to: to}
	b.state = to
	return tr
}

func (b *Breaker) emit(transitions []transition) {
	for _, tr := range transitions {
		b.logger.Info("circuit breaker transition", "from", tr.from, "to", tr.to)
		if b.onTransition != nil {
			b.onTransition(b.name, tr.from, tr.to)
		}
	}
}

// adaptiveThresholdLocked derives the failure threshold from network type
// and quality. Stable networks (wifi/ethernet) tolerate fewer failures;
// cellular and degraded quality tolerate more.
func (b *Breaker) adaptiveThresholdLocked() int {
	t := b.cfg.BaseFailureThreshold

	if s := b.currentNetState(); s != nil {
		switch s.Type {
		case netstate.NetworkWifi, netstate.NetworkEthernet:
			t--
		case netstate.NetworkCellular:
			t += 2
		}
	}

	if q := b.currentQuality(); q != nil {
		if q.Score < 50 {
			t++
		}
		if q.Score < 30 {
			t++
		}
	}

	if t < 2 {
		t = 2
	}
	return t
}

// adaptiveRecoveryTimeoutLocked derives the recovery timeout from network
// conditions: flaky networks wait longer before probing again.
func (b *Breaker) adaptiveRecoveryTimeoutLocked() time.Duration {
	d := b.cfg.BaseRecoveryTimeout

	if s := b.currentNetState(); s != nil && s.Type == netstate.NetworkCellular {
		d = d * 3 / 2
	}
	if q := b.currentQuality(); q != nil {
		if q.Score < 50 {
			d = d * 3 / 2
		}
		if q.Score < 30 {
			d *= 2
		}
	}

	if d > b.cfg.MaxRecoveryTimeout {
		d = b.cfg.MaxRecoveryTimeout
	}
	return d
}

func (b *Breaker) currentNetState() *netstate.NetworkState {
	if b.source == nil {
		return nil
	}
	return b.source.CurrentState()
}

func (b *Breaker) currentQuality() *netstate.ConnectionQuality {
	if b.source == nil {
		return nil
	}
	return b.source.CurrentQuality()
}
