package resource

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/refnet/resilience/internal/netstate"
	"github.com/refnet/resilience/internal/storage"
)

// Config configures the resource optimization manager. Persisted settings
// are merged shallowly over these defaults on load.
type Config struct {
	// UpdateInterval is the metrics sampling cadence.
	UpdateInterval time.Duration `json:"update_interval"`
	// OptimizeInterval is the CheckAndOptimize cadence.
	OptimizeInterval time.Duration `json:"optimize_interval"`
	// MemoryThresholdMB anchors the memory pressure bands.
	MemoryThresholdMB int `json:"memory_threshold_mb"`
	// LowBatteryThreshold is the battery percentage below which, while
	// discharging, aggressive optimization is forced.
	LowBatteryThreshold int `json:"low_battery_threshold"`
	// AggressiveRevertAfter is how long forced aggressive optimization
	// lasts before auto-reverting.
	AggressiveRevertAfter time.Duration `json:"aggressive_revert_after"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:        30 * time.Second,
		OptimizeInterval:      60 * time.Second,
		MemoryThresholdMB:     512,
		LowBatteryThreshold:   20,
		AggressiveRevertAfter: 5 * time.Minute,
	}
}

// merge overlays non-zero fields of other onto c.
func (c Config) merge(other Config) Config {
	if other.UpdateInterval > 0 {
		c.UpdateInterval = other.UpdateInterval
	}
	if other.OptimizeInterval > 0 {
		c.OptimizeInterval = other.OptimizeInterval
	}
	if other.MemoryThresholdMB > 0 {
		c.MemoryThresholdMB = other.MemoryThresholdMB
	}
	if other.LowBatteryThreshold > 0 {
		c.LowBatteryThreshold = other.LowBatteryThreshold
	}
	if other.AggressiveRevertAfter > 0 {
		c.AggressiveRevertAfter = other.AggressiveRevertAfter
	}
	return c
}

// settingsKey is where manager settings persist.
const settingsKey = "resource:settings"

type registeredListener struct {
	token string
	fn    Listener
}

// Manager samples resource metrics, profiles the device, and applies
// optimizations.
type Manager struct {
	metricsSource MetricsSource
	sensors       DeviceSensors
	net           NetworkSource
	connCount     func() int
	actions       Actions
	store         storage.Store
	logger        *slog.Logger
	limiter       *rate.Limiter

	mu              sync.Mutex
	cfg             Config
	profile         DeviceProfile
	metrics         *Metrics
	listeners       []registeredListener
	aggressive      bool
	aggressiveTimer *time.Timer
	applied         map[RecommendationType]time.Time
	started         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewManager creates a resource optimization manager. connCount reports
// active realtime connections and may be nil; store may be nil.
func NewManager(cfg Config, metricsSource MetricsSource, sensors DeviceSensors, net NetworkSource, connCount func() int, actions Actions, store storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = DefaultConfig().merge(cfg)

	return &Manager{
		metricsSource: metricsSource,
		sensors:       sensors,
		net:           net,
		connCount:     connCount,
		actions:       actions,
		store:         store,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Every(time.Minute), 1),
		cfg:           cfg,
		profile:       defaultProfile(),
		applied:       make(map[RecommendationType]time.Time),
		now:           time.Now,
	}
}

func defaultProfile() DeviceProfile {
	return DeviceProfile{
		MemoryCapacity:           TierStandard,
		ProcessingPower:          TierStandard,
		BatteryCapacity:          TierStandard,
		NetworkCapability:        TierStandard,
		BackgroundRefreshEnabled: true,
	}
}

// Start loads persisted settings, profiles the device, takes an initial
// sample, and begins the periodic loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.loadSettings(ctx)
	m.AssessDeviceCapabilities()
	m.UpdateMetrics(ctx)

	m.wg.Add(2)
	go m.updateLoop()
	go m.optimizeLoop()

	return nil
}

// Stop halts the periodic loops.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel := m.cancel
	if m.aggressiveTimer != nil {
		m.aggressiveTimer.Stop()
		m.aggressiveTimer = nil
	}
	m.mu.Unlock()

	cancel()

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

// Profile returns the current device profile.
func (m *Manager) Profile() DeviceProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

// Metrics returns the latest sampled metrics, or nil before the first
// sample.
func (m *Manager) Metrics() *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics == nil {
		return nil
	}
	cp := *m.metrics
	return &cp
}

// AggressiveOptimization reports whether forced aggressive optimization is
// active.
func (m *Manager) AggressiveOptimization() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggressive
}

// AddListener registers a critical-condition listener. Returns an
// unsubscribe function.
func (m *Manager) AddListener(fn Listener) func() {
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

// AssessDeviceCapabilities seeds a standard profile and adjusts the
// network tier from the live network state.
func (m *Manager) AssessDeviceCapabilities() DeviceProfile {
	profile := defaultProfile()

	if m.net != nil {
		if state := m.net.CurrentState(); state != nil {
			switch state.Type {
			case netstate.NetworkWifi, netstate.NetworkEthernet:
				profile.NetworkCapability = TierAdvanced
			case netstate.NetworkCellular:
				switch state.Details.CellularGeneration {
				case "5g":
					profile.NetworkCapability = TierAdvanced
				case "4g":
					profile.NetworkCapability = TierStandard
				default:
					profile.NetworkCapability = TierBasic
				}
			default:
				profile.NetworkCapability = TierBasic
			}
		}
	}

	m.mu.Lock()
	m.profile = profile
	m.mu.Unlock()
	return profile
}

// UpdateMetrics takes one sample, stores it, and fires critical triggers.
func (m *Manager) UpdateMetrics(ctx context.Context) Metrics {
	metrics := m.sample(ctx)

	m.mu.Lock()
	m.metrics = &metrics
	m.mu.Unlock()

	m.handleCriticalConditions(metrics)
	return metrics
}

// sample gathers one readings snapshot. Source failures degrade to
// conservative values rather than failing the sample.
func (m *Manager) sample(ctx context.Context) Metrics {
	metrics := Metrics{
		BatteryLevel:    100,
		BatteryCharging: true,
		Thermal:         ThermalNominal,
		MeasuredAt:      m.now(),
	}

	if m.metricsSource != nil {
		if used, total, err := m.metricsSource.MemoryUsage(ctx); err == nil {
			metrics.MemoryUsedMB = used
			metrics.MemoryTotalMB = total
		} else {
			m.logger.Debug("memory sample failed", "error", err)
		}
		if load, err := m.metricsSource.CPULoad(ctx); err == nil {
			metrics.CPULoad = load
		} else {
			m.logger.Debug("cpu sample failed", "error", err)
		}
	}

	if m.sensors != nil {
		if level, charging, err := m.sensors.Battery(ctx); err == nil {
			metrics.BatteryLevel = level
			metrics.BatteryCharging = charging
		} else {
			m.logger.Debug("battery sample failed", "error", err)
		}
		if thermal, err := m.sensors.Thermal(ctx); err == nil {
			metrics.Thermal = thermal
		} else {
			m.logger.Debug("thermal sample failed", "error", err)
		}
	}

	m.mu.Lock()
	threshold := m.cfg.MemoryThresholdMB
	m.mu.Unlock()

	metrics.MemoryPressure = memoryPressure(metrics.MemoryUsedMB, threshold)
	metrics.ConnectionImpact = m.connectionImpact()
	metrics.BatteryDrain = baseBatteryDrain + metrics.ConnectionImpact

	return metrics
}

// baseBatteryDrain is the assumed %/hour drain with no connections.
const baseBatteryDrain = 2.0

// memoryPressure bands estimated usage against the configured threshold.
func memoryPressure(usedMB, thresholdMB int) PressureLevel {
	if thresholdMB <= 0 {
		return PressureLow
	}
	ratio := float64(usedMB) / float64(thresholdMB)
	switch {
	case ratio >= 1.0:
		return PressureCritical
	case ratio >= 0.75:
		return PressureHigh
	case ratio >= 0.5:
		return PressureMedium
	default:
		return PressureLow
	}
}

// connectionImpact estimates the %/hour battery cost of active
// connections, capped at 20.
func (m *Manager) connectionImpact() float64 {
	count := 0
	if m.connCount != nil {
		count = m.connCount()
	}

	factor := 1.0
	if m.net != nil {
		if state := m.net.CurrentState(); state != nil {
			switch state.Type {
			case netstate.NetworkCellular:
				factor = 1.5
			case netstate.NetworkEthernet:
				factor = 0.8
			}
		}
	}

	impact := float64(count) * 0.5 * factor
	if impact > 20 {
		impact = 20
	}
	return impact
}

// handleCriticalConditions fires mitigation and notifications for
// critical readings.
func (m *Manager) handleCriticalConditions(metrics Metrics) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if metrics.MemoryPressure == PressureCritical {
		m.logger.Warn("memory pressure critical",
			"used_mb", metrics.MemoryUsedMB,
			"threshold_mb", cfg.MemoryThresholdMB,
		)
		m.notify(EventMemoryCritical, metrics)
		m.dispatch(RecTrimMemory)
	}

	if metrics.BatteryLevel < cfg.LowBatteryThreshold && !metrics.BatteryCharging {
		m.forceAggressive(metrics)
	}

	if metrics.Thermal.throttled() {
		m.logger.Warn("thermal throttling", "state", metrics.Thermal)
		m.notify(EventThermalThrottle, metrics)
		m.dispatch(RecReducePolling)
		m.dispatch(RecDeferSync)
	}
}

// forceAggressive enables aggressive optimization with an auto-revert.
func (m *Manager) forceAggressive(metrics Metrics) {
	m.mu.Lock()
	already := m.aggressive
	m.aggressive = true
	revertAfter := m.cfg.AggressiveRevertAfter
	if m.aggressiveTimer != nil {
		m.aggressiveTimer.Stop()
	}
	m.aggressiveTimer = time.AfterFunc(revertAfter, m.revertAggressive)
	m.mu.Unlock()

	if !already {
		m.logger.Warn("aggressive optimization forced",
			"battery", metrics.BatteryLevel,
			"revert_after", revertAfter,
		)
		m.notify(EventLowBattery, metrics)
	}
}

func (m *Manager) revertAggressive() {
	m.mu.Lock()
	m.aggressive = false
	m.aggressiveTimer = nil
	m.mu.Unlock()
	m.logger.Info("aggressive optimization auto-reverted")
}

// Recommendations derives recommendations from the latest sample.
func (m *Manager) Recommendations() []Recommendation {
	m.mu.Lock()
	metrics := m.metrics
	profile := m.profile
	threshold := m.cfg.LowBatteryThreshold
	m.mu.Unlock()

	if metrics == nil {
		return nil
	}
	return Recommend(*metrics, profile, threshold)
}

// CheckAndOptimize applies auto-applicable recommendations when warranted.
// Self-throttled to at most once per minute.
func (m *Manager) CheckAndOptimize(ctx context.Context) bool {
	if !m.limiter.Allow() {
		return false
	}

	recs := m.Recommendations()
	critical := false
	autoCount := 0
	for _, r := range recs {
		if r.Priority == PriorityCritical {
			critical = true
		}
		if r.AutoApplicable {
			autoCount++
		}
	}

	if !critical && autoCount <= 2 {
		return false
	}

	applied := 0
	for _, r := range recs {
		if !r.AutoApplicable {
			continue
		}
		if m.dispatch(r.Type) {
			applied++
		}
	}

	m.logger.Info("optimizations applied",
		"recommendations", len(recs),
		"applied", applied,
		"critical", critical,
	)
	return applied > 0
}

// dispatch runs the hook for a recommendation type. Hooks are idempotent,
// so repeated dispatch is safe.
func (m *Manager) dispatch(t RecommendationType) bool {
	hook := m.actions.hookFor(t)
	if hook == nil {
		return false
	}

	hook()

	m.mu.Lock()
	m.applied[t] = m.now()
	m.mu.Unlock()
	return true
}

func (m *Manager) notify(kind EventKind, metrics Metrics) {
	m.mu.Lock()
	listeners := make([]registeredListener, len(m.listeners))
	copy(listeners, m.listeners)
	now := m.now()
	m.mu.Unlock()

	event := Event{Kind: kind, Metrics: metrics, At: now}
	for _, l := range listeners {
		m.safeNotify(l.fn, event)
	}
}

func (m *Manager) safeNotify(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("resource listener panic", "recovered", r)
		}
	}()
	fn(event)
}

// UpdateSettings merges non-zero fields over the current settings and
// persists the result best-effort.
func (m *Manager) UpdateSettings(ctx context.Context, partial Config) Config {
	m.mu.Lock()
	m.cfg = m.cfg.merge(partial)
	cfg := m.cfg
	m.mu.Unlock()

	if err := m.saveSettings(ctx, cfg); err != nil {
		m.logger.Warn("resource settings not persisted", "error", err)
	}
	return cfg
}

// Settings returns the active settings.
func (m *Manager) Settings() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// loadSettings overlays persisted settings onto the configured defaults.
func (m *Manager) loadSettings(ctx context.Context) {
	if m.store == nil {
		return
	}

	raw, err := m.store.Get(ctx, settingsKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("resource settings not loaded", "error", err)
		}
		return
	}

	var persisted Config
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		m.logger.Warn("resource settings corrupt, using defaults", "error", err)
		return
	}

	m.mu.Lock()
	m.cfg = m.cfg.merge(persisted)
	m.mu.Unlock()
}

func (m *Manager) saveSettings(ctx context.Context, cfg Config) error {
	if m.store == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, settingsKey, string(data))
}

func (m *Manager) updateLoop() {
	defer m.wg.Done()

	m.mu.Lock()
	interval := m.cfg.UpdateInterval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.UpdateMetrics(m.ctx)
		}
	}
}

func (m *Manager) optimizeLoop() {
	defer m.wg.Done()

	m.mu.Lock()
	interval := m.cfg.OptimizeInterval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.CheckAndOptimize(m.ctx)
		}
	}
}
