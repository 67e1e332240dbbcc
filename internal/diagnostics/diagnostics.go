package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refnet/resilience/internal/breaker"
	"github.com/refnet/resilience/internal/fallback"
	"github.com/refnet/resilience/internal/lifecycle"
	"github.com/refnet/resilience/internal/netstate"
	"github.com/refnet/resilience/internal/probe"
	"github.com/refnet/resilience/internal/resource"
	"github.com/refnet/resilience/internal/storage"
)

// Severity grades a connection issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// penalty is the health score deduction per issue severity.
func (s Severity) penalty() int {
	switch s {
	case SeverityCritical:
		return 30
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	default:
		return 5
	}
}

// Issue is one severity-tagged connection problem.
type Issue struct {
	Severity    Severity `json:"severity"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
}

// HealthLevel bands the overall health score.
type HealthLevel string

const (
	HealthExcellent HealthLevel = "excellent"
	HealthGood      HealthLevel = "good"
	HealthFair      HealthLevel = "fair"
	HealthPoor      HealthLevel = "poor"
	HealthCritical  HealthLevel = "critical"
)

func healthLevel(score int) HealthLevel {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 70:
		return HealthGood
	case score >= 50:
		return HealthFair
	case score >= 25:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// ConnectionHealth is one full assessment result.
type ConnectionHealth struct {
	Score      int                         `json:"score"`
	Level      HealthLevel                 `json:"level"`
	Issues     []Issue                     `json:"issues"`
	Network    *netstate.NetworkState      `json:"network,omitempty"`
	Quality    *netstate.ConnectionQuality `json:"quality,omitempty"`
	Lifecycle  lifecycle.State             `json:"lifecycle,omitempty"`
	Resources  *resource.Metrics           `json:"resources,omitempty"`
	Breakers   []breaker.Snapshot          `json:"breakers,omitempty"`
	AssessedAt time.Time                   `json:"assessed_at"`
}

// ResetOptions selects which parts of a compound connection reset run.
type ResetOptions struct {
	ResetBreakers     bool `json:"reset_breakers"`
	ClearCache        bool `json:"clear_cache"`
	ResetFallback     bool `json:"reset_fallback"`
	ForceReassessment bool `json:"force_reassessment"`
	ClearPersisted    bool `json:"clear_persisted"`
}

// FullReset selects every reset step.
func FullReset() ResetOptions {
	return ResetOptions{
		ResetBreakers:     true,
		ClearCache:        true,
		ResetFallback:     true,
		ForceReassessment: true,
		ClearPersisted:    true,
	}
}

// ResetResult reports per-step outcomes of a compound reset. Failed steps
// never abort their siblings.
type ResetResult struct {
	Steps map[string]error
}

// Failed returns the names of steps that errored.
func (r ResetResult) Failed() []string {
	var out []string
	for step, err := range r.Steps {
		if err != nil {
			out = append(out, step)
		}
	}
	return out
}

// NetworkInspector is the slice of the network manager diagnostics reads.
// *netstate.Manager satisfies it.
type NetworkInspector interface {
	CurrentState() *netstate.NetworkState
	CurrentQuality() *netstate.ConnectionQuality
	QualityTrend() netstate.Trend
	ForceReassessment(ctx context.Context) netstate.ConnectionQuality
}

// LifecycleInspector reports the app lifecycle state.
// *lifecycle.Manager satisfies it.
type LifecycleInspector interface {
	State() lifecycle.State
}

// ResourceInspector reports the latest resource metrics.
// *resource.Manager satisfies it.
type ResourceInspector interface {
	Metrics() *resource.Metrics
}

// FallbackResetter restarts the fallback service's polling set.
// *fallback.Service satisfies it.
type FallbackResetter interface {
	StopAllPolling()
	RecomputeMode(reason string) fallback.Mode
}

// Config configures diagnostics.
type Config struct {
	// ProbeTimeout bounds the reachability probe.
	ProbeTimeout time.Duration
	// HistorySize bounds the retained assessment history.
	HistorySize int
	// CachePrefix scopes which storage keys ClearCache removes.
	CachePrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout: 5 * time.Second,
		HistorySize:  20,
		CachePrefix:  "cache:",
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.CachePrefix == "" {
		c.CachePrefix = d.CachePrefix
	}
}

// Diagnostics reads every resilience component and assesses overall
// connection health.
type Diagnostics struct {
	cfg       Config
	network   NetworkInspector
	lifecycle LifecycleInspector
	resources ResourceInspector
	breakers  *breaker.Registry
	fallback  FallbackResetter
	prober    probe.Prober
	store     storage.Store
	logger    *slog.Logger

	mu      sync.Mutex
	history []ConnectionHealth

	now func() time.Time
}

// New creates a diagnostics instance. Any collaborator may be nil; missing
// ones simply contribute no readings.
func New(cfg Config, network NetworkInspector, lc LifecycleInspector, res ResourceInspector, breakers *breaker.Registry, fb FallbackResetter, prober probe.Prober, store storage.Store, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Diagnostics{
		cfg:       cfg,
		network:   network,
		lifecycle: lc,
		resources: res,
		breakers:  breakers,
		fallback:  fb,
		prober:    prober,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

// AssessConnectionHealth runs a full health assessment. It never returns
// an error: internal failures produce a synthetic critical result.
func (d *Diagnostics) AssessConnectionHealth(ctx context.Context) (health ConnectionHealth) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("health assessment panic", "recovered", r)
			health = d.syntheticCritical(fmt.Sprintf("assessment panic: %v", r))
			d.record(health)
		}
	}()

	health = d.assess(ctx)
	d.record(health)
	return health
}

func (d *Diagnostics) assess(ctx context.Context) ConnectionHealth {
	health := ConnectionHealth{AssessedAt: d.now()}
	var issues []Issue

	var state *netstate.NetworkState
	var quality *netstate.ConnectionQuality
	if d.network != nil {
		state = d.network.CurrentState()
		quality = d.network.CurrentQuality()
		health.Network = state
		health.Quality = quality
	}
	if d.lifecycle != nil {
		health.Lifecycle = d.lifecycle.State()
	}
	if d.resources != nil {
		health.Resources = d.resources.Metrics()
	}
	if d.breakers != nil {
		health.Breakers = d.breakers.Snapshots()
	}

	issues = append(issues, d.passiveIssues(state, quality, health)...)
	issues = append(issues, d.probeIssues(ctx)...)

	score := 100
	for _, issue := range issues {
		score -= issue.Severity.penalty()
	}
	if score < 0 {
		score = 0
	}

	// Average with the raw quality score when one exists.
	if quality != nil {
		score = (score + quality.Score) / 2
	}

	// Trend nudge.
	if d.network != nil {
		switch d.network.QualityTrend() {
		case netstate.TrendImproving:
			score += 10
		case netstate.TrendDegrading:
			score -= 10
		}
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	health.Score = score
	health.Level = healthLevel(score)
	health.Issues = issues
	return health
}

// passiveIssues derives issues from already-gathered readings.
func (d *Diagnostics) passiveIssues(state *netstate.NetworkState, quality *netstate.ConnectionQuality, health ConnectionHealth) []Issue {
	var issues []Issue

	switch {
	case state == nil:
		issues = append(issues, Issue{SeverityHigh, "no_network_reading", "network state unavailable"})
	case !state.Connected:
		issues = append(issues, Issue{SeverityCritical, "offline", "device reports no network connection"})
	case state.InternetReachable != nil && !*state.InternetReachable:
		issues = append(issues, Issue{SeverityCritical, "no_internet", "connected but internet unreachable"})
	}

	if quality != nil && state != nil && state.Connected {
		switch {
		case quality.Score < 30:
			issues = append(issues, Issue{SeverityHigh, "quality_poor", "connection quality severely degraded"})
		case quality.Score < 50:
			issues = append(issues, Issue{SeverityMedium, "quality_degraded", "connection quality degraded"})
		}
	}

	for _, snap := range health.Breakers {
		if snap.State == breaker.StateOpen {
			issues = append(issues, Issue{
				SeverityHigh,
				"breaker_open",
				fmt.Sprintf("circuit breaker %q is open", snap.Name),
			})
		}
	}

	if health.Resources != nil {
		if health.Resources.MemoryPressure == resource.PressureCritical {
			issues = append(issues, Issue{SeverityMedium, "memory_critical", "memory pressure critical"})
		}
		if health.Resources.BatteryLevel < 20 && !health.Resources.BatteryCharging {
			issues = append(issues, Issue{SeverityLow, "battery_low", "battery low and discharging"})
		}
	}

	return issues
}

// probeIssues runs the active probes: reachability, forced reassessment,
// and a storage round-trip.
func (d *Diagnostics) probeIssues(ctx context.Context) []Issue {
	var issues []Issue

	if d.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		_, err := d.prober.Probe(pctx)
		cancel()
		if err != nil {
			issues = append(issues, Issue{SeverityHigh, "probe_failed", "reachability probe failed"})
		}
	}

	if d.network != nil {
		d.network.ForceReassessment(ctx)
	}

	if d.store != nil {
		if err := d.storageRoundTrip(ctx); err != nil {
			issues = append(issues, Issue{SeverityMedium, "storage_failed", "persistent storage round-trip failed"})
		}
	}

	return issues
}

// storageRoundTrip writes, reads, and deletes a probe key.
func (d *Diagnostics) storageRoundTrip(ctx context.Context) error {
	key := "diagnostics:probe:" + uuid.NewString()
	value := d.now().Format(time.RFC3339Nano)

	if err := d.store.Set(ctx, key, value); err != nil {
		return err
	}
	got, err := d.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("storage round-trip mismatch: wrote %q, read %q", value, got)
	}
	return d.store.Remove(ctx, key)
}

// syntheticCritical is the degraded result for assessment failures.
func (d *Diagnostics) syntheticCritical(reason string) ConnectionHealth {
	return ConnectionHealth{
		Score:      0,
		Level:      HealthCritical,
		Issues:     []Issue{{SeverityCritical, "assessment_failed", reason}},
		AssessedAt: d.now(),
	}
}

func (d *Diagnostics) record(health ConnectionHealth) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, health)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
}

// History returns a copy of the bounded assessment history, oldest first.
func (d *Diagnostics) History() []ConnectionHealth {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ConnectionHealth, len(d.history))
	copy(out, d.history)
	return out
}

// ResetConnection runs the selected reset steps. Each step is best-effort
// and idempotent; a failing step never blocks its siblings.
func (d *Diagnostics) ResetConnection(ctx context.Context, opts ResetOptions) ResetResult {
	result := ResetResult{Steps: make(map[string]error)}

	if opts.ResetBreakers && d.breakers != nil {
		for _, name := range d.breakers.Names() {
			d.breakers.Get(name).Reset()
		}
		result.Steps["reset_breakers"] = nil
	}

	if opts.ClearCache && d.store != nil {
		result.Steps["clear_cache"] = d.clearCacheKeys(ctx)
	}

	if opts.ResetFallback && d.fallback != nil {
		d.fallback.StopAllPolling()
		d.fallback.RecomputeMode("connection reset")
		result.Steps["reset_fallback"] = nil
	}

	if opts.ForceReassessment && d.network != nil {
		d.network.ForceReassessment(ctx)
		result.Steps["force_reassessment"] = nil
	}

	if opts.ClearPersisted && d.store != nil {
		keys, err := d.store.Keys(ctx)
		if err == nil {
			err = d.store.MultiRemove(ctx, keys)
		}
		result.Steps["clear_persisted"] = err
	}

	for _, step := range result.Failed() {
		d.logger.Warn("connection reset step failed", "step", step, "error", result.Steps[step])
	}

	return result
}

// clearCacheKeys removes all storage keys under the cache prefix.
func (d *Diagnostics) clearCacheKeys(ctx context.Context) error {
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return err
	}

	var cacheKeys []string
	for _, k := range keys {
		if len(k) >= len(d.cfg.CachePrefix) && k[:len(d.cfg.CachePrefix)] == d.cfg.CachePrefix {
			cacheKeys = append(cacheKeys, k)
		}
	}
	if len(cacheKeys) == 0 {
		return nil
	}
	return d.store.MultiRemove(ctx, cacheKeys)
}
