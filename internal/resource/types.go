package resource

import (
	"context"
	"time"

	"github.com/refnet/resilience/internal/netstate"
)

// Tier grades one device capability axis.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierAdvanced Tier = "advanced"
)

// PressureLevel grades memory pressure.
type PressureLevel string

const (
	PressureLow      PressureLevel = "low"
	PressureMedium   PressureLevel = "medium"
	PressureHigh     PressureLevel = "high"
	PressureCritical PressureLevel = "critical"
)

// ThermalState is the device thermal condition.
type ThermalState string

const (
	ThermalNominal  ThermalState = "nominal"
	ThermalFair     ThermalState = "fair"
	ThermalSerious  ThermalState = "serious"
	ThermalCritical ThermalState = "critical"
)

// throttled reports whether the thermal state calls for mitigation.
func (t ThermalState) throttled() bool {
	return t == ThermalSerious || t == ThermalCritical
}

// DeviceProfile is the heuristic capability assessment of the host device.
type DeviceProfile struct {
	MemoryCapacity           Tier `json:"memory_capacity"`
	ProcessingPower          Tier `json:"processing_power"`
	BatteryCapacity          Tier `json:"battery_capacity"`
	NetworkCapability        Tier `json:"network_capability"`
	ThermalThrottling        bool `json:"thermal_throttling"`
	BackgroundRefreshEnabled bool `json:"background_refresh_enabled"`
}

// Metrics is one sampled snapshot of resource readings.
type Metrics struct {
	MemoryUsedMB   int           `json:"memory_used_mb"`
	MemoryTotalMB  int           `json:"memory_total_mb"`
	MemoryPressure PressureLevel `json:"memory_pressure"`

	CPULoad float64 `json:"cpu_load"`

	BatteryLevel    int  `json:"battery_level"`
	BatteryCharging bool `json:"battery_charging"`
	// BatteryDrain is the estimated %/hour drain, connection impact included.
	BatteryDrain float64 `json:"battery_drain"`
	// ConnectionImpact is the share of drain attributed to connections,
	// capped at 20%.
	ConnectionImpact float64 `json:"connection_impact"`

	Thermal    ThermalState `json:"thermal"`
	MeasuredAt time.Time    `json:"measured_at"`
}

// RecommendationType names an optimization.
type RecommendationType string

const (
	RecReducePolling     RecommendationType = "reduce_polling_frequency"
	RecCloseIdle         RecommendationType = "close_idle_connections"
	RecDeferSync         RecommendationType = "defer_background_sync"
	RecTrimMemory        RecommendationType = "trim_memory_caches"
	RecDisableAggressive RecommendationType = "disable_nonessential_features"
)

// Priority ranks a recommendation.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank orders priorities for sorting, lowest first is most urgent.
func priorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Recommendation is one typed, prioritized optimization suggestion.
type Recommendation struct {
	Type           RecommendationType `json:"type"`
	Priority       Priority           `json:"priority"`
	Description    string             `json:"description"`
	AutoApplicable bool               `json:"auto_applicable"`
}

// Event notifies listeners of a critical resource condition.
type Event struct {
	Kind    EventKind `json:"kind"`
	Metrics Metrics   `json:"metrics"`
	At      time.Time `json:"at"`
}

// EventKind names a critical resource condition.
type EventKind string

const (
	EventMemoryCritical  EventKind = "memory_critical"
	EventLowBattery      EventKind = "low_battery"
	EventThermalThrottle EventKind = "thermal_throttle"
)

// Listener receives critical resource events.
type Listener func(Event)

// MetricsSource supplies memory and CPU readings.
type MetricsSource interface {
	MemoryUsage(ctx context.Context) (usedMB, totalMB int, err error)
	CPULoad(ctx context.Context) (float64, error)
}

// DeviceSensors supplies battery and thermal readings. Implementations
// without real sensors return conservative defaults.
type DeviceSensors interface {
	Battery(ctx context.Context) (level int, charging bool, err error)
	Thermal(ctx context.Context) (ThermalState, error)
}

// NetworkSource supplies the current network snapshot.
// *netstate.Manager satisfies it.
type NetworkSource interface {
	CurrentState() *netstate.NetworkState
}

// Actions are the optimization hooks the manager dispatches to. Each hook
// must be idempotent; nil hooks are skipped.
type Actions struct {
	ReducePolling        func()
	CloseIdleConnections func()
	DeferBackgroundSync  func()
	TrimMemory           func()
	DisableNonessential  func()
}

func (a Actions) hookFor(t RecommendationType) func() {
	switch t {
	case RecReducePolling:
		return a.ReducePolling
	case RecCloseIdle:
		return a.CloseIdleConnections
	case RecDeferSync:
		return a.DeferBackgroundSync
	case RecTrimMemory:
		return a.TrimMemory
	case RecDisableAggressive:
		return a.DisableNonessential
	}
	return nil
}
