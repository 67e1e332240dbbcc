package netstate

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	// ErrInitTimeout indicates WaitForInitialization ran out of time before
	// the first network snapshot arrived.
	ErrInitTimeout = errors.New("network state initialization timeout")

	// ErrNotStarted indicates the manager has not been started.
	ErrNotStarted = errors.New("network state manager not started")
)

// NetworkType classifies the active network interface.
type NetworkType string

const (
	NetworkWifi     NetworkType = "wifi"
	NetworkCellular NetworkType = "cellular"
	NetworkEthernet NetworkType = "ethernet"
	NetworkUnknown  NetworkType = "unknown"
)

// NetworkDetails carries interface-specific attributes of a snapshot.
type NetworkDetails struct {
	// Strength is signal strength 0-100, or -1 when unknown.
	Strength int `json:"strength"`
	// CellularGeneration is "3g", "4g", "5g", or empty.
	CellularGeneration string `json:"cellular_generation,omitempty"`
	Carrier            string `json:"carrier,omitempty"`
	SSID               string `json:"ssid,omitempty"`
}

// NetworkState is an immutable snapshot of device connectivity, replaced
// wholesale on every platform event.
type NetworkState struct {
	Connected bool        `json:"connected"`
	Type      NetworkType `json:"type"`
	// InternetReachable is tri-state: nil means undetermined.
	InternetReachable *bool          `json:"internet_reachable,omitempty"`
	Details           NetworkDetails `json:"details"`
	ObservedAt        time.Time      `json:"observed_at"`
}

// QualityLevel bands the composite quality score.
type QualityLevel string

const (
	LevelExcellent QualityLevel = "excellent"
	LevelGood      QualityLevel = "good"
	LevelFair      QualityLevel = "fair"
	LevelPoor      QualityLevel = "poor"
	LevelOffline   QualityLevel = "offline"
)

// Trend classifies the direction of recent quality scores.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// ConnectionQuality is a scored assessment of the current connection.
type ConnectionQuality struct {
	// Score is the 0-100 composite of latency, stability, and throughput.
	Score      int           `json:"score"`
	Level      QualityLevel  `json:"level"`
	Latency    time.Duration `json:"latency"`
	Stability  int           `json:"stability"`
	Throughput int           `json:"throughput"`
	Strategy   Strategy      `json:"strategy"`
	MeasuredAt time.Time     `json:"measured_at"`
}

// Strategy names a connection tuning profile.
type Strategy string

const (
	StrategyAggressiveWebsocket   Strategy = "aggressive_websocket"
	StrategyConservativeWebsocket Strategy = "conservative_websocket"
	StrategyHybrid                Strategy = "hybrid"
	StrategyPollingOnly           Strategy = "polling_only"
	StrategyOffline               Strategy = "offline"
)

// StrategyProfile is the static tuning profile attached to a strategy.
type StrategyProfile struct {
	ReconnectDelay       time.Duration `json:"reconnect_delay"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`
	PollInterval         time.Duration `json:"poll_interval"`
	Timeout              time.Duration `json:"timeout"`
}

// strategyProfiles maps each strategy to its tuning profile.
var strategyProfiles = map[Strategy]StrategyProfile{
	StrategyAggressiveWebsocket: {
		ReconnectDelay:       1 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    15 * time.Second,
		Timeout:              8 * time.Second,
	},
	StrategyConservativeWebsocket: {
		ReconnectDelay:       3 * time.Second,
		MaxReconnectAttempts: 6,
		HeartbeatInterval:    30 * time.Second,
		Timeout:              12 * time.Second,
	},
	StrategyHybrid: {
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 4,
		HeartbeatInterval:    45 * time.Second,
		PollInterval:         30 * time.Second,
		Timeout:              15 * time.Second,
	},
	StrategyPollingOnly: {
		PollInterval: 15 * time.Second,
		Timeout:      20 * time.Second,
	},
	StrategyOffline: {},
}

// Profile returns the tuning profile for s.
func (s Strategy) Profile() StrategyProfile {
	return strategyProfiles[s]
}

// PlatformObserver is the platform network observation capability.
type PlatformObserver interface {
	// Current fetches the present network state.
	Current(ctx context.Context) (NetworkState, error)

	// Subscribe registers a callback invoked on every network change and
	// returns an unsubscribe function.
	Subscribe(fn func(NetworkState)) (func(), error)
}
