package fallback

import (
	"context"
	"time"

	"github.com/refnet/resilience/internal/netstate"
)

// Mode is the active update-delivery mechanism.
type Mode string

const (
	ModePureWebsocket     Mode = "pure_websocket"
	ModeHybrid            Mode = "hybrid_websocket_polling"
	ModeSmartPolling      Mode = "smart_polling"
	ModeAggressivePolling Mode = "aggressive_polling"
	ModeOfflineCache      Mode = "offline_cache"
)

// usesStream reports whether the mode keeps a live-data stream attached.
func (m Mode) usesStream() bool {
	switch m {
	case ModePureWebsocket, ModeHybrid, ModeSmartPolling:
		return true
	}
	return false
}

// ModeChange records one transition in the bounded mode history.
type ModeChange struct {
	Mode   Mode      `json:"mode"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// NetworkSource supplies readings and change notifications.
// *netstate.Manager satisfies it.
type NetworkSource interface {
	CurrentState() *netstate.NetworkState
	CurrentQuality() *netstate.ConnectionQuality
	AddChangeListener(netstate.ChangeListener) func()
}

// Gate is the shared circuit breaker guarding polling.
// *breaker.Breaker satisfies it.
type Gate interface {
	CanExecute() bool
	OnFailure()
}

// Refresher is the idempotent, side-effect-free data refresh capability
// invoked by polling.
type Refresher interface {
	Refresh(ctx context.Context, entityID string) ([]byte, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, entityID string) ([]byte, error)

func (f RefresherFunc) Refresh(ctx context.Context, entityID string) ([]byte, error) {
	return f(ctx, entityID)
}

// UpdateFunc receives refreshed entity data.
type UpdateFunc func(entityID string, data []byte)

// LiveStream is an attachable live-data transport. *stream.Client
// satisfies it; a nil factory disables stream management.
type LiveStream interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SelectMode is the pure mode-selection function.
func SelectMode(state *netstate.NetworkState, quality *netstate.ConnectionQuality) Mode {
	if state == nil || quality == nil || !state.Connected || quality.Score == 0 {
		return ModeOfflineCache
	}
	switch {
	case quality.Score >= 60:
		return ModeSmartPolling
	case quality.Score >= 40:
		return ModeAggressivePolling
	default:
		return ModeOfflineCache
	}
}

// intervalBounds holds base and clamp bounds for one mode/liveness pair.
type intervalBounds struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
}

// Tuning centralizes the interval tables. Multipliers are carried-over
// empirical defaults.
type Tuning struct {
	// Interval bounds keyed by mode; Live applies when the entity has a
	// live data source, NoLive when polling is its only feed.
	Live   map[Mode]intervalBounds
	NoLive map[Mode]intervalBounds

	// Network type multipliers.
	WifiMultiplier     float64
	EthernetMultiplier float64
	CellularMultiplier float64
	UnknownMultiplier  float64

	// Quality score multipliers; scores between 30 and 59 poll at the
	// base cadence.
	ExcellentQualityMultiplier float64 // score >= 80
	GoodQualityMultiplier      float64 // score >= 60
	PoorQualityMultiplier      float64 // score < 30
}

// DefaultTuning returns the default interval tables.
func DefaultTuning() Tuning {
	return Tuning{
		Live: map[Mode]intervalBounds{
			ModePureWebsocket:     {Base: 60 * time.Second, Min: 30 * time.Second, Max: 5 * time.Minute},
			ModeHybrid:            {Base: 30 * time.Second, Min: 15 * time.Second, Max: 2 * time.Minute},
			ModeSmartPolling:      {Base: 30 * time.Second, Min: 10 * time.Second, Max: 2 * time.Minute},
			ModeAggressivePolling: {Base: 15 * time.Second, Min: 5 * time.Second, Max: time.Minute},
			ModeOfflineCache:      {Base: 5 * time.Minute, Min: time.Minute, Max: 10 * time.Minute},
		},
		NoLive: map[Mode]intervalBounds{
			ModePureWebsocket:     {Base: 30 * time.Second, Min: 15 * time.Second, Max: 2 * time.Minute},
			ModeHybrid:            {Base: 20 * time.Second, Min: 10 * time.Second, Max: 90 * time.Second},
			ModeSmartPolling:      {Base: 10 * time.Second, Min: 5 * time.Second, Max: time.Minute},
			ModeAggressivePolling: {Base: 5 * time.Second, Min: 3 * time.Second, Max: 30 * time.Second},
			ModeOfflineCache:      {Base: 2 * time.Minute, Min: time.Minute, Max: 10 * time.Minute},
		},

		WifiMultiplier:     0.8,
		EthernetMultiplier: 0.7,
		CellularMultiplier: 1.3,
		UnknownMultiplier:  1.5,

		ExcellentQualityMultiplier: 0.7,
		GoodQualityMultiplier:      0.9,
		PoorQualityMultiplier:      1.8,
	}
}

// networkMultiplier returns the interval multiplier for a network type.
func (t Tuning) networkMultiplier(netType netstate.NetworkType) float64 {
	switch netType {
	case netstate.NetworkWifi:
		return t.WifiMultiplier
	case netstate.NetworkEthernet:
		return t.EthernetMultiplier
	case netstate.NetworkCellular:
		return t.CellularMultiplier
	default:
		return t.UnknownMultiplier
	}
}

// qualityMultiplier returns the interval multiplier for a quality score.
func (t Tuning) qualityMultiplier(score int) float64 {
	switch {
	case score >= 80:
		return t.ExcellentQualityMultiplier
	case score >= 60:
		return t.GoodQualityMultiplier
	case score < 30:
		return t.PoorQualityMultiplier
	default:
		return 1.0
	}
}

// Interval computes the polling interval for a mode/liveness pair under
// the given network conditions, clamped to the mode's bounds.
func (t Tuning) Interval(mode Mode, hasLiveData bool, state *netstate.NetworkState, quality *netstate.ConnectionQuality) time.Duration {
	table := t.NoLive
	if hasLiveData {
		table = t.Live
	}
	b, ok := table[mode]
	if !ok {
		b = intervalBounds{Base: 30 * time.Second, Min: 5 * time.Second, Max: 5 * time.Minute}
	}

	iv := float64(b.Base)
	if state != nil {
		iv *= t.networkMultiplier(state.Type)
	}
	if quality != nil {
		iv *= t.qualityMultiplier(quality.Score)
	}

	d := time.Duration(iv)
	if d < b.Min {
		d = b.Min
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
