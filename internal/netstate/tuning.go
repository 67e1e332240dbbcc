package netstate

import "time"

// Tuning centralizes the empirical scoring constants. The weights and the
// throughput table are carried-over defaults, not assumed-optimal values.
type Tuning struct {
	// Score weights; must sum to 1.0.
	LatencyWeight    float64
	StabilityWeight  float64
	ThroughputWeight float64

	// Level cutoffs (score >= cutoff).
	ExcellentCutoff int
	GoodCutoff      int
	FairCutoff      int

	// Throughput estimates per network type / cellular generation, 0-100.
	ThroughputWifi       int
	ThroughputEthernet   int
	ThroughputCellular5G int
	ThroughputCellular4G int
	ThroughputCellular3G int
	ThroughputCellular   int // cellular, generation unknown
	ThroughputUnknown    int

	// Latency assumed for a timed-out probe.
	ProbeTimeoutLatency time.Duration

	// Exponential backoff bounds.
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	BackoffFloor time.Duration

	// Trend detection: minimum samples and mean delta to call a direction.
	TrendMinSamples int
	TrendDelta      int
}

// DefaultTuning returns the default scoring constants.
func DefaultTuning() Tuning {
	return Tuning{
		LatencyWeight:    0.4,
		StabilityWeight:  0.3,
		ThroughputWeight: 0.3,

		ExcellentCutoff: 90,
		GoodCutoff:      70,
		FairCutoff:      50,

		ThroughputWifi:       85,
		ThroughputEthernet:   95,
		ThroughputCellular5G: 90,
		ThroughputCellular4G: 70,
		ThroughputCellular3G: 40,
		ThroughputCellular:   50,
		ThroughputUnknown:    30,

		ProbeTimeoutLatency: 5 * time.Second,

		BackoffBase:  1 * time.Second,
		BackoffMax:   30 * time.Second,
		BackoffFloor: 1 * time.Second,

		TrendMinSamples: 5,
		TrendDelta:      10,
	}
}
