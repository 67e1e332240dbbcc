package netstate

import (
	"math"
	"math/rand/v2"
	"time"
)

// latencyScore maps round-trip latency to a 0-100 score. 0ms scores 100,
// 1000ms and above score 0.
func latencyScore(latency time.Duration) int {
	ms := float64(latency.Milliseconds())
	return clampInt(int(math.Round(100-ms/1000*100)), 0, 100)
}

// throughputFor estimates relative throughput for a network state.
func (t Tuning) throughputFor(state NetworkState) int {
	switch state.Type {
	case NetworkWifi:
		return t.ThroughputWifi
	case NetworkEthernet:
		return t.ThroughputEthernet
	case NetworkCellular:
		switch state.Details.CellularGeneration {
		case "5g":
			return t.ThroughputCellular5G
		case "4g":
			return t.ThroughputCellular4G
		case "3g":
			return t.ThroughputCellular3G
		default:
			return t.ThroughputCellular
		}
	default:
		return t.ThroughputUnknown
	}
}

// composite combines the three sub-scores with the configured weights.
func (t Tuning) composite(latency, stability, throughput int) int {
	score := t.LatencyWeight*float64(latency) +
		t.StabilityWeight*float64(stability) +
		t.ThroughputWeight*float64(throughput)
	return clampInt(int(math.Round(score)), 0, 100)
}

// levelFor bands a score. Zero is offline; any other score below the fair
// cutoff is poor.
func (t Tuning) levelFor(score int) QualityLevel {
	switch {
	case score >= t.ExcellentCutoff:
		return LevelExcellent
	case score >= t.GoodCutoff:
		return LevelGood
	case score >= t.FairCutoff:
		return LevelFair
	case score > 0:
		return LevelPoor
	default:
		return LevelOffline
	}
}

// strategyFor recommends a connection strategy from score and network type.
func strategyFor(score int, netType NetworkType) Strategy {
	switch {
	case score >= 90:
		return StrategyAggressiveWebsocket
	case score >= 70:
		if netType == NetworkWifi {
			return StrategyAggressiveWebsocket
		}
		return StrategyConservativeWebsocket
	case score >= 50:
		return StrategyHybrid
	case score > 0:
		return StrategyPollingOnly
	default:
		return StrategyOffline
	}
}

// stabilityFrom derives stability from the variance of recent scores:
// 100 minus the population standard deviation, clamped to [0,100]. Fewer
// than two samples is treated as perfectly stable.
func stabilityFrom(scores []int) int {
	if len(scores) < 2 {
		return 100
	}

	var sum float64
	for _, s := range scores {
		sum += float64(s)
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(len(scores))

	return clampInt(100-int(math.Round(math.Sqrt(variance))), 0, 100)
}

// trendFrom compares the mean of the newer half of scores against the
// older half.
func (t Tuning) trendFrom(scores []int) Trend {
	if len(scores) < t.TrendMinSamples {
		return TrendStable
	}

	mid := len(scores) / 2
	older := mean(scores[:mid])
	newer := mean(scores[mid:])

	switch {
	case newer-older >= float64(t.TrendDelta):
		return TrendImproving
	case older-newer >= float64(t.TrendDelta):
		return TrendDegrading
	default:
		return TrendStable
	}
}

// ExponentialBackoffDelay computes clamp(base * 2^attempt, max) with
// +/-25% jitter, never below floor. Suitable for reconnect pacing.
func ExponentialBackoffDelay(attempt int, base, max, floor time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if floor <= 0 {
		floor = time.Second
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(max) {
		delay = float64(max)
	}

	// Jitter: delay * (0.75 to 1.25)
	jittered := delay * (0.75 + rand.Float64()*0.5)

	d := time.Duration(jittered)
	if d < floor {
		d = floor
	}
	return d
}

func mean(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += float64(s)
	}
	return sum / float64(len(scores))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
