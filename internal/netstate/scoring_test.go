package netstate

import (
	"testing"
	"time"
)

func TestLatencyScore(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    int
	}{
		{0, 100},
		{30 * time.Millisecond, 97},
		{100 * time.Millisecond, 90},
		{500 * time.Millisecond, 50},
		{1 * time.Second, 0},
		{5 * time.Second, 0},
	}

	for _, tt := range tests {
		if got := latencyScore(tt.latency); got != tt.want {
			t.Errorf("latencyScore(%v) = %d, want %d", tt.latency, got, tt.want)
		}
	}
}

func TestComposite_WifiExcellent(t *testing.T) {
	tuning := DefaultTuning()

	// 30ms latency, stability 90, throughput 85:
	// round(0.4*97 + 0.3*90 + 0.3*85) = 91
	ls := latencyScore(30 * time.Millisecond)
	if ls != 97 {
		t.Fatalf("latencyScore = %d, want 97", ls)
	}

	score := tuning.composite(ls, 90, 85)
	if score != 91 {
		t.Errorf("composite = %d, want 91", score)
	}
	if level := tuning.levelFor(score); level != LevelExcellent {
		t.Errorf("levelFor(%d) = %q, want excellent", score, level)
	}
	if s := strategyFor(score, NetworkWifi); s != StrategyAggressiveWebsocket {
		t.Errorf("strategyFor(%d, wifi) = %q, want aggressive_websocket", score, s)
	}
}

func TestLevelFor(t *testing.T) {
	tuning := DefaultTuning()

	tests := []struct {
		score int
		want  QualityLevel
	}{
		{100, LevelExcellent},
		{90, LevelExcellent},
		{89, LevelGood},
		{70, LevelGood},
		{69, LevelFair},
		{50, LevelFair},
		{49, LevelPoor},
		{20, LevelPoor},
		{1, LevelPoor},
		{0, LevelOffline},
	}

	for _, tt := range tests {
		if got := tuning.levelFor(tt.score); got != tt.want {
			t.Errorf("levelFor(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		score   int
		netType NetworkType
		want    Strategy
	}{
		{95, NetworkCellular, StrategyAggressiveWebsocket},
		{80, NetworkWifi, StrategyAggressiveWebsocket},
		{80, NetworkCellular, StrategyConservativeWebsocket},
		{60, NetworkWifi, StrategyHybrid},
		{30, NetworkCellular, StrategyPollingOnly},
		{0, NetworkUnknown, StrategyOffline},
	}

	for _, tt := range tests {
		if got := strategyFor(tt.score, tt.netType); got != tt.want {
			t.Errorf("strategyFor(%d, %s) = %q, want %q", tt.score, tt.netType, got, tt.want)
		}
	}
}

func TestThroughputFor(t *testing.T) {
	tuning := DefaultTuning()

	tests := []struct {
		name  string
		state NetworkState
		want  int
	}{
		{"wifi", NetworkState{Type: NetworkWifi}, 85},
		{"ethernet", NetworkState{Type: NetworkEthernet}, 95},
		{"5g", NetworkState{Type: NetworkCellular, Details: NetworkDetails{CellularGeneration: "5g"}}, 90},
		{"4g", NetworkState{Type: NetworkCellular, Details: NetworkDetails{CellularGeneration: "4g"}}, 70},
		{"3g", NetworkState{Type: NetworkCellular, Details: NetworkDetails{CellularGeneration: "3g"}}, 40},
		{"cellular unknown gen", NetworkState{Type: NetworkCellular}, 50},
		{"unknown", NetworkState{Type: NetworkUnknown}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tuning.throughputFor(tt.state); got != tt.want {
				t.Errorf("throughputFor = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStabilityFrom(t *testing.T) {
	tests := []struct {
		name   string
		scores []int
		want   int
	}{
		{"empty", nil, 100},
		{"single", []int{80}, 100},
		{"constant", []int{80, 80, 80, 80}, 100},
		{"wild swings", []int{0, 100, 0, 100}, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stabilityFrom(tt.scores); got != tt.want {
				t.Errorf("stabilityFrom(%v) = %d, want %d", tt.scores, got, tt.want)
			}
		})
	}
}

func TestTrendFrom(t *testing.T) {
	tuning := DefaultTuning()

	tests := []struct {
		name   string
		scores []int
		want   Trend
	}{
		{"too few samples", []int{10, 90}, TrendStable},
		{"improving", []int{20, 25, 30, 70, 75, 80}, TrendImproving},
		{"degrading", []int{80, 75, 70, 30, 25, 20}, TrendDegrading},
		{"flat", []int{60, 61, 59, 60, 61, 60}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tuning.trendFrom(tt.scores); got != tt.want {
				t.Errorf("trendFrom(%v) = %q, want %q", tt.scores, got, tt.want)
			}
		})
	}
}

func TestExponentialBackoffDelay_Bounds(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second
	floor := 1 * time.Second

	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 50; i++ {
			d := ExponentialBackoffDelay(attempt, base, max, floor)
			if d < floor {
				t.Fatalf("attempt %d: delay %v below floor %v", attempt, d, floor)
			}
			// Jitter adds at most 25% above the clamped delay.
			limit := time.Duration(float64(max) * 1.25)
			if d > limit {
				t.Fatalf("attempt %d: delay %v above max*1.25 %v", attempt, d, limit)
			}
		}
	}
}

func TestExponentialBackoffDelay_GrowsWithAttempt(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	// Compare averaged delays: expectation must be non-decreasing until
	// the max clamp kicks in.
	avg := func(attempt int) time.Duration {
		var total time.Duration
		const n = 200
		for i := 0; i < n; i++ {
			total += ExponentialBackoffDelay(attempt, base, max, base)
		}
		return total / n
	}

	a0, a2 := avg(0), avg(2)
	if a2 <= a0 {
		t.Errorf("mean delay for attempt 2 (%v) not above attempt 0 (%v)", a2, a0)
	}
}

func TestStrategyProfile(t *testing.T) {
	p := StrategyAggressiveWebsocket.Profile()
	if p.ReconnectDelay != time.Second || p.MaxReconnectAttempts != 10 {
		t.Errorf("aggressive profile = %+v, want 1s reconnect / 10 attempts", p)
	}

	if p := StrategyPollingOnly.Profile(); p.PollInterval == 0 {
		t.Error("polling profile missing poll interval")
	}

	if p := StrategyOffline.Profile(); p.MaxReconnectAttempts != 0 {
		t.Errorf("offline profile = %+v, want zero values", p)
	}
}
