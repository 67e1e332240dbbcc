package fallback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/refnet/resilience/internal/netstate"
)

// fakeNet is a controllable NetworkSource.
type fakeNet struct {
	mu        sync.Mutex
	state     *netstate.NetworkState
	quality   *netstate.ConnectionQuality
	listeners []netstate.ChangeListener
}

func newFakeNet(netType netstate.NetworkType, connected bool, score int) *fakeNet {
	return &fakeNet{
		state:   &netstate.NetworkState{Connected: connected, Type: netType, ObservedAt: time.Now()},
		quality: &netstate.ConnectionQuality{Score: score, MeasuredAt: time.Now()},
	}
}

func (f *fakeNet) CurrentState() *netstate.NetworkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeNet) CurrentQuality() *netstate.ConnectionQuality {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quality
}

func (f *fakeNet) AddChangeListener(fn netstate.ChangeListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
	return func() {}
}

// set updates readings and fires listeners, mimicking a network change.
func (f *fakeNet) set(netType netstate.NetworkType, connected bool, score int) {
	f.mu.Lock()
	f.state = &netstate.NetworkState{Connected: connected, Type: netType, ObservedAt: time.Now()}
	f.quality = &netstate.ConnectionQuality{Score: score, MeasuredAt: time.Now()}
	state := *f.state
	quality := *f.quality
	listeners := make([]netstate.ChangeListener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(state, quality)
	}
}

// fakeGate is a controllable Gate.
type fakeGate struct {
	allow    atomic.Bool
	failures atomic.Int32
}

func newFakeGate(allow bool) *fakeGate {
	g := &fakeGate{}
	g.allow.Store(allow)
	return g
}

func (g *fakeGate) CanExecute() bool { return g.allow.Load() }
func (g *fakeGate) OnFailure()       { g.failures.Add(1) }

// fakeStream is a controllable LiveStream.
type fakeStream struct {
	mu        sync.Mutex
	connected bool
	closed    bool
}

func (s *fakeStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
	return nil
}

func (s *fakeStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// testTuning returns millisecond-scale intervals so tests run fast.
func testTuning() Tuning {
	bounds := map[Mode]intervalBounds{
		ModePureWebsocket:     {Base: 10 * time.Millisecond, Min: time.Millisecond, Max: time.Second},
		ModeHybrid:            {Base: 10 * time.Millisecond, Min: time.Millisecond, Max: time.Second},
		ModeSmartPolling:      {Base: 10 * time.Millisecond, Min: time.Millisecond, Max: time.Second},
		ModeAggressivePolling: {Base: 5 * time.Millisecond, Min: time.Millisecond, Max: time.Second},
		ModeOfflineCache:      {Base: 50 * time.Millisecond, Min: time.Millisecond, Max: time.Second},
	}
	return Tuning{
		Live:               bounds,
		NoLive:             bounds,
		WifiMultiplier:     0.8,
		EthernetMultiplier: 0.7,
		CellularMultiplier: 1.3,
		UnknownMultiplier:  1.5,

		ExcellentQualityMultiplier: 0.7,
		GoodQualityMultiplier:      0.9,
		PoorQualityMultiplier:      1.8,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tuning = testTuning()
	cfg.SlowPollInterval = 200 * time.Millisecond
	cfg.RefreshTimeout = time.Second
	return cfg
}

func startService(t *testing.T, cfg Config, net NetworkSource, gate Gate, refresher Refresher, newStream func() LiveStream) *Service {
	t.Helper()

	svc := NewService(cfg, net, gate, refresher, newStream, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSelectMode(t *testing.T) {
	conn := func(score int) (*netstate.NetworkState, *netstate.ConnectionQuality) {
		return &netstate.NetworkState{Connected: true, Type: netstate.NetworkWifi},
			&netstate.ConnectionQuality{Score: score}
	}

	goodState, goodQuality := conn(75)
	fairState, fairQuality := conn(45)
	badState, badQuality := conn(20)
	zeroState, zeroQuality := conn(0)

	tests := []struct {
		name    string
		state   *netstate.NetworkState
		quality *netstate.ConnectionQuality
		want    Mode
	}{
		{"nil state", nil, goodQuality, ModeOfflineCache},
		{"nil quality", goodState, nil, ModeOfflineCache},
		{"disconnected", &netstate.NetworkState{Connected: false}, goodQuality, ModeOfflineCache},
		{"zero score", zeroState, zeroQuality, ModeOfflineCache},
		{"good quality", goodState, goodQuality, ModeSmartPolling},
		{"boundary 60", goodState, &netstate.ConnectionQuality{Score: 60}, ModeSmartPolling},
		{"fair quality", fairState, fairQuality, ModeAggressivePolling},
		{"boundary 40", fairState, &netstate.ConnectionQuality{Score: 40}, ModeAggressivePolling},
		{"poor quality", badState, badQuality, ModeOfflineCache},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectMode(tt.state, tt.quality); got != tt.want {
				t.Errorf("SelectMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTuning_Interval(t *testing.T) {
	tuning := DefaultTuning()

	tests := []struct {
		name        string
		mode        Mode
		hasLiveData bool
		netType     netstate.NetworkType
		score       int
		want        time.Duration
	}{
		{
			// 10s base * 0.8 wifi * 0.7 excellent = 5.6s
			name: "wifi excellent smart polling", mode: ModeSmartPolling,
			netType: netstate.NetworkWifi, score: 85,
			want: 5600 * time.Millisecond,
		},
		{
			// 5s base * 1.3 cellular * 1.8 poor = 11.7s
			name: "cellular poor aggressive", mode: ModeAggressivePolling,
			netType: netstate.NetworkCellular, score: 20,
			want: 11700 * time.Millisecond,
		},
		{
			// 30s base * 0.7 ethernet * 0.7 excellent = 14.7s, floor 10s holds
			name: "live data slows polling", mode: ModeSmartPolling, hasLiveData: true,
			netType: netstate.NetworkEthernet, score: 95,
			want: 14700 * time.Millisecond,
		},
		{
			// 5s base * 0.7 ethernet * 0.7 excellent = 2.45s, clamped to 3s min
			name: "clamped to mode minimum", mode: ModeAggressivePolling,
			netType: netstate.NetworkEthernet, score: 90,
			want: 3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &netstate.NetworkState{Connected: true, Type: tt.netType}
			quality := &netstate.ConnectionQuality{Score: tt.score}
			got := tuning.Interval(tt.mode, tt.hasLiveData, state, quality)
			if got != tt.want {
				t.Errorf("Interval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTuning_QualityMultipliersConfigurable(t *testing.T) {
	tuning := DefaultTuning()
	tuning.PoorQualityMultiplier = 3.0

	state := &netstate.NetworkState{Connected: true, Type: netstate.NetworkEthernet}
	quality := &netstate.ConnectionQuality{Score: 10}

	// 10s base * 0.7 ethernet * 3.0 poor = 21s
	if got := tuning.Interval(ModeSmartPolling, false, state, quality); got != 21*time.Second {
		t.Errorf("Interval() = %v, want 21s with overridden poor multiplier", got)
	}
}

func TestService_StartupModeFromNetwork(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), nil)

	if got := svc.Mode(); got != ModeSmartPolling {
		t.Errorf("Mode() = %v, want %v", got, ModeSmartPolling)
	}
}

func TestService_OfflineSelectsOfflineCache(t *testing.T) {
	net := newFakeNet(netstate.NetworkUnknown, false, 0)
	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), nil)

	if got := svc.Mode(); got != ModeOfflineCache {
		t.Errorf("Mode() = %v, want %v", got, ModeOfflineCache)
	}
}

func TestService_PollingDeliversUpdates(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	refresher := RefresherFunc(func(_ context.Context, entityID string) ([]byte, error) {
		return []byte(`{"id":"` + entityID + `"}`), nil
	})

	var updates atomic.Int32
	svc := startService(t, testConfig(), net, nil, refresher, nil)

	if !svc.StartPolling("match-1", func(entityID string, data []byte) {
		if entityID != "match-1" {
			t.Errorf("update for entity %q, want match-1", entityID)
		}
		updates.Add(1)
	}, false) {
		t.Fatal("StartPolling refused")
	}

	// First poll is immediate, then the interval takes over.
	waitFor(t, time.Second, func() bool { return updates.Load() >= 2 },
		"expected at least 2 updates")

	if !svc.IsPolling("match-1") {
		t.Error("IsPolling = false for running job")
	}
}

func TestService_StartPollingRefusedByGate(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	gate := newFakeGate(false)

	svc := startService(t, testConfig(), net, gate, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), nil)

	if svc.StartPolling("match-1", nil, false) {
		t.Error("StartPolling succeeded with open circuit breaker")
	}
	if svc.IsPolling("match-1") {
		t.Error("job exists despite refusal")
	}
}

func TestService_DuplicateStartReplacesJob(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), nil)

	svc.StartPolling("match-1", nil, false)
	svc.StartPolling("match-1", nil, false)
	svc.StartPolling("match-1", nil, true)

	if got := len(svc.Jobs()); got != 1 {
		t.Errorf("len(Jobs()) = %d, want 1 after duplicate starts", got)
	}
}

func TestService_BackoffAfterThreeFailures(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	cfg := testConfig()
	cfg.StopAfterFailures = 100 // keep the job alive long enough to observe backoff

	refresher := RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("upstream down")
	})

	svc := startService(t, cfg, net, nil, refresher, nil)
	svc.StartPolling("match-1", nil, false)

	waitFor(t, 2*time.Second, func() bool {
		jobs := svc.Jobs()
		return len(jobs) == 1 &&
			jobs[0].ErrorCount >= cfg.BackoffAfterFailures &&
			jobs[0].Interval == cfg.SlowPollInterval
	}, "job never entered backoff at the slow interval")
}

func TestService_StopsAfterFiveFailuresAndNotifiesBreaker(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	gate := newFakeGate(true)
	cfg := testConfig()
	cfg.SlowPollInterval = 5 * time.Millisecond

	refresher := RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("upstream down")
	})

	svc := startService(t, cfg, net, gate, refresher, nil)
	svc.StartPolling("match-1", nil, false)

	waitFor(t, 2*time.Second, func() bool { return !svc.IsPolling("match-1") },
		"job still polling after repeated failures")
	waitFor(t, time.Second, func() bool { return gate.failures.Load() == 1 },
		"circuit breaker not notified exactly once")
}

func TestService_SuccessResetsFailureCount(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	cfg := testConfig()
	cfg.SlowPollInterval = 5 * time.Millisecond

	var calls atomic.Int32
	refresher := RefresherFunc(func(context.Context, string) ([]byte, error) {
		// Fail twice, then recover.
		if calls.Add(1) <= 2 {
			return nil, errors.New("flaky")
		}
		return []byte("ok"), nil
	})

	var updates atomic.Int32
	svc := startService(t, cfg, net, nil, refresher, nil)
	svc.StartPolling("match-1", func(string, []byte) { updates.Add(1) }, false)

	waitFor(t, 2*time.Second, func() bool { return updates.Load() >= 1 },
		"no update delivered after recovery")

	jobs := svc.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("len(Jobs()) = %d, want 1", len(jobs))
	}
	if jobs[0].ErrorCount != 0 {
		t.Errorf("ErrorCount = %d after success, want 0", jobs[0].ErrorCount)
	}
}

func TestService_ModeChangeMigratesJobs(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return []byte("ok"), nil
	}), nil)

	svc.StartPolling("match-1", nil, false)
	if got := svc.Mode(); got != ModeSmartPolling {
		t.Fatalf("initial Mode() = %v, want %v", got, ModeSmartPolling)
	}

	// Degrade to a fair cellular connection: aggressive polling, same job.
	net.set(netstate.NetworkCellular, true, 45)

	if got := svc.Mode(); got != ModeAggressivePolling {
		t.Errorf("Mode() = %v after degradation, want %v", got, ModeAggressivePolling)
	}
	if !svc.IsPolling("match-1") {
		t.Error("job lost across mode change")
	}

	history := svc.ModeHistory()
	if len(history) < 2 {
		t.Fatalf("len(ModeHistory()) = %d, want >= 2", len(history))
	}
	last := history[len(history)-1]
	if last.Mode != ModeAggressivePolling || last.Reason != "network change" {
		t.Errorf("last transition = %+v, want aggressive_polling via network change", last)
	}
}

func TestService_ModeHistoryBounded(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	cfg := testConfig()
	cfg.ModeHistorySize = 5

	svc := startService(t, cfg, net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), nil)

	for i := 0; i < 10; i++ {
		net.set(netstate.NetworkCellular, true, 45)
		net.set(netstate.NetworkWifi, true, 80)
	}

	if got := len(svc.ModeHistory()); got > cfg.ModeHistorySize {
		t.Errorf("len(ModeHistory()) = %d, want <= %d", got, cfg.ModeHistorySize)
	}
}

func TestService_StreamFollowsMode(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	var streamMu sync.Mutex
	var streams []*fakeStream
	newStream := func() LiveStream {
		streamMu.Lock()
		defer streamMu.Unlock()
		st := &fakeStream{}
		streams = append(streams, st)
		return st
	}

	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), newStream)

	// Smart polling keeps a stream attached.
	waitFor(t, time.Second, func() bool { return svc.StreamConnected() },
		"no stream attached in smart polling mode")

	// Going offline detaches it.
	net.set(netstate.NetworkUnknown, false, 0)
	waitFor(t, time.Second, func() bool { return !svc.StreamConnected() },
		"stream still attached in offline cache mode")

	streamMu.Lock()
	defer streamMu.Unlock()
	for _, st := range streams {
		if st.IsConnected() {
			t.Error("stream left connected after mode dropped it")
		}
	}
}

func TestService_DeadStreamReplacedOnModeApplication(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	var streamMu sync.Mutex
	var streams []*fakeStream
	newStream := func() LiveStream {
		streamMu.Lock()
		defer streamMu.Unlock()
		st := &fakeStream{}
		streams = append(streams, st)
		return st
	}

	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return nil, nil
	}), newStream)

	waitFor(t, time.Second, func() bool { return svc.StreamConnected() },
		"no stream attached in smart polling mode")

	// The transport went silent and marked itself dead.
	streamMu.Lock()
	first := streams[0]
	streamMu.Unlock()
	first.mu.Lock()
	first.connected = false
	first.mu.Unlock()

	// The next mode application attaches a fresh stream in its place.
	net.set(netstate.NetworkWifi, true, 85)

	waitFor(t, time.Second, func() bool {
		streamMu.Lock()
		defer streamMu.Unlock()
		return len(streams) == 2 && streams[1].IsConnected()
	}, "dead stream never replaced")

	first.mu.Lock()
	defer first.mu.Unlock()
	if !first.closed {
		t.Error("dead stream not closed on replacement")
	}
}

func TestService_SuspendAndResume(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return []byte("ok"), nil
	}), nil)

	svc.StartPolling("match-1", nil, false)
	svc.StartPolling("match-2", nil, false)
	svc.StartPolling("critical-1", nil, false)

	suspended := svc.Suspend(func(id string) bool { return id == "critical-1" })
	if len(suspended) != 2 {
		t.Fatalf("Suspend halted %d jobs, want 2", len(suspended))
	}
	if !svc.IsPolling("critical-1") {
		t.Error("kept job was suspended")
	}
	if svc.IsPolling("match-1") || svc.IsPolling("match-2") {
		t.Error("suspended job still polling")
	}

	if got := svc.Resume(); got != 2 {
		t.Errorf("Resume() = %d, want 2", got)
	}
	if !svc.IsPolling("match-1") || !svc.IsPolling("match-2") {
		t.Error("resumed job not polling")
	}
}

func TestService_CleanupStopsEverything(t *testing.T) {
	net := newFakeNet(netstate.NetworkWifi, true, 80)
	newStream := func() LiveStream { return &fakeStream{} }

	svc := startService(t, testConfig(), net, nil, RefresherFunc(func(context.Context, string) ([]byte, error) {
		return []byte("ok"), nil
	}), newStream)

	svc.StartPolling("match-1", nil, false)
	svc.StartPolling("match-2", nil, false)

	svc.Cleanup()

	if len(svc.Jobs()) != 0 {
		t.Error("jobs remain after Cleanup")
	}
	if svc.StreamConnected() {
		t.Error("stream attached after Cleanup")
	}
}
