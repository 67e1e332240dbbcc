package fallback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/refnet/resilience/internal/netstate"
)

// Config configures the fallback service.
type Config struct {
	// BackoffAfterFailures is the consecutive-failure count at which a job
	// drops to the slow poll interval.
	BackoffAfterFailures int
	// StopAfterFailures is the consecutive-failure count at which a job is
	// hard-stopped and the circuit breaker notified.
	StopAfterFailures int
	// SlowPollInterval is the forced interval while a job is backing off.
	SlowPollInterval time.Duration
	// RefreshTimeout bounds each refresh call.
	RefreshTimeout time.Duration
	// ModeHistorySize bounds the retained mode transition history.
	ModeHistorySize int
	Tuning          Tuning
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BackoffAfterFailures: 3,
		StopAfterFailures:    5,
		SlowPollInterval:     60 * time.Second,
		RefreshTimeout:       10 * time.Second,
		ModeHistorySize:      50,
		Tuning:               DefaultTuning(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BackoffAfterFailures <= 0 {
		c.BackoffAfterFailures = d.BackoffAfterFailures
	}
	if c.StopAfterFailures <= 0 {
		c.StopAfterFailures = d.StopAfterFailures
	}
	if c.SlowPollInterval <= 0 {
		c.SlowPollInterval = d.SlowPollInterval
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = d.RefreshTimeout
	}
	if c.ModeHistorySize <= 0 {
		c.ModeHistorySize = d.ModeHistorySize
	}
	if c.Tuning.Live == nil {
		c.Tuning = d.Tuning
	}
}

// jobSpec retains enough of a job to restart it after a suspend.
type jobSpec struct {
	onUpdate    UpdateFunc
	hasLiveData bool
}

// Service coordinates fallback mode selection, per-entity polling jobs,
// and the live-data stream.
type Service struct {
	cfg       Config
	net       NetworkSource
	gate      Gate
	refresher Refresher
	newStream func() LiveStream
	logger    *slog.Logger

	mu          sync.Mutex
	mode        Mode
	modeHistory []ModeChange
	jobs        map[string]*pollJob
	suspended   map[string]jobSpec
	stream      LiveStream
	unsubNet    func()
	started     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewService creates a fallback service. newStream may be nil, which
// disables stream management entirely.
func NewService(cfg Config, net NetworkSource, gate Gate, refresher Refresher, newStream func() LiveStream, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Service{
		cfg:       cfg,
		net:       net,
		gate:      gate,
		refresher: refresher,
		newStream: newStream,
		logger:    logger,
		mode:      ModeOfflineCache,
		jobs:      make(map[string]*pollJob),
		suspended: make(map[string]jobSpec),
		now:       time.Now,
	}
}

// Start computes the initial mode and subscribes to network changes.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.RecomputeMode("startup")

	unsub := s.net.AddChangeListener(func(state netstate.NetworkState, quality netstate.ConnectionQuality) {
		s.applyMode(SelectMode(&state, &quality), "network change")
	})

	s.mu.Lock()
	s.unsubNet = unsub
	s.mu.Unlock()

	return nil
}

// Stop tears down all polling, the stream, and the network subscription.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	unsub := s.unsubNet
	s.unsubNet = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}

	s.StopAllPolling()
	s.closeStream()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mode returns the active fallback mode.
func (s *Service) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ModeHistory returns a copy of the bounded mode transition history,
// oldest first.
func (s *Service) ModeHistory() []ModeChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModeChange, len(s.modeHistory))
	copy(out, s.modeHistory)
	return out
}

// RecomputeMode re-evaluates the fallback mode from current network
// readings and applies it if changed.
func (s *Service) RecomputeMode(reason string) Mode {
	state := s.net.CurrentState()
	quality := s.net.CurrentQuality()
	mode := SelectMode(state, quality)
	s.applyMode(mode, reason)
	return mode
}

// applyMode installs a mode, migrating live jobs to the new intervals and
// attaching or detaching the stream as the mode requires.
func (s *Service) applyMode(mode Mode, reason string) {
	state := s.net.CurrentState()
	quality := s.net.CurrentQuality()

	s.mu.Lock()
	changed := mode != s.mode
	if changed {
		s.mode = mode
		s.modeHistory = append(s.modeHistory, ModeChange{
			Mode:   mode,
			At:     s.now(),
			Reason: reason,
		})
		if len(s.modeHistory) > s.cfg.ModeHistorySize {
			s.modeHistory = s.modeHistory[len(s.modeHistory)-s.cfg.ModeHistorySize:]
		}
	}
	jobs := make([]*pollJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	// Live migration: jobs keep running, only their cadence changes.
	for _, j := range jobs {
		j.setInterval(s.cfg.Tuning.Interval(mode, j.hasLiveData, state, quality))
	}

	if changed {
		s.logger.Info("fallback mode changed",
			"mode", mode,
			"reason", reason,
			"jobs", len(jobs),
		)
	}

	if mode.usesStream() {
		s.ensureStream()
	} else {
		s.closeStream()
	}
}

// ensureStream connects a live stream if the factory is set and no
// healthy stream exists. Connection happens asynchronously so mode
// application never blocks on the network.
func (s *Service) ensureStream() {
	if s.newStream == nil {
		return
	}

	s.mu.Lock()
	if s.stream != nil && s.stream.IsConnected() {
		s.mu.Unlock()
		return
	}
	if s.stream != nil {
		s.stream.Close()
	}
	st := s.newStream()
	s.stream = st
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := st.Connect(ctx); err != nil {
			s.logger.Warn("stream connect failed", "error", err)
		}
	}()
}

func (s *Service) closeStream() {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st != nil {
		if err := st.Close(); err != nil {
			s.logger.Debug("stream close", "error", err)
		}
	}
}

// StreamConnected reports whether a live stream is currently attached.
func (s *Service) StreamConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil && s.stream.IsConnected()
}

// StartPolling begins a polling job for an entity. Starting an entity that
// already has a job replaces it, so at most one job per entity exists. The
// first poll fires immediately. Returns false when the circuit breaker
// refuses execution.
func (s *Service) StartPolling(entityID string, onUpdate UpdateFunc, hasLiveData bool) bool {
	if s.gate != nil && !s.gate.CanExecute() {
		s.logger.Warn("polling refused by circuit breaker", "entity", entityID)
		return false
	}

	interval := s.computeInterval(hasLiveData)

	s.mu.Lock()
	if old, ok := s.jobs[entityID]; ok {
		old.halt()
	}
	delete(s.suspended, entityID)

	job := newPollJob(entityID, onUpdate, hasLiveData, interval)
	s.jobs[entityID] = job
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go s.runJob(ctx, job)

	s.logger.Debug("polling started",
		"entity", entityID,
		"interval", interval,
		"has_live_data", hasLiveData,
	)
	return true
}

// StopPolling cancels the entity's job if one exists.
func (s *Service) StopPolling(entityID string) {
	s.mu.Lock()
	job, ok := s.jobs[entityID]
	delete(s.jobs, entityID)
	delete(s.suspended, entityID)
	s.mu.Unlock()

	if ok {
		job.halt()
		s.logger.Debug("polling stopped", "entity", entityID)
	}
}

// StopAllPolling cancels every job and clears all bookkeeping.
func (s *Service) StopAllPolling() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*pollJob)
	s.suspended = make(map[string]jobSpec)
	s.mu.Unlock()

	for _, j := range jobs {
		j.halt()
	}
	if len(jobs) > 0 {
		s.logger.Info("all polling stopped", "jobs", len(jobs))
	}
}

// Cleanup stops all polling, detaches the stream, and drops the network
// subscription. The service can be restarted afterwards.
func (s *Service) Cleanup() {
	s.mu.Lock()
	unsub := s.unsubNet
	s.unsubNet = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.StopAllPolling()
	s.closeStream()
}

// IsPolling reports whether the entity has an active job.
func (s *Service) IsPolling(entityID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[entityID]
	s.mu.Unlock()
	return ok && job.currentState() != jobStopped
}

// Jobs returns snapshots of all active jobs.
func (s *Service) Jobs() []JobSnapshot {
	s.mu.Lock()
	jobs := make([]*pollJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// Suspend halts every job not matched by keep, retaining enough state to
// restart them. Returns the suspended entity ids.
func (s *Service) Suspend(keep func(entityID string) bool) []string {
	s.mu.Lock()
	var halted []*pollJob
	var ids []string
	for id, j := range s.jobs {
		if keep != nil && keep(id) {
			continue
		}
		s.suspended[id] = jobSpec{onUpdate: j.onUpdate, hasLiveData: j.hasLiveData}
		delete(s.jobs, id)
		halted = append(halted, j)
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, j := range halted {
		j.halt()
	}
	if len(ids) > 0 {
		s.logger.Info("polling suspended", "entities", len(ids))
	}
	return ids
}

// Resume restarts every suspended job. Jobs the circuit breaker refuses
// stay suspended. Returns the number restarted.
func (s *Service) Resume() int {
	s.mu.Lock()
	pending := make(map[string]jobSpec, len(s.suspended))
	for id, spec := range s.suspended {
		pending[id] = spec
	}
	s.mu.Unlock()

	resumed := 0
	for id, spec := range pending {
		if s.StartPolling(id, spec.onUpdate, spec.hasLiveData) {
			resumed++
		}
	}
	if resumed > 0 {
		s.logger.Info("polling resumed", "entities", resumed)
	}
	return resumed
}

// computeInterval derives a job interval from the current mode and
// network conditions.
func (s *Service) computeInterval(hasLiveData bool) time.Duration {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	return s.cfg.Tuning.Interval(mode, hasLiveData, s.net.CurrentState(), s.net.CurrentQuality())
}

// runJob drives one job's poll loop until stopped.
func (s *Service) runJob(ctx context.Context, job *pollJob) {
	defer s.wg.Done()

	// Immediate first poll.
	s.pollOnce(ctx, job)
	if job.currentState() == jobStopped {
		return
	}

	timer := time.NewTimer(job.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			job.halt()
			return
		case <-job.stop:
			return
		case <-job.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(job.currentInterval())
		case <-timer.C:
			s.pollOnce(ctx, job)
			if job.currentState() == jobStopped {
				return
			}
			timer.Reset(job.currentInterval())
		}
	}
}

// pollOnce executes a single refresh tick with overlap protection.
func (s *Service) pollOnce(ctx context.Context, job *pollJob) {
	if !job.beginTick(s.now()) {
		return
	}
	defer job.endTick()

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	data, err := s.refresher.Refresh(rctx, job.entityID)
	cancel()

	if err != nil {
		s.handlePollFailure(job, err)
		return
	}

	job.mu.Lock()
	job.errorCount = 0
	if job.state != jobStopped {
		job.state = jobScheduled
	}
	job.mu.Unlock()

	// A successful poll also exits backoff.
	job.setInterval(s.computeInterval(job.hasLiveData))

	if job.onUpdate != nil {
		job.onUpdate(job.entityID, data)
	}
}

func (s *Service) handlePollFailure(job *pollJob, err error) {
	job.mu.Lock()
	job.errorCount++
	count := job.errorCount
	job.mu.Unlock()

	switch {
	case count >= s.cfg.StopAfterFailures:
		s.mu.Lock()
		delete(s.jobs, job.entityID)
		s.mu.Unlock()
		job.halt()

		s.logger.Error("polling stopped after repeated failures",
			"entity", job.entityID,
			"failures", count,
			"error", err,
		)
		if s.gate != nil {
			s.gate.OnFailure()
		}

	case count >= s.cfg.BackoffAfterFailures:
		job.setState(jobBackoff)
		job.setInterval(s.cfg.SlowPollInterval)
		s.logger.Warn("polling backing off",
			"entity", job.entityID,
			"failures", count,
			"interval", s.cfg.SlowPollInterval,
			"error", err,
		)

	default:
		job.setState(jobScheduled)
		s.logger.Debug("poll failed",
			"entity", job.entityID,
			"failures", count,
			"error", err,
		)
	}
}
