package fallback

import (
	"sync"
	"time"
)

// jobState is one phase of a polling job's lifecycle.
type jobState string

const (
	jobIdle      jobState = "idle"
	jobScheduled jobState = "scheduled"
	jobRunning   jobState = "running"
	jobBackoff   jobState = "backoff"
	jobStopped   jobState = "stopped"
)

// pollJob is the per-entity polling state machine. At most one job exists
// per entity id; restarting an entity replaces its job.
type pollJob struct {
	entityID    string
	onUpdate    UpdateFunc
	hasLiveData bool

	mu            sync.Mutex
	state         jobState
	interval      time.Duration
	errorCount    int
	lastAttemptAt time.Time
	busy          bool

	stop     chan struct{}
	kick     chan struct{} // wakes the run loop to pick up a new interval
	stopOnce sync.Once
}

func newPollJob(entityID string, onUpdate UpdateFunc, hasLiveData bool, interval time.Duration) *pollJob {
	return &pollJob{
		entityID:    entityID,
		onUpdate:    onUpdate,
		hasLiveData: hasLiveData,
		state:       jobScheduled,
		interval:    interval,
		stop:        make(chan struct{}),
		kick:        make(chan struct{}, 1),
	}
}

// setInterval updates the interval and nudges the run loop to reschedule.
func (j *pollJob) setInterval(d time.Duration) {
	j.mu.Lock()
	changed := j.interval != d
	j.interval = d
	j.mu.Unlock()

	if changed {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

func (j *pollJob) currentInterval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

func (j *pollJob) setState(s jobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *pollJob) currentState() jobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// beginTick marks the job running unless a tick is already in flight.
func (j *pollJob) beginTick(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.busy || j.state == jobStopped {
		return false
	}
	j.busy = true
	j.state = jobRunning
	j.lastAttemptAt = now
	return true
}

func (j *pollJob) endTick() {
	j.mu.Lock()
	j.busy = false
	j.mu.Unlock()
}

// halt stops the run loop. Idempotent.
func (j *pollJob) halt() {
	j.setState(jobStopped)
	j.stopOnce.Do(func() { close(j.stop) })
}

// JobSnapshot is a read-only view of one polling job.
type JobSnapshot struct {
	EntityID      string        `json:"entity_id"`
	State         string        `json:"state"`
	Interval      time.Duration `json:"interval"`
	ErrorCount    int           `json:"error_count"`
	LastAttemptAt time.Time     `json:"last_attempt_at,omitempty"`
	HasLiveData   bool          `json:"has_live_data"`
}

func (j *pollJob) snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		EntityID:      j.entityID,
		State:         string(j.state),
		Interval:      j.interval,
		ErrorCount:    j.errorCount,
		LastAttemptAt: j.lastAttemptAt,
		HasLiveData:   j.hasLiveData,
	}
}
