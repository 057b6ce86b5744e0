package jobqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "normal"
	}
}

func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobRetrying  = "retrying"
	JobCancelled = "cancelled"
	JobTimeout   = "timeout"
)

// JobLog is one advisory log line reported by a handler.
type JobLog struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Options controls how a submitted job is scheduled and retried.
type Options struct {
	ID          string
	Priority    Priority
	MaxAttempts int
	Timeout     time.Duration
	Backoff     string
	BaseDelay   time.Duration
	Delay       time.Duration

	// Ephemeral jobs are skipped by queue snapshots. Used for work
	// whose owner rebuilds it from its own durable state after a
	// restart instead of relying on the queue to replay it.
	Ephemeral bool
}

// Job is one queued unit of work. The queue owns it until terminal;
// handlers see it only through the JobContext passed to them.
type Job struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Payload     interface{}   `json:"payload"`
	Priority    Priority      `json:"priority"`
	Status      string        `json:"status"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"maxAttempts"`
	Timeout     time.Duration `json:"timeout"`
	Backoff     string        `json:"backoff"`
	BaseDelay   time.Duration `json:"baseDelay"`
	Progress    int           `json:"progress"`
	Logs        []JobLog      `json:"logs"`
	Result      interface{}   `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	Ephemeral   bool          `json:"ephemeral,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`

	readyAt time.Time
	seq     uint64
	index   int
	done    chan struct{}
}

func newJob(jobType string, payload interface{}, opts Options, seq uint64) *Job {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	now := time.Now()
	return &Job{
		ID:          id,
		Type:        jobType,
		Payload:     payload,
		Priority:    opts.Priority,
		Status:      JobPending,
		MaxAttempts: maxAttempts,
		Timeout:     opts.Timeout,
		Backoff:     opts.Backoff,
		BaseDelay:   opts.BaseDelay,
		Ephemeral:   opts.Ephemeral,
		CreatedAt:   now,
		readyAt:     now.Add(opts.Delay),
		seq:         seq,
		done:        make(chan struct{}),
	}
}

func (j *Job) terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout:
		return true
	}
	return false
}

// snapshot returns a copy safe to hand to observers.
func (j *Job) snapshot() Job {
	copy := *j
	copy.Logs = append([]JobLog(nil), j.Logs...)
	copy.done = nil
	return copy
}

// JobContext is the handler-facing view of a running job. Progress and
// Log are advisory side channels and never affect scheduling.
type JobContext struct {
	ID      string
	Type    string
	Payload interface{}
	Attempt int

	mu    *sync.Mutex
	job   *Job
	queue *Queue
}

func (c *JobContext) ReportProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	c.mu.Lock()
	c.job.Progress = percent
	snap := c.job.snapshot()
	c.mu.Unlock()
	c.queue.emit(EventProgress, snap)
}

func (c *JobContext) Log(format string, args ...interface{}) {
	entry := JobLog{Timestamp: time.Now(), Message: fmt.Sprintf(format, args...)}
	c.mu.Lock()
	c.job.Logs = append(c.job.Logs, entry)
	c.mu.Unlock()
}
