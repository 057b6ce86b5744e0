package jobqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/canvasflow/engine/pkg/logger"
	"github.com/canvasflow/engine/pkg/metrics"
)

var (
	ErrDuplicateJob     = errors.New("job id already exists")
	ErrQueueFull        = errors.New("queue at capacity")
	ErrDuplicateHandler = errors.New("handler already registered for type")
	ErrNoHandler        = errors.New("no handler registered for job type")
	ErrJobTimedOut      = errors.New("job timed out")
	ErrJobCancelled     = errors.New("job cancelled")
	ErrNotStarted       = errors.New("queue not started")
)

// Handler executes one job. The returned value becomes the job result;
// a returned error triggers the retry policy.
type Handler func(ctx context.Context, job *JobContext) (interface{}, error)

type EventType string

const (
	EventAdded     EventType = "added"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventRetrying  EventType = "retrying"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventTimeout   EventType = "timeout"
)

type Event struct {
	Type EventType
	Job  Job
}

type Observer func(Event)

type Config struct {
	Workers            int
	Capacity           int
	DefaultTimeout     time.Duration
	DefaultMaxAttempts int
	BackoffKind        string
	BackoffBase        time.Duration
	BackoffMax         time.Duration
}

// Queue is an in-memory priority job queue with a fixed worker pool.
// Submit, Cancel and the worker dequeue loop run concurrently; every
// touch of the shared maps happens under mu.
type Queue struct {
	cfg Config
	log logger.Logger
	m   *metrics.Metrics

	mu        sync.Mutex
	pending   jobHeap
	jobs      map[string]*Job
	handlers  map[string]Handler
	observers []Observer
	seq       uint64

	notify  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, log logger.Logger, m *metrics.Metrics) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Queue{
		cfg:      cfg,
		log:      log,
		m:        m,
		jobs:     make(map[string]*Job),
		handlers: make(map[string]Handler),
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (q *Queue) RegisterHandler(jobType string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[jobType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, jobType)
	}
	q.handlers[jobType] = handler
	return nil
}

// OnEvent registers an observer for job lifecycle events. Observers
// are called outside the queue lock and must not block.
func (q *Queue) OnEvent(fn Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, fn)
}

func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info("job queue started", "workers", q.cfg.Workers)
}

// Stop signals the workers and waits for in-flight jobs, up to the
// context deadline.
func (q *Queue) Stop(ctx context.Context) error {
	close(q.stopCh)
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.log.Info("job queue stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a job. A job whose type has no registered handler is
// created already failed rather than left to rot in the queue.
func (q *Queue) Submit(jobType string, payload interface{}, opts Options) (*Handle, error) {
	if opts.Timeout == 0 {
		opts.Timeout = q.cfg.DefaultTimeout
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = q.cfg.DefaultMaxAttempts
	}
	if opts.Backoff == "" {
		opts.Backoff = q.cfg.BackoffKind
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = q.cfg.BackoffBase
	}

	q.mu.Lock()
	if opts.ID != "" {
		if _, exists := q.jobs[opts.ID]; exists {
			q.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, opts.ID)
		}
	}
	if q.cfg.Capacity > 0 && q.pending.Len() >= q.cfg.Capacity {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}

	q.seq++
	job := newJob(jobType, payload, opts, q.seq)
	q.jobs[job.ID] = job

	if _, ok := q.handlers[jobType]; !ok {
		now := time.Now()
		job.Status = JobFailed
		job.Error = fmt.Sprintf("%v: %s", ErrNoHandler, jobType)
		job.FinishedAt = &now
		close(job.done)
		snap := job.snapshot()
		q.mu.Unlock()
		q.emit(EventFailed, snap)
		q.m.JobsProcessed.WithLabelValues("no_handler").Inc()
		return &Handle{queue: q, ID: job.ID}, nil
	}

	heap.Push(&q.pending, job)
	snap := job.snapshot()
	q.mu.Unlock()

	q.m.QueueDepth.Inc()
	q.emit(EventAdded, snap)
	q.wake()
	return &Handle{queue: q, ID: job.ID}, nil
}

// Cancel removes a job that has not started. Running jobs are refused;
// in-flight work is never preempted.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || (job.Status != JobPending && job.Status != JobRetrying) {
		q.mu.Unlock()
		return false
	}
	if job.index >= 0 {
		heap.Remove(&q.pending, job.index)
		q.m.QueueDepth.Dec()
	}
	now := time.Now()
	job.Status = JobCancelled
	job.FinishedAt = &now
	close(job.done)
	snap := job.snapshot()
	q.mu.Unlock()

	q.emit(EventCancelled, snap)
	q.m.JobsProcessed.WithLabelValues("cancelled").Inc()
	return true
}

// Retry re-enqueues a failed or cancelled job with attempts reset.
func (q *Queue) Retry(id string) bool {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || (job.Status != JobFailed && job.Status != JobCancelled) {
		q.mu.Unlock()
		return false
	}
	job.Status = JobPending
	job.Attempts = 0
	job.Progress = 0
	job.Error = ""
	job.Result = nil
	job.FinishedAt = nil
	job.readyAt = time.Now()
	job.done = make(chan struct{})
	q.seq++
	job.seq = q.seq
	heap.Push(&q.pending, job)
	snap := job.snapshot()
	q.mu.Unlock()

	q.m.QueueDepth.Inc()
	q.emit(EventAdded, snap)
	q.wake()
	return true
}

// Get returns a snapshot of a job by id.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// Depth reports the number of queued, not yet running jobs.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// PendingSnapshot copies every queued job, for persistence.
func (q *Queue) PendingSnapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, q.pending.Len())
	for _, job := range q.pending.items {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// Forget drops a terminal job from the bookkeeping map. Used by the
// retention sweep.
func (q *Queue) Forget(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok || !job.terminal() {
		return false
	}
	delete(q.jobs, id)
	return true
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) emit(eventType EventType, job Job) {
	q.mu.Lock()
	observers := append([]Observer(nil), q.observers...)
	q.mu.Unlock()
	for _, fn := range observers {
		fn(Event{Type: eventType, Job: job})
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		job := q.nextJob()
		if job == nil {
			return
		}
		q.m.ActiveWorkers.Inc()
		q.execute(job)
		q.m.ActiveWorkers.Dec()
	}
}

// nextJob blocks until a ready job is available or the queue stops.
func (q *Queue) nextJob() *Job {
	for {
		q.mu.Lock()
		job, wait := q.popReadyLocked()
		if job != nil {
			job.Status = JobRunning
			job.Attempts++
			now := time.Now()
			job.StartedAt = &now
			snap := job.snapshot()
			q.mu.Unlock()

			q.m.QueueDepth.Dec()
			q.m.QueueWaitTime.Observe(time.Since(job.CreatedAt).Seconds())
			q.emit(EventStarted, snap)
			return job
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-q.stopCh:
			timer.Stop()
			return nil
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// popReadyLocked removes the best ready job, or reports how long to
// wait for the next delayed one. Priority wins; arrival order breaks
// ties.
func (q *Queue) popReadyLocked() (*Job, time.Duration) {
	now := time.Now()
	best := -1
	nextReady := time.Duration(time.Hour)
	for i, job := range q.pending.items {
		if job.readyAt.After(now) {
			if until := job.readyAt.Sub(now); until < nextReady {
				nextReady = until
			}
			continue
		}
		if best == -1 || q.pending.less(job, q.pending.items[best]) {
			best = i
		}
	}
	if best == -1 {
		return nil, nextReady
	}
	job := heap.Remove(&q.pending, best).(*Job)
	return job, 0
}

func (q *Queue) execute(job *Job) {
	q.mu.Lock()
	handler := q.handlers[job.Type]
	jobCtx := &JobContext{
		ID:      job.ID,
		Type:    job.Type,
		Payload: job.Payload,
		Attempt: job.Attempts,
		mu:      &q.mu,
		job:     job,
		queue:   q,
	}
	q.mu.Unlock()

	if handler == nil {
		// Possible when a no-handler failure is retried.
		q.mu.Lock()
		now := time.Now()
		job.Status = JobFailed
		job.Error = fmt.Sprintf("%v: %s", ErrNoHandler, job.Type)
		job.FinishedAt = &now
		close(job.done)
		snap := job.snapshot()
		q.mu.Unlock()
		q.emit(EventFailed, snap)
		q.m.JobsProcessed.WithLabelValues("no_handler").Inc()
		return
	}

	ctx := context.Background()
	cancel := context.CancelFunc(func() {})
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	type outcome struct {
		result interface{}
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		result, err := handler(ctx, jobCtx)
		resultCh <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		// The handler goroutine keeps running until it honors the
		// context. The job is terminal regardless.
		q.finishTimeout(job)
	case out := <-resultCh:
		if out.err != nil {
			q.handleFailure(job, out.err)
		} else {
			q.finishSuccess(job, out.result)
		}
	}
}

func (q *Queue) finishSuccess(job *Job, result interface{}) {
	q.mu.Lock()
	now := time.Now()
	job.Status = JobCompleted
	job.Result = result
	job.Progress = 100
	job.FinishedAt = &now
	close(job.done)
	snap := job.snapshot()
	q.mu.Unlock()

	q.emit(EventCompleted, snap)
	q.m.JobsProcessed.WithLabelValues("completed").Inc()
}

// finishTimeout marks a timed out job terminal. Timeouts never retry.
func (q *Queue) finishTimeout(job *Job) {
	q.mu.Lock()
	now := time.Now()
	job.Status = JobTimeout
	job.Error = ErrJobTimedOut.Error()
	job.FinishedAt = &now
	close(job.done)
	snap := job.snapshot()
	q.mu.Unlock()

	q.log.Warn("job timed out", "jobId", job.ID, "type", job.Type, "timeout", job.Timeout)
	q.emit(EventTimeout, snap)
	q.m.JobsProcessed.WithLabelValues("timeout").Inc()
}

func (q *Queue) handleFailure(job *Job, cause error) {
	q.mu.Lock()
	job.Error = cause.Error()

	if job.Attempts < job.MaxAttempts {
		strategy := NewBackoff(job.Backoff, job.BaseDelay, q.cfg.BackoffMax)
		delay := strategy.Delay(job.Attempts)
		job.Status = JobRetrying
		job.readyAt = time.Now().Add(delay)
		heap.Push(&q.pending, job)
		snap := job.snapshot()
		attempts := job.Attempts
		q.mu.Unlock()

		q.log.Warn("job retrying",
			"jobId", job.ID,
			"type", job.Type,
			"attempt", attempts,
			"maxAttempts", job.MaxAttempts,
			"delay", delay,
			"error", cause,
		)
		q.m.QueueDepth.Inc()
		q.m.NodeRetries.Inc()
		q.emit(EventRetrying, snap)
		q.wake()
		return
	}

	now := time.Now()
	job.Status = JobFailed
	job.FinishedAt = &now
	close(job.done)
	snap := job.snapshot()
	q.mu.Unlock()

	q.log.Error("job failed", "jobId", job.ID, "type", job.Type, "attempts", job.Attempts, "error", cause)
	q.emit(EventFailed, snap)
	q.m.JobsProcessed.WithLabelValues("failed").Inc()
}

// Handle lets the submitter wait for a job's terminal state.
type Handle struct {
	queue *Queue
	ID    string
}

// Wait blocks until the job is terminal or ctx expires. A retried job
// keeps the handle valid across re-enqueues.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	for {
		h.queue.mu.Lock()
		job, ok := h.queue.jobs[h.ID]
		if !ok {
			h.queue.mu.Unlock()
			return nil, fmt.Errorf("job %s not found", h.ID)
		}
		if job.terminal() {
			status := job.Status
			result := job.Result
			errMsg := job.Error
			h.queue.mu.Unlock()
			switch status {
			case JobCompleted:
				return result, nil
			case JobTimeout:
				return nil, fmt.Errorf("%w: job %s", ErrJobTimedOut, h.ID)
			case JobCancelled:
				return nil, fmt.Errorf("%w: job %s", ErrJobCancelled, h.ID)
			default:
				return nil, errors.New(errMsg)
			}
		}
		done := job.done
		h.queue.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
	}
}

// jobHeap orders by priority, then arrival. Access only under the
// queue lock.
type jobHeap struct {
	items []*Job
}

func (h *jobHeap) less(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (h *jobHeap) Len() int            { return len(h.items) }
func (h *jobHeap) Less(i, j int) bool  { return h.less(h.items[i], h.items[j]) }
func (h *jobHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	job := x.(*Job)
	job.index = len(h.items)
	h.items = append(h.items, job)
}

func (h *jobHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	h.items = old[:n-1]
	return job
}
