package jobqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/engine/pkg/logger"
	"github.com/canvasflow/engine/pkg/metrics"
)

func newTestQueue(t *testing.T, workers int) *Queue {
	t.Helper()
	q := New(Config{
		Workers:            workers,
		DefaultMaxAttempts: 1,
		BackoffKind:        BackoffFixed,
		BackoffBase:        20 * time.Millisecond,
	}, logger.NewNop(), metrics.NewNop())
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func TestSubmitAndComplete(t *testing.T) {
	q := newTestQueue(t, 2)
	require.NoError(t, q.RegisterHandler("echo", func(ctx context.Context, job *JobContext) (interface{}, error) {
		return job.Payload, nil
	}))

	handle, err := q.Submit("echo", "hello", Options{})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", result)

	job, ok := q.Get(handle.ID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.Attempts)
}

func TestDuplicateExplicitID(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.RegisterHandler("noop", func(ctx context.Context, job *JobContext) (interface{}, error) {
		return nil, nil
	}))

	_, err := q.Submit("noop", nil, Options{ID: "same"})
	require.NoError(t, err)
	_, err = q.Submit("noop", nil, Options{ID: "same"})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestNoHandlerFailsImmediately(t *testing.T) {
	q := newTestQueue(t, 1)

	handle, err := q.Submit("unregistered", nil, Options{MaxAttempts: 5})
	require.NoError(t, err)

	_, err = handle.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")

	job, _ := q.Get(handle.ID)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, 0, job.Attempts, "a no-handler job never runs")
}

func TestRetryUntilMaxAttempts(t *testing.T) {
	q := newTestQueue(t, 1)

	var mu sync.Mutex
	var attemptTimes []time.Time
	require.NoError(t, q.RegisterHandler("flaky", func(ctx context.Context, job *JobContext) (interface{}, error) {
		mu.Lock()
		attemptTimes = append(attemptTimes, time.Now())
		mu.Unlock()
		return nil, errors.New("boom")
	}))

	handle, err := q.Submit("flaky", nil, Options{
		MaxAttempts: 3,
		Backoff:     BackoffFixed,
		BaseDelay:   50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = handle.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attemptTimes, 3)
	for i := 1; i < len(attemptTimes); i++ {
		gap := attemptTimes[i].Sub(attemptTimes[i-1])
		assert.GreaterOrEqual(t, gap, 40*time.Millisecond, "retry fired before its backoff delay")
	}

	job, _ := q.Get(handle.ID)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
}

func TestSuccessAfterRetry(t *testing.T) {
	q := newTestQueue(t, 1)

	calls := 0
	var mu sync.Mutex
	require.NoError(t, q.RegisterHandler("flaky", func(ctx context.Context, job *JobContext) (interface{}, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}))

	handle, err := q.Submit("flaky", nil, Options{MaxAttempts: 3, Backoff: BackoffFixed, BaseDelay: 10 * time.Millisecond})
	require.NoError(t, err)

	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestTimeoutIsTerminalAndNeverRetried(t *testing.T) {
	q := newTestQueue(t, 1)

	var mu sync.Mutex
	attempts := 0
	require.NoError(t, q.RegisterHandler("slow", func(ctx context.Context, job *JobContext) (interface{}, error) {
		mu.Lock()
		attempts++
		mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	}))

	handle, err := q.Submit("slow", nil, Options{
		MaxAttempts: 5,
		Timeout:     30 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = handle.Wait(context.Background())
	require.ErrorIs(t, err, ErrJobTimedOut)

	// Give a re-enqueue a chance to happen; it must not.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()

	job, _ := q.Get(handle.ID)
	assert.Equal(t, JobTimeout, job.Status)
}

func TestCancelPendingSucceedsRunningRefused(t *testing.T) {
	q := newTestQueue(t, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.RegisterHandler("block", func(ctx context.Context, job *JobContext) (interface{}, error) {
		close(started)
		<-block
		return nil, nil
	}))

	running, err := q.Submit("block", nil, Options{})
	require.NoError(t, err)
	<-started

	queued, err := q.Submit("block", nil, Options{})
	require.NoError(t, err)

	assert.True(t, q.Cancel(queued.ID), "cancelling a pending job must succeed")
	assert.False(t, q.Cancel(running.ID), "cancelling a running job must be refused")
	assert.False(t, q.Cancel(queued.ID), "cancel is not idempotent on terminal jobs")

	close(block)
	_, err = running.Wait(context.Background())
	assert.NoError(t, err, "refused cancel leaves the job to finish naturally")

	job, _ := q.Get(queued.ID)
	assert.Equal(t, JobCancelled, job.Status)
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	var order []string
	require.NoError(t, q.RegisterHandler("work", func(ctx context.Context, job *JobContext) (interface{}, error) {
		if job.Payload == "gate" {
			close(started)
			<-block
			return nil, nil
		}
		mu.Lock()
		order = append(order, job.Payload.(string))
		mu.Unlock()
		return nil, nil
	}))

	// Occupy the single worker, then stack the queue.
	_, err := q.Submit("work", "gate", Options{})
	require.NoError(t, err)
	<-started

	low, _ := q.Submit("work", "low", Options{Priority: PriorityLow})
	normal1, _ := q.Submit("work", "normal-1", Options{Priority: PriorityNormal})
	critical, _ := q.Submit("work", "critical", Options{Priority: PriorityCritical})
	normal2, _ := q.Submit("work", "normal-2", Options{Priority: PriorityNormal})
	close(block)

	for _, h := range []*Handle{low, normal1, critical, normal2} {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "normal-1", "normal-2", "low"}, order)
}

func TestRetryFromTerminalResetsAttempts(t *testing.T) {
	q := newTestQueue(t, 1)

	fail := true
	var mu sync.Mutex
	require.NoError(t, q.RegisterHandler("flaky", func(ctx context.Context, job *JobContext) (interface{}, error) {
		mu.Lock()
		shouldFail := fail
		mu.Unlock()
		if shouldFail {
			return nil, errors.New("down")
		}
		return "recovered", nil
	}))

	handle, err := q.Submit("flaky", nil, Options{MaxAttempts: 1})
	require.NoError(t, err)
	_, err = handle.Wait(context.Background())
	require.Error(t, err)

	assert.False(t, q.Retry("missing"), "unknown job")

	mu.Lock()
	fail = false
	mu.Unlock()

	require.True(t, q.Retry(handle.ID))
	result, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	job, _ := q.Get(handle.ID)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, q.Retry(handle.ID), "retry is only valid from failed or cancelled")
}

func TestDelayedJobWaitsForDelay(t *testing.T) {
	q := newTestQueue(t, 1)

	var ran time.Time
	var mu sync.Mutex
	require.NoError(t, q.RegisterHandler("later", func(ctx context.Context, job *JobContext) (interface{}, error) {
		mu.Lock()
		ran = time.Now()
		mu.Unlock()
		return nil, nil
	}))

	submitted := time.Now()
	handle, err := q.Submit("later", nil, Options{Delay: 80 * time.Millisecond})
	require.NoError(t, err)
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, ran.Sub(submitted), 70*time.Millisecond)
}

func TestProgressAndLogSideChannel(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.RegisterHandler("steps", func(ctx context.Context, job *JobContext) (interface{}, error) {
		job.Log("step %d", 1)
		job.ReportProgress(50)
		job.Log("step %d", 2)
		return nil, nil
	}))

	var mu sync.Mutex
	var sawProgress int
	q.OnEvent(func(e Event) {
		if e.Type == EventProgress {
			mu.Lock()
			sawProgress = e.Job.Progress
			mu.Unlock()
		}
	})

	handle, err := q.Submit("steps", nil, Options{})
	require.NoError(t, err)
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)

	job, _ := q.Get(handle.ID)
	require.Len(t, job.Logs, 2)
	assert.Equal(t, "step 1", job.Logs[0].Message)
	assert.Equal(t, "step 2", job.Logs[1].Message)

	mu.Lock()
	assert.Equal(t, 50, sawProgress)
	mu.Unlock()
}

func TestLifecycleEvents(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.RegisterHandler("flaky", func(ctx context.Context, job *JobContext) (interface{}, error) {
		if job.Attempt < 2 {
			return nil, errors.New("once more")
		}
		return nil, nil
	}))

	var mu sync.Mutex
	var seen []EventType
	q.OnEvent(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	handle, err := q.Submit("flaky", nil, Options{MaxAttempts: 2, Backoff: BackoffFixed, BaseDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventAdded, EventStarted, EventRetrying, EventStarted, EventCompleted}, seen)
}

func TestForgetOnlyTerminalJobs(t *testing.T) {
	q := newTestQueue(t, 1)
	require.NoError(t, q.RegisterHandler("noop", func(ctx context.Context, job *JobContext) (interface{}, error) {
		return nil, nil
	}))

	handle, err := q.Submit("noop", nil, Options{})
	require.NoError(t, err)
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, q.Forget(handle.ID))
	_, ok := q.Get(handle.ID)
	assert.False(t, ok)
	assert.False(t, q.Forget(handle.ID))
}
