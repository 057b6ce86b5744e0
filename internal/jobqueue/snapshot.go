package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canvasflow/engine/pkg/logger"
)

const snapshotKey = "canvasflow:queue:pending"

// Snapshotter periodically mirrors the pending queue to Redis so jobs
// that never started can be resubmitted after a process restart.
// Running and ephemeral jobs are not snapshotted; node jobs are
// ephemeral because the orchestrator re-derives them from execution
// checkpoints instead.
type Snapshotter struct {
	queue  *Queue
	client *redis.Client
	log    logger.Logger
	period time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
}

func NewSnapshotter(queue *Queue, client *redis.Client, period time.Duration, log logger.Logger) *Snapshotter {
	if period <= 0 {
		period = 10 * time.Second
	}
	return &Snapshotter{
		queue:  queue,
		client: client,
		log:    log,
		period: period,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (s *Snapshotter) Run() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			// Final snapshot on the way out.
			if err := s.Snapshot(context.Background()); err != nil {
				s.log.Warn("final queue snapshot failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := s.Snapshot(context.Background()); err != nil {
				s.log.Warn("queue snapshot failed", "error", err)
			}
		}
	}
}

func (s *Snapshotter) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Snapshotter) Snapshot(ctx context.Context) error {
	jobs := make([]Job, 0)
	for _, job := range s.queue.PendingSnapshot() {
		if job.Ephemeral {
			continue
		}
		jobs = append(jobs, job)
	}
	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("persist queue snapshot: %w", err)
	}
	return nil
}

// Restore reads the last snapshot and resubmits each job with its
// original id, priority and retry options. Missing snapshot is not an
// error.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read queue snapshot: %w", err)
	}

	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return 0, fmt.Errorf("decode queue snapshot: %w", err)
	}

	restored := 0
	for _, job := range jobs {
		_, err := s.queue.Submit(job.Type, job.Payload, Options{
			ID:          job.ID,
			Priority:    job.Priority,
			MaxAttempts: job.MaxAttempts,
			Timeout:     job.Timeout,
			Backoff:     job.Backoff,
			BaseDelay:   job.BaseDelay,
		})
		if err != nil {
			s.log.Warn("restore skipped job", "jobId", job.ID, "error", err)
			continue
		}
		restored++
	}
	s.log.Info("queue snapshot restored", "jobs", restored)
	return restored, nil
}
