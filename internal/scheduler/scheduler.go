package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/internal/store"
	"github.com/canvasflow/engine/pkg/logger"
)

const leaderKey = "canvasflow:scheduler:leader"

// WorkflowRunner is the slice of the execution surface the scheduler
// needs to fire a run.
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}, triggerType string) (string, error)
}

// CronScheduler keeps one cron entry per active workflow with a
// schedule expression. It polls the workflow store so edits made
// elsewhere are picked up without a restart. With a Redis client it
// runs leader election so only one replica fires schedules.
type CronScheduler struct {
	cron      *cron.Cron
	workflows store.WorkflowRepository
	runner    WorkflowRunner
	redis     *redis.Client
	log       logger.Logger

	pollInterval time.Duration
	instanceID   string

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	exprs    map[string]string
	isLeader bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(workflows store.WorkflowRepository, runner WorkflowRunner, redisClient *redis.Client, pollInterval time.Duration, log logger.Logger) *CronScheduler {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &CronScheduler{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		workflows:    workflows,
		runner:       runner,
		redis:        redisClient,
		log:          log,
		pollInterval: pollInterval,
		instanceID:   uuid.New().String(),
		entries:      make(map[string]cron.EntryID),
		exprs:        make(map[string]string),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

func (s *CronScheduler) Start(ctx context.Context) error {
	// Without Redis there is nothing to elect; this instance leads.
	s.mu.Lock()
	s.isLeader = s.redis == nil
	s.mu.Unlock()

	if err := s.sync(ctx); err != nil {
		return fmt.Errorf("load scheduled workflows: %w", err)
	}
	s.cron.Start()
	go s.loop()
	s.log.Info("scheduler started", "pollInterval", s.pollInterval)
	return nil
}

func (s *CronScheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.log.Info("scheduler stopped")
}

func (s *CronScheduler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
			if s.redis != nil {
				s.electLeader(ctx)
			}
			if err := s.sync(ctx); err != nil {
				s.log.Error("sync scheduled workflows", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// electLeader renews or tries to grab the leader lock. Losing the lock
// clears every cron entry so only one replica fires.
func (s *CronScheduler) electLeader(ctx context.Context) {
	ttl := 3 * s.pollInterval
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, ttl).Result()
	if err != nil {
		s.log.Error("leader election", "error", err)
		return
	}
	if !ok {
		holder, err := s.redis.Get(ctx, leaderKey).Result()
		if err == nil && holder == s.instanceID {
			s.redis.Expire(ctx, leaderKey, ttl)
			ok = true
		}
	}

	s.mu.Lock()
	was := s.isLeader
	s.isLeader = ok
	s.mu.Unlock()

	switch {
	case ok && !was:
		s.log.Info("scheduler became leader")
	case !ok && was:
		s.log.Info("scheduler lost leadership")
		s.clearEntries()
	}
}

// sync reconciles cron entries against the store: new and changed
// schedules are (re)registered, removed ones dropped.
func (s *CronScheduler) sync(ctx context.Context) error {
	s.mu.Lock()
	leader := s.isLeader
	s.mu.Unlock()
	if !leader {
		return nil
	}

	workflows, err := s.workflows.ListScheduled(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(workflows))
	for i := range workflows {
		wf := workflows[i]
		seen[wf.ID] = true
		if s.exprs[wf.ID] == wf.Schedule {
			continue
		}
		if entryID, exists := s.entries[wf.ID]; exists {
			s.cron.Remove(entryID)
		}
		entryID, err := s.cron.AddFunc(wf.Schedule, s.fire(wf))
		if err != nil {
			s.log.Error("invalid schedule expression",
				"workflowId", wf.ID, "schedule", wf.Schedule, "error", err)
			delete(s.entries, wf.ID)
			delete(s.exprs, wf.ID)
			continue
		}
		s.entries[wf.ID] = entryID
		s.exprs[wf.ID] = wf.Schedule
		s.log.Info("scheduled workflow", "workflowId", wf.ID, "schedule", wf.Schedule)
	}

	for id, entryID := range s.entries {
		if !seen[id] {
			s.cron.Remove(entryID)
			delete(s.entries, id)
			delete(s.exprs, id)
			s.log.Info("unscheduled workflow", "workflowId", id)
		}
	}
	return nil
}

func (s *CronScheduler) clearEntries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
		delete(s.exprs, id)
	}
}

func (s *CronScheduler) fire(wf workflow.Workflow) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		id, err := s.runner.ExecuteWorkflow(ctx, wf.ID, nil, execution.TriggerSchedule)
		if err != nil {
			s.log.Error("scheduled run failed to start", "workflowId", wf.ID, "error", err)
			return
		}
		s.log.Info("scheduled run started", "workflowId", wf.ID, "executionId", id)
	}
}
