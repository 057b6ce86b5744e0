package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/nodes"
	"github.com/canvasflow/engine/pkg/logger"
)

// Backend runs workflows. The orchestrator itself is the local
// implementation; RemoteBackend delegates to an external engine. Both
// expose the same surface so callers never know which one ran a job.
type Backend interface {
	Name() string
	Healthy(ctx context.Context) bool
	ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}, triggerType string) (string, error)
	ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, input []execution.Record) (*nodes.Result, error)
	GetStatus(ctx context.Context, executionID string) (*execution.Execution, error)
	Cancel(ctx context.Context, executionID string) error
}

// Selector routes calls to the remote backend when it is reachable and
// falls back to the local one otherwise. Executions started remotely
// stay remote for status and cancel calls.
type Selector struct {
	remote Backend
	local  Backend
	log    logger.Logger

	probeTTL time.Duration

	mu          sync.Mutex
	lastProbe   time.Time
	remoteAlive bool
	owners      map[string]Backend
}

func NewSelector(remote, local Backend, log logger.Logger) *Selector {
	return &Selector{
		remote:   remote,
		local:    local,
		log:      log,
		probeTTL: 15 * time.Second,
		owners:   make(map[string]Backend),
	}
}

// pick returns the backend for new work, probing the remote at most
// once per probeTTL.
func (s *Selector) pick(ctx context.Context) Backend {
	if s.remote == nil {
		return s.local
	}
	s.mu.Lock()
	fresh := time.Since(s.lastProbe) < s.probeTTL
	alive := s.remoteAlive
	s.mu.Unlock()

	if !fresh {
		alive = s.remote.Healthy(ctx)
		s.mu.Lock()
		s.lastProbe = time.Now()
		s.remoteAlive = alive
		s.mu.Unlock()
		if !alive {
			s.log.Warn("remote backend unreachable, using local engine", "backend", s.remote.Name())
		}
	}
	if alive {
		return s.remote
	}
	return s.local
}

func (s *Selector) owner(executionID string) Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.owners[executionID]; ok {
		return b
	}
	return s.local
}

func (s *Selector) ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}, triggerType string) (string, error) {
	backend := s.pick(ctx)
	id, err := backend.ExecuteWorkflow(ctx, workflowID, inputs, triggerType)
	if err != nil && backend != s.local {
		s.log.Warn("remote execution failed, falling back to local engine",
			"backend", backend.Name(), "workflowId", workflowID, "error", err)
		backend = s.local
		id, err = backend.ExecuteWorkflow(ctx, workflowID, inputs, triggerType)
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.owners[id] = backend
	s.mu.Unlock()
	return id, nil
}

func (s *Selector) ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, input []execution.Record) (*nodes.Result, error) {
	backend := s.pick(ctx)
	result, err := backend.ExecuteSingleNode(ctx, workflowID, nodeID, input)
	if err != nil && backend != s.local {
		return s.local.ExecuteSingleNode(ctx, workflowID, nodeID, input)
	}
	return result, err
}

func (s *Selector) GetStatus(ctx context.Context, executionID string) (*execution.Execution, error) {
	return s.owner(executionID).GetStatus(ctx, executionID)
}

func (s *Selector) Cancel(ctx context.Context, executionID string) error {
	return s.owner(executionID).Cancel(ctx, executionID)
}

// Resume reaches the owning backend when it supports approvals. The
// remote contract has no resume call, so remote-owned executions are
// refused here.
func (s *Selector) Resume(ctx context.Context, executionID string, approved bool) error {
	type resumer interface {
		Resume(ctx context.Context, executionID string, approved bool) error
	}
	backend := s.owner(executionID)
	if r, ok := backend.(resumer); ok {
		return r.Resume(ctx, executionID, approved)
	}
	return fmt.Errorf("backend %s does not support resuming executions", backend.Name())
}
