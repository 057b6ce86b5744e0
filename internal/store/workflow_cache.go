package store

import (
	"context"
	"errors"
	"time"

	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/pkg/cache"
	"github.com/canvasflow/engine/pkg/logger"
)

const workflowCacheTTL = 5 * time.Minute

// CachedWorkflowRepository reads graphs through a cache. Every run of
// a workflow loads its graph, so this is the hottest read path. Writes
// invalidate the entry; staleness is bounded by the TTL either way.
type CachedWorkflowRepository struct {
	inner WorkflowRepository
	cache cache.Cache
	log   logger.Logger
}

func NewCachedWorkflowRepository(inner WorkflowRepository, c cache.Cache, log logger.Logger) *CachedWorkflowRepository {
	return &CachedWorkflowRepository{inner: inner, cache: c, log: log}
}

func (r *CachedWorkflowRepository) FindGraphByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := r.cache.Get(ctx, "workflow:"+id, &wf)
	if err == nil {
		return &wf, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		r.log.Warn("workflow cache read", "workflowId", id, "error", err)
	}

	found, err := r.inner.FindGraphByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, "workflow:"+id, found, workflowCacheTTL); err != nil {
		r.log.Warn("workflow cache write", "workflowId", id, "error", err)
	}
	return found, nil
}

func (r *CachedWorkflowRepository) Create(ctx context.Context, wf *workflow.Workflow) error {
	return r.inner.Create(ctx, wf)
}

func (r *CachedWorkflowRepository) Save(ctx context.Context, wf *workflow.Workflow) error {
	if err := r.inner.Save(ctx, wf); err != nil {
		return err
	}
	if err := r.cache.Delete(ctx, "workflow:"+wf.ID); err != nil {
		r.log.Warn("workflow cache invalidate", "workflowId", wf.ID, "error", err)
	}
	return nil
}

func (r *CachedWorkflowRepository) ListScheduled(ctx context.Context) ([]workflow.Workflow, error) {
	return r.inner.ListScheduled(ctx)
}
