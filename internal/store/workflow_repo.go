package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/pkg/database"
)

// WorkflowRecord is the persisted workflow row.
type WorkflowRecord = workflow.Workflow

// WorkflowRepository reads authored workflow graphs. The engine only
// reads; Create and Save exist for seeding and tests.
type WorkflowRepository interface {
	FindGraphByID(ctx context.Context, id string) (*workflow.Workflow, error)
	Create(ctx context.Context, wf *workflow.Workflow) error
	Save(ctx context.Context, wf *workflow.Workflow) error
	ListScheduled(ctx context.Context) ([]workflow.Workflow, error)
}

type workflowRepository struct {
	db *database.DB
}

func NewWorkflowRepository(db *database.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) FindGraphByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, execution.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (r *workflowRepository) Create(ctx context.Context, wf *workflow.Workflow) error {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Version == 0 {
		wf.Version = 1
	}
	return r.db.WithContext(ctx).Create(wf).Error
}

func (r *workflowRepository) Save(ctx context.Context, wf *workflow.Workflow) error {
	return r.db.WithContext(ctx).Save(wf).Error
}

// ListScheduled returns active workflows that carry a cron schedule.
func (r *workflowRepository) ListScheduled(ctx context.Context) ([]workflow.Workflow, error) {
	var wfs []workflow.Workflow
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND schedule <> ''", true).
		Find(&wfs).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	return wfs, nil
}
