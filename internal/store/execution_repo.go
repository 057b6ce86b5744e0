package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/pkg/database"
	"github.com/canvasflow/engine/pkg/logger"
)

// StateTransition is the audit row written on every execution status
// change.
type StateTransition struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ExecutionID string    `json:"executionId" gorm:"not null;index"`
	FromStatus  string    `json:"fromStatus"`
	ToStatus    string    `json:"toStatus"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ExecutionLog is one persisted log line of a run.
type ExecutionLog struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ExecutionID string    `json:"executionId" gorm:"not null;index"`
	NodeID      string    `json:"nodeId"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ExecutionRepository is the durable record of executions, their
// status transitions and logs.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *execution.Execution) error
	Save(ctx context.Context, exec *execution.Execution) error
	UpdateStatus(ctx context.Context, id, status, reason string) error
	FindByID(ctx context.Context, id string) (*execution.Execution, error)
	FindByWorkflowID(ctx context.Context, workflowID string, limit int) ([]execution.Execution, error)
	FindByStatus(ctx context.Context, status string) ([]execution.Execution, error)
	AppendLog(ctx context.Context, executionID, nodeID, level, message string) error
	FindLogsByExecutionID(ctx context.Context, executionID string) ([]ExecutionLog, error)
	Transitions(ctx context.Context, executionID string) ([]StateTransition, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type executionRepository struct {
	db  *database.DB
	log logger.Logger
}

func NewExecutionRepository(db *database.DB, log logger.Logger) ExecutionRepository {
	return &executionRepository{db: db, log: log}
}

// Migrate creates the engine's tables.
func Migrate(db *database.DB) error {
	return db.Migrate(
		&execution.Execution{},
		&StateTransition{},
		&ExecutionLog{},
		&WorkflowRecord{},
	)
}

func (r *executionRepository) Create(ctx context.Context, exec *execution.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(exec).Error; err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (r *executionRepository) Save(ctx context.Context, exec *execution.Execution) error {
	if err := r.db.WithContext(ctx).Save(exec).Error; err != nil {
		return fmt.Errorf("save execution %s: %w", exec.ID, err)
	}
	return nil
}

// UpdateStatus sets the status under a row lock and records the
// transition. Terminal rows are left untouched.
func (r *executionRepository) UpdateStatus(ctx context.Context, id, status, reason string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		query := tx.WithContext(ctx)
		// Row lock where the dialect supports it; sqlite serializes
		// writes on its own.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var current execution.Execution
		if err := query.
			Where("id = ?", id).
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return execution.ErrExecutionNotFound
			}
			return err
		}
		if execution.IsTerminal(current.Status) {
			return fmt.Errorf("execution %s already terminal (%s)", id, current.Status)
		}

		updates := map[string]interface{}{"status": status}
		if execution.IsTerminal(status) {
			now := time.Now().UTC()
			updates["completed_at"] = &now
		}
		if err := tx.WithContext(ctx).
			Model(&execution.Execution{}).
			Where("id = ?", id).
			Updates(updates).Error; err != nil {
			return err
		}

		transition := StateTransition{
			ID:          uuid.New().String(),
			ExecutionID: id,
			FromStatus:  current.Status,
			ToStatus:    status,
			Reason:      reason,
			CreatedAt:   time.Now().UTC(),
		}
		return tx.WithContext(ctx).Create(&transition).Error
	})
}

func (r *executionRepository) FindByID(ctx context.Context, id string) (*execution.Execution, error) {
	var exec execution.Execution
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, execution.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find execution %s: %w", id, err)
	}
	return &exec, nil
}

func (r *executionRepository) FindByWorkflowID(ctx context.Context, workflowID string, limit int) ([]execution.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	var execs []execution.Execution
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at DESC").
		Limit(limit).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("find executions for workflow %s: %w", workflowID, err)
	}
	return execs, nil
}

func (r *executionRepository) FindByStatus(ctx context.Context, status string) ([]execution.Execution, error) {
	var execs []execution.Execution
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("find executions by status %s: %w", status, err)
	}
	return execs, nil
}

func (r *executionRepository) AppendLog(ctx context.Context, executionID, nodeID, level, message string) error {
	entry := ExecutionLog{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *executionRepository) FindLogsByExecutionID(ctx context.Context, executionID string) ([]ExecutionLog, error) {
	var logs []ExecutionLog
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("find logs for execution %s: %w", executionID, err)
	}
	return logs, nil
}

func (r *executionRepository) Transitions(ctx context.Context, executionID string) ([]StateTransition, error) {
	var transitions []StateTransition
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, err
	}
	return transitions, nil
}

// DeleteOlderThan removes terminal executions, with their logs and
// transitions, completed before the cutoff.
func (r *executionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&execution.Execution{}).
		Where("status IN ? AND completed_at < ?",
			[]string{execution.StatusCompleted, execution.StatusFailed, execution.StatusCancelled}, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("execution_id IN ?", ids).Delete(&ExecutionLog{}).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Where("execution_id IN ?", ids).Delete(&StateTransition{}).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Where("id IN ?", ids).Delete(&execution.Execution{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	r.log.Info("retention sweep removed executions", "count", len(ids))
	return int64(len(ids)), nil
}
