package execution

import (
	"time"
)

// Record is one row of data flowing along a connection.
type Record map[string]interface{}

// CloneRecords deep-copies the top level of each record so two
// branches never share field maps.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		clone := make(Record, len(r))
		for k, v := range r {
			clone[k] = v
		}
		out[i] = clone
	}
	return out
}

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Per-node statuses inside an execution.
const (
	NodePending   = "pending"
	NodeRunning   = "running"
	NodeCompleted = "completed"
	NodeFailed    = "failed"
	NodeSkipped   = "skipped"
	NodeWaiting   = "waiting"
)

// Trigger types.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
)

// Execution is one run of a workflow graph. It has a single writer,
// the orchestrator, and becomes immutable once terminal.
type Execution struct {
	ID          string                 `json:"id" gorm:"primaryKey"`
	WorkflowID  string                 `json:"workflowId" gorm:"not null;index"`
	Status      string                 `json:"status" gorm:"default:'pending';index"`
	TriggerType string                 `json:"triggerType"`
	Inputs      map[string]interface{} `json:"inputs" gorm:"serializer:json"`
	NodeResults map[string]*NodeResult `json:"nodeResults" gorm:"serializer:json"`
	FinalOutput []Record               `json:"finalOutput" gorm:"serializer:json"`
	Error       string                 `json:"error"`

	// PendingNodeID is set while paused, naming the approval node the
	// run is waiting on.
	PendingNodeID string `json:"pendingNodeId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NodeResult records one node's outcome within an execution.
type NodeResult struct {
	NodeID     string              `json:"nodeId"`
	Status     string              `json:"status"`
	InputData  []Record            `json:"inputData,omitempty"`
	OutputData []Record            `json:"outputData,omitempty"`
	Branches   map[string][]Record `json:"branches,omitempty"`
	Error      string              `json:"error,omitempty"`
	DurationMs int64               `json:"durationMs"`
	Attempts   int                 `json:"attempts"`
	StartedAt  *time.Time          `json:"startedAt,omitempty"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
}

// LogEntry is one line of an execution's log stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"nodeId,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func New(workflowID, triggerType string, inputs map[string]interface{}) *Execution {
	return &Execution{
		WorkflowID:  workflowID,
		Status:      StatusPending,
		TriggerType: triggerType,
		Inputs:      inputs,
		NodeResults: make(map[string]*NodeResult),
		CreatedAt:   time.Now().UTC(),
	}
}
