package notify

import (
	"context"
	"time"

	"github.com/canvasflow/engine/pkg/events"
	"github.com/canvasflow/engine/pkg/logger"
)

// Severity levels for alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a threshold-triggered notification produced by alert nodes.
type Alert struct {
	OrgID       string                 `json:"orgId"`
	WorkflowID  string                 `json:"workflowId"`
	ExecutionID string                 `json:"executionId"`
	NodeID      string                 `json:"nodeId"`
	Channel     string                 `json:"channel"`
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Sink receives alerts. The delivery mechanism behind it is an
// external collaborator.
type Sink interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogSink writes alerts to the structured log. The default when no
// delivery backend is configured.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, alert Alert) error {
	s.log.Warn("alert",
		"orgId", alert.OrgID,
		"workflowId", alert.WorkflowID,
		"executionId", alert.ExecutionID,
		"nodeId", alert.NodeID,
		"channel", alert.Channel,
		"severity", alert.Severity,
		"message", alert.Message,
	)
	return nil
}

// BusSink publishes alerts on the event bus for external consumers.
type BusSink struct {
	bus events.EventBus
}

func NewBusSink(bus events.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Notify(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	event := events.NewEventBuilder("alert.triggered").
		WithExecutionID(alert.ExecutionID).
		WithWorkflowID(alert.WorkflowID).
		WithNodeID(alert.NodeID).
		WithPayload("orgId", alert.OrgID).
		WithPayload("channel", alert.Channel).
		WithPayload("severity", alert.Severity).
		WithPayload("message", alert.Message).
		Build()
	return s.bus.Publish(ctx, event)
}

// Fanout delivers to every sink, returning the first error after all
// have been attempted.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := sink.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
