package nodes

import (
	"context"

	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/internal/notify"
	"github.com/canvasflow/engine/pkg/logger"
)

// AlertHandler raises a notification when its threshold matches,
// passing records through either way. With no field configured the
// alert fires unconditionally.
type AlertHandler struct {
	sink notify.Sink
}

func NewAlertHandler(sink notify.Sink) AlertHandler {
	return AlertHandler{sink: sink}
}

func (AlertHandler) Type() string {
	return workflow.TypeAlert
}

func (h AlertHandler) Execute(ctx context.Context, in Input) (*Result, error) {
	var cfg workflow.AlertConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}

	triggered := cfg.Field == ""
	if !triggered {
		for _, record := range in.Records {
			if evaluate(record, cfg.Field, cfg.Operator, cfg.Value) {
				triggered = true
				break
			}
		}
	}

	if triggered {
		message := cfg.Message
		if message == "" {
			message = "alert condition met"
		}
		alert := notify.Alert{
			WorkflowID:  in.Context.WorkflowID,
			ExecutionID: in.Context.ExecutionID,
			NodeID:      in.Context.NodeID,
			Channel:     cfg.Channel,
			Severity:    notify.SeverityWarning,
			Message:     message,
		}
		if err := h.sink.Notify(ctx, alert); err != nil {
			log := in.Context.Logger
			if log == nil {
				log = logger.NewNop()
			}
			log.Warn("alert delivery failed", "nodeId", in.Context.NodeID, "error", err)
		}
	}

	return &Result{Records: in.Records}, nil
}

// SendEmailHandler delivers through the notification sink on the
// email channel and passes its input through.
type SendEmailHandler struct {
	sink notify.Sink
}

func NewSendEmailHandler(sink notify.Sink) SendEmailHandler {
	return SendEmailHandler{sink: sink}
}

func (SendEmailHandler) Type() string {
	return workflow.TypeSendEmail
}

func (h SendEmailHandler) Execute(ctx context.Context, in Input) (*Result, error) {
	message, _ := in.Config["message"].(string)
	if message == "" {
		message = "workflow email"
	}
	alert := notify.Alert{
		WorkflowID:  in.Context.WorkflowID,
		ExecutionID: in.Context.ExecutionID,
		NodeID:      in.Context.NodeID,
		Channel:     "email",
		Severity:    notify.SeverityInfo,
		Message:     message,
	}
	if err := h.sink.Notify(ctx, alert); err != nil {
		return nil, err
	}
	return &Result{Records: in.Records}, nil
}
