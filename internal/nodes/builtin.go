package nodes

import (
	"context"
	"net/http"

	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/internal/notify"
	"github.com/canvasflow/engine/pkg/logger"
)

// BuiltinDeps carries the collaborators the built-in handlers need.
type BuiltinDeps struct {
	Sink       notify.Sink
	HTTPClient *http.Client
	Generator  Generator
}

// RegisterBuiltins installs every built-in handler plus the
// passthrough fallback for unknown node types.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	if deps.Sink == nil {
		deps.Sink = notify.NewLogSink(logger.NewNop())
	}
	if deps.Generator == nil {
		deps.Generator = GeneratorFunc(func(ctx context.Context, model, prompt string) (string, error) {
			return prompt, nil
		})
	}
	handlers := []Handler{
		NewTriggerHandler(workflow.TypeTrigger),
		NewTriggerHandler(workflow.TypeWebhook),
		NewTriggerHandler(workflow.TypeSchedule),
		ManualInputHandler{},
		NewHTTPRequestHandler(workflow.TypeHTTPRequest, deps.HTTPClient),
		NewHTTPRequestHandler(workflow.TypeFetchData, deps.HTTPClient),
		NewLLMHandler(deps.Generator),
		ConditionHandler{},
		SplitColumnsHandler{},
		JoinHandler{},
		AddFieldHandler{},
		FilterHandler{},
		HumanApprovalHandler{},
		NewAlertHandler(deps.Sink),
		NewSendEmailHandler(deps.Sink),
		OutputHandler{},
		CommentHandler{},
	}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	r.SetFallback(PassthroughHandler{})
	return nil
}
