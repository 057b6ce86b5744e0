package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/nodes"
	"github.com/canvasflow/engine/pkg/logger"
	"github.com/canvasflow/engine/pkg/resilience"
)

// RemoteBackend delegates whole-graph execution to an external engine
// over HTTP. A circuit breaker keeps a flapping remote from slowing
// every request down; once it opens, Healthy reports false and the
// selector routes work to the local engine.
type RemoteBackend struct {
	baseURL string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	log     logger.Logger
}

func NewRemoteBackend(baseURL string, client *http.Client, log logger.Logger) *RemoteBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("remote-backend")),
		log:     log,
	}
}

func (r *RemoteBackend) Name() string { return "remote" }

func (r *RemoteBackend) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("remote health returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err == nil
}

func (r *RemoteBackend) ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}, triggerType string) (string, error) {
	body := map[string]interface{}{
		"workflowId":  workflowID,
		"triggerType": triggerType,
		"inputs":      inputs,
	}
	var out struct {
		ExecutionID string `json:"executionId"`
	}
	if err := r.post(ctx, "/api/workflows/execute", body, &out); err != nil {
		return "", fmt.Errorf("remote execute workflow: %w", err)
	}
	return out.ExecutionID, nil
}

func (r *RemoteBackend) ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, input []execution.Record) (*nodes.Result, error) {
	body := map[string]interface{}{
		"workflowId": workflowID,
		"nodeId":     nodeID,
		"records":    input,
	}
	var out struct {
		Records  []execution.Record            `json:"records"`
		Branches map[string][]execution.Record `json:"branches,omitempty"`
		Message  string                        `json:"message,omitempty"`
	}
	if err := r.post(ctx, "/api/nodes/execute", body, &out); err != nil {
		return nil, fmt.Errorf("remote execute node: %w", err)
	}
	return &nodes.Result{Records: out.Records, Branches: out.Branches, Message: out.Message}, nil
}

func (r *RemoteBackend) GetStatus(ctx context.Context, executionID string) (*execution.Execution, error) {
	var exec execution.Execution
	if err := r.get(ctx, "/api/executions/"+executionID, &exec); err != nil {
		return nil, fmt.Errorf("remote execution status: %w", err)
	}
	return &exec, nil
}

func (r *RemoteBackend) Cancel(ctx context.Context, executionID string) error {
	if err := r.post(ctx, "/api/executions/"+executionID+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("remote cancel: %w", err)
	}
	return nil
}

func (r *RemoteBackend) post(ctx context.Context, path string, body, out interface{}) error {
	return r.call(ctx, http.MethodPost, path, body, out)
}

func (r *RemoteBackend) get(ctx context.Context, path string, out interface{}) error {
	return r.call(ctx, http.MethodGet, path, nil, out)
}

func (r *RemoteBackend) call(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := r.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		if out != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, out); err != nil {
				return nil, fmt.Errorf("decode remote response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
