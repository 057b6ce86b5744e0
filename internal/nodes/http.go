package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

const maxResponseBytes = 10 << 20

// HTTPRequestHandler calls an external endpoint and turns the JSON
// response into records: an array becomes one record per element, an
// object becomes a single record.
type HTTPRequestHandler struct {
	nodeType string
	client   *http.Client
}

func NewHTTPRequestHandler(nodeType string, client *http.Client) HTTPRequestHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return HTTPRequestHandler{nodeType: nodeType, client: client}
}

func (h HTTPRequestHandler) Type() string {
	return h.nodeType
}

func (h HTTPRequestHandler) Execute(ctx context.Context, in Input) (*Result, error) {
	var cfg workflow.HTTPRequestConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if cfg.Body != "" && method != http.MethodGet {
		body = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, cfg.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request %s %s: status %d", method, cfg.URL, resp.StatusCode)
	}

	return &Result{Records: recordsFromJSON(data)}, nil
}

func recordsFromJSON(data []byte) []execution.Record {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []execution.Record{}
	}

	var asList []map[string]interface{}
	if err := json.Unmarshal(data, &asList); err == nil {
		out := make([]execution.Record, len(asList))
		for i, m := range asList {
			out[i] = execution.Record(m)
		}
		return out
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal(data, &asObject); err == nil {
		// Common API shape: the list lives under a "data" key.
		if raw, ok := asObject["data"].([]interface{}); ok {
			out := make([]execution.Record, 0, len(raw))
			for _, item := range raw {
				if m, ok := item.(map[string]interface{}); ok {
					out = append(out, execution.Record(m))
				}
			}
			if len(out) > 0 {
				return out
			}
		}
		return []execution.Record{execution.Record(asObject)}
	}

	return []execution.Record{{"body": trimmed}}
}
