package nodes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
	"github.com/canvasflow/engine/internal/notify"
)

func TestHTTPRequestArrayResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "token-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": 1}, {"id": 2}]`))
	}))
	defer server.Close()

	h := NewHTTPRequestHandler(workflow.TypeFetchData, server.Client())
	result, err := h.Execute(context.Background(), Input{
		Config: map[string]interface{}{
			"url":     server.URL,
			"headers": map[string]string{"Authorization": "token-123"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, float64(1), result.Records[0]["id"])
}

func TestHTTPRequestObjectResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok", "count": 3}`))
	}))
	defer server.Close()

	h := NewHTTPRequestHandler(workflow.TypeHTTPRequest, server.Client())
	result, err := h.Execute(context.Background(), Input{
		Config: map[string]interface{}{"url": server.URL},
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "ok", result.Records[0]["status"])
}

func TestHTTPRequestDataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"id": "a"}, {"id": "b"}], "total": 2}`))
	}))
	defer server.Close()

	h := NewHTTPRequestHandler(workflow.TypeFetchData, server.Client())
	result, err := h.Execute(context.Background(), Input{
		Config: map[string]interface{}{"url": server.URL},
	})
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
}

func TestHTTPRequestPostSendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	h := NewHTTPRequestHandler(workflow.TypeHTTPRequest, server.Client())
	_, err := h.Execute(context.Background(), Input{
		Config: map[string]interface{}{
			"url":    server.URL,
			"method": "POST",
			"body":   `{"q": "x"}`,
		},
	})
	require.NoError(t, err)
}

func TestHTTPRequestErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	h := NewHTTPRequestHandler(workflow.TypeHTTPRequest, server.Client())
	_, err := h.Execute(context.Background(), Input{
		Config: map[string]interface{}{"url": server.URL},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

type captureSink struct {
	alerts []notify.Alert
}

func (s *captureSink) Notify(_ context.Context, alert notify.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

func TestAlertFiresOnThreshold(t *testing.T) {
	sink := &captureSink{}
	h := NewAlertHandler(sink)

	result, err := h.Execute(context.Background(), Input{
		Records: []execution.Record{{"cpu": 95}, {"cpu": 40}},
		Config: map[string]interface{}{
			"field":    "cpu",
			"operator": workflow.OpGreaterThan,
			"value":    90,
			"channel":  "ops",
			"message":  "cpu hot",
		},
		Context: ExecutionContext{ExecutionID: "exec-1", NodeID: "alert-1"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Records, 2, "alert passes records through")
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "cpu hot", sink.alerts[0].Message)
	assert.Equal(t, "ops", sink.alerts[0].Channel)
	assert.Equal(t, "exec-1", sink.alerts[0].ExecutionID)
}

type failingSink struct{}

func (failingSink) Notify(_ context.Context, _ notify.Alert) error {
	return errors.New("sink down")
}

func TestAlertToleratesSinkFailureWithoutLogger(t *testing.T) {
	h := NewAlertHandler(failingSink{})

	// Direct callers may not populate the execution context at all;
	// a sink error must still only be logged, never panic or fail
	// the node.
	result, err := h.Execute(context.Background(), Input{
		Records: []execution.Record{{"cpu": 95}},
		Config: map[string]interface{}{
			"field":    "cpu",
			"operator": workflow.OpGreaterThan,
			"value":    90,
		},
	})
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
}

func TestAlertStaysQuietBelowThreshold(t *testing.T) {
	sink := &captureSink{}
	h := NewAlertHandler(sink)

	_, err := h.Execute(context.Background(), Input{
		Records: []execution.Record{{"cpu": 10}},
		Config: map[string]interface{}{
			"field":    "cpu",
			"operator": workflow.OpGreaterThan,
			"value":    90,
		},
	})
	require.NoError(t, err)
	assert.Empty(t, sink.alerts)
}
