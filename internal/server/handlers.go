package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type createWorkflowRequest struct {
	Name        string                `json:"name" binding:"required"`
	Description string                `json:"description"`
	OrgID       string                `json:"orgId"`
	Nodes       []workflow.Node       `json:"nodes" binding:"required"`
	Connections []workflow.Connection `json:"connections"`
	Schedule    string                `json:"schedule"`
	IsActive    bool                  `json:"isActive"`
}

func (s *Server) createWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Reject graphs that can never run before persisting them.
	if _, err := workflow.BuildGraph(req.Nodes, req.Connections); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wf := &workflow.Workflow{
		Name:        req.Name,
		Description: req.Description,
		OrgID:       req.OrgID,
		Nodes:       req.Nodes,
		Connections: req.Connections,
		Schedule:    req.Schedule,
		IsActive:    req.IsActive,
	}
	if err := s.workflows.Create(c.Request.Context(), wf); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

type executeWorkflowRequest struct {
	WorkflowID  string                 `json:"workflowId" binding:"required"`
	TriggerType string                 `json:"triggerType"`
	Inputs      map[string]interface{} `json:"inputs"`
}

func (s *Server) executeWorkflow(c *gin.Context) {
	var req executeWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.engine.ExecuteWorkflow(c.Request.Context(), req.WorkflowID, req.Inputs, req.TriggerType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"executionId": id, "status": execution.StatusPending})
}

type executeNodeRequest struct {
	WorkflowID string             `json:"workflowId" binding:"required"`
	NodeID     string             `json:"nodeId" binding:"required"`
	Records    []execution.Record `json:"records"`
}

func (s *Server) executeSingleNode(c *gin.Context) {
	var req executeNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.engine.ExecuteSingleNode(c.Request.Context(), req.WorkflowID, req.NodeID, req.Records)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records":  result.Records,
		"branches": result.Branches,
		"message":  result.Message,
	})
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) getExecutionLogs(c *gin.Context) {
	logs, err := s.executions.FindLogsByExecutionID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) getExecutionTransitions(c *gin.Context) {
	transitions, err := s.executions.Transitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

func (s *Server) cancelExecution(c *gin.Context) {
	if err := s.engine.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": execution.StatusCancelled})
}

type resumeRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

func (s *Server) resumeExecution(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.Resume(c.Request.Context(), c.Param("id"), *req.Approved); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": true, "approved": *req.Approved})
}

func (s *Server) listExecutions(c *gin.Context) {
	limit := 50
	if raw, ok := c.GetQuery("limit"); ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	execs, err := s.executions.FindByWorkflowID(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

func (s *Server) queueStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"depth": s.queue.Depth()})
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, execution.ErrExecutionNotFound),
		errors.Is(err, execution.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, execution.ErrGraphInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, execution.ErrNotPaused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
