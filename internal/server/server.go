package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/jobqueue"
	"github.com/canvasflow/engine/internal/nodes"
	"github.com/canvasflow/engine/internal/store"
	"github.com/canvasflow/engine/pkg/config"
	"github.com/canvasflow/engine/pkg/logger"
)

// Engine is the execution surface the API exposes. Both the
// orchestrator and the backend selector satisfy it.
type Engine interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, inputs map[string]interface{}, triggerType string) (string, error)
	ExecuteSingleNode(ctx context.Context, workflowID, nodeID string, input []execution.Record) (*nodes.Result, error)
	GetStatus(ctx context.Context, executionID string) (*execution.Execution, error)
	Cancel(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string, approved bool) error
}

type Server struct {
	cfg        config.ServerConfig
	engine     Engine
	workflows  store.WorkflowRepository
	executions store.ExecutionRepository
	queue      *jobqueue.Queue
	registry   prometheus.Gatherer
	log        logger.Logger

	router *gin.Engine
	http   *http.Server
}

func New(
	cfg config.ServerConfig,
	engine Engine,
	workflows store.WorkflowRepository,
	executions store.ExecutionRepository,
	queue *jobqueue.Queue,
	registry prometheus.Gatherer,
	log logger.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:        cfg,
		engine:     engine,
		workflows:  workflows,
		executions: executions,
		queue:      queue,
		registry:   registry,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log))

	router.GET("/health", s.health)
	if s.registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		api.POST("/workflows", s.createWorkflow)
		api.POST("/workflows/execute", s.executeWorkflow)
		api.GET("/workflows/:id/executions", s.listExecutions)
		api.POST("/nodes/execute", s.executeSingleNode)

		api.GET("/executions/:id", s.getExecution)
		api.GET("/executions/:id/logs", s.getExecutionLogs)
		api.GET("/executions/:id/transitions", s.getExecutionTransitions)
		api.POST("/executions/:id/cancel", s.cancelExecution)
		api.POST("/executions/:id/resume", s.resumeExecution)

		api.GET("/queue/stats", s.queueStats)
	}
	return router
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.Info("http server listening", "addr", s.cfg.Addr())
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
