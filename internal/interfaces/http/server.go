// Package http exposes the workflow engine over a JSON API.
// Handlers translate requests into application calls and nothing more.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/practice-workflow/internal/application/metrics"
	"github.com/garyjia/practice-workflow/internal/application/service"
	"github.com/garyjia/practice-workflow/internal/application/workflow"
	"github.com/garyjia/practice-workflow/internal/domain/entity"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Assigner changes who holds a request
type Assigner interface {
	Assign(ctx context.Context, requestID int64, actor entity.Actor, assigneeID int64) (*entity.Request, error)
	Unassign(ctx context.Context, requestID int64, actor entity.Actor) (*entity.Request, error)
	Workload(ctx context.Context, actor entity.Actor, assigneeID int64) (map[string]int, error)
}

// Summarizer produces dashboard metrics
type Summarizer interface {
	Summarize(ctx context.Context, actor entity.Actor, tenantFilter *int64) (*metrics.Metrics, error)
}

// Services are the application entry points the API calls
type Services struct {
	Engine      workflow.Engine
	Requests    service.RequestService
	Definitions service.DefinitionService
	Assignments Assigner
	Metrics     Summarizer
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// NewServer creates a new HTTP server over the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(services, logger),
		logger:   logger,
	}

	s.router.Use(gin.Recovery(), s.tracingMiddleware(), s.loggingMiddleware())
	s.setupRoutes()
	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// tracingMiddleware opens a server span per request, continuing any
// trace context the caller sent
func (s *Server) tracingMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("github.com/garyjia/practice-workflow/internal/interfaces/http")

	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(semconv.HTTPRequestMethodKey.String(c.Request.Method), semconv.HTTPRoute(route)),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(semconv.HTTPResponseStatusCode(c.Writer.Status()))
	}
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api", identityMiddleware())
	{
		api.POST("/requests", h.CreateRequest)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:id", h.GetRequest)
		api.GET("/requests/:id/history", h.RequestHistory)
		api.GET("/requests/:id/transitions", h.AvailableTransitions)
		api.POST("/requests/:id/transitions", h.Transition)
		api.PUT("/requests/:id/assignee", h.Assign)
		api.DELETE("/requests/:id/assignee", h.Unassign)
		api.PATCH("/requests/:id/invoice", h.UpdateInvoice)
		api.PATCH("/requests/:id/notes", h.UpdateNotes)

		api.GET("/users/:id/workload", h.Workload)

		api.GET("/metrics", h.Metrics)
		api.GET("/metrics/export", h.ExportMetrics)

		api.POST("/definitions", h.CreateDefinition)
		api.GET("/definitions", h.ListDefinitions)
		api.GET("/definitions/:id", h.GetDefinition)
		api.POST("/definitions/:id/default", h.SetDefaultDefinition)
		api.POST("/definitions/:id/clone", h.CloneDefinition)
		api.DELETE("/definitions/:id", h.DeactivateDefinition)
	}
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", s.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop drains in-flight requests for up to ten seconds
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the listen address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
