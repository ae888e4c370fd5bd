package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/practice-workflow/internal/application/assignment"
	"github.com/garyjia/practice-workflow/internal/application/dispatcher"
	"github.com/garyjia/practice-workflow/internal/application/metrics"
	"github.com/garyjia/practice-workflow/internal/application/port"
	"github.com/garyjia/practice-workflow/internal/application/service"
	"github.com/garyjia/practice-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/practice-workflow/internal/domain/workflow"
	"github.com/garyjia/practice-workflow/internal/importer"
	"github.com/garyjia/practice-workflow/internal/infrastructure/eventbus"
	"github.com/garyjia/practice-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/practice-workflow/internal/infrastructure/worker"
	"github.com/garyjia/practice-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are built in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Data
	raw          *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Events
	dispatcher dispatcher.Dispatcher
	bus        *eventbus.Bus

	// Application
	catalog     *workflow.Catalog
	assignments *assignment.Manager
	engine      workflow.Engine
	services    *ServiceBundle
	importer    *importer.Importer

	workers *worker.Manager

	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access
type RepositoryBundle struct {
	Tenant     port.TenantRepository
	User       port.UserRepository
	Definition port.DefinitionRepository
	Request    port.RequestRepository
	History    port.HistoryRepository
	Metrics    port.MetricsRepository
}

// ServiceBundle groups the services the transports call
type ServiceBundle struct {
	Requests    service.RequestService
	Definitions service.DefinitionService
	Metrics     *metrics.Aggregator
}

// HealthStatus represents the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database and repositories
// 2. Event dispatcher and bus
// 3. Definition catalog, assignment manager and engine
// 4. Application services and importer
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		init func() error
	}{
		{"database", c.initDatabase},
		{"events", c.initEvents},
		{"workflow", c.initWorkflow},
		{"services", c.initServices},
		{"workers", func() error { return c.initWorkers(ctx) }},
	}
	for _, step := range steps {
		if err := step.init(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.bus != nil {
		if err := c.bus.Close(); err != nil {
			c.logger.Error("Failed to close event bus", zap.Error(err))
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
		c.bus = nil
	}

	if c.raw != nil {
		if err := c.raw.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.raw = nil
	}

	return errs
}

// Ready returns true when all components are initialized
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notInitialized := ComponentHealth{Message: "not initialized"}

	switch {
	case c.raw == nil:
		set("database", notInitialized)
	default:
		if err := c.raw.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	}

	if c.workers != nil {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		})
	} else {
		set("workers", notInitialized)
	}

	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{Healthy: true})
	} else {
		set("dispatcher", notInitialized)
	}

	if c.catalog != nil {
		set("catalog", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("cached definitions: %d", len(c.catalog.Cached())),
		})
	} else {
		set("catalog", notInitialized)
	}

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.raw = bundle.Raw
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

// initEvents builds the in-process dispatcher and bridges it onto the bus
// so committed events reach bus subscribers.
func (c *Container) initEvents() error {
	c.dispatcher = dispatcher.NewDispatcher(
		dispatcher.WithLogger(newLoggerAdapter(c.logger.Named("dispatcher"))),
	)
	c.bus = eventbus.New(eventbus.Config{
		Topic:      c.config.Events.Topic,
		BufferSize: c.config.Events.BufferSize,
	}, c.logger.Named("eventbus"))
	c.bus.Bridge(c.dispatcher)
	return nil
}

func (c *Container) initWorkflow() error {
	appLogger := newLoggerAdapter(c.logger)
	repos := c.repositories

	c.catalog = workflow.NewCatalog(repos.Definition, appLogger)

	c.assignments = assignment.NewManager(
		repos.Request,
		repos.User,
		c.db,
		c.catalog,
		assignment.WithDispatcher(c.dispatcher),
		assignment.WithLogger(appLogger),
		assignment.WithRetryAttempts(c.config.Workflow.AssignmentRetryAttempts),
	)

	c.engine = workflow.NewEngine(
		repos.Request,
		repos.History,
		repos.Definition,
		repos.User,
		c.db,
		c.catalog,
		c.assignments,
		workflow.WithDispatcher(c.dispatcher),
		workflow.WithStatusMapping(c.statusMapping()),
		workflow.WithLogger(appLogger),
	)
	return nil
}

func (c *Container) initServices() error {
	appLogger := newLoggerAdapter(c.logger)
	repos := c.repositories

	c.services = &ServiceBundle{
		Requests:    service.NewRequestService(repos.Request, repos.History, c.db, appLogger),
		Definitions: service.NewDefinitionService(repos.Definition, c.db, c.catalog, appLogger),
		Metrics:     metrics.NewAggregator(repos.Metrics, repos.Tenant),
	}

	c.importer = importer.New(
		repos.Request,
		repos.History,
		repos.Definition,
		repos.User,
		c.catalog,
		c.db,
		c.assignments,
		c.statusMapping(),
		c.logger.Named("importer"),
	)
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	c.workers = worker.NewManager(c.logger.Named("workers"))
	c.workers.Register(worker.NewCatalogRefresher(
		c.repositories.Definition,
		c.catalog,
		c.config.Worker.CatalogRefreshInterval,
		c.logger,
	))
	if c.config.Worker.LogEvents {
		c.workers.Register(worker.NewEventLogger(c.bus, c.logger))
	}
	return c.workers.StartAll(ctx)
}

func (c *Container) statusMapping() *domainwf.StatusMapping {
	return domainwf.NewStatusMapping(c.config.Workflow.StatusAliases)
}

// Repositories returns the repository bundle
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns the application service bundle
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Engine returns the workflow engine
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Assignments returns the assignment manager
func (c *Container) Assignments() *assignment.Manager {
	return c.assignments
}

// Importer returns the workbook importer
func (c *Container) Importer() *importer.Importer {
	return c.importer
}

// Dispatcher returns the event dispatcher
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Bus returns the outbound event bus
func (c *Container) Bus() *eventbus.Bus {
	return c.bus
}

// TransactionManager returns the transaction manager
func (c *Container) TransactionManager() port.TransactionManager {
	return c.db
}

// Config returns the container configuration
func (c *Container) Config() *Config {
	return c.config
}

// loggerAdapter adapts zap.Logger to the key-value logger interfaces used by
// the application layer and the dispatcher.
type loggerAdapter struct {
	logger *zap.Logger
}

func newLoggerAdapter(logger *zap.Logger) *loggerAdapter {
	return &loggerAdapter{logger: logger}
}

func (a *loggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *loggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *loggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

var (
	_ port.Logger       = (*loggerAdapter)(nil)
	_ dispatcher.Logger = (*loggerAdapter)(nil)
)

// convertToZapFields converts key-value pairs to zap fields
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

// AppLogger returns a key-value logger over the container's zap logger
func (c *Container) AppLogger() port.Logger {
	return newLoggerAdapter(c.logger)
}
