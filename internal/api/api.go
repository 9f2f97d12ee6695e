// Package api exposes the harvest orchestration operations over HTTP.
// All harvest routes are tenant-scoped through the X-Tenant-ID header and
// idempotent, so upstream schedulers can retry them blindly.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/harvest"
	"github.com/agrisat/harvest-go/internal/jobs"
	"github.com/agrisat/harvest-go/internal/logging"
	"github.com/agrisat/harvest-go/internal/observability"
	"github.com/agrisat/harvest-go/internal/queue"
	"github.com/agrisat/harvest-go/internal/quota"
	"github.com/agrisat/harvest-go/internal/verify"
	"github.com/agrisat/harvest-go/internal/worker"
)

// queueStatusCacheTTL bounds how stale the cached queue overview may get.
const queueStatusCacheTTL = 30 * time.Second

// Options bundles the controller's collaborators.
type Options struct {
	Settings     *conf.Settings
	Store        datastore.Interface
	Harvest      *harvest.Service
	Processor    *queue.Processor
	Reaper       *queue.Reaper
	Verifier     *verify.Verifier
	Orchestrator *jobs.Orchestrator
	Guard        *quota.Guard
	Worker       *worker.Client
	Metrics      *observability.Metrics
}

// Controller wires the harvest services into an echo server.
type Controller struct {
	Echo         *echo.Echo
	settings     *conf.Settings
	store        datastore.Interface
	harvest      *harvest.Service
	processor    *queue.Processor
	reaper       *queue.Reaper
	verifier     *verify.Verifier
	orchestrator *jobs.Orchestrator
	guard        *quota.Guard
	worker       *worker.Client
	metrics      *observability.Metrics
	statusCache  *gocache.Cache
	logger       *slog.Logger
}

// New creates the API controller and registers all routes.
func New(opts *Options) *Controller {
	logger := logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	c := &Controller{
		Echo:         e,
		settings:     opts.Settings,
		store:        opts.Store,
		harvest:      opts.Harvest,
		processor:    opts.Processor,
		reaper:       opts.Reaper,
		verifier:     opts.Verifier,
		orchestrator: opts.Orchestrator,
		guard:        opts.Guard,
		worker:       opts.Worker,
		metrics:      opts.Metrics,
		statusCache:  gocache.New(queueStatusCacheTTL, time.Minute),
		logger:       logger,
	}
	c.initRoutes()
	return c
}

// initRoutes registers all endpoints.
func (c *Controller) initRoutes() {
	c.Echo.GET("/healthz", c.Health)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	g := c.Echo.Group("/api/v1/harvest", c.TenantMiddleware)
	g.POST("/enqueue", c.Enqueue)
	g.GET("/queue", c.QueueStatus)
	g.POST("/process", c.Process)
	g.GET("/verify", c.Verify)
	g.POST("/reset-stuck", c.ResetStuck)
	g.POST("/retry-jobs", c.RetryJobs)
	g.GET("/quota", c.Quota)
}

// Start runs the server on the configured port. Blocks until shutdown.
func (c *Controller) Start() error {
	port := c.settings.WebServer.Port
	if port == "" {
		port = "8080"
	}
	c.logger.Info("starting API server", "port", port)
	if err := c.Echo.Start(":" + port); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}
