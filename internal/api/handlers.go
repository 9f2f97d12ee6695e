package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
	"github.com/agrisat/harvest-go/internal/quota"
)

// Health reports liveness. With ?deep=1 it also probes the database and
// the worker so load balancers can take a broken instance out of rotation.
func (c *Controller) Health(ctx echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if ctx.QueryParam("deep") == "" {
		return ctx.JSON(http.StatusOK, response)
	}

	status := http.StatusOK
	if _, err := c.store.QueueStatusCounts(ctx.Request().Context(), "healthcheck"); err != nil {
		response["status"] = "degraded"
		response["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		response["database"] = "ok"
	}
	if c.worker != nil {
		if err := c.worker.Health(ctx.Request().Context()); err != nil {
			response["status"] = "degraded"
			response["worker"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response["worker"] = "ok"
		}
	}
	return ctx.JSON(status, response)
}

// Enqueue runs the auto-harvest batcher for the tenant. With ?instant=true
// the dispatcher runs immediately after enqueueing.
func (c *Controller) Enqueue(ctx echo.Context) error {
	tenant := tenantID(ctx)
	reqCtx := ctx.Request().Context()

	summary, err := c.harvest.EnqueueAutoHarvest(reqCtx, tenant)
	if err != nil {
		return c.mapError(err)
	}
	c.statusCache.Delete(tenant)

	response := map[string]any{"summary": summary}
	if ctx.QueryParam("instant") == "true" {
		batch, err := c.processor.ProcessQueue(reqCtx, 0)
		if err != nil {
			return c.mapError(err)
		}
		response["batch"] = batch
	}
	return ctx.JSON(http.StatusOK, response)
}

// queueOverview is the cached payload of the queue status endpoint.
type queueOverview struct {
	Counts map[string]int64             `json:"counts"`
	Items  []datastore.HarvestQueueItem `json:"items"`
}

// QueueStatus returns the tenant's queue counts and recent items. The
// answer is cached briefly since dashboards poll it.
func (c *Controller) QueueStatus(ctx echo.Context) error {
	tenant := tenantID(ctx)
	if cached, found := c.statusCache.Get(tenant); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	reqCtx := ctx.Request().Context()
	counts, err := c.store.QueueStatusCounts(reqCtx, tenant)
	if err != nil {
		return c.mapError(err)
	}
	items, err := c.store.GetQueueItems(reqCtx, tenant, 20)
	if err != nil {
		return c.mapError(err)
	}
	if c.metrics != nil {
		c.metrics.UpdateQueueDepth(counts)
	}

	overview := queueOverview{Counts: counts, Items: items}
	c.statusCache.SetDefault(tenant, overview)
	return ctx.JSON(http.StatusOK, overview)
}

// Process runs one dispatcher invocation. ?limit=N overrides the batch
// limit for this run.
func (c *Controller) Process(ctx echo.Context) error {
	limit := 0
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = parsed
	}

	result, err := c.processor.ProcessQueue(ctx.Request().Context(), limit)
	if err != nil {
		return c.mapError(err)
	}
	c.statusCache.Delete(tenantID(ctx))
	return ctx.JSON(http.StatusOK, result)
}

// Verify returns the tenant's pipeline verification report.
func (c *Controller) Verify(ctx echo.Context) error {
	report, err := c.verifier.Verify(ctx.Request().Context(), tenantID(ctx))
	if err != nil {
		return c.mapError(err)
	}
	return ctx.JSON(http.StatusOK, report)
}

// ResetStuck runs the reaper sweep for the tenant.
func (c *Controller) ResetStuck(ctx echo.Context) error {
	tenant := tenantID(ctx)
	reset, purged, err := c.reaper.Sweep(ctx.Request().Context(), tenant)
	if err != nil {
		return c.mapError(err)
	}
	c.statusCache.Delete(tenant)
	return ctx.JSON(http.StatusOK, map[string]int64{
		"reset":  reset,
		"purged": purged,
	})
}

// RetryJobs resets the tenant's failed clipping jobs to pending.
func (c *Controller) RetryJobs(ctx echo.Context) error {
	reset, err := c.orchestrator.RetryFailed(ctx.Request().Context(), tenantID(ctx))
	if err != nil {
		return c.mapError(err)
	}
	return ctx.JSON(http.StatusOK, map[string]int64{"reset": reset})
}

// Quota returns the tenant's current quota snapshot.
func (c *Controller) Quota(ctx echo.Context) error {
	snapshot, err := c.guard.Snapshot(ctx.Request().Context(), tenantID(ctx))
	if err != nil {
		return c.mapError(err)
	}
	return ctx.JSON(http.StatusOK, snapshot)
}

// mapError converts service errors to HTTP responses.
func (c *Controller) mapError(err error) error {
	var exceeded *quota.ExceededError
	switch {
	case errors.As(err, &exceeded):
		if c.metrics != nil {
			c.metrics.QuotaRejections.Inc()
		}
		return echo.NewHTTPError(http.StatusTooManyRequests, exceeded.Error())
	case errors.IsCategory(err, errors.CategoryValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.IsNotFound(err) || errors.Is(err, datastore.ErrRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		c.logger.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
