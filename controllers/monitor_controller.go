package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketdata_hub/models"
	"marketdata_hub/scheduler"
	"marketdata_hub/services/cache"
	"marketdata_hub/services/orchestrator"
)

// MonitorController exposes the operational surface: scheduler control,
// provider health, and cache management.
type MonitorController struct {
	brain     *orchestrator.Brain
	scheduler *scheduler.Scheduler
	quotes    *cache.QuoteCache
	registry  *cache.SymbolRegistry
	startedAt time.Time
}

// NewMonitorController creates a new monitor controller.
func NewMonitorController(brain *orchestrator.Brain, sched *scheduler.Scheduler, quotes *cache.QuoteCache, registry *cache.SymbolRegistry) *MonitorController {
	return &MonitorController{
		brain:     brain,
		scheduler: sched,
		quotes:    quotes,
		registry:  registry,
		startedAt: time.Now(),
	}
}

// Health returns overall service health.
// GET /health
func (mc *MonitorController) Health(c *gin.Context) {
	summary := mc.brain.Tracker().GetSummary()

	status := "healthy"
	code := http.StatusOK
	switch {
	case len(mc.brain.ProviderNames()) == 0:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case summary.ActiveProviders == 0:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case summary.ActiveProviders < summary.TotalProviders || !mc.scheduler.Running():
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":             status,
		"uptime":             time.Since(mc.startedAt).Round(time.Second).String(),
		"scheduler_running":  mc.scheduler.Running(),
		"total_providers":    summary.TotalProviders,
		"active_providers":   summary.ActiveProviders,
	})
}

// SchedulerStatus lists every job with its schedule and state.
// GET /api/v1/scheduler/status
func (mc *MonitorController) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running": mc.scheduler.Running(),
		"jobs":    mc.scheduler.Status(),
	})
}

// RunJob triggers a job immediately. An optional JSON body with a symbols
// list overrides the job's own symbol resolution for this run.
// POST /api/v1/scheduler/jobs/:name/run
func (mc *MonitorController) RunJob(c *gin.Context) {
	name := c.Param("name")

	var req struct {
		Symbols []string `json:"symbols"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
	}

	if err := mc.scheduler.RunJobNow(name, req.Symbols); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"message": "Job " + name + " triggered"}
	if len(req.Symbols) > 0 {
		resp["symbols"] = req.Symbols
	}
	c.JSON(http.StatusAccepted, resp)
}

// PauseJob pauses a job's schedule.
// POST /api/v1/scheduler/jobs/:name/pause
func (mc *MonitorController) PauseJob(c *gin.Context) {
	name := c.Param("name")
	if err := mc.scheduler.PauseJob(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job " + name + " paused"})
}

// ResumeJob resumes a paused job.
// POST /api/v1/scheduler/jobs/:name/resume
func (mc *MonitorController) ResumeJob(c *gin.Context) {
	name := c.Param("name")
	if err := mc.scheduler.ResumeJob(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job " + name + " resumed"})
}

// ProviderSummary returns aggregate fetch statistics.
// GET /api/v1/providers/summary
func (mc *MonitorController) ProviderSummary(c *gin.Context) {
	c.JSON(http.StatusOK, mc.brain.Tracker().GetSummary())
}

// ProviderPerformance returns per-provider statistics, best first.
// GET /api/v1/providers/performance
func (mc *MonitorController) ProviderPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": mc.brain.Tracker().ProviderPerformance()})
}

// ProvidersForType lists currently eligible providers for a data type.
// GET /api/v1/providers/eligible/:datatype
func (mc *MonitorController) ProvidersForType(c *gin.Context) {
	dt, err := models.ParseDataType(c.Param("datatype"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data_type": dt,
		"providers": mc.brain.GetAvailableProviders(dt),
	})
}

// ResetProvider clears a provider's failure state, restoring eligibility.
// POST /api/v1/providers/:name/reset
func (mc *MonitorController) ResetProvider(c *gin.Context) {
	name := c.Param("name")
	if err := mc.brain.Tracker().ResetProviderFailures(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Provider " + name + " reset"})
}

// CacheStats returns quote cache counters.
// GET /api/v1/cache/stats
func (mc *MonitorController) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, mc.quotes.GetStats())
}

// InvalidateCacheSymbol drops one symbol from the quote cache.
// DELETE /api/v1/cache/quotes/:symbol
func (mc *MonitorController) InvalidateCacheSymbol(c *gin.Context) {
	symbol := c.Param("symbol")
	mc.quotes.Invalidate(symbol)
	c.JSON(http.StatusOK, gin.H{"message": "Invalidated " + symbol})
}

// ClearCache drops every quote cache entry.
// DELETE /api/v1/cache/quotes
func (mc *MonitorController) ClearCache(c *gin.Context) {
	mc.quotes.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "Quote cache cleared"})
}

// RegistryStatus reports the cached symbol universe.
// GET /api/v1/registry
func (mc *MonitorController) RegistryStatus(c *gin.Context) {
	last, next := mc.registry.LastRefresh()
	resp := gin.H{
		"tracked":    mc.registry.Symbols(cache.SourceTracked),
		"movers":     mc.registry.Symbols(cache.SourceMovers),
		"watchlists": mc.registry.Symbols(cache.SourceWatchlists),
		"total":      len(mc.registry.AllSymbols()),
	}
	if !last.IsZero() {
		resp["last_refresh"] = last
		resp["next_refresh"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// RefreshRegistry reloads the symbol lists immediately.
// POST /api/v1/registry/refresh
func (mc *MonitorController) RefreshRegistry(c *gin.Context) {
	if err := mc.registry.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Registry refreshed", "total": len(mc.registry.AllSymbols())})
}
