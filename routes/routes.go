package routes

import (
	"github.com/gin-gonic/gin"

	"marketdata_hub/controllers"
	"marketdata_hub/scheduler"
	"marketdata_hub/services/cache"
	"marketdata_hub/services/orchestrator"
	"marketdata_hub/services/store"
)

// SetupRoutes sets up all API routes
func SetupRoutes(
	router *gin.Engine,
	brain *orchestrator.Brain,
	sched *scheduler.Scheduler,
	quotes *cache.QuoteCache,
	registry *cache.SymbolRegistry,
	news *store.NewsStore,
) {
	// Initialize controllers
	monitorController := controllers.NewMonitorController(brain, sched, quotes, registry)
	dataController := controllers.NewDataController(brain, quotes, news)

	router.GET("/health", monitorController.Health)

	// API v1 group
	api := router.Group("/api/v1")
	{
		// Data routes
		api.GET("/quotes/:symbol", dataController.GetQuote)
		api.GET("/data/:datatype/:symbol", dataController.GetData)
		api.GET("/news/:symbol", dataController.GetNews)

		// Scheduler routes
		sched := api.Group("/scheduler")
		{
			sched.GET("/status", monitorController.SchedulerStatus)
			sched.POST("/jobs/:name/run", monitorController.RunJob)
			sched.POST("/jobs/:name/pause", monitorController.PauseJob)
			sched.POST("/jobs/:name/resume", monitorController.ResumeJob)
		}

		// Provider routes
		providers := api.Group("/providers")
		{
			providers.GET("/summary", monitorController.ProviderSummary)
			providers.GET("/performance", monitorController.ProviderPerformance)
			providers.GET("/eligible/:datatype", monitorController.ProvidersForType)
			providers.POST("/:name/reset", monitorController.ResetProvider)
		}

		// Cache routes
		cacheGroup := api.Group("/cache")
		{
			cacheGroup.GET("/stats", monitorController.CacheStats)
			cacheGroup.DELETE("/quotes", monitorController.ClearCache)
			cacheGroup.DELETE("/quotes/:symbol", monitorController.InvalidateCacheSymbol)
		}

		// Registry routes
		registryGroup := api.Group("/registry")
		{
			registryGroup.GET("", monitorController.RegistryStatus)
			registryGroup.POST("/refresh", monitorController.RefreshRegistry)
		}
	}
}
