package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"marketdata_hub/config"
	"marketdata_hub/models"
	"marketdata_hub/routes"
	"marketdata_hub/scheduler"
	"marketdata_hub/services/aggregator"
	"marketdata_hub/services/cache"
	"marketdata_hub/services/orchestrator"
	"marketdata_hub/services/providers"
	"marketdata_hub/services/store"
	"marketdata_hub/services/tracker"
)

// initialized tracks whether the data pipeline is fully wired. Guarded for
// the /ready probe which is queried from request goroutines.
var initialized bool
var initMutex sync.RWMutex

func main() {
	log.Println("==============================================")
	log.Println("  Market Data Hub - Starting...")
	log.Println("==============================================")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Probes go up FIRST so orchestrators see the process is alive while
	// the data pipeline initializes in the background
	setupProbeEndpoints(router)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wire the data pipeline in the background
	var (
		jobScheduler   *scheduler.Scheduler
		brain          *orchestrator.Brain
		quoteCache     *cache.QuoteCache
		registry       *cache.SymbolRegistry
		newsStore      *store.NewsStore
		attemptArchive *tracker.AttemptArchive
	)
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	go func() {
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Printf("ERROR: Database connection failed: %v", err)
			log.Println("Service will continue in limited mode (probes only)")
			return
		}

		log.Println("Running database migrations...")
		if err := models.MigrateMarketModels(db); err != nil {
			log.Printf("ERROR: Migration failed: %v", err)
		} else {
			log.Println("Database migrations completed successfully")
		}

		// Fetch tracker with local sqlite attempt archive
		attemptArchive, err = tracker.OpenAttemptArchive(cfg.AttemptArchivePath)
		if err != nil {
			log.Printf("Warning: attempt archive unavailable: %v", err)
			attemptArchive = nil
		}
		trk := tracker.New(tracker.Config{
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			MaxRetryAttempts:       cfg.MaxRetryAttempts,
			RetryBackoff:           cfg.RetryBackoff,
			RateLimitCooldown:      cfg.RateLimitCooldown,
		}, attemptArchive)

		// Aggregator and orchestrator over the provider set
		agg := aggregator.New(aggregator.Config{
			ProviderTimeout: cfg.ProviderTimeout,
			InterCallDelay:  cfg.InterCallDelay,
			MaxFanout:       cfg.MaxFanout,
		}, trk)
		brain = orchestrator.New(agg, trk)

		brain.AddProvider(providers.NewYahoo(cfg.ProviderRatePerSec))
		if cfg.AlphaVantageAPIKey != "" {
			brain.AddProvider(providers.NewAlphaVantage(cfg.AlphaVantageAPIKey, cfg.ProviderRatePerSec))
		}
		var stream *providers.FinnhubStream
		if cfg.FinnhubAPIKey != "" {
			brain.AddProvider(providers.NewFinnhub(cfg.FinnhubAPIKey, cfg.ProviderRatePerSec))
			stream = providers.NewFinnhubStream(cfg.FinnhubAPIKey)
			brain.AddProvider(stream)
		}
		if cfg.FMPAPIKey != "" {
			brain.AddProvider(providers.NewFMP(cfg.FMPAPIKey, cfg.ProviderRatePerSec))
		}
		log.Printf("Registered providers: %v", brain.ProviderNames())

		// Stores
		gormStore := store.NewGormStore(db)
		newsStore, err = store.NewNewsStore(cfg.MongoURI)
		if err != nil {
			log.Printf("MongoDB not configured or failed to connect: %v", err)
		}

		// Symbol registry and quote cache
		registry = cache.NewSymbolRegistry(gormStore, cfg.RegistryRefreshEvery)
		registry.Start(pipelineCtx)

		if stream != nil {
			if err := stream.Start(registry.Symbols(cache.SourceTracked)); err != nil {
				log.Printf("Warning: Finnhub stream failed to start: %v", err)
			}
		}

		quoteCache = cache.NewQuoteCache(func(ctx context.Context, symbol string) *models.FetchResult {
			return brain.GetQuote(ctx, symbol)
		}, cfg.QuoteCacheTTL, cfg.PopularSymbolThreshold)
		quoteCache.StartAutoRefresh(pipelineCtx)

		// Scheduler with the standard job set
		hours := scheduler.NewMarketHours(cfg.MarketTimezone,
			cfg.MarketOpenHour, cfg.MarketOpenMin, cfg.MarketCloseHour, cfg.MarketCloseMin)
		jobScheduler = scheduler.New(hours)
		if err := scheduler.RegisterDefaultJobs(jobScheduler, brain, registry, gormStore, newsStore, trk, cfg.AttemptRetention); err != nil {
			log.Printf("ERROR: Job registration failed: %v", err)
		}

		routes.SetupRoutes(router, brain, jobScheduler, quoteCache, registry, newsStore)
		jobScheduler.Start()

		initMutex.Lock()
		initialized = true
		initMutex.Unlock()
		log.Println("Application fully initialized")
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	cancelPipeline()
	if jobScheduler != nil {
		jobScheduler.Stop()
	}
	if quoteCache != nil {
		quoteCache.Stop()
	}
	if registry != nil {
		registry.Stop()
	}
	if brain != nil {
		brain.Close()
	}
	if newsStore != nil {
		if err := newsStore.Close(); err != nil {
			log.Printf("Error closing news store: %v", err)
		}
	}
	if attemptArchive != nil {
		if err := attemptArchive.Close(); err != nil {
			log.Printf("Error closing attempt archive: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server shutdown completed")
}

// setupProbeEndpoints registers liveness endpoints that work before the
// data pipeline is up. The full /health endpoint is added with the API
// routes once initialization finishes.
func setupProbeEndpoints(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Market Data Hub",
			"version": "1.0.0",
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		initMutex.RLock()
		ready := initialized
		initMutex.RUnlock()
		if !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Pipeline not initialized",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/startup", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for probes to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/startup" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Only log errors or slow requests
		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}
