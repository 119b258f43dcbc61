package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/api/handlers"
	"github.com/yourusername/media-fetch-go/api/middleware"
	"github.com/yourusername/media-fetch-go/internal/app"
	"github.com/yourusername/media-fetch-go/pkg/logger"
)

// SetupRouter sets up the HTTP router over the job manager. Metrics are
// served from gatherer when it is non-nil; recovered panics also go to the
// error category of events.
func SetupRouter(
	jobMgr *app.JobManager,
	log *zap.Logger,
	events *logger.MultiLogger,
	logsDir string,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log, events))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(jobMgr)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		jobHandler := handlers.NewJobHandler(jobMgr, log)
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.DELETE("/:id", jobHandler.DeleteJob)
			jobs.POST("/:id/cancel", jobHandler.CancelJob)
			jobs.POST("/:id/pause", jobHandler.PauseJob)
			jobs.POST("/:id/resume", jobHandler.ResumeJob)
			jobs.POST("/:id/items/:index/pause", jobHandler.PauseItem)
			jobs.POST("/:id/items/:index/resume", jobHandler.ResumeItem)
			jobs.POST("/:id/invalidate-archive", jobHandler.InvalidateArchive)
			jobs.GET("/:id/archive", jobHandler.DownloadArchive)
		}

		storage := v1.Group("/storage")
		{
			storage.POST("/cleanup", jobHandler.Cleanup)
			storage.GET("/usage", jobHandler.DiskUsage)
		}

		logHandler := handlers.NewLogHandler(logsDir)
		logs := v1.Group("/logs")
		{
			logs.GET("/categories", logHandler.GetCategories)
			logs.GET("/:category", logHandler.GetLogs)
			logs.GET("/:category/search", logHandler.SearchLogs)
			logs.GET("/:category/export", logHandler.ExportLogs)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})

	return router
}
