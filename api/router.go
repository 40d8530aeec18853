package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/yt-relay/api/handlers"
	"github.com/yourusername/yt-relay/api/middleware"
	"github.com/yourusername/yt-relay/internal/app"
	"github.com/yourusername/yt-relay/internal/domain"
	"github.com/yourusername/yt-relay/pkg/logger"
)

// Dependencies are the components the HTTP layer talks to
type Dependencies struct {
	Registry    *app.JobRegistry
	Bridge      *app.ProgressBridge
	Broadcaster *app.Broadcaster
	Dispatcher  *app.WorkerDispatcher
	// Archive is optional; history routes are only mounted when it is set
	Archive   domain.JobArchive
	Broadcast domain.BroadcastConfig
	Logs      *logger.LoggerAdapter
	LogsDir   string
}

// SetupRouter sets up the HTTP router: observer websockets on / and /ws,
// the REST API under /api/v1 and health endpoints.
func SetupRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	logs := deps.Logs
	if logs == nil {
		logs = logger.NewSingleLoggerAdapter(nil)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logs.General()))
	router.Use(middleware.Recovery(logs.Error()))
	router.Use(middleware.CORS())

	// Observer connections
	connHandler := handlers.NewConnectionHandler(
		deps.Bridge, deps.Broadcaster, deps.Dispatcher, deps.Broadcast, logs.Connection())
	router.GET("/", connHandler.Handle)
	router.GET("/ws", connHandler.Handle)

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(deps.Broadcaster, deps.Dispatcher)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(deps.Registry, deps.Dispatcher, logs.Job())
		downloads := v1.Group("/downloads")
		{
			downloads.POST("", downloadHandler.AddDownload)
			downloads.GET("", downloadHandler.ListDownloads)
			downloads.GET("/stats", downloadHandler.GetStats)
			downloads.GET("/:key", downloadHandler.GetDownload)
		}

		if deps.Archive != nil {
			historyHandler := handlers.NewHistoryHandler(deps.Archive, logs.General())
			v1.GET("/history", historyHandler.ListHistory)
			v1.GET("/history/stats", historyHandler.GetStats)
		}

		if deps.LogsDir != "" {
			logHandler := handlers.NewLogHandler(deps.LogsDir)
			logRoutes := v1.Group("/logs")
			{
				logRoutes.GET("/categories", logHandler.GetCategories)
				logRoutes.GET("/:category", logHandler.GetLogs)
				logRoutes.GET("/:category/search", logHandler.SearchLogs)
				logRoutes.GET("/:category/export", logHandler.ExportLogs)
			}

			logStream := handlers.NewLogWebSocketHandler(deps.LogsDir, logs.General())
			router.GET("/ws/logs", logStream.HandleWebSocket)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not found"})
	})

	return router
}
