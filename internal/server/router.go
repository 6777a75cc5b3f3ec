package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/enginelhq/enginel-backend/internal/handlers"
	"github.com/enginelhq/enginel-backend/internal/logger"
	"github.com/enginelhq/enginel-backend/internal/utils"
)

type RouterConfig struct {
	Log           *logger.Logger
	AssetsHandler *handlers.AssetsHandler
	TasksHandler  *handlers.TasksHandler
	UnitsHandler  *handlers.UnitsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", cfg.Log)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(origins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Assets
		api.POST("/assets", cfg.AssetsHandler.Upload)
		api.GET("/assets/:id", cfg.AssetsHandler.Get)
		api.GET("/assets/:id/bom", cfg.AssetsHandler.GetBOM)
		api.GET("/assets/:id/geometry", cfg.AssetsHandler.InspectGeometry)
		api.POST("/assets/:id/process", cfg.AssetsHandler.Process)
		api.POST("/assets/:id/bom", cfg.AssetsHandler.ExtractBOM)
		api.POST("/assets/:id/normalize-units", cfg.AssetsHandler.NormalizeUnits)

		// Tasks
		api.GET("/tasks/metrics", cfg.TasksHandler.GetMetrics)
		api.GET("/tasks/failures", cfg.TasksHandler.GetFailureAnalysis)
		api.GET("/tasks/recent", cfg.TasksHandler.GetRecent)
		api.GET("/tasks/:id/status", cfg.TasksHandler.GetStatus)
		api.GET("/tasks/:id/progress", cfg.TasksHandler.GetProgress)
		api.POST("/tasks/:id/cancel", cfg.TasksHandler.Cancel)

		// Units
		api.GET("/convert", cfg.UnitsHandler.Convert)
		api.GET("/units", cfg.UnitsHandler.Supported)
		api.GET("/units/detect", cfg.UnitsHandler.Detect)
	}

	return router
}
