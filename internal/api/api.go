package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/orderpoint/internal/api/handlers"
	"github.com/andresuchdata/orderpoint/internal/api/middleware"
	"github.com/andresuchdata/orderpoint/internal/cron"
	"github.com/andresuchdata/orderpoint/internal/replenish"
	"github.com/andresuchdata/orderpoint/internal/repository"
)

type Services struct {
	Orderpoints  repository.OrderpointRepository
	Orchestrator *replenish.Orchestrator
	CronStore    repository.CronStore
	Scheduler    *cron.Scheduler
}

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestLog())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api/v1")

	if services != nil {
		if services.Orderpoints != nil && services.Orchestrator != nil {
			orderpointHandler := handlers.NewOrderpointHandler(services.Orderpoints, services.Orchestrator)
			orderpointGroup := apiGroup.Group("/orderpoints")
			{
				orderpointGroup.GET("", orderpointHandler.List)
				orderpointGroup.POST("", orderpointHandler.Create)
				orderpointGroup.GET("/:id", orderpointHandler.Get)
				orderpointGroup.PUT("/:id", orderpointHandler.Update)
				orderpointGroup.DELETE("/:id", orderpointHandler.Delete)
				orderpointGroup.POST("/replenish", orderpointHandler.Replenish)
				orderpointGroup.POST("/:id/snooze", orderpointHandler.Snooze)
			}
		}

		if services.CronStore != nil && services.Scheduler != nil {
			cronHandler := handlers.NewCronHandler(services.CronStore, services.Scheduler)
			cronGroup := apiGroup.Group("/cron/jobs")
			{
				cronGroup.GET("", cronHandler.ListJobs)
				cronGroup.POST("/:id/trigger", cronHandler.Trigger)
				cronGroup.POST("/:id/run", cronHandler.Run)
			}
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
