package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clausewise.app/analyzer/internal/http/handler"
	"clausewise.app/analyzer/internal/http/middleware"
	"clausewise.app/analyzer/internal/notify"
	"clausewise.app/analyzer/internal/service"
)

type RouterConfig struct {
	Subscriber      notify.Subscriber
	HealthChecks    map[string]handler.HealthCheck
	MetricsHandler  http.Handler
	TraceHeaderName string
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.Use(middleware.TraceHeader(cfg.TraceHeaderName))

	router.GET("/health", handler.NewHealthHandler(cfg.HealthChecks).Check)
	if cfg.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	v1 := router.Group("/api/v1", middleware.RequireUser())
	{
		documentHandler := handler.NewDocumentHandler(services.Documents())
		DocumentRouter(v1.Group("/documents"), documentHandler)
		JobRouter(v1.Group("/jobs"), documentHandler)

		if cfg.Subscriber != nil {
			eventsHandler := handler.NewEventsHandler(cfg.Subscriber, 0)
			v1.GET("/events", eventsHandler.Stream)
		}
	}
}

func DocumentRouter(router *gin.RouterGroup, h *handler.DocumentHandler) {
	router.POST("", h.Submit)
	router.POST("/upload", h.Upload)
	router.GET("/:id", h.Get)
}

func JobRouter(router *gin.RouterGroup, h *handler.DocumentHandler) {
	router.DELETE("/:id", h.CancelJob)
}
