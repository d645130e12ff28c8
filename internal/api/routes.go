package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/parkwise/services/iot/internal/auth"
)

// SetupRoutes configures the API surface. The device routes are served
// under both /api/iot and /iot: the dashboard talks to the first, the
// legacy gateway rewrite to the second.
func SetupRoutes(router *gin.Engine, handlers *Handlers, tokens *auth.Manager, logger *logrus.Logger) {
	router.Use(Recovery(logger))
	router.Use(RequestLogger(logger))
	router.Use(CORS())

	// Health check (public)
	router.GET("/health", handlers.HealthCheck)

	for _, prefix := range []string{"/api/iot", "/iot"} {
		registerDeviceRoutes(router.Group(prefix), handlers, tokens)
	}
}

func registerDeviceRoutes(g *gin.RouterGroup, handlers *Handlers, tokens *auth.Manager) {
	devices := g.Group("/devices")

	// Telemetry is device-authenticated by serial number, not by user
	// token. The :id segment carries the serial on this route.
	devices.POST("/:id/telemetry", handlers.IngestTelemetry)

	authed := devices.Group("")
	authed.Use(UserAuthentication(tokens))
	{
		authed.GET("", NoCache(), handlers.ListDevices)
		authed.GET("/kpis", NoCache(), handlers.GetKPIs)
		authed.GET("/:id", NoCache(), handlers.GetDevice)

		authed.POST("", handlers.CreateDevice)
		authed.POST("/bulk", handlers.BulkCreateDevices)
		authed.PUT("/:id", handlers.UpdateDevice)
		authed.DELETE("/:id", handlers.DeleteDevice)

		authed.POST("/:id/maintenance", handlers.SetMaintenance)
		authed.POST("/:id/restore", handlers.RestoreDevice)
		authed.POST("/:id/token", handlers.ReissueToken)
	}
}
