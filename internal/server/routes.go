package server

import (
	"github.com/shiran1989/magshimim-cyber-homework/internal/server/middleware"
	"github.com/shiran1989/magshimim-cyber-homework/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.HealthHandler)

	api := e.Group("/api/v1")

	// Catalog routes
	api.GET("/attack-patterns", routes.ListPatternsHandler)
	api.POST("/attack-patterns/search", routes.SearchPatternsHandler)
	api.GET("/attack-patterns/:id", routes.GetPatternHandler)
	api.GET("/stats", routes.StatsHandler)
	api.GET("/dashboard-data", routes.DashboardDataHandler)
	api.GET("/health", routes.HealthHandler)

	// Ingestion routes
	ingest := api.Group("/ingest", middleware.AuthMiddleware)
	ingest.POST("", routes.IngestHandler, middleware.RequirePermission(middleware.PermIngest))
	ingest.GET("/runs", routes.GetIngestRunsHandler, middleware.RequireAnyPermission(middleware.PermViewRuns, middleware.PermIngest))
}
