package server

import (
	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route, unauthenticated
	e.GET("/api/health", routes.GetHealthHandler)

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Analysis route
	apiRoutes.POST("/analyze", routes.AnalyzeHandler, middleware.RequirePermission("study.analyze"))

	// Study routes
	apiRoutes.GET("/studies", routes.GetStudiesHandler)
	apiRoutes.POST("/studies", routes.CreateStudyHandler, middleware.RequirePermission("study.create"))
	apiRoutes.GET("/studies/:id", routes.GetStudyHandler)
	apiRoutes.DELETE("/studies/:id", routes.DeleteStudyHandler, middleware.RequirePermission("study.delete"))
	apiRoutes.POST("/studies/:id/report", routes.AddStudyReportHandler, middleware.RequirePermission("study.report:add"))

	// Graph product routes
	apiRoutes.GET("/studies/:id/context", routes.GetStudyContextHandler)
	apiRoutes.GET("/studies/:id/paths", routes.GetStudyPathsHandler)
	apiRoutes.GET("/studies/:id/similar", routes.GetStudySimilarHandler)
	apiRoutes.GET("/studies/:id/analyses", routes.GetStudyAnalysesHandler)
}
