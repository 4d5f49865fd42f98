package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
)

// GetHealthHandler reports readiness of the backing services.
func GetHealthHandler(c echo.Context) error {
	type healthResponse struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if app.MockMode {
		return c.JSON(http.StatusOK, healthResponse{
			Status:   "ok",
			Services: map[string]string{"db": "mock", "queue": "mock", "ai": "mock"},
		})
	}

	services := map[string]string{"db": "up", "queue": "up", "ai": "up"}
	healthy := true

	if app.DBConn == nil {
		services["db"] = "down"
		healthy = false
	} else if err := app.DBConn.Ping(ctx); err != nil {
		services["db"] = "down"
		healthy = false
	}

	if app.Queue == nil || app.Queue.IsClosed() {
		services["queue"] = "down"
		healthy = false
	}

	if app.AiClient == nil {
		services["ai"] = "down"
		healthy = false
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, healthResponse{Status: status, Services: services})
}
