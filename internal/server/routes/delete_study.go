package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/queue"
	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/graph"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// DeleteStudyHandler removes a study. With a queue attached the teardown
// is handed to the worker; in mock mode it runs inline.
func DeleteStudyHandler(c echo.Context) error {
	type deleteStudyParams struct {
		ImageID string `param:"id" validate:"required"`
	}

	type deleteStudyResponse struct {
		Message string `json:"message"`
		ImageID string `json:"image_id"`
	}

	params := new(deleteStudyParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if _, err := app.Store.GetStudy(ctx, params.ImageID); err != nil {
		if errors.Is(err, store.ErrStudyNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Study not found"})
		}
		logger.Error("Failed to get study", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	if app.Queue == nil {
		graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		if err := graphClient.DeleteStudy(ctx, params.ImageID, app.Store); err != nil {
			logger.Error("Failed to delete study", "image_id", params.ImageID, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		return c.JSON(http.StatusOK, deleteStudyResponse{
			Message: "Study deleted",
			ImageID: params.ImageID,
		})
	}

	msg, err := json.Marshal(queue.DeleteMessage{ImageID: params.ImageID})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if err := queue.PublishFIFO(app.Queue, queue.DeleteQueue, msg); err != nil {
		logger.Error("Failed to publish delete message", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, deleteStudyResponse{
		Message: "Study deletion queued",
		ImageID: params.ImageID,
	})
}
