package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/queue"
	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/graph"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// AddStudyReportHandler attaches a report to a study and enqueues graph
// ingest. The report is either inline text or a reference the worker
// extracts text from: the object key of an uploaded document or scanned
// report, or the URL of a referring-system export.
func AddStudyReportHandler(c echo.Context) error {
	type addReportBody struct {
		ImageID   string `param:"id" validate:"required"`
		Text      string `json:"text" validate:"omitempty,max=100000"`
		ObjectKey string `json:"object_key" validate:"omitempty,max=512"`
	}

	type addReportResponse struct {
		Message string `json:"message"`
		ImageID string `json:"image_id"`
		Status  string `json:"status"`
	}

	data := new(addReportBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}

	data.Text = strings.TrimSpace(data.Text)
	data.ObjectKey = strings.TrimSpace(data.ObjectKey)
	if (data.Text == "") == (data.ObjectKey == "") {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Provide either text or object_key"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	study, err := app.Store.GetStudy(ctx, data.ImageID)
	if err != nil {
		if errors.Is(err, store.ErrStudyNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Study not found"})
		}
		logger.Error("Failed to get study", "image_id", data.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	if app.Queue == nil {
		// No worker attached, ingest runs inline on the request.
		if data.Text == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "Document import requires object storage"})
		}
		graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		if _, err := graphClient.ProcessReport(ctx, study, data.Text, app.AiClient, app.Store); err != nil {
			logger.Error("Failed to process report", "image_id", data.ImageID, "err", err)
			_ = app.Store.SetStudyStatus(ctx, data.ImageID, common.StudyStatusFailed)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		if err := app.Store.SetStudyStatus(ctx, data.ImageID, common.StudyStatusReady); err != nil {
			logger.Error("Failed to update study status", "image_id", data.ImageID, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		return c.JSON(http.StatusOK, addReportResponse{
			Message: "Report ingested",
			ImageID: data.ImageID,
			Status:  string(common.StudyStatusReady),
		})
	}

	if err := app.Store.SetStudyStatus(ctx, data.ImageID, common.StudyStatusQueued); err != nil {
		logger.Error("Failed to update study status", "image_id", data.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	msg, err := json.Marshal(queue.IngestMessage{
		ImageID:         data.ImageID,
		ReportText:      data.Text,
		ReportObjectKey: data.ObjectKey,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if err := queue.PublishFIFO(app.Queue, queue.IngestQueue, msg); err != nil {
		logger.Error("Failed to publish ingest message", "image_id", data.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusAccepted, addReportResponse{
		Message: "Report ingest queued",
		ImageID: data.ImageID,
		Status:  string(common.StudyStatusQueued),
	})
}
