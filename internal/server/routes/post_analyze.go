package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/analyze"
	"github.com/triad-med/triad/pkg/analyze/base"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// AnalyzeHandler runs the multi-mode pipeline for one study and returns the
// consensus verdict together with the evidence bundle it was grounded on.
func AnalyzeHandler(c echo.Context) error {
	type analyzeBody struct {
		ImageID        string   `json:"image_id" validate:"required"`
		Modes          []string `json:"modes" validate:"omitempty,max=8"`
		K              int      `json:"k" validate:"omitempty,min=1,max=10"`
		MaxChars       int      `json:"max_chars" validate:"omitempty,min=1,max=120"`
		FallbackToVL   *bool    `json:"fallback_to_vl"`
		TimeoutMS      int      `json:"timeout_ms" validate:"omitempty,min=1000,max=60000"`
		IdempotencyKey string   `json:"idempotency_key" validate:"omitempty,max=128"`
		Debug          bool     `json:"debug"`
	}

	data := new(analyzeBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}

	data.ImageID = strings.TrimSpace(data.ImageID)
	if data.ImageID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	client := base.NewGraphAnalyzeClient(base.NewGraphAnalyzeClientParams{
		AIClient:    app.AiClient,
		Storage:     app.Store,
		ImageLoader: app.ImageLoader,
	})

	result, err := client.Analyze(ctx, analyze.AnalyzeParams{
		ImageID:        data.ImageID,
		Modes:          data.Modes,
		K:              data.K,
		MaxChars:       data.MaxChars,
		FallbackToVL:   data.FallbackToVL,
		Timeout:        time.Duration(data.TimeoutMS) * time.Millisecond,
		IdempotencyKey: data.IdempotencyKey,
		Debug:          data.Debug,
	})
	if err != nil {
		if errors.Is(err, store.ErrStudyNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Study not found"})
		}
		if errors.Is(err, analyze.ErrUnknownMode) {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "Unknown mode requested"})
		}
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Analysis timed out", "image_id", data.ImageID, "err", err)
			return c.JSON(http.StatusGatewayTimeout, map[string]string{"message": "Analysis timed out"})
		}
		logger.Error("Analysis failed", "image_id", data.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, result)
}
