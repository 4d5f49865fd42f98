package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// GetStudyAnalysesHandler lists the persisted inferences of a study, newest
// first.
func GetStudyAnalysesHandler(c echo.Context) error {
	type getAnalysesParams struct {
		ImageID string `param:"id" validate:"required"`
		Limit   int    `query:"limit" validate:"omitempty,min=1,max=100"`
	}

	type getAnalysesResponse struct {
		ImageID  string             `json:"image_id"`
		Analyses []common.Inference `json:"analyses"`
	}

	params := new(getAnalysesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if params.Limit <= 0 {
		params.Limit = 20
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

	analyses, err := app.Store.ListInferences(ctx, params.ImageID, params.Limit)
	if err != nil {
		logger.Error("Failed to list analyses", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if analyses == nil {
		analyses = make([]common.Inference, 0)
	}

	return c.JSON(http.StatusOK, getAnalysesResponse{
		ImageID:  params.ImageID,
		Analyses: analyses,
	})
}
