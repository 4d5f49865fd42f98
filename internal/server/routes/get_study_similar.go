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

// GetStudySimilarHandler lists the materialized SIMILAR_TO edges of a study,
// strongest first.
func GetStudySimilarHandler(c echo.Context) error {
	type getSimilarParams struct {
		ImageID string `param:"id" validate:"required"`
		TopK    int    `query:"top_k" validate:"omitempty,min=1,max=50"`
	}

	type getSimilarResponse struct {
		ImageID string                `json:"image_id"`
		Similar []common.SimilarImage `json:"similar"`
	}

	params := new(getSimilarParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if params.TopK <= 0 {
		params.TopK = 10
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

	similar, err := app.Store.SimilarImages(ctx, params.ImageID, params.TopK)
	if err != nil {
		logger.Error("Failed to list similar studies", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if similar == nil {
		similar = make([]common.SimilarImage, 0)
	}

	return c.JSON(http.StatusOK, getSimilarResponse{
		ImageID: params.ImageID,
		Similar: similar,
	})
}
