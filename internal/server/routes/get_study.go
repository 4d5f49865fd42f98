package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/internal/storage"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// GetStudyHandler returns one study plus a presigned download link for its
// image when an object store is configured.
func GetStudyHandler(c echo.Context) error {
	type getStudyParams struct {
		ImageID string `param:"id" validate:"required"`
	}

	type getStudyResponse struct {
		Study       common.Study `json:"study"`
		DownloadURL string       `json:"download_url,omitempty"`
	}

	params := new(getStudyParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	study, err := app.Store.GetStudy(ctx, params.ImageID)
	if err != nil {
		if errors.Is(err, store.ErrStudyNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Study not found"})
		}
		logger.Error("Failed to get study", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	var downloadURL string
	if app.S3 != nil && study.ObjectKey != "" {
		downloadURL, err = storage.GenerateDownloadLink(ctx, app.S3, study.ObjectKey)
		if err != nil {
			logger.Warn("Failed to presign download link", "image_id", params.ImageID, "err", err)
		}
	}

	return c.JSON(http.StatusOK, getStudyResponse{
		Study:       study,
		DownloadURL: downloadURL,
	})
}
