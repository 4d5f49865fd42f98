package routes

import (
	"errors"
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/evidence"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// GetStudyPathsHandler exposes raw path retrieval: the per-pattern
// candidates before slot allocation trims them into a bundle. Unlike the
// context endpoint it does not degrade, a failed retrieval is an error.
func GetStudyPathsHandler(c echo.Context) error {
	type getPathsParams struct {
		ImageID string `param:"id" validate:"required"`
		K       int    `query:"k" validate:"omitempty,min=1,max=10"`
	}

	type getPathsResponse struct {
		ImageID   string                           `json:"image_id"`
		K         int                              `json:"k"`
		Paths     map[string][]common.EvidencePath `json:"paths"`
		Available map[string]int                   `json:"available"`
	}

	params := new(getPathsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if params.K <= 0 {
		params.K = 2
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

	retriever := evidence.NewRetriever(evidence.NewRetrieverParams{Storage: app.Store})
	collection, err := retriever.Collect(ctx, params.ImageID, params.K)
	if err != nil {
		logger.Error("Graph retrieval failed", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Graph retrieval failed"})
	}

	return c.JSON(http.StatusOK, getPathsResponse{
		ImageID:   params.ImageID,
		K:         params.K,
		Paths:     collection.Candidates,
		Available: collection.Available,
	})
}
