package routes

import (
	"net/http"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
)

// GetStudiesHandler lists registered studies, newest first.
func GetStudiesHandler(c echo.Context) error {
	type getStudiesParams struct {
		Limit  int `query:"limit" validate:"omitempty,min=1,max=500"`
		Offset int `query:"offset" validate:"omitempty,min=0"`
	}

	type getStudiesResponse struct {
		Studies []common.Study `json:"studies"`
		Limit   int            `json:"limit"`
		Offset  int            `json:"offset"`
	}

	params := new(getStudiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request params"})
	}
	if params.Limit == 0 {
		params.Limit = 50
	}

	ctx := c.Request().Context()
	storeClient := c.(*middleware.AppContext).App.Store

	studies, err := storeClient.ListStudies(ctx, params.Limit, params.Offset)
	if err != nil {
		logger.Error("Failed to list studies", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if studies == nil {
		studies = make([]common.Study, 0)
	}

	return c.JSON(http.StatusOK, getStudiesResponse{
		Studies: studies,
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
}
