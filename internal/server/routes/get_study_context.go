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

// GetStudyContextHandler assembles the evidence bundle for a study and
// returns it together with its serialized prompt form. A study whose graph
// neighborhood is unreachable still answers, with the fallback bundle.
func GetStudyContextHandler(c echo.Context) error {
	type getContextParams struct {
		ImageID  string `param:"id" validate:"required"`
		K        int    `query:"k" validate:"omitempty,min=1,max=10"`
		MaxChars int    `query:"max_chars" validate:"omitempty,min=100,max=8000"`
	}

	type getContextResponse struct {
		ImageID     string                `json:"image_id"`
		Context     common.EvidenceBundle `json:"context"`
		ContextText string                `json:"context_text"`
	}

	params := new(getContextParams)
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

	assembler := evidence.NewAssembler(evidence.NewAssemblerParams{Storage: app.Store})
	bundle, err := assembler.Assemble(ctx, params.ImageID, nil, evidence.Limits{
		K:        params.K,
		MaxChars: params.MaxChars,
	})
	if err != nil {
		logger.Error("Failed to assemble context", "image_id", params.ImageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, getContextResponse{
		ImageID:     params.ImageID,
		Context:     bundle,
		ContextText: evidence.RenderText(bundle, params.MaxChars),
	})
}
