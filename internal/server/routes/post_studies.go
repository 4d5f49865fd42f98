package routes

import (
	"net/http"
	"path/filepath"
	"strings"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/internal/storage"
	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
)

// CreateStudyHandler registers a new study from multipart/form-data. The
// image either rides along as a `file` part or is uploaded later through
// the returned presigned upload link.
func CreateStudyHandler(c echo.Context) error {
	type createStudyBody struct {
		PatientRef string `form:"patient_ref" validate:"omitempty,max=128"`
		Modality   string `form:"modality" validate:"omitempty,max=16"`
		BodyPart   string `form:"body_part" validate:"omitempty,max=64"`
		Filename   string `form:"filename" validate:"omitempty,max=256"`
	}

	type createStudyResponse struct {
		Message     string        `json:"message"`
		Study       *common.Study `json:"study,omitempty"`
		DownloadURL string        `json:"download_url,omitempty"`
		UploadURL   string        `json:"upload_url,omitempty"`
	}

	data := new(createStudyBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	imageID := util.StudyID()
	study := common.Study{
		ID:         imageID,
		PatientRef: data.PatientRef,
		Modality:   strings.ToUpper(strings.TrimSpace(data.Modality)),
		BodyPart:   strings.ToLower(strings.TrimSpace(data.BodyPart)),
	}

	upload, err := c.FormFile("file")
	uploaded := err == nil && upload != nil

	var downloadURL, uploadURL string
	switch {
	case uploaded && app.S3 != nil:
		src, err := upload.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"message": "Could not open file"})
		}
		defer src.Close()

		key, err := storage.PutFile(ctx, app.S3, storage.StudiesPrefix, upload.Filename, imageID, src)
		if err != nil {
			logger.Error("Failed to upload study image", "image_id", imageID, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		study.ObjectKey = key

		downloadURL, err = storage.GenerateDownloadLink(ctx, app.S3, key)
		if err != nil {
			logger.Warn("Failed to presign download link", "image_id", imageID, "err", err)
		}
	case app.S3 != nil:
		ext := strings.ToLower(filepath.Ext(data.Filename))
		if ext == "" {
			ext = ".png"
		}
		study.ObjectKey = storage.StudyFolder(imageID) + ext

		uploadURL, err = storage.GenerateUploadLink(ctx, app.S3, study.ObjectKey)
		if err != nil {
			logger.Warn("Failed to presign upload link", "image_id", imageID, "err", err)
		}
	default:
		// Mock mode keeps the key convention without an object store.
		study.ObjectKey = storage.StudyFolder(imageID) + ".png"
	}

	if err := app.Store.SaveStudy(ctx, study); err != nil {
		logger.Error("Failed to save study", "image_id", imageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	saved, err := app.Store.GetStudy(ctx, imageID)
	if err != nil {
		logger.Error("Failed to read back study", "image_id", imageID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}

	return c.JSON(http.StatusOK, createStudyResponse{
		Message:     "Study registered",
		Study:       &saved,
		DownloadURL: downloadURL,
		UploadURL:   uploadURL,
	})
}
