// handlers_upload.go - Job start and result handlers
package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dataprofiler/dashboard/internal/models"
)

// uploadResponse acknowledges a started job
type uploadResponse struct {
	JobID    string                `json:"jobId"`
	FileName string                `json:"fileName"`
	Size     int64                 `json:"size"`
	Status   models.StatusSnapshot `json:"status"`
}

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	engine Engine
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(engine Engine) UploadHandler {
	return &UploadHandlerImpl{engine: engine}
}

// HandleUpload accepts a multipart "file" and starts an analysis job.
// A missing file still goes through the engine so it is reported the same way
// as from any other caller.
func (h *UploadHandlerImpl) HandleUpload(c echo.Context) error {
	var file *models.FileInfo

	fh, err := c.FormFile("file")
	if err == nil {
		src, err := fh.Open()
		if err != nil {
			return NewBadRequestError("failed to open uploaded file", err)
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
		if fh.Filename != "" {
			file = models.NewFileFromBytes(fh.Filename, data)
		}
	}

	job, err := h.engine.Upload(file)
	if err != nil {
		return FromEngineError(err)
	}

	return c.JSON(http.StatusAccepted, uploadResponse{
		JobID:    job.ID,
		FileName: job.File.Name,
		Size:     job.File.Size,
		Status:   h.engine.View(),
	})
}

// HandleGetResult returns the outcome of the most recent job
func (h *UploadHandlerImpl) HandleGetResult(c echo.Context) error {
	result := h.engine.Result()
	if result == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, result)
}
