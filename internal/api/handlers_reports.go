// handlers_reports.go - Report history handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/dataprofiler/dashboard/internal/storage"
)

// ReportHandlerImpl implements the ReportHandler interface
type ReportHandlerImpl struct {
	store        storage.Store
	defaultLimit int
}

// NewReportHandler creates a new report handler
func NewReportHandler(store storage.Store, defaultLimit int) ReportHandler {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &ReportHandlerImpl{store: store, defaultLimit: defaultLimit}
}

func (h *ReportHandlerImpl) available() error {
	if h.store == nil {
		return NewServiceUnavailableError("report history is disabled")
	}
	return nil
}

// HandleListReports returns report summaries, newest first
func (h *ReportHandlerImpl) HandleListReports(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	limit := h.defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return NewValidationError("limit")
		}
		limit = n
	}

	list, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list reports", err)
	}
	return c.JSON(http.StatusOK, list)
}

// HandleGetReport returns one record with its report body
func (h *ReportHandlerImpl) HandleGetReport(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	rec, err := h.store.Get(id)
	if err != nil {
		return reportError(id, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// HandleGetReportMsgpack returns one record in MessagePack format
func (h *ReportHandlerImpl) HandleGetReportMsgpack(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	rec, err := h.store.Get(id)
	if err != nil {
		return reportError(id, err)
	}
	data, err := storage.EncodeRecord(rec)
	if err != nil {
		return NewInternalError("failed to encode report", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleDeleteReport removes one record
func (h *ReportHandlerImpl) HandleDeleteReport(c echo.Context) error {
	if err := h.available(); err != nil {
		return err
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if err := h.store.Delete(id); err != nil {
		return reportError(id, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func reportError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("report", id)
	}
	return FromEngineError(err)
}
