package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"Heimdall/internal/domain/models"
	"Heimdall/internal/services/csvdata"
	xhttp "Heimdall/pkg/http"
	applogger "Heimdall/pkg/logger"
)

// DataHandler serves the CSV browser endpoints.
type DataHandler struct {
	svc *csvdata.Service
	l   *applogger.Logger
}

func NewDataHandler(svc *csvdata.Service, l *applogger.Logger) *DataHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &DataHandler{svc: svc, l: l.Component("api.data")}
}

func (h *DataHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/data")
	g.GET("/csv-files", h.ListFiles)
	g.GET("/csv", h.ReadCSV)
}

func (h *DataHandler) ListFiles(c echo.Context) error {
	req := &models.CSVFilesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	out, err := h.svc.ListFiles(req.Subdir)
	if err != nil {
		return h.mapError(err)
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *DataHandler) ReadCSV(c echo.Context) error {
	req := &models.CSVPageRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	page, err := h.svc.ReadPage(req.RelPath, req.Offset, req.Limit)
	if err != nil {
		return h.mapError(err)
	}
	return xhttp.SuccessResponse(c, page)
}

func (h *DataHandler) mapError(err error) error {
	switch {
	case errors.Is(err, csvdata.ErrInvalidPath):
		return xhttp.BadRequestError("invalid path")
	case errors.Is(err, csvdata.ErrFolderNotFound):
		return xhttp.BadRequestError("folder not found")
	case errors.Is(err, csvdata.ErrFileNotFound):
		return xhttp.NotFoundError("csv not found")
	}
	h.l.Error("csv read failed", applogger.Error(err))
	return xhttp.InternalError("csv read failed").WithError(err)
}
