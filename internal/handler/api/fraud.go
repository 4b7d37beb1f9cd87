package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"Heimdall/internal/domain/models"
	"Heimdall/internal/usecase"
	xhttp "Heimdall/pkg/http"
	applogger "Heimdall/pkg/logger"
)

// FraudHandler exposes scoring and window management.
type FraudHandler struct {
	monitor *usecase.FraudMonitor
	l       *applogger.Logger
}

func NewFraudHandler(monitor *usecase.FraudMonitor, l *applogger.Logger) *FraudHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &FraudHandler{monitor: monitor, l: l.Component("api.fraud")}
}

func (h *FraudHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.POST("/transactions", h.Process)
	g.GET("/stats", h.Stats)
	g.GET("/history", h.History)
	g.POST("/history/seed", h.Seed)
	g.POST("/history/reset", h.Reset)
	g.GET("/analysis/recent", h.Recent)
	g.GET("/metrics/realtime", h.Realtime)
}

// Analyze scores a transaction without admitting it to the window.
func (h *FraudHandler) Analyze(c echo.Context) error {
	txn := &models.Transaction{}
	if err := c.Bind(txn); err != nil {
		return xhttp.BadRequestError("invalid transaction body").WithError(err)
	}
	res, err := h.monitor.Analyze(txn)
	if err != nil {
		return h.mapError(err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Process scores a transaction and appends it to the window.
func (h *FraudHandler) Process(c echo.Context) error {
	txn := &models.Transaction{}
	if err := c.Bind(txn); err != nil {
		return xhttp.BadRequestError("invalid transaction body").WithError(err)
	}
	res, err := h.monitor.Process(c.Request().Context(), txn)
	if err != nil {
		return h.mapError(err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *FraudHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.monitor.Stats())
}

func (h *FraudHandler) History(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.monitor.History())
}

func (h *FraudHandler) Seed(c echo.Context) error {
	req := &models.SeedHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	view, err := h.monitor.Seed(c.Request().Context(), req.Transactions)
	if err != nil {
		return h.mapError(err)
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *FraudHandler) Reset(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.monitor.Reset())
}

func (h *FraudHandler) Recent(c echo.Context) error {
	req := &models.RecentAnalysisRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	rows := h.monitor.Recent(req.Limit)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *FraudHandler) Realtime(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.monitor.RealtimeMetrics())
}

func (h *FraudHandler) mapError(err error) error {
	if errors.Is(err, models.ErrMalformedTransaction) {
		return xhttp.NewAppError("ERR_MALFORMED_TRANSACTION", "", err.Error(), http.StatusBadRequest).WithError(err)
	}
	h.l.Error("fraud monitor error", applogger.Error(err))
	return xhttp.InternalError("transaction processing failed").WithError(err)
}
