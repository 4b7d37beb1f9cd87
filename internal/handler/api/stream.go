package api

import (
	"github.com/labstack/echo/v4"

	domsvc "Heimdall/internal/domain/service"
	"Heimdall/internal/service/realtime"
	xhttp "Heimdall/pkg/http"
)

// StreamHandler upgrades dashboard connections onto the realtime hub.
type StreamHandler struct {
	hub *realtime.Hub
}

func NewStreamHandler(hub *realtime.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/ws/transactions", h.channel(domsvc.ChannelTransactions))
	e.GET("/api/ws/metrics", h.channel(domsvc.ChannelMetrics))
	e.GET("/api/ws/stats", func(c echo.Context) error {
		return xhttp.SuccessResponse(c, h.hub.Stats())
	})
}

func (h *StreamHandler) channel(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		h.hub.ServeWS(c.Response(), c.Request(), name)
		return nil
	}
}
