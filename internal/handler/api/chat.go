package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"Heimdall/internal/domain/models"
	domsvc "Heimdall/internal/domain/service"
	"Heimdall/internal/service/ratelimit"
	xhttp "Heimdall/pkg/http"
	applogger "Heimdall/pkg/logger"
)

// ChatHandler relays dashboard questions to the chat forwarder.
type ChatHandler struct {
	chat domsvc.ChatForwarder
	rl   *ratelimit.Limiter
	l    *applogger.Logger
}

// NewChatHandler builds the handler; a nil limiter disables rate limiting.
func NewChatHandler(chat domsvc.ChatForwarder, rl *ratelimit.Limiter, l *applogger.Logger) *ChatHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &ChatHandler{chat: chat, rl: rl, l: l.Component("api.chat")}
}

func (h *ChatHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
}

func (h *ChatHandler) Chat(c echo.Context) error {
	if h.rl != nil && !h.rl.Allow(c.RealIP()) {
		h.l.Warn("chat rate limited", applogger.String("remote", c.RealIP()))
		return xhttp.TooManyRequestsError("too many chat requests")
	}

	req := &models.ChatRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}

	id := uuid.NewString()
	reply, err := h.chat.Reply(c.Request().Context(), req.Message, req.Context)
	if err != nil {
		h.l.Error("chat reply failed", applogger.String("id", id), applogger.Error(err))
		return xhttp.BadGatewayError("chat service unavailable").WithError(err)
	}
	return c.JSON(http.StatusOK, models.ChatResponse{ID: id, Reply: reply})
}
