package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domsvc "Heimdall/internal/domain/service"
	xhttp "Heimdall/pkg/http"
	applogger "Heimdall/pkg/logger"
)

const (
	EmptyMessageReply = "Manda uma pergunta pra eu conseguir responder 😉"
	stubReplyFormat   = "[IA] Entendi sua pergunta: %s"
)

// ContextProvider supplies engine state to enrich a question.
type ContextProvider interface {
	ChatContext() map[string]interface{}
}

// Forwarder relays questions to an external chat endpoint. Without an endpoint
// it answers locally with a canned acknowledgement.
type Forwarder struct {
	endpoint string
	client   *xhttp.Client
	attempts int
	engine   ContextProvider
	l        *applogger.Logger
}

type Option func(*Forwarder)

// WithAttempts retries transient failures up to n attempts in total.
func WithAttempts(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// WithClient replaces the HTTP client.
func WithClient(c *xhttp.Client) Option {
	return func(f *Forwarder) { f.client = c }
}

func NewForwarder(endpoint string, timeout time.Duration, engine ContextProvider, l *applogger.Logger, opts ...Option) *Forwarder {
	if l == nil {
		l = applogger.Nop()
	}
	f := &Forwarder{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout)),
		attempts: 1,
		engine:   engine,
		l:        l.Component("chat"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type forwardRequest struct {
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context"`
}

type forwardResponse struct {
	Reply string `json:"reply"`
}

func (f *Forwarder) Reply(ctx context.Context, message string, uiContext map[string]interface{}) (string, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return EmptyMessageReply, nil
	}
	if f.endpoint == "" {
		return fmt.Sprintf(stubReplyFormat, msg), nil
	}

	payload := forwardRequest{Message: msg, Context: f.buildContext(uiContext)}
	var out forwardResponse
	if err := f.postWithRetry(ctx, payload, &out); err != nil {
		f.l.Error("chat forward failed", applogger.String("endpoint", f.endpoint), applogger.Error(err))
		return "", fmt.Errorf("chat forward: %w", err)
	}
	return out.Reply, nil
}

func (f *Forwarder) buildContext(ui map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, 2)
	if ui != nil {
		out["ui"] = ui
	}
	if f.engine != nil {
		out["engine"] = f.engine.ChatContext()
	}
	return out
}

func (f *Forwarder) postWithRetry(ctx context.Context, payload interface{}, dest interface{}) error {
	var err error
	for i := 1; i <= f.attempts; i++ {
		err = f.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method:  xhttp.MethodPost,
			URL:     f.endpoint,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    payload,
		}, dest)
		if err == nil || !retryable(err) || i == f.attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * 100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// retryable treats 4xx answers as final.
func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

var _ domsvc.ChatForwarder = (*Forwarder)(nil)
