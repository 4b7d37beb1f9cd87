package kafka

import (
	"context"
	"errors"
)

// ConsumerHook observes message handling. BeforeHandle may rewrite the payload;
// returning an error skips the handler and treats the message as failed.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, data []byte) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, topic string, data []byte, err error)
}

// NoopHook does nothing.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, data []byte) (context.Context, []byte, error) {
	return ctx, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, []byte, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, []byte) (context.Context, []byte, error)
	After  func(context.Context, string, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, data []byte) (context.Context, []byte, error) {
	if h.Before == nil {
		return ctx, data, nil
	}
	return h.Before(ctx, topic, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, data, err)
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The message goes straight to the DLQ, if any.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
