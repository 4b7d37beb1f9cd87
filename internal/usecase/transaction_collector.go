package usecase

import (
	"context"
	"errors"
	"time"

	"Heimdall/internal/domain/models"
	drepo "Heimdall/internal/domain/repository"
	mid "Heimdall/internal/middleware"
	applogger "Heimdall/pkg/logger"
)

// TransactionCollector drains a TransactionStream into the pipeline.
type TransactionCollector struct {
	stream         drepo.TransactionStream
	pipe           *mid.RealtimePipeline
	metrics        drepo.Metrics
	l              *applogger.Logger
	reconnectDelay time.Duration
	done           chan struct{}
}

func NewTransactionCollector(
	stream drepo.TransactionStream,
	pipe *mid.RealtimePipeline,
	metrics drepo.Metrics,
	l *applogger.Logger,
	reconnectDelay time.Duration,
) *TransactionCollector {
	if l == nil {
		l = applogger.Nop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &TransactionCollector{
		stream:         stream,
		pipe:           pipe,
		metrics:        metrics,
		l:              l.Component("collector"),
		reconnectDelay: reconnectDelay,
		done:           make(chan struct{}),
	}
}

func (c *TransactionCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects the stream and consumes it in the background until ctx is done
// or a finite stream is exhausted.
func (c *TransactionCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	go c.run(ctx)
	return nil
}

// Done is closed when the consume loop exits.
func (c *TransactionCollector) Done() <-chan struct{} { return c.done }

func (c *TransactionCollector) run(ctx context.Context) {
	defer close(c.done)
	for {
		txCh, errCh := c.stream.Read(ctx)
		err := c.consume(ctx, txCh, errCh)
		if err == nil {
			return
		}
		c.metrics.RecordError("stream")
		c.l.Warn("stream error", applogger.Error(err))
		if !c.reconnect(ctx) {
			return
		}
	}
}

// consume returns the stream error that ended a read session, or nil when ctx is done
// or the stream finished cleanly.
func (c *TransactionCollector) consume(ctx context.Context, txCh <-chan *models.Transaction, errCh <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}
		case t, ok := <-txCh:
			if !ok {
				if errCh != nil {
					if err, ok := <-errCh; ok && err != nil {
						return err
					}
				}
				c.l.Info("stream finished")
				return nil
			}
			if t == nil {
				continue
			}
			c.handle(ctx, t)
		}
	}
}

func (c *TransactionCollector) handle(ctx context.Context, t *models.Transaction) {
	err := c.pipe.Process(ctx, t)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrMalformedTransaction):
		c.l.Warn("transaction rejected", applogger.String("id", t.ID), applogger.Error(err))
	default:
		c.l.Error("transaction processing failed", applogger.String("id", t.ID), applogger.Error(err))
	}
}

func (c *TransactionCollector) reconnect(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.l.Info("stream reconnected", applogger.Int("attempt", attempt))
			return true
		}
		c.l.Warn("reconnect failed", applogger.Int("attempt", attempt), applogger.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.reconnectDelay):
		}
	}
}

// Shutdown closes the stream.
func (c *TransactionCollector) Shutdown(context.Context) error {
	return c.stream.Close()
}
