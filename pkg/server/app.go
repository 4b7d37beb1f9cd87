package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"Heimdall/internal/service/ratelimit"
	"Heimdall/internal/service/realtime"
	"Heimdall/internal/usecase"
	"Heimdall/pkg/config"
	xhttp "Heimdall/pkg/http"
	pkgkafka "Heimdall/pkg/kafka"
	applogger "Heimdall/pkg/logger"
)

// App owns the lifecycle of every long-running component.
type App struct {
	cfg       *config.Config
	l         *applogger.Logger
	monitor   *usecase.FraudMonitor
	hub       *realtime.Hub
	sink      *usecase.AnalysisSink
	collector *usecase.TransactionCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	limiter   *ratelimit.Limiter
	http      *xhttp.Server
	closers   []io.Closer
}

// Components groups what New needs. Collector, Consumer and Handler are optional.
type Components struct {
	Monitor   *usecase.FraudMonitor
	Hub       *realtime.Hub
	Sink      *usecase.AnalysisSink
	Collector *usecase.TransactionCollector
	Consumer  *pkgkafka.Consumer
	Handler   pkgkafka.MessageHandler
	Limiter   *ratelimit.Limiter
	HTTP      *xhttp.Server
	Closers   []io.Closer
}

func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:       cfg,
		l:         l.Component("app"),
		monitor:   c.Monitor,
		hub:       c.Hub,
		sink:      c.Sink,
		collector: c.Collector,
		consumer:  c.Consumer,
		kh:        c.Handler,
		limiter:   c.Limiter,
		http:      c.HTTP,
		closers:   c.Closers,
	}
}

// Run starts everything and blocks until ctx is cancelled or the HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.monitor.Restore(ctx)
	go a.hub.Run(ctx)
	a.sink.Start(ctx)

	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			a.l.Error("collector start failed", applogger.Error(err))
		} else {
			a.l.Info("collector started", applogger.String("source", a.cfg.Stream.Source))
		}
	}
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}
	if a.limiter != nil {
		go a.sweep(ctx, time.Minute)
	}

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.l.Info("shutdown signal received")
	case err := <-a.http.Errors():
		runErr = err
	}
	return errors.Join(runErr, a.shutdown())
}

func (a *App) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.limiter.Sweep(); n > 0 {
				a.l.Debug("rate limiter swept", applogger.Int("evicted", n))
			}
		}
	}
}

// shutdown stops intake before the final snapshot and the sink flush.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("collector: %w", err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := a.monitor.Persist(ctx); err != nil {
		a.l.Warn("final snapshot not persisted", applogger.Error(err))
	}
	if err := a.sink.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.l.Warn("close failed", applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
