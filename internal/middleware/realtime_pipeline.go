package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Heimdall/internal/domain/models"
	domrepo "Heimdall/internal/domain/repository"
)

// Proc is the downstream the pipeline feeds.
type Proc interface {
	Process(ctx context.Context, t *models.Transaction) (models.AnalysisResult, error)
}

// RealtimePipeline sits between a transaction stream and the monitor.
// It rejects malformed transactions and paces the stream to maxRPS without dropping.
type RealtimePipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	maxRPS    int
	mu        sync.Mutex
	next      time.Time
	transform func(*models.Transaction) *models.Transaction
	sleep     func(context.Context, time.Duration) error
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS caps forwarded transactions per second. Zero disables pacing.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithTransform rewrites transactions before validation.
func WithTransform(fn func(*models.Transaction) *models.Transaction) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:    proc,
		metrics: metrics,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, paces and forwards t. Malformed input returns ErrMalformedTransaction
// without reaching the downstream.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Transaction) error {
	if p.transform != nil && t != nil {
		t = p.transform(t)
	}
	if err := t.Validate(); err != nil {
		p.metrics.RecordError("pipeline_malformed")
		return err
	}
	if err := p.pace(ctx); err != nil {
		return err
	}

	start := time.Now()
	if _, err := p.proc.Process(ctx, t); err != nil {
		if errors.Is(err, models.ErrMalformedTransaction) {
			return err
		}
		p.metrics.RecordError("pipeline_process")
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// pace blocks until the next slot allowed by maxRPS.
func (p *RealtimePipeline) pace(ctx context.Context) error {
	if p.maxRPS <= 0 {
		return nil
	}
	interval := time.Second / time.Duration(p.maxRPS)

	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(interval)
	p.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		p.metrics.RecordLatency("pipeline_throttle_wait", wait.Seconds())
		return p.sleep(ctx, wait)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
