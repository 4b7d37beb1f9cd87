package usecase

import (
	"context"
	"sync"
	"time"

	"Heimdall/internal/domain/models"
	drepo "Heimdall/internal/domain/repository"
	applogger "Heimdall/pkg/logger"
)

// AnalysisSink ships analysis results to Kafka and ClickHouse off the scoring path.
// Results are batched by size or timeout; a full queue drops results.
type AnalysisSink struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	l       *applogger.Logger

	batchSz int
	batchTO time.Duration

	queue    chan *models.AnalysisResult
	stop     chan struct{}
	done     chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewAnalysisSink accepts nil publisher and/or storage.
func NewAnalysisSink(
	pub drepo.Publisher,
	store drepo.Storage,
	metrics drepo.Metrics,
	l *applogger.Logger,
	batchSz int,
	batchTO time.Duration,
	queueSz int,
) *AnalysisSink {
	if batchSz <= 0 {
		batchSz = 100
	}
	if batchTO <= 0 {
		batchTO = time.Second
	}
	if queueSz < batchSz {
		queueSz = batchSz * 4
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &AnalysisSink{
		pub:     pub,
		store:   store,
		metrics: metrics,
		l:       l.Component("analysis_sink"),
		batchSz: batchSz,
		batchTO: batchTO,
		queue:   make(chan *models.AnalysisResult, queueSz),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enabled reports whether any backend is configured.
func (s *AnalysisSink) Enabled() bool {
	return s.pub != nil || s.store != nil
}

// Enqueue never blocks. It reports whether r was accepted.
func (s *AnalysisSink) Enqueue(r *models.AnalysisResult) bool {
	if !s.Enabled() {
		return false
	}
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.queue <- r:
		return true
	default:
		s.metrics.RecordError("sink_queue_full")
		return false
	}
}

// Start runs the batching loop until Close or ctx is done.
func (s *AnalysisSink) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started || !s.Enabled() {
		return
	}
	s.started = true
	go s.run(ctx)
}

// Close flushes queued results and waits for the loop to exit, or for ctx.
func (s *AnalysisSink) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.startMu.Lock()
	started := s.started
	s.startMu.Unlock()
	if started {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.pub != nil {
		if err := s.pub.Close(); err != nil {
			s.l.Warn("close publisher", applogger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.l.Warn("close storage", applogger.Error(err))
		}
	}
	return nil
}

func (s *AnalysisSink) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.batchTO)
	defer ticker.Stop()

	batch := make([]*models.AnalysisResult, 0, s.batchSz)
	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		s.ProcessBatch(fctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case r := <-s.queue:
			batch = append(batch, r)
			if len(batch) >= s.batchSz {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-s.stop:
			s.drain(&batch)
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return
		case <-ctx.Done():
			s.drain(&batch)
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return
		}
	}
}

func (s *AnalysisSink) drain(batch *[]*models.AnalysisResult) {
	for {
		select {
		case r := <-s.queue:
			*batch = append(*batch, r)
		default:
			return
		}
	}
}

// ProcessBatch writes rs to every configured backend. Failures are logged and counted.
func (s *AnalysisSink) ProcessBatch(ctx context.Context, rs []*models.AnalysisResult) {
	if len(rs) == 0 {
		return
	}
	if s.pub != nil {
		start := time.Now()
		if err := s.pub.PublishBatch(ctx, rs); err != nil {
			s.metrics.RecordError("publish")
			s.l.Error("publish analysis batch", applogger.Int("size", len(rs)), applogger.Error(err))
		} else {
			s.metrics.RecordLatency("publish_batch", time.Since(start).Seconds())
		}
	}
	if s.store != nil {
		start := time.Now()
		if err := s.store.StoreBatch(ctx, rs); err != nil {
			s.metrics.RecordError("store")
			s.l.Error("store analysis batch", applogger.Int("size", len(rs)), applogger.Error(err))
		} else {
			s.metrics.RecordLatency("store_batch", time.Since(start).Seconds())
		}
	}
}
