package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Heimdall/internal/domain/models"
	drepo "Heimdall/internal/domain/repository"
	domsvc "Heimdall/internal/domain/service"
	"Heimdall/internal/services/history"
	applogger "Heimdall/pkg/logger"
)

const DefaultRecentResults = 50

// HistoryView is what dashboards see of the window.
type HistoryView struct {
	Phase      models.HistoryPhase `json:"phase"`
	Size       int                 `json:"size"`
	Capacity   int                 `json:"capacity"`
	MinHistory int                 `json:"minHistory"`
	Stats      models.HistoryStats `json:"stats"`
}

// FraudMonitor is the single owner of the history window. Every engine call goes
// through its mutex, so the stream, Kafka and HTTP callers never interleave.
// Snapshot writes happen after the mutex is released; snapSeq orders them so an
// older snapshot never overwrites a newer one.
type FraudMonitor struct {
	mu         sync.Mutex
	history    *history.Store
	analyzer   domsvc.Analyzer
	aggregator *RealtimeAggregator
	recent     []models.AnalysisResult // newest first
	recentCap  int
	minHistory int
	snapSeq    uint64

	persistMu    sync.Mutex
	persistedSeq uint64

	metrics drepo.Metrics
	sink    *AnalysisSink
	hub     domsvc.Broadcaster
	l       *applogger.Logger
}

type MonitorOption func(*FraudMonitor)

// WithBroadcaster pushes results and metrics batches to live subscribers.
func WithBroadcaster(b domsvc.Broadcaster) MonitorOption {
	return func(m *FraudMonitor) { m.hub = b }
}

// WithSink forwards every processed result to Kafka and ClickHouse.
func WithSink(s *AnalysisSink) MonitorOption {
	return func(m *FraudMonitor) { m.sink = s }
}

// WithRecentCapacity sets how many results Recent keeps.
func WithRecentCapacity(n int) MonitorOption {
	return func(m *FraudMonitor) {
		if n > 0 {
			m.recentCap = n
		}
	}
}

func NewFraudMonitor(
	store *history.Store,
	analyzer domsvc.Analyzer,
	aggregator *RealtimeAggregator,
	metrics drepo.Metrics,
	l *applogger.Logger,
	minHistory int,
	opts ...MonitorOption,
) *FraudMonitor {
	if l == nil {
		l = applogger.Nop()
	}
	m := &FraudMonitor{
		history:    store,
		analyzer:   analyzer,
		aggregator: aggregator,
		recentCap:  DefaultRecentResults,
		minHistory: minHistory,
		metrics:    metrics,
		l:          l.Component("fraud_monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads the persisted snapshot into the window.
func (m *FraudMonitor) Restore(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.LoadFromStorage(ctx)
	m.l.Info("history restored",
		applogger.Int("size", m.history.Len()),
		applogger.String("phase", string(m.history.Phase(m.minHistory))),
	)
}

// Process scores txn against the window that precedes it, then admits it to the window.
// Malformed transactions are rejected before either step.
func (m *FraudMonitor) Process(ctx context.Context, txn *models.Transaction) (models.AnalysisResult, error) {
	if err := txn.Validate(); err != nil {
		m.metrics.RecordError("malformed")
		return models.AnalysisResult{}, err
	}
	start := time.Now()

	m.mu.Lock()
	res := m.analyzer.Analyze(txn, m.history.Window(), m.history.Statistics())
	m.history.Append(*txn)
	seq, snap := m.snapshotLocked()
	m.pushRecent(res)
	batch := m.aggregator.Observe(&res)
	m.mu.Unlock()

	if err := m.persist(ctx, seq, snap); err != nil {
		m.l.Warn("history snapshot not saved", applogger.Error(err))
	}

	m.metrics.RecordAnalysis(string(res.Recommendation), res.AnomalyScore)
	m.metrics.RecordLatency("process", time.Since(start).Seconds())
	if res.Recommendation == models.RecommendationFraud {
		m.l.Info("fraud suspected",
			applogger.String("id", txn.ID),
			applogger.Float64("amount", txn.Amount),
			applogger.Float64("score", res.AnomalyScore),
			applogger.String("explanation", res.Explanation),
		)
	}

	if m.sink != nil {
		r := res
		m.sink.Enqueue(&r)
	}
	if m.hub != nil {
		m.hub.Broadcast(domsvc.ChannelTransactions, res)
		if batch != nil {
			m.hub.Broadcast(domsvc.ChannelMetrics, batch)
		}
	}
	return res, nil
}

// Analyze scores txn without touching the window.
func (m *FraudMonitor) Analyze(txn *models.Transaction) (models.AnalysisResult, error) {
	if err := txn.Validate(); err != nil {
		m.metrics.RecordError("malformed")
		return models.AnalysisResult{}, err
	}
	start := time.Now()

	m.mu.Lock()
	res := m.analyzer.Analyze(txn, m.history.Window(), m.history.Statistics())
	m.mu.Unlock()

	m.metrics.RecordLatency("analyze", time.Since(start).Seconds())
	return res, nil
}

// Seed replaces the window with txns and persists the snapshot.
func (m *FraudMonitor) Seed(ctx context.Context, txns []models.Transaction) (HistoryView, error) {
	for i := range txns {
		if err := txns[i].Validate(); err != nil {
			m.metrics.RecordError("malformed")
			return HistoryView{}, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}

	m.mu.Lock()
	m.history.Initialize(txns)
	seq, snap := m.snapshotLocked()
	view := m.viewLocked()
	m.mu.Unlock()

	if err := m.persist(ctx, seq, snap); err != nil {
		m.l.Warn("seeded history not persisted", applogger.Error(err))
	}
	m.l.Info("history seeded", applogger.Int("size", view.Size))
	return view, nil
}

// Reset clears the window, the recent results and the realtime totals.
func (m *FraudMonitor) Reset() HistoryView {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history.Reset()
	m.aggregator.Reset()
	m.recent = m.recent[:0]
	m.l.Info("history reset")
	return m.viewLocked()
}

// Persist writes the current snapshot. Called on shutdown.
func (m *FraudMonitor) Persist(ctx context.Context) error {
	m.mu.Lock()
	seq, snap := m.snapshotLocked()
	m.mu.Unlock()
	return m.persist(ctx, seq, snap)
}

func (m *FraudMonitor) snapshotLocked() (uint64, []models.Transaction) {
	m.snapSeq++
	return m.snapSeq, m.history.Snapshot()
}

// persist saves snap unless a later snapshot has already been written.
func (m *FraudMonitor) persist(ctx context.Context, seq uint64, snap []models.Transaction) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if seq <= m.persistedSeq {
		return nil
	}
	m.persistedSeq = seq
	if err := m.history.SaveSnapshot(ctx, snap); err != nil {
		m.metrics.RecordError("persist")
		return err
	}
	return nil
}

func (m *FraudMonitor) Stats() models.HistoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Stats()
}

func (m *FraudMonitor) History() HistoryView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Recent returns up to limit results, newest first.
func (m *FraudMonitor) Recent(limit int) []models.AnalysisResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]models.AnalysisResult, limit)
	copy(out, m.recent[:limit])
	return out
}

// Latest is the most recent result, if any.
func (m *FraudMonitor) Latest() (models.AnalysisResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recent) == 0 {
		return models.AnalysisResult{}, false
	}
	return m.recent[0], true
}

// RealtimeMetrics is the running aggregate.
func (m *FraudMonitor) RealtimeMetrics() models.RealtimeMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregator.Current()
}

// ChatContext summarizes engine state for the chat assistant.
func (m *FraudMonitor) ChatContext() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]interface{}{
		"history":  m.viewLocked(),
		"realtime": m.aggregator.Current(),
	}
	if len(m.recent) > 0 {
		out["latest_analysis"] = m.recent[0]
	}
	return out
}

func (m *FraudMonitor) viewLocked() HistoryView {
	return HistoryView{
		Phase:      m.history.Phase(m.minHistory),
		Size:       m.history.Len(),
		Capacity:   m.history.Capacity(),
		MinHistory: m.minHistory,
		Stats:      m.history.Stats(),
	}
}

func (m *FraudMonitor) pushRecent(r models.AnalysisResult) {
	if len(m.recent) < m.recentCap {
		m.recent = append(m.recent, models.AnalysisResult{})
	}
	copy(m.recent[1:], m.recent)
	m.recent[0] = r
}
