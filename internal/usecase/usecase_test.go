package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Heimdall/internal/domain/models"
	domsvc "Heimdall/internal/domain/service"
	"Heimdall/internal/services/detector"
	"Heimdall/internal/services/history"
)

type recMetrics struct {
	mu       sync.Mutex
	errors   map[string]int
	analyses map[string]int
}

func newRecMetrics() *recMetrics {
	return &recMetrics{errors: map[string]int{}, analyses: map[string]int{}}
}

func (m *recMetrics) RecordAnalysis(rec string, _ float64) {
	m.mu.Lock()
	m.analyses[rec]++
	m.mu.Unlock()
}

func (m *recMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *recMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

func (m *recMetrics) RecordHistorySize(int)         {}
func (m *recMetrics) RecordLatency(string, float64) {}

type memSnapshots struct {
	mu   sync.Mutex
	data []byte
}

func (s *memSnapshots) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, nil
}

func (s *memSnapshots) Save(_ context.Context, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), b...)
	return nil
}

type broadcast struct {
	channel string
	payload interface{}
}

type fakeHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *fakeHub) Broadcast(channel string, payload interface{}) {
	h.mu.Lock()
	h.sent = append(h.sent, broadcast{channel, payload})
	h.mu.Unlock()
}

func (h *fakeHub) count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, b := range h.sent {
		if b.channel == channel {
			n++
		}
	}
	return n
}

func newTxn(i int, amount float64) models.Transaction {
	return models.Transaction{
		ID:       fmt.Sprintf("txn_%d", i),
		Idx:      int64(i),
		Time:     float64(i) * 600,
		Amount:   amount,
		Features: make([]float64, models.FeatureCount),
	}
}

func newTestMonitor(t *testing.T, snaps *memSnapshots, opts ...MonitorOption) (*FraudMonitor, *recMetrics) {
	t.Helper()
	metrics := newRecMetrics()
	var store *history.Store
	if snaps != nil {
		store = history.NewStore(snaps, nil, history.WithMetrics(metrics))
	} else {
		store = history.NewStore(nil, nil, history.WithMetrics(metrics))
	}
	agg := NewRealtimeAggregator(2, 0, 0)
	return NewFraudMonitor(store, detector.NewAnalyzer(), agg, metrics, nil, detector.DefaultMinHistory, opts...), metrics
}

func TestMonitorColdStart(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	ctx := context.Background()

	for i := 0; i < detector.DefaultMinHistory; i++ {
		txn := newTxn(i, 50)
		res, err := m.Process(ctx, &txn)
		require.NoError(t, err)
		assert.Equal(t, models.RecommendationSafe, res.Recommendation)
		assert.Equal(t, detector.ExplanationInsufficientHistory, res.Explanation)
		assert.Zero(t, res.AnomalyScore)
	}
	assert.Equal(t, models.PhaseActive, m.History().Phase)

	txn := newTxn(99, 50)
	res, err := m.Process(ctx, &txn)
	require.NoError(t, err)
	assert.NotEqual(t, detector.ExplanationInsufficientHistory, res.Explanation)
	assert.Equal(t, 11, m.History().Size)
}

func TestMonitorRejectsMalformed(t *testing.T) {
	m, metrics := newTestMonitor(t, nil)
	bad := newTxn(1, 10)
	bad.Features = bad.Features[:5]

	_, err := m.Process(context.Background(), &bad)
	require.ErrorIs(t, err, models.ErrMalformedTransaction)
	_, err = m.Analyze(&bad)
	require.ErrorIs(t, err, models.ErrMalformedTransaction)

	assert.Equal(t, 0, m.History().Size)
	assert.Empty(t, m.Recent(0))
	assert.Equal(t, 2, metrics.errorCount("malformed"))
}

func TestMonitorAmountScenario(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	seed := make([]models.Transaction, 40)
	for i := range seed {
		amount := 40.0
		if i%2 == 1 {
			amount = 60
		}
		seed[i] = newTxn(i, amount)
	}
	view, err := m.Seed(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 40, view.Size)
	assert.InDelta(t, 50.0, view.Stats.AvgAmount, 1e-9)
	assert.InDelta(t, 10.0, view.Stats.StdAmount, 1e-9)

	probe := newTxn(100, 95)
	res, err := m.Analyze(&probe)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Signals.AmountAnomaly)
	assert.Contains(t, res.Explanation, "amount 1.9x the historical average (50.00)")
	assert.Equal(t, 40, m.History().Size, "analyze is a dry run")
}

func TestMonitorSeedRejectsInvalidEntries(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	seed := []models.Transaction{newTxn(0, 1), newTxn(1, -5)}

	_, err := m.Seed(context.Background(), seed)
	require.ErrorIs(t, err, models.ErrMalformedTransaction)
	assert.Contains(t, err.Error(), "seed entry 1")
	assert.Equal(t, 0, m.History().Size)
}

func TestMonitorBroadcasts(t *testing.T) {
	hub := &fakeHub{}
	m, _ := newTestMonitor(t, nil, WithBroadcaster(hub))

	for i := 0; i < 5; i++ {
		txn := newTxn(i, 10)
		_, err := m.Process(context.Background(), &txn)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, hub.count(domsvc.ChannelTransactions))
	assert.Equal(t, 2, hub.count(domsvc.ChannelMetrics), "one metrics payload per batch of two")
}

func TestMonitorRecentIsBounded(t *testing.T) {
	m, _ := newTestMonitor(t, nil, WithRecentCapacity(3))
	for i := 0; i < 5; i++ {
		txn := newTxn(i, 10)
		_, err := m.Process(context.Background(), &txn)
		require.NoError(t, err)
	}

	recent := m.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "txn_4", recent[0].Transaction.ID)
	assert.Equal(t, "txn_2", recent[2].Transaction.ID)

	latest, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, "txn_4", latest.Transaction.ID)
	assert.Len(t, m.Recent(1), 1)
}

func TestMonitorRestoreAndReset(t *testing.T) {
	snaps := &memSnapshots{}
	first, _ := newTestMonitor(t, snaps)
	for i := 0; i < 12; i++ {
		txn := newTxn(i, 10)
		_, err := first.Process(context.Background(), &txn)
		require.NoError(t, err)
	}

	second, _ := newTestMonitor(t, snaps)
	second.Restore(context.Background())
	assert.Equal(t, 12, second.History().Size)
	assert.Equal(t, first.Stats(), second.Stats())

	view := second.Reset()
	assert.Equal(t, 0, view.Size)
	assert.Equal(t, int64(0), second.RealtimeMetrics().TotalProcessed)
	_, ok := second.Latest()
	assert.False(t, ok)
}

func TestMonitorChatContext(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	ctx := m.ChatContext()
	assert.Contains(t, ctx, "history")
	assert.Contains(t, ctx, "realtime")
	assert.NotContains(t, ctx, "latest_analysis")

	txn := newTxn(1, 10)
	_, err := m.Process(context.Background(), &txn)
	require.NoError(t, err)
	assert.Contains(t, m.ChatContext(), "latest_analysis")
}

func TestMonitorSerializesConcurrentCallers(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				txn := newTxn(g*1000+i, 10)
				_, _ = m.Process(context.Background(), &txn)
				_ = m.Stats()
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 400, m.History().Size)
	assert.Equal(t, int64(400), m.RealtimeMetrics().TotalProcessed)
}

// sink

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]*models.AnalysisResult
	err     error
	closed  bool
}

func (p *fakePublisher) Publish(ctx context.Context, r *models.AnalysisResult) error {
	return p.PublishBatch(ctx, []*models.AnalysisResult{r})
}

func (p *fakePublisher) PublishBatch(_ context.Context, rs []*models.AnalysisResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]*models.AnalysisResult(nil), rs...))
	return p.err
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

type fakeStorage struct {
	fakePublisher
}

func (s *fakeStorage) Store(ctx context.Context, r *models.AnalysisResult) error {
	return s.PublishBatch(ctx, []*models.AnalysisResult{r})
}

func (s *fakeStorage) StoreBatch(ctx context.Context, rs []*models.AnalysisResult) error {
	return s.PublishBatch(ctx, rs)
}

func (s *fakeStorage) Health(context.Context) error { return nil }

func TestSinkBatchesBySize(t *testing.T) {
	pub := &fakePublisher{}
	store := &fakeStorage{}
	sink := NewAnalysisSink(pub, store, newRecMetrics(), nil, 3, time.Hour, 0)
	sink.Start(context.Background())

	for i := 0; i < 7; i++ {
		require.True(t, sink.Enqueue(&models.AnalysisResult{Transaction: newTxn(i, 1)}))
	}
	require.Eventually(t, func() bool { return pub.total() == 6 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, 7, pub.total(), "close flushes the partial batch")
	assert.Equal(t, 7, store.total())
	assert.True(t, pub.closed)
	assert.False(t, sink.Enqueue(&models.AnalysisResult{}), "closed sink refuses results")
}

func TestSinkCountsBackendErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	metrics := newRecMetrics()
	sink := NewAnalysisSink(pub, nil, metrics, nil, 10, time.Hour, 0)

	sink.ProcessBatch(context.Background(), []*models.AnalysisResult{{}})
	assert.Equal(t, 1, metrics.errorCount("publish"))
}

func TestSinkDisabledWithoutBackends(t *testing.T) {
	sink := NewAnalysisSink(nil, nil, newRecMetrics(), nil, 10, time.Second, 0)
	assert.False(t, sink.Enabled())
	assert.False(t, sink.Enqueue(&models.AnalysisResult{}))
	sink.Start(context.Background())
	require.NoError(t, sink.Close(context.Background()))
}

func TestMonitorFeedsSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAnalysisSink(pub, nil, newRecMetrics(), nil, 100, time.Hour, 0)
	sink.Start(context.Background())
	m, _ := newTestMonitor(t, nil, WithSink(sink))

	for i := 0; i < 4; i++ {
		txn := newTxn(i, 10)
		_, err := m.Process(context.Background(), &txn)
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, 4, pub.total())
}

func TestMonitorPersistWritesSnapshot(t *testing.T) {
	snaps := &memSnapshots{}
	m, _ := newTestMonitor(t, snaps)
	_, err := m.Seed(context.Background(), []models.Transaction{newTxn(1, 10), newTxn(2, 20)})
	require.NoError(t, err)

	snaps.data = nil
	require.NoError(t, m.Persist(context.Background()))
	assert.NotEmpty(t, snaps.data)
}

type blockingSnapshots struct {
	memSnapshots
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSnapshots) Save(ctx context.Context, b []byte) error {
	s.entered <- struct{}{}
	<-s.release
	return s.memSnapshots.Save(ctx, b)
}

func TestMonitorReadsDoNotWaitForSnapshotWrites(t *testing.T) {
	snaps := &blockingSnapshots{entered: make(chan struct{}, 1), release: make(chan struct{})}
	metrics := newRecMetrics()
	store := history.NewStore(snaps, nil, history.WithMetrics(metrics), history.WithPersistTimeout(time.Minute))
	m := NewFraudMonitor(store, detector.NewAnalyzer(), NewRealtimeAggregator(2, 0, 0), metrics, nil, detector.DefaultMinHistory)

	done := make(chan struct{})
	go func() {
		defer close(done)
		txn := newTxn(1, 10)
		_, err := m.Process(context.Background(), &txn)
		assert.NoError(t, err)
	}()
	<-snaps.entered

	reads := make(chan models.HistoryStats, 1)
	go func() { reads <- m.Stats() }()
	select {
	case st := <-reads:
		assert.Equal(t, 1, st.TransactionsCount)
	case <-time.After(time.Second):
		t.Fatal("Stats blocked behind the snapshot write")
	}
	assert.Len(t, m.Recent(0), 1)

	close(snaps.release)
	<-done
	assert.NotEmpty(t, snaps.data)
}

func TestMonitorSkipsStaleSnapshots(t *testing.T) {
	snaps := &memSnapshots{}
	m, metrics := newTestMonitor(t, snaps)

	newer := []models.Transaction{newTxn(1, 10), newTxn(2, 20)}
	older := []models.Transaction{newTxn(1, 10)}
	require.NoError(t, m.persist(context.Background(), 2, newer))
	require.NoError(t, m.persist(context.Background(), 1, older))

	var got []models.Transaction
	require.NoError(t, json.Unmarshal(snaps.data, &got))
	assert.Len(t, got, 2)
	assert.Zero(t, metrics.errorCount("persist"))
}
