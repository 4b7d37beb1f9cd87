package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Heimdall/internal/domain/models"
)

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *countingMetrics) RecordAnalysis(string, float64) {}
func (m *countingMetrics) RecordHistorySize(int)          {}
func (m *countingMetrics) RecordLatency(string, float64)  {}
func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = map[string]int{}
	}
	m.errors[kind]++
}

type flakyProc struct {
	mu       sync.Mutex
	failures int
	calls    int
	done     []string
}

func (p *flakyProc) Process(_ context.Context, t *models.Transaction) (models.AnalysisResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return models.AnalysisResult{}, errors.New("busy")
	}
	p.done = append(p.done, t.ID)
	return models.AnalysisResult{}, nil
}

func (p *flakyProc) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.done...)
}

func validTxn(i int) *models.Transaction {
	return &models.Transaction{
		ID:       fmt.Sprintf("txn_%d", i),
		Time:     float64(i),
		Amount:   1,
		Features: make([]float64, models.FeatureCount),
	}
}

func TestPipelineRejectsMalformed(t *testing.T) {
	proc := &flakyProc{}
	m := &countingMetrics{}
	p := NewRealtimePipeline(proc, m)

	bad := validTxn(1)
	bad.Amount = -1
	err := p.Process(context.Background(), bad)
	require.ErrorIs(t, err, models.ErrMalformedTransaction)
	assert.Zero(t, proc.calls)
	assert.Equal(t, 1, m.errors["pipeline_malformed"])
}

func TestPipelineTransformRunsFirst(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, &countingMetrics{}, WithTransform(func(t *models.Transaction) *models.Transaction {
		if len(t.Features) == 0 {
			t.Features = make([]float64, models.FeatureCount)
		}
		return t
	}))

	in := validTxn(1)
	in.Features = nil
	require.NoError(t, p.Process(context.Background(), in))
	assert.Equal(t, []string{"txn_1"}, proc.processed())
}

func TestPipelinePacesWithoutDropping(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, &countingMetrics{}, WithMaxRPS(10))
	var waits []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Process(context.Background(), validTxn(i)))
	}
	assert.Len(t, proc.processed(), 3)
	require.Len(t, waits, 2, "first transaction goes straight through")
	for _, w := range waits {
		assert.Greater(t, w, time.Duration(0))
		assert.LessOrEqual(t, w, 200*time.Millisecond)
	}
}

func TestPipelineSurfacesDownstreamErrors(t *testing.T) {
	proc := &flakyProc{failures: 1}
	m := &countingMetrics{}
	p := NewRealtimePipeline(proc, m)

	err := p.Process(context.Background(), validTxn(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrMalformedTransaction)
	assert.Equal(t, 1, m.errors["pipeline_process"])

	require.NoError(t, p.Process(context.Background(), validTxn(2)))
	assert.Equal(t, 2, proc.calls, "failed transactions are not replayed")
	assert.Equal(t, []string{"txn_2"}, proc.processed())
}

func TestPipelineStopsPacingOnCancel(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, &countingMetrics{}, WithMaxRPS(1))

	require.NoError(t, p.Process(context.Background(), validTxn(1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Process(ctx, validTxn(2))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"txn_1"}, proc.processed())
}
