package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Heimdall/internal/domain/models"
)

func result(id string, tm, amount float64, rec models.Recommendation, score float64, class *int) *models.AnalysisResult {
	return &models.AnalysisResult{
		Transaction:    models.Transaction{ID: id, Time: tm, Amount: amount, Class: class},
		Recommendation: rec,
		AnomalyScore:   score,
	}
}

func label(v int) *int { return &v }

func newAggregator(batch, window, top int) *RealtimeAggregator {
	a := NewRealtimeAggregator(batch, window, top)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func TestAggregatorEmitsPerBatch(t *testing.T) {
	a := newAggregator(3, 60, 10)

	assert.Nil(t, a.Observe(result("a", 0, 10, models.RecommendationSafe, 0.1, nil)))
	assert.Nil(t, a.Observe(result("b", 1, 20, models.RecommendationFraud, 0.9, nil)))
	m := a.Observe(result("c", 2, 30, models.RecommendationReview, 0.5, nil))
	require.NotNil(t, m)

	assert.Equal(t, "realtime_metrics", m.Type)
	assert.Equal(t, float64(1700000000), m.Timestamp)
	assert.Equal(t, int64(3), m.TotalProcessed)
	assert.Equal(t, int64(1), m.TotalFraudPredictions)
	assert.InDelta(t, 20.0, m.AvgAmount, 1e-9)
	assert.InDelta(t, 1.0/3, m.FraudRate, 1e-9)
	assert.Equal(t, []models.MinuteCount{{Minute: 0, Count: 1}}, m.FraudByMinute)
	assert.Nil(t, m.BatchAccuracy)

	assert.Nil(t, a.Observe(result("d", 3, 30, models.RecommendationSafe, 0, nil)))
}

func TestAggregatorMinuteBuckets(t *testing.T) {
	a := newAggregator(100, 2, 10)

	a.Observe(result("a", 0, 1, models.RecommendationFraud, 0.9, nil))
	a.Observe(result("b", 65, 1, models.RecommendationSafe, 0.1, nil))
	a.Observe(result("c", 70, 1, models.RecommendationFraud, 0.8, nil))
	assert.Equal(t, []models.MinuteCount{{Minute: 0, Count: 1}, {Minute: 1, Count: 1}}, a.Current().FraudByMinute)

	a.Observe(result("d", 125, 1, models.RecommendationSafe, 0.1, nil))
	assert.Equal(t, []models.MinuteCount{{Minute: 1, Count: 1}, {Minute: 2, Count: 0}}, a.Current().FraudByMinute,
		"buckets two or more minutes old are evicted")
}

func TestAggregatorTopAlerts(t *testing.T) {
	a := newAggregator(100, 60, 2)

	a.Observe(result("a", 0, 1, models.RecommendationFraud, 0.95, label(1)))
	a.Observe(result("b", 1, 1, models.RecommendationSafe, 0.2, nil))
	a.Observe(result("c", 2, 1, models.RecommendationReview, 0.45, nil))
	a.Observe(result("d", 3, 1, models.RecommendationFraud, 0.8, nil))

	alerts := a.Current().TopAlerts
	require.Len(t, alerts, 2, "only the most recent alerts are kept")
	assert.Equal(t, "d", alerts[0].ID)
	assert.Equal(t, "c", alerts[1].ID)
	assert.Equal(t, 0.8, alerts[0].Confidence)
}

func TestAggregatorBatchAccuracy(t *testing.T) {
	a := newAggregator(4, 60, 10)

	a.Observe(result("a", 0, 1, models.RecommendationFraud, 0.9, label(1)))
	a.Observe(result("b", 1, 1, models.RecommendationSafe, 0.1, label(0)))
	a.Observe(result("c", 2, 1, models.RecommendationReview, 0.5, label(1)))
	m := a.Observe(result("d", 3, 1, models.RecommendationSafe, 0.1, nil))
	require.NotNil(t, m)
	require.NotNil(t, m.BatchAccuracy)
	assert.InDelta(t, 2.0/3, *m.BatchAccuracy, 1e-9)

	cur := a.Current()
	require.NotNil(t, cur.BatchAccuracy)
	assert.InDelta(t, 2.0/3, *cur.BatchAccuracy, 1e-9)
}

func TestAggregatorReset(t *testing.T) {
	a := newAggregator(1, 60, 10)
	require.NotNil(t, a.Observe(result("a", 0, 5, models.RecommendationFraud, 0.9, label(1))))

	a.Reset()
	cur := a.Current()
	assert.Zero(t, cur.TotalProcessed)
	assert.Empty(t, cur.FraudByMinute)
	assert.Empty(t, cur.TopAlerts)
	assert.Nil(t, cur.BatchAccuracy)
	assert.Equal(t, float64(1700000000), cur.Timestamp)
}
