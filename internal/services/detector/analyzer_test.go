package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Heimdall/internal/domain/models"
	"Heimdall/internal/services/stats"
)

func newTxn(t, amount float64) models.Transaction {
	return models.Transaction{Time: t, Amount: amount, Features: make([]float64, models.FeatureCount)}
}

// history builds n transactions an hour apart alternating 40 and 60.
func history(n int) []models.Transaction {
	out := make([]models.Transaction, n)
	for i := range out {
		amount := 40.0
		if i%2 == 1 {
			amount = 60
		}
		out[i] = newTxn(float64(i)*3600, amount)
	}
	return out
}

func TestAnalyzeColdStart(t *testing.T) {
	a := NewAnalyzer()

	for _, n := range []int{0, 1, 9} {
		window := history(n)
		txn := newTxn(1e6, 100)
		res := a.Analyze(&txn, window, stats.Compute(window))

		assert.Equal(t, models.RecommendationSafe, res.Recommendation)
		assert.Zero(t, res.AnomalyScore)
		assert.Equal(t, models.Signals{}, res.Signals)
		assert.Equal(t, ExplanationInsufficientHistory, res.Explanation)
	}
}

func TestAnalyzeActiveAtMinHistory(t *testing.T) {
	window := history(10)
	txn := newTxn(window[9].Time+3600, 1000)

	res := NewAnalyzer().Analyze(&txn, window, stats.Compute(window))

	assert.NotEqual(t, ExplanationInsufficientHistory, res.Explanation)
	assert.Equal(t, 1.0, res.Signals.AmountAnomaly)
}

func TestAnalyzeCustomMinHistory(t *testing.T) {
	window := history(10)
	txn := newTxn(window[9].Time+3600, 1000)

	res := NewAnalyzer(WithMinHistory(20)).Analyze(&txn, window, stats.Compute(window))

	assert.Equal(t, ExplanationInsufficientHistory, res.Explanation)
}

func TestAnalyzeLargeAmount(t *testing.T) {
	window := history(20)
	st := stats.Compute(window)
	require.InDelta(t, 50, st.Amount.Mean, 1e-9)
	require.InDelta(t, 10, st.Amount.Std, 1e-9)

	txn := newTxn(window[19].Time+3600, 95)
	res := NewAnalyzer().Analyze(&txn, window, st)

	assert.Equal(t, 1.0, res.Signals.AmountAnomaly)
	assert.Contains(t, res.Explanation, "amount 1.9x the historical average (50.00)")
	assert.GreaterOrEqual(t, res.AnomalyScore, WeightAmount)
	assert.Equal(t, txn.Amount, res.Transaction.Amount)
}

func TestAnalyzeNormalTransaction(t *testing.T) {
	window := history(20)
	st := stats.Compute(window)
	// Same hour as the window mean, an average amount, no recent activity.
	at := window[19].Time + 24*3600
	at -= float64(int64(at) % 86400)
	at += st.Temporal.MeanHour * 3600
	txn := newTxn(at, 50)

	res := NewAnalyzer().Analyze(&txn, window, st)

	assert.Equal(t, models.RecommendationSafe, res.Recommendation)
	assert.Equal(t, ExplanationNormal, res.Explanation)
	assert.InDelta(t, 0, res.AnomalyScore, 1e-9)
}

func TestAnalyzeScoreInUnitInterval(t *testing.T) {
	window := history(50)
	st := stats.Compute(window)
	a := NewAnalyzer()
	for _, amount := range []float64{0, 10, 50, 500, 1e9} {
		for _, at := range []float64{0, window[49].Time, window[49].Time + 1, 1e7} {
			txn := newTxn(at, amount)
			txn.Features[3] = amount / 10
			res := a.Analyze(&txn, window, st)
			assert.GreaterOrEqual(t, res.AnomalyScore, 0.0)
			assert.LessOrEqual(t, res.AnomalyScore, 1.0)
		}
	}
}

func TestCompositeScoreWeights(t *testing.T) {
	assert.InDelta(t, 1.0, WeightAmount+WeightFeature+WeightVelocity+WeightTime, 1e-12)
	assert.InDelta(t, 1.0, CompositeScore(models.Signals{AmountAnomaly: 1, FeatureDistance: 1, VelocityAnomaly: 1, TimeAnomaly: 1}), 1e-12)
	assert.InDelta(t, 0.4, CompositeScore(models.Signals{AmountAnomaly: 1}), 1e-12)
	assert.InDelta(t, 0.35, CompositeScore(models.Signals{FeatureDistance: 1}), 1e-12)
	assert.InDelta(t, 0.15, CompositeScore(models.Signals{VelocityAnomaly: 1}), 1e-12)
	assert.InDelta(t, 0.1, CompositeScore(models.Signals{TimeAnomaly: 1}), 1e-12)
}

func TestCompositeScoreIsMonotonic(t *testing.T) {
	base := models.Signals{AmountAnomaly: 0.2, FeatureDistance: 0.3, VelocityAnomaly: 0.4, TimeAnomaly: 0.5}
	bump := []func(*models.Signals){
		func(s *models.Signals) { s.AmountAnomaly += 0.1 },
		func(s *models.Signals) { s.FeatureDistance += 0.1 },
		func(s *models.Signals) { s.VelocityAnomaly += 0.1 },
		func(s *models.Signals) { s.TimeAnomaly += 0.1 },
	}
	for _, b := range bump {
		next := base
		b(&next)
		assert.Greater(t, CompositeScore(next), CompositeScore(base))
	}
}

func TestClassifyThresholdsAreExclusive(t *testing.T) {
	assert.Equal(t, models.RecommendationSafe, Classify(0))
	assert.Equal(t, models.RecommendationSafe, Classify(0.4))
	assert.Equal(t, models.RecommendationReview, Classify(0.41))
	assert.Equal(t, models.RecommendationReview, Classify(0.7))
	assert.Equal(t, models.RecommendationFraud, Classify(0.71))
	assert.Equal(t, models.RecommendationFraud, Classify(1))
}

func TestExplainOrderAndSeparator(t *testing.T) {
	sig := models.Signals{AmountAnomaly: 0.9, FeatureDistance: 0.6, VelocityAnomaly: 0.8, TimeAnomaly: 0.51}

	got := Explain(sig, 225, 50)

	parts := strings.Split(got, " • ")
	require.Len(t, parts, 4)
	assert.Equal(t, "amount 4.5x the historical average (50.00)", parts[0])
	assert.Equal(t, "feature profile far from history", parts[1])
	assert.Equal(t, "multiple transactions in short period", parts[2])
	assert.Equal(t, "unusual transaction hour", parts[3])
}

func TestExplainClauseNeedsMoreThanHalf(t *testing.T) {
	got := Explain(models.Signals{AmountAnomaly: 0.5, TimeAnomaly: 0.6}, 80, 50)

	assert.Equal(t, "unusual transaction hour", got)
	assert.Equal(t, ExplanationNormal, Explain(models.Signals{}, 10, 50))
}
