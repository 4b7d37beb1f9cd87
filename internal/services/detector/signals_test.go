package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"Heimdall/internal/domain/models"
)

func TestAmountAnomaly(t *testing.T) {
	tests := []struct {
		name   string
		amount float64
		stats  models.AmountStatistics
		want   float64
	}{
		{"saturates above three sigma", 95, models.AmountStatistics{Mean: 50, Std: 10}, 1.0},
		{"one and a half sigma", 65, models.AmountStatistics{Mean: 50, Std: 10}, 0.5},
		{"below the mean counts too", 35, models.AmountStatistics{Mean: 50, Std: 10}, 0.5},
		{"at the mean", 50, models.AmountStatistics{Mean: 50, Std: 10}, 0},
		{"zero std", 1000, models.AmountStatistics{Mean: 50}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AmountAnomaly(tt.amount, tt.stats), 1e-9)
		})
	}
}

func TestFeatureDistance(t *testing.T) {
	features := make([]float64, models.FeatureCount)
	features[0], features[1] = 3, 4

	var st models.FeatureStatistics
	assert.Zero(t, FeatureDistance(features, 0, st), "empty window")
	assert.InDelta(t, 1.0, FeatureDistance(features, 5, st), 1e-9)

	st.Means[0], st.Means[1] = 3, 1.5
	assert.InDelta(t, 0.5, FeatureDistance(features, 5, st), 1e-9)
}

func TestVelocityAnomalyBoundsAreExclusive(t *testing.T) {
	const now = 10_000.0
	window := []models.Transaction{
		{Time: now - 300}, // excluded: boundary
		{Time: now - 299},
		{Time: now - 1},
		{Time: now},      // excluded: same instant
		{Time: now + 10}, // excluded: future
	}

	assert.InDelta(t, 2.0/5.0, VelocityAnomaly(now, window), 1e-9)
	assert.Zero(t, VelocityAnomaly(now, nil))
}

func TestVelocityAnomalySaturates(t *testing.T) {
	window := make([]models.Transaction, 8)
	for i := range window {
		window[i].Time = 1000 + float64(i)
	}

	assert.Equal(t, 1.0, VelocityAnomaly(1010, window))
}

func TestTimeAnomaly(t *testing.T) {
	// Mean hour 2, candidate at 14h: raw diff of exactly 12 is not folded.
	assert.Equal(t, 1.0, TimeAnomaly(14*3600, models.TemporalStatistics{MeanHour: 2}))
	assert.InDelta(t, 0.5, TimeAnomaly(5*3600, models.TemporalStatistics{MeanHour: 2}), 1e-9)
	assert.Zero(t, TimeAnomaly(2*3600, models.TemporalStatistics{MeanHour: 2}))
}

func TestCircularHourDiffIsSymmetric(t *testing.T) {
	assert.InDelta(t, 2.0, CircularHourDiff(23, 1), 1e-9)
	assert.InDelta(t, 2.0, CircularHourDiff(1, 23), 1e-9)
	assert.InDelta(t, 12.0, CircularHourDiff(2, 14), 1e-9)
	assert.InDelta(t, 11.0, CircularHourDiff(0.5, 13.5), 1e-9)
}

func TestSignalsStayInUnitInterval(t *testing.T) {
	amounts := []float64{0, 1, 50, 1e6, math.MaxFloat64 / 4}
	stats := []models.AmountStatistics{{}, {Mean: 50, Std: 10}, {Mean: 1e6, Std: 1e-9}}
	for _, a := range amounts {
		for _, s := range stats {
			v := AmountAnomaly(a, s)
			assert.True(t, v >= 0 && v <= 1, "amount %v stats %+v -> %v", a, s, v)
		}
	}
	for h := 0.0; h < 48; h += 0.5 {
		v := TimeAnomaly(h*3600, models.TemporalStatistics{MeanHour: 7.25})
		assert.True(t, v >= 0 && v <= 1)
	}
	assert.Zero(t, clamp01(math.NaN()))
}
