package detector

import (
	"math"

	"Heimdall/internal/domain/models"
)

const (
	// AmountSaturationZ is the z-score at which the amount signal saturates.
	AmountSaturationZ = 3.0
	// FeatureSaturationDistance is the Euclidean distance at which the feature signal saturates.
	FeatureSaturationDistance = 5.0
	// VelocityWindowSeconds is the look-back window for the velocity signal.
	VelocityWindowSeconds = 300.0
	// VelocitySaturationCount is the number of recent transactions that saturates the velocity signal.
	VelocitySaturationCount = 5.0
	// TimeSaturationHours is the circular hour distance that saturates the temporal signal.
	TimeSaturationHours = 6.0
)

// AmountAnomaly scores how far the amount sits from the historical mean in standard deviations.
func AmountAnomaly(amount float64, s models.AmountStatistics) float64 {
	if s.Std == 0 {
		return 0
	}
	z := math.Abs(amount-s.Mean) / s.Std
	return clamp01(z / AmountSaturationZ)
}

// FeatureDistance scores the Euclidean distance between the feature vector and the channel means.
func FeatureDistance(features []float64, count int, s models.FeatureStatistics) float64 {
	if count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < models.FeatureCount; i++ {
		var v float64
		if i < len(features) {
			v = features[i]
		}
		d := v - s.Means[i]
		sum += d * d
	}
	return clamp01(math.Sqrt(sum) / FeatureSaturationDistance)
}

// VelocityAnomaly counts prior transactions strictly inside the five minutes before t.
func VelocityAnomaly(t float64, window []models.Transaction) float64 {
	from := t - VelocityWindowSeconds
	count := 0
	for i := range window {
		if window[i].Time > from && window[i].Time < t {
			count++
		}
	}
	return clamp01(float64(count) / VelocitySaturationCount)
}

// TimeAnomaly scores the circular distance between the hour of t and the mean historical hour.
func TimeAnomaly(t float64, s models.TemporalStatistics) float64 {
	return clamp01(CircularHourDiff(models.HourOfDay(t), s.MeanHour) / TimeSaturationHours)
}

// CircularHourDiff is the distance between two hours on a 24h clock.
// A raw difference of exactly 12 is kept as is.
func CircularHourDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 12 {
		d = 24 - d
	}
	return d
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
