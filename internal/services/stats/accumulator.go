package stats

import (
	"math"

	"Heimdall/internal/domain/models"
)

// Compute derives all window statistics from scratch.
// An empty window yields zero statistics.
func Compute(window []models.Transaction) models.WindowStatistics {
	var out models.WindowStatistics
	n := len(window)
	out.Count = n
	if n == 0 {
		return out
	}

	amounts := make([]float64, n)
	hours := make([]float64, n)
	for i := range window {
		amounts[i] = window[i].Amount
		hours[i] = window[i].HourOfDay()
	}

	out.Amount.Mean = Mean(amounts)
	out.Amount.Std = PopulationStd(amounts, out.Amount.Mean)
	out.Amount.Min, out.Amount.Max = MinMax(amounts)
	out.Temporal.MeanHour = Mean(hours)

	channel := make([]float64, n)
	for c := 0; c < models.FeatureCount; c++ {
		for i := range window {
			channel[i] = featureAt(window[i].Features, c)
		}
		mean := Mean(channel)
		out.Features.Means[c] = mean
		out.Features.Stds[c] = PopulationStd(channel, mean)
	}
	return out
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// PopulationStd returns the standard deviation dividing by N.
func PopulationStd(xs []float64, mean float64) float64 {
	if len(xs) <= 1 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// MinMax returns the minimum and maximum, zeros for an empty slice.
func MinMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// featureAt tolerates short vectors restored from old snapshots; validated input always has 28.
func featureAt(fs []float64, i int) float64 {
	if i < len(fs) {
		return fs[i]
	}
	return 0
}
