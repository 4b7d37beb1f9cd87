package models

// AmountStatistics summarises transaction amounts across the history window.
type AmountStatistics struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// TemporalStatistics summarises the hour-of-day distribution of the window.
type TemporalStatistics struct {
	MeanHour float64
}

// FeatureStatistics holds per-channel mean and population standard deviation.
type FeatureStatistics struct {
	Means [FeatureCount]float64
	Stds  [FeatureCount]float64
}

// WindowStatistics is everything the detectors need about the current window.
type WindowStatistics struct {
	Count    int
	Amount   AmountStatistics
	Temporal TemporalStatistics
	Features FeatureStatistics
}

// HistoryStats is the read-only summary exposed to dashboards.
type HistoryStats struct {
	TransactionsCount int     `json:"transactionsCount"`
	AvgAmount         float64 `json:"avgAmount"`
	StdAmount         float64 `json:"stdAmount"`
	MinAmount         float64 `json:"minAmount"`
	MaxAmount         float64 `json:"maxAmount"`
}

// HistoryPhase describes how warm the history window is.
type HistoryPhase string

const (
	PhaseEmpty   HistoryPhase = "EMPTY"
	PhaseWarming HistoryPhase = "WARMING"
	PhaseActive  HistoryPhase = "ACTIVE"
)
