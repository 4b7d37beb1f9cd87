package models

// Recommendation is the risk tier derived from the composite anomaly score.
type Recommendation string

const (
	RecommendationSafe   Recommendation = "SAFE"
	RecommendationReview Recommendation = "REVIEW"
	RecommendationFraud  Recommendation = "FRAUD"
)

// Signals holds the four component anomaly scores, each in [0,1].
type Signals struct {
	AmountAnomaly   float64 `json:"amountAnomaly"`
	FeatureDistance float64 `json:"featureDistance"`
	VelocityAnomaly float64 `json:"velocityAnomaly"`
	TimeAnomaly     float64 `json:"timeAnomaly"`
}

// AnalysisResult is the outcome of scoring one transaction.
type AnalysisResult struct {
	Transaction    Transaction    `json:"transaction"`
	Signals        Signals        `json:"signals"`
	AnomalyScore   float64        `json:"anomalyScore"`
	Recommendation Recommendation `json:"recommendation"`
	Explanation    string         `json:"explanation"`
}

// IsAlert reports whether the result should be surfaced as an alert.
func (r *AnalysisResult) IsAlert() bool {
	return r.Recommendation == RecommendationFraud || r.Recommendation == RecommendationReview
}
