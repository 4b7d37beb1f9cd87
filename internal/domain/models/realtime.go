package models

// MinuteCount is the number of fraud predictions within one stream minute.
type MinuteCount struct {
	Minute int64 `json:"minute"`
	Count  int   `json:"count"`
}

// Alert is a compact view of a flagged transaction.
type Alert struct {
	ID             string         `json:"id"`
	Time           float64        `json:"time"`
	Amount         float64        `json:"amount"`
	Actual         *int           `json:"actual,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
}

// RealtimeMetrics is the rolling aggregate pushed to dashboards.
type RealtimeMetrics struct {
	Type                  string        `json:"type"`
	Timestamp             float64       `json:"timestamp"`
	TotalProcessed        int64         `json:"total_processed"`
	TotalFraudPredictions int64         `json:"total_fraud_predictions"`
	AvgAmount             float64       `json:"avg_amount"`
	FraudRate             float64       `json:"fraud_rate"`
	FraudByMinute         []MinuteCount `json:"fraud_by_minute"`
	TopAlerts             []Alert       `json:"top_alerts"`
	BatchAccuracy         *float64      `json:"batch_accuracy"`
}
