package detector

import (
	"fmt"
	"strings"

	"Heimdall/internal/domain/models"
	domsvc "Heimdall/internal/domain/service"
)

// Composite weights; they sum to 1.
const (
	WeightAmount   = 0.40
	WeightFeature  = 0.35
	WeightVelocity = 0.15
	WeightTime     = 0.10
)

// Tier thresholds, exclusive from above.
const (
	FraudThreshold  = 0.7
	ReviewThreshold = 0.4
)

// DefaultMinHistory is the number of prior transactions needed before scoring.
const DefaultMinHistory = 10

const (
	ExplanationInsufficientHistory = "insufficient history for analysis"
	ExplanationNormal              = "transaction within normal pattern"
	explanationFeature             = "feature profile far from history"
	explanationVelocity            = "multiple transactions in short period"
	explanationTime                = "unusual transaction hour"
	explanationSeparator           = " • "
	clauseThreshold                = 0.5
)

// Analyzer combines the four detectors into a recommendation.
type Analyzer struct {
	minHistory int
}

type AnalyzerOption func(*Analyzer)

// WithMinHistory overrides the cold-start threshold.
func WithMinHistory(n int) AnalyzerOption {
	return func(a *Analyzer) {
		if n > 0 {
			a.minHistory = n
		}
	}
}

func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{minHistory: DefaultMinHistory}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores txn against window and its precomputed statistics.
// window must not contain txn itself.
func (a *Analyzer) Analyze(txn *models.Transaction, window []models.Transaction, st models.WindowStatistics) models.AnalysisResult {
	if len(window) < a.minHistory {
		return models.AnalysisResult{
			Transaction:    *txn,
			Recommendation: models.RecommendationSafe,
			Explanation:    ExplanationInsufficientHistory,
		}
	}

	sig := models.Signals{
		AmountAnomaly:   AmountAnomaly(txn.Amount, st.Amount),
		FeatureDistance: FeatureDistance(txn.Features, st.Count, st.Features),
		VelocityAnomaly: VelocityAnomaly(txn.Time, window),
		TimeAnomaly:     TimeAnomaly(txn.Time, st.Temporal),
	}
	score := CompositeScore(sig)

	return models.AnalysisResult{
		Transaction:    *txn,
		Signals:        sig,
		AnomalyScore:   score,
		Recommendation: Classify(score),
		Explanation:    Explain(sig, txn.Amount, st.Amount.Mean),
	}
}

// CompositeScore is the fixed-weight sum of the signals.
func CompositeScore(s models.Signals) float64 {
	return clamp01(s.AmountAnomaly*WeightAmount +
		s.FeatureDistance*WeightFeature +
		s.VelocityAnomaly*WeightVelocity +
		s.TimeAnomaly*WeightTime)
}

// Classify maps a composite score to a tier.
func Classify(score float64) models.Recommendation {
	switch {
	case score > FraudThreshold:
		return models.RecommendationFraud
	case score > ReviewThreshold:
		return models.RecommendationReview
	default:
		return models.RecommendationSafe
	}
}

// Explain builds the human-readable explanation in detector order.
func Explain(s models.Signals, amount, meanAmount float64) string {
	parts := make([]string, 0, 4)
	if s.AmountAnomaly > clauseThreshold {
		parts = append(parts, amountClause(amount, meanAmount))
	}
	if s.FeatureDistance > clauseThreshold {
		parts = append(parts, explanationFeature)
	}
	if s.VelocityAnomaly > clauseThreshold {
		parts = append(parts, explanationVelocity)
	}
	if s.TimeAnomaly > clauseThreshold {
		parts = append(parts, explanationTime)
	}
	if len(parts) == 0 {
		return ExplanationNormal
	}
	return strings.Join(parts, explanationSeparator)
}

func amountClause(amount, mean float64) string {
	if mean == 0 {
		return fmt.Sprintf("amount %.2f against a zero historical average", amount)
	}
	return fmt.Sprintf("amount %.1fx the historical average (%.2f)", amount/mean, mean)
}

var _ domsvc.Analyzer = (*Analyzer)(nil)
