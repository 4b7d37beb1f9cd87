package usecase

import (
	"sort"
	"time"

	"Heimdall/internal/domain/models"
)

const (
	DefaultMetricsBatchSize  = 100
	DefaultMetricsWindowMins = 60
	DefaultTopAlerts         = 10
)

// RealtimeAggregator keeps running totals over processed results and
// produces a RealtimeMetrics payload once per batch. Not safe for concurrent use.
type RealtimeAggregator struct {
	batchSize  int
	windowMins int64
	topN       int
	now        func() time.Time

	total     int64
	frauds    int64
	amountSum float64
	minutes   []models.MinuteCount // ascending by minute
	alerts    []models.Alert       // most recent last, at most topN

	batchSeen    int
	batchLabeled int
	batchCorrect int

	last *models.RealtimeMetrics
}

func NewRealtimeAggregator(batchSize, windowMins, topN int) *RealtimeAggregator {
	if batchSize <= 0 {
		batchSize = DefaultMetricsBatchSize
	}
	if windowMins <= 0 {
		windowMins = DefaultMetricsWindowMins
	}
	if topN <= 0 {
		topN = DefaultTopAlerts
	}
	return &RealtimeAggregator{
		batchSize:  batchSize,
		windowMins: int64(windowMins),
		topN:       topN,
		now:        time.Now,
	}
}

// Observe folds r into the totals. It returns a payload when r completes a batch.
func (a *RealtimeAggregator) Observe(r *models.AnalysisResult) *models.RealtimeMetrics {
	txn := &r.Transaction
	fraud := r.Recommendation == models.RecommendationFraud

	a.total++
	a.amountSum += txn.Amount
	minute := int64(txn.Time) / 60
	a.bumpMinute(minute, fraud)
	a.evictMinutes(minute)

	if fraud {
		a.frauds++
	}
	if r.IsAlert() {
		a.pushAlert(models.Alert{
			ID:             txn.ID,
			Time:           txn.Time,
			Amount:         txn.Amount,
			Actual:         txn.Class,
			Recommendation: r.Recommendation,
			Confidence:     r.AnomalyScore,
		})
	}

	a.batchSeen++
	if txn.Class != nil {
		a.batchLabeled++
		if fraud == txn.IsLabelledFraud() {
			a.batchCorrect++
		}
	}
	if a.batchSeen < a.batchSize {
		return nil
	}

	m := a.snapshot(a.batchAccuracy())
	a.batchSeen, a.batchLabeled, a.batchCorrect = 0, 0, 0
	a.last = &m
	return &m
}

// Current returns the running aggregate. Batch accuracy reflects the last completed batch.
func (a *RealtimeAggregator) Current() models.RealtimeMetrics {
	var acc *float64
	if a.last != nil {
		acc = a.last.BatchAccuracy
	}
	return a.snapshot(acc)
}

// Reset drops all totals.
func (a *RealtimeAggregator) Reset() {
	*a = RealtimeAggregator{batchSize: a.batchSize, windowMins: a.windowMins, topN: a.topN, now: a.now}
}

func (a *RealtimeAggregator) snapshot(acc *float64) models.RealtimeMetrics {
	m := models.RealtimeMetrics{
		Type:                  "realtime_metrics",
		Timestamp:             float64(a.now().UnixNano()) / 1e9,
		TotalProcessed:        a.total,
		TotalFraudPredictions: a.frauds,
		FraudByMinute:         append([]models.MinuteCount{}, a.minutes...),
		TopAlerts:             append([]models.Alert{}, a.alerts...),
		BatchAccuracy:         acc,
	}
	if a.total > 0 {
		m.AvgAmount = a.amountSum / float64(a.total)
		m.FraudRate = float64(a.frauds) / float64(a.total)
	}
	sort.SliceStable(m.TopAlerts, func(i, j int) bool {
		return m.TopAlerts[i].Confidence > m.TopAlerts[j].Confidence
	})
	return m
}

func (a *RealtimeAggregator) batchAccuracy() *float64 {
	if a.batchLabeled == 0 {
		return nil
	}
	v := float64(a.batchCorrect) / float64(a.batchLabeled)
	return &v
}

func (a *RealtimeAggregator) bumpMinute(minute int64, fraud bool) {
	inc := 0
	if fraud {
		inc = 1
	}
	i := sort.Search(len(a.minutes), func(i int) bool { return a.minutes[i].Minute >= minute })
	if i < len(a.minutes) && a.minutes[i].Minute == minute {
		a.minutes[i].Count += inc
		return
	}
	a.minutes = append(a.minutes, models.MinuteCount{})
	copy(a.minutes[i+1:], a.minutes[i:])
	a.minutes[i] = models.MinuteCount{Minute: minute, Count: inc}
}

// evictMinutes drops buckets at least windowMins older than the current minute.
func (a *RealtimeAggregator) evictMinutes(current int64) {
	drop := 0
	for drop < len(a.minutes) && current-a.minutes[drop].Minute >= a.windowMins {
		drop++
	}
	if drop > 0 {
		a.minutes = append(a.minutes[:0], a.minutes[drop:]...)
	}
}

func (a *RealtimeAggregator) pushAlert(al models.Alert) {
	if len(a.alerts) == a.topN {
		copy(a.alerts, a.alerts[1:])
		a.alerts = a.alerts[:a.topN-1]
	}
	a.alerts = append(a.alerts, al)
}
