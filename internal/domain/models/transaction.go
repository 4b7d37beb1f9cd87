package models

import (
	"errors"
	"fmt"
	"math"
)

// FeatureCount is the number of anonymised feature channels (V1..V28) carried by a transaction.
const FeatureCount = 28

// ErrMalformedTransaction is returned for transactions the engine refuses to score.
var ErrMalformedTransaction = errors.New("malformed transaction")

// Transaction is a single card transaction as emitted by the transaction stream.
// Class is the ground-truth label when known; it is never used for scoring.
type Transaction struct {
	ID       string    `json:"id"`
	Idx      int64     `json:"idx"`
	Time     float64   `json:"time"`
	Amount   float64   `json:"amount"`
	Features []float64 `json:"features"`
	Class    *int      `json:"class,omitempty"`
}

// Validate checks the numeric shape of a transaction.
func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction", ErrMalformedTransaction)
	}
	if len(t.Features) != FeatureCount {
		return fmt.Errorf("%w: expected %d features, got %d", ErrMalformedTransaction, FeatureCount, len(t.Features))
	}
	if !isFinite(t.Amount) || t.Amount < 0 {
		return fmt.Errorf("%w: invalid amount %v", ErrMalformedTransaction, t.Amount)
	}
	if !isFinite(t.Time) || t.Time < 0 {
		return fmt.Errorf("%w: invalid time %v", ErrMalformedTransaction, t.Time)
	}
	for i, f := range t.Features {
		if !isFinite(f) {
			return fmt.Errorf("%w: feature V%d is not finite", ErrMalformedTransaction, i+1)
		}
	}
	return nil
}

// HourOfDay maps the epoch-seconds timestamp onto [0, 24).
func (t *Transaction) HourOfDay() float64 {
	return HourOfDay(t.Time)
}

// IsLabelledFraud reports whether the transaction carries a positive ground-truth label.
func (t *Transaction) IsLabelledFraud() bool {
	return t.Class != nil && *t.Class == 1
}

// HourOfDay maps seconds onto the hour of the day.
func HourOfDay(seconds float64) float64 {
	h := math.Mod(seconds/3600, 24)
	if h < 0 {
		h += 24
	}
	return h
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
