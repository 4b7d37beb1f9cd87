package service

import (
	"context"

	"Heimdall/internal/domain/models"
)

// Analyzer scores a transaction against the history window that precedes it.
type Analyzer interface {
	Analyze(txn *models.Transaction, window []models.Transaction, stats models.WindowStatistics) models.AnalysisResult
}

// ChatForwarder answers a natural-language question with UI context attached.
type ChatForwarder interface {
	Reply(ctx context.Context, message string, uiContext map[string]interface{}) (string, error)
}

// Broadcaster fans a payload out to every subscriber of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload interface{})
}

// Broadcast channels.
const (
	ChannelTransactions = "transactions"
	ChannelMetrics      = "metrics"
)
