package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Heimdall/internal/domain/models"
	domrepo "Heimdall/internal/domain/repository"
	mid "Heimdall/internal/middleware"
	pkgkafka "Heimdall/pkg/kafka"
)

// KafkaTransactionsHandler scores transactions published on a Kafka topic.
// Undecodable or malformed payloads are permanent failures and are not retried.
type KafkaTransactionsHandler struct {
	topic   string
	proc    mid.Proc
	metrics domrepo.Metrics
}

func NewKafkaTransactionsHandler(topic string, proc mid.Proc, metrics domrepo.Metrics) *KafkaTransactionsHandler {
	return &KafkaTransactionsHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaTransactionsHandler) Topic() string { return h.topic }

// Handle expects a JSON Transaction: {id, idx, time, amount, features[28], class?}.
func (h *KafkaTransactionsHandler) Handle(ctx context.Context, b []byte) error {
	var t models.Transaction
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode transaction: %w", err))
	}

	start := time.Now()
	if _, err := h.proc.Process(ctx, &t); err != nil {
		if errors.Is(err, models.ErrMalformedTransaction) {
			return pkgkafka.Permanent(err)
		}
		h.metrics.RecordError("consumer_process")
		return err
	}
	h.metrics.RecordLatency("consumer_process", time.Since(start).Seconds())
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTransactionsHandler)(nil)
