package repository

import (
	"context"

	"Heimdall/internal/domain/models"
	domrepo "Heimdall/internal/domain/repository"
	pkgkafka "Heimdall/pkg/kafka"
)

// KafkaPublisher publishes analysis results keyed by transaction id.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, r *models.AnalysisResult) error {
	return p.producer.Publish(ctx, p.topic, []byte(r.Transaction.ID), r)
}

// PublishBatch sends results in one write.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, rs []*models.AnalysisResult) error {
	msgs := make([]pkgkafka.Message, 0, len(rs))
	for _, r := range rs {
		msgs = append(msgs, pkgkafka.Message{Key: []byte(r.Transaction.ID), Value: r})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ domrepo.Publisher = (*KafkaPublisher)(nil)
