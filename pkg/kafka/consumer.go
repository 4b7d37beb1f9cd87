package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "Heimdall/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer fetches from one reader per registered topic and hands messages to a worker pool.
// Offsets are committed explicitly after handling. With a single worker, messages of a topic
// are handled in fetch order.
type Consumer struct {
	cfg      *ConsumerConfig
	l        *applogger.Logger
	handlers map[string]MessageHandler
	readers  map[string]Reader
	dlq      Writer
	hook     ConsumerHook

	newReader func(topic string) Reader

	msgs     chan fetched
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

type fetched struct {
	topic string
	km    kafka.Message
}

// NewConsumer creates a consumer. Register handlers before Start.
func NewConsumer(l *applogger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "heimdall",
		StartOffset: "earliest",
		WorkerCount: 1,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if l == nil {
		l = applogger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		l:        l.Component("kafka_consumer"),
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]Reader),
		hook:     NoopHook{},
		msgs:     make(chan fetched, cfg.BufferSize),
	}
	c.newReader = c.kafkaReader
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	initConsumerMetrics()
	return c, nil
}

// RegisterHandler registers handler for its topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.l.Warn("handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook replaces the lifecycle hook.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start launches fetch loops and workers. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	for topic := range c.handlers {
		c.readers[topic] = c.newReader(topic)
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	for topic, r := range c.readers {
		c.wg.Add(1)
		go c.fetchLoop(ctx, topic, r)
	}
	c.l.Info("consumer started",
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.Int("topics", len(c.readers)),
		applogger.String("group", c.cfg.GroupID),
	)
	return nil
}

// Stop cancels fetching, waits for in-flight messages and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		stopErr = c.wait(ctx)
		for topic, r := range c.readers {
			if err := r.Close(); err != nil {
				c.l.Warn("close reader", applogger.String("topic", topic), applogger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.l.Warn("close dlq writer", applogger.Error(err))
			}
		}
		c.l.Info("consumer stopped")
	})
	return stopErr
}

func (c *Consumer) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (c *Consumer) kafkaReader(topic string) Reader {
	start := kafka.FirstOffset
	if c.cfg.StartOffset == "latest" {
		start = kafka.LastOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		Topic:       topic,
		GroupID:     c.cfg.GroupID,
		MinBytes:    c.cfg.MinBytes,
		MaxBytes:    c.cfg.MaxBytes,
		StartOffset: start,
	})
}

func (c *Consumer) fetchLoop(ctx context.Context, topic string, r Reader) {
	defer c.wg.Done()

	failures := 0
	for {
		km, err := r.FetchMessage(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			c.l.Warn("fetch failed", applogger.String("topic", topic), applogger.Error(err))
			if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		select {
		case c.msgs <- fetched{topic: topic, km: km}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgs)))
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.msgs:
			c.process(ctx, m)
		}
	}
}

func (c *Consumer) process(ctx context.Context, m fetched) {
	handler, ok := c.handlers[m.topic]
	if !ok {
		return
	}
	start := time.Now()
	err := c.handleWithRetry(ctx, handler, m)
	if ctx.Err() != nil {
		// Leave the offset uncommitted; the message is redelivered after restart.
		return
	}

	result := "ok"
	commit := err == nil
	if err != nil {
		result = "error"
		c.l.Error("message handling failed",
			applogger.String("topic", m.topic),
			applogger.Int("partition", m.km.Partition),
			applogger.Int64("offset", m.km.Offset),
			applogger.Bool("permanent", IsPermanent(err)),
			applogger.Error(err),
		)
		if c.dlq != nil {
			commit = c.toDLQ(ctx, m, err) == nil
		} else {
			// Without a DLQ a poison message would block the partition forever.
			commit = true
		}
	}
	if commit {
		if cerr := c.commitWithRetry(ctx, c.readers[m.topic], m.km, 3); cerr != nil {
			c.l.Error("commit failed", applogger.String("topic", m.topic), applogger.Error(cerr))
		}
	}
	consumerHandled.WithLabelValues(m.topic, result).Inc()
	consumerHandleLatency.WithLabelValues(m.topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(ctx context.Context, handler MessageHandler, m fetched) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()

	for attempt := 1; ; attempt++ {
		hctx, data, berr := c.hook.BeforeHandle(ctx, m.topic, m.km.Value)
		if berr != nil {
			return Permanent(berr)
		}
		err = handler.Handle(hctx, data)
		c.hook.AfterHandle(hctx, m.topic, data, err)
		if err == nil || IsPermanent(err) || attempt > c.cfg.RetryMax {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) toDLQ(ctx context.Context, m fetched, cause error) error {
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   m.km.Key,
		Value: m.km.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(m.topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.l.Error("dlq write failed", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
	}
	return err
}

func (c *Consumer) commitWithRetry(ctx context.Context, r Reader, km kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = r.CommitMessages(cctx, km)
		cancel()
		if err == nil {
			return nil
		}
		if !sleepCtx(ctx, backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			return ctx.Err()
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoffWithJitter is exponential from min, capped at max, minus up to 50% jitter.
func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 32 {
		if e := min * time.Duration(1<<uint(attempt-1)); e > 0 && e < max {
			exp = e
		}
	}
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int63n(half))
	}
	return exp
}

var (
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandled       *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerMetricsOnce   sync.Once
)

func initConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		consumerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{Name: "heimdall_kafka_consumer_queue_depth", Help: "Messages waiting for a worker"},
			[]string{"topic"},
		)
		consumerHandled = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "heimdall_kafka_consumer_messages_total", Help: "Messages handled by result"},
			[]string{"topic", "result"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "heimdall_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	})
}
