package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeReader struct {
	in      chan kafka.Message
	mu      sync.Mutex
	commits []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{in: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.in <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.in:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits...)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func newTestConsumer(t *testing.T, r Reader, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	}, opts...)
	c, err := NewConsumer(nil, opts...)
	require.NoError(t, err)
	c.newReader = func(string) Reader { return r }
	return c
}

func TestProducerPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")

	err := p.Publish(context.Background(), "analysis", []byte("txn_1"), map[string]float64{"score": 0.5})
	require.NoError(t, err)

	msgs := w.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "analysis", msgs[0].Topic)
	assert.Equal(t, []byte("txn_1"), msgs[0].Key)
	assert.JSONEq(t, `{"score":0.5}`, string(msgs[0].Value))
}

func TestProducerPublishBatchRawValues(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")

	err := p.PublishBatch(context.Background(), "t", []Message{{Value: []byte("a")}, {Value: "b"}})
	require.NoError(t, err)
	require.NoError(t, p.PublishBatch(context.Background(), "t", nil))

	msgs := w.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Value))
	assert.Equal(t, "b", string(msgs[1].Value))
}

func TestProducerPropagatesWriteError(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{err: errors.New("broker down")}, "gzip")

	assert.Error(t, p.Publish(context.Background(), "t", nil, "x"))
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil)
	assert.Error(t, err)
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Offset: 1, Value: []byte("one")},
		kafka.Message{Offset: 2, Value: []byte("two")},
	)
	c := newTestConsumer(t, r)

	var mu sync.Mutex
	var got []string
	c.RegisterHandler(funcHandler{topic: "transactions", fn: func(b []byte) error {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
		return nil
	}})
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(r.committed()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestConsumerRetriesTransientErrors(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 7, Value: []byte("x")})
	c := newTestConsumer(t, r)

	var mu sync.Mutex
	calls := 0
	c.RegisterHandler(funcHandler{topic: "transactions", fn: func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(r.committed()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestConsumerSendsPermanentFailuresToDLQ(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 3, Value: []byte("bad")})
	c := newTestConsumer(t, r, WithConsumerDLQ("transactions.dlq"))
	dlq := &fakeWriter{}
	c.dlq = dlq

	var mu sync.Mutex
	calls := 0
	c.RegisterHandler(funcHandler{topic: "transactions", fn: func([]byte) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return Permanent(errors.New("malformed"))
	}})
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(r.committed()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	msgs := dlq.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "transactions.dlq", msgs[0].Topic)
	assert.Equal(t, "bad", string(msgs[0].Value))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestConsumerHookCanRejectMessages(t *testing.T) {
	r := newFakeReader(kafka.Message{Offset: 1, Value: []byte("x")})
	c := newTestConsumer(t, r)
	handled := make(chan struct{}, 1)
	c.RegisterHandler(funcHandler{topic: "transactions", fn: func([]byte) error {
		handled <- struct{}{}
		return nil
	}})
	c.WithConsumerHook(HookFuncs{
		Before: func(ctx context.Context, _ string, data []byte) (context.Context, []byte, error) {
			return ctx, nil, errors.New("rejected")
		},
	})
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(r.committed()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Empty(t, handled)
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)

	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 40; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 100*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}
