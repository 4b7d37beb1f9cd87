package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticContext map[string]interface{}

func (s staticContext) ChatContext() map[string]interface{} { return s }

func TestReplyEmptyMessage(t *testing.T) {
	f := NewForwarder("http://unused", time.Second, nil, nil)

	reply, err := f.Reply(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Equal(t, EmptyMessageReply, reply)
}

func TestReplyWithoutEndpoint(t *testing.T) {
	f := NewForwarder("", time.Second, nil, nil)

	reply, err := f.Reply(context.Background(), " is txn_5 fraud? ", nil)
	require.NoError(t, err)
	assert.Equal(t, "[IA] Entendi sua pergunta: is txn_5 fraud?", reply)
}

func TestReplyForwardsContext(t *testing.T) {
	var got forwardRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "looks fine"})
	}))
	defer srv.Close()

	engine := staticContext{"size": float64(42)}
	f := NewForwarder(srv.URL, time.Second, engine, nil)

	reply, err := f.Reply(context.Background(), "status?", map[string]interface{}{"page": "dashboard"})
	require.NoError(t, err)
	assert.Equal(t, "looks fine", reply)
	assert.Equal(t, "status?", got.Message)
	assert.Equal(t, map[string]interface{}{"page": "dashboard"}, got.Context["ui"])
	assert.Equal(t, map[string]interface{}{"size": float64(42)}, got.Context["engine"])
}

func TestReplyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	}))
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, nil, nil, WithAttempts(3))
	reply, err := f.Reply(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestReplyDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := NewForwarder(srv.URL, time.Second, nil, nil, WithAttempts(3))
	_, err := f.Reply(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
