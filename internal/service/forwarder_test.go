package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/modemfarm/smsagent/internal/retry"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestForwarderRetriesUntilSuccess(t *testing.T) {
	var calls int32
	var lastPayload pushSMSPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "SMSHubAgent/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&lastPayload))
		w.Write([]byte(`{"status":"SUCCESS"}`))
	}))
	defer srv.Close()

	fwd := NewForwarder(srv.URL, "secret-key", retry.Policy{Attempts: 3}, testLogger())
	delivered := fwd.Push(context.Background(), 42, 12025550123, "whatsapp", "Your code is 1234")

	assert.True(t, delivered)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(42), lastPayload.SMSID)
	assert.Equal(t, int64(12025550123), lastPayload.Phone)
	assert.Equal(t, "whatsapp", lastPayload.PhoneFrom)
	assert.Equal(t, "PUSH_SMS", lastPayload.Action)
	assert.Equal(t, "secret-key", lastPayload.Key)
}

func TestForwarderExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fwd := NewForwarder(srv.URL, "k", retry.Policy{Attempts: 3}, testLogger())
	delivered := fwd.Push(context.Background(), 1, 12025550123, "telegram", "hi")

	assert.False(t, delivered)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestForwarderRejectsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ERROR","error":"unknown activation"}`))
	}))
	defer srv.Close()

	fwd := NewForwarder(srv.URL, "k", retry.Policy{Attempts: 1}, testLogger())
	assert.False(t, fwd.Push(context.Background(), 1, 12025550123, "viber", "hi"))
}
