package notify_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/guardrail/internal/events"
	"github.com/noah-isme/guardrail/internal/notify"
)

func TestSignatureAndHeaders(t *testing.T) {
	type recorded struct {
		req  *http.Request
		body []byte
	}
	received := make(chan recorded, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- recorded{req: r, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	deliverer := &notify.Deliverer{Client: srv.Client()}
	endpoint := notify.Endpoint{ID: 7, URL: srv.URL, Secret: "secret"}
	event := events.StoredEvent{
		ID:         42,
		Topic:      events.TopicBreakerOpened,
		Breaker:    "payments-db",
		Payload:    []byte(`{"reason":"threshold"}`),
		OccurredAt: time.Now(),
	}

	status, _, err := deliverer.Deliver(context.Background(), endpoint, event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	record := <-received
	req := record.req
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "42", req.Header.Get("X-Event-ID"))
	timestamp := req.Header.Get("X-Timestamp")
	require.NotEmpty(t, timestamp)
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	require.NoError(t, err)
	require.Equal(t, notify.ComputeSignature(endpoint.Secret, ts, "42", record.body), req.Header.Get("X-Signature"))
}

func TestDeliverReplaySuppressed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	deliverer := &notify.Deliverer{
		Client:    srv.Client(),
		Replay:    notify.RedisReplayGuard{Client: client},
		ReplayTTL: time.Minute,
	}
	endpoint := notify.Endpoint{ID: 1, URL: srv.URL, Secret: "s"}
	event := events.StoredEvent{ID: 5, Topic: events.TopicBreakerOpened, Breaker: "search", OccurredAt: time.Now()}

	status, _, err := deliverer.Deliver(context.Background(), endpoint, event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	status, body, err := deliverer.Deliver(context.Background(), endpoint, event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "replay-suppressed", body)
	require.Equal(t, 1, hits)
}

func TestValidateURL(t *testing.T) {
	require.NoError(t, notify.ValidateURL("https://hooks.example.com/guardrail"))
	require.NoError(t, notify.ValidateURL("http://localhost:9000/hook"))
	require.Error(t, notify.ValidateURL("http://internal.example.com/hook"))
	require.Error(t, notify.ValidateURL("ftp://example.com"))
	require.Error(t, notify.ValidateURL("https://"))
}
