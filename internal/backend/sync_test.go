package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/sellflux/internal/metrics"
	"github.com/songzhibin97/sellflux/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// flakyTransport fails the first n round trips with a transport error.
type flakyTransport struct {
	failures int32
	attempts atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := f.attempts.Add(1)
	if n <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(req)
}

func setupSyncer(t *testing.T, failures int32, delay time.Duration, handler http.HandlerFunc) (*Syncer, *flakyTransport, *metrics.Metrics) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	transport := &flakyTransport{failures: failures, next: server.Client().Transport}
	m := metrics.New()
	s := NewSyncer(server.URL, "secret", resty.New().SetTransport(transport), discard,
		WithRetries(DefaultMaxRetries, delay), WithMetrics(m))
	return s, transport, m
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func TestSyncer_Send_Payload(t *testing.T) {
	rec := "rec1"
	var got map[string]interface{}

	s, _, _ := setupSyncer(t, 0, time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, updateTradePerformancePath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		okHandler(w, r)
	})

	err := s.Send(context.Background(), Update{
		TokenAddress:  "TKN1",
		TradeData:     &models.SellDetails{SellValueUSD: 60, ProfitUSD: 10, ProfitPercent: math.NaN(), RapidDump: true, SellRecommenderID: &rec},
		RecommenderID: "r-1",
		Username:      "tg-1",
		Mode:          models.Simulated,
		BalanceLeft:   50,
	})
	require.NoError(t, err)

	assert.Equal(t, "TKN1", got["tokenAddress"])
	assert.Equal(t, "r-1", got["recommenderId"])
	assert.Equal(t, "tg-1", got["username"])
	assert.Equal(t, true, got["isSimulation"])
	assert.Equal(t, 50.0, got["balanceLeft"])

	trade, ok := got["tradeData"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 60.0, trade["sell_value_usd"])
	assert.Nil(t, trade["profit_percent"])
	assert.Equal(t, true, trade["rapidDump"])
	assert.Equal(t, "rec1", trade["sell_recommender_id"])
}

func TestSyncer_Send_Retries(t *testing.T) {
	const delay = 20 * time.Millisecond

	tests := []struct {
		name         string
		failures     int32
		wantAttempts int32
		wantErr      bool
	}{
		{name: "first attempt succeeds", failures: 0, wantAttempts: 1},
		{name: "one failure then success", failures: 1, wantAttempts: 2},
		{name: "two failures then success", failures: 2, wantAttempts: 3},
		{name: "exhausts retries", failures: 5, wantAttempts: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, transport, m := setupSyncer(t, tt.failures, delay, okHandler)

			start := time.Now()
			err := s.Send(context.Background(), Update{TokenAddress: "TKN1", TradeData: &models.SellDetails{}})
			elapsed := time.Since(start)

			assert.Equal(t, tt.wantAttempts, transport.attempts.Load())
			assert.Equal(t, float64(tt.wantAttempts), testutil.ToFloat64(m.SyncAttemptsTotal))
			assert.GreaterOrEqual(t, elapsed, time.Duration(tt.wantAttempts-1)*delay)

			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrTransport)
				assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncResultsTotal.WithLabelValues("failed")))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncResultsTotal.WithLabelValues("ok")))
		})
	}
}

func TestSyncer_Send_NoRetryOnRejection(t *testing.T) {
	var calls atomic.Int32
	s, transport, _ := setupSyncer(t, 0, time.Millisecond, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown token"}`))
	})

	err := s.Send(context.Background(), Update{TokenAddress: "TKN1", TradeData: &models.SellDetails{}})
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrTransport))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), transport.attempts.Load())
}

func TestSyncer_Send_CancelledDuringDelay(t *testing.T) {
	s, transport, _ := setupSyncer(t, 10, time.Hour, okHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, Update{TokenAddress: "TKN1", TradeData: &models.SellDetails{}})
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, int32(1), transport.attempts.Load())
}
