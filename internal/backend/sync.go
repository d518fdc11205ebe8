package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/sellflux/internal/metrics"
	"github.com/songzhibin97/sellflux/internal/models"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2000 * time.Millisecond

	updateTradePerformancePath = "/api/updaters/updateTradePerformance"
)

// Update is the trade result pushed to the backend of record.
type Update struct {
	TokenAddress  string
	TradeData     *models.SellDetails
	RecommenderID string
	Username      string
	Mode          models.TradeMode
	BalanceLeft   float64
}

type updatePayload struct {
	TokenAddress  string              `json:"tokenAddress"`
	TradeData     *models.SellDetails `json:"tradeData"`
	RecommenderID string              `json:"recommenderId"`
	Username      string              `json:"username"`
	IsSimulation  bool                `json:"isSimulation"`
	BalanceLeft   float64             `json:"balanceLeft"`
}

// Syncer pushes trade results with bounded, fixed-delay retries on transport failure.
type Syncer struct {
	baseURL    string
	token      string
	httpClient *resty.Client
	maxRetries int
	delay      time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Syncer)

func WithRetries(maxRetries int, delay time.Duration) Option {
	return func(s *Syncer) {
		if maxRetries > 0 {
			s.maxRetries = maxRetries
		}
		if delay >= 0 {
			s.delay = delay
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

func NewSyncer(baseURL, token string, httpClient *resty.Client, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		maxRetries: DefaultMaxRetries,
		delay:      DefaultRetryDelay,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts the update. Only transport errors are retried; a non-2xx response is logged
// and returned as is. The returned error is informational, callers must not depend on it.
func (s *Syncer) Send(ctx context.Context, u Update) error {
	payload := updatePayload{
		TokenAddress:  u.TokenAddress,
		TradeData:     u.TradeData,
		RecommenderID: u.RecommenderID,
		Username:      u.Username,
		IsSimulation:  u.Mode.IsSimulation(),
		BalanceLeft:   u.BalanceLeft,
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		s.metrics.ObserveSyncAttempt()

		resp, err := s.httpClient.R().
			SetContext(ctx).
			SetAuthToken(s.token).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(s.baseURL + updateTradePerformancePath)
		if err == nil {
			if resp.IsError() {
				s.metrics.ObserveSyncResult("rejected")
				s.logger.Error("backend rejected trade update",
					"token", u.TokenAddress, "status", resp.StatusCode(), "body", resp.String())
				return fmt.Errorf("backend rejected trade update for %s: status %d", u.TokenAddress, resp.StatusCode())
			}
			s.metrics.ObserveSyncResult("ok")
			s.logger.Info("trade update synced", "token", u.TokenAddress, "attempt", attempt)
			return nil
		}

		lastErr = err
		s.logger.Error("failed to sync trade update",
			"token", u.TokenAddress, "attempt", attempt, "max_attempts", s.maxRetries, "err", err)

		if attempt < s.maxRetries {
			s.logger.Info("retrying trade update", "token", u.TokenAddress, "delay", s.delay)
			select {
			case <-ctx.Done():
				s.metrics.ObserveSyncResult("failed")
				return fmt.Errorf("%w: trade update for %s cancelled: %v", models.ErrTransport, u.TokenAddress, ctx.Err())
			case <-time.After(s.delay):
			}
		}
	}

	s.metrics.ObserveSyncResult("failed")
	s.logger.Error("all trade update attempts failed", "token", u.TokenAddress, "attempts", s.maxRetries)
	return fmt.Errorf("%w: trade update for %s after %d attempts: %v", models.ErrTransport, u.TokenAddress, s.maxRetries, lastErr)
}
