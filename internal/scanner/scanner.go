package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/songzhibin97/sellflux/internal/decision"
	"github.com/songzhibin97/sellflux/internal/metrics"
	"github.com/songzhibin97/sellflux/internal/models"
)

const DefaultConcurrency = 8

// PositionLister lists held positions
type PositionLister interface {
	GetAllTokenPerformancesWithBalance(ctx context.Context) ([]models.TokenPerformance, error)
}

// Starter gates and starts sell workflows
type Starter interface {
	IsActive(ctx context.Context, tokenAddress string) bool
	TryStart(ctx context.Context, tokenAddress string, balance float64, recommenderID string) bool
}

// ScanResult 单次扫描统计
type ScanResult struct {
	Candidates int
	Started    int
	Skipped    int
	Failed     int
}

// Scanner walks held positions and starts a sell workflow for each one the engine approves
type Scanner struct {
	store       PositionLister
	registry    Starter
	engine      decision.Engine
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

func New(store PositionLister, registry Starter, engine decision.Engine, logger *slog.Logger, m *metrics.Metrics, concurrency int) *Scanner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scanner{
		store:       store,
		registry:    registry,
		engine:      engine,
		logger:      logger,
		metrics:     m,
		concurrency: concurrency,
	}
}

// Scan runs one pass. Per-token failures are counted and logged, never returned.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	positions, err := s.store.GetAllTokenPerformancesWithBalance(ctx)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to list positions: %w", err)
	}

	var (
		wg                       sync.WaitGroup
		started, skipped, failed atomic.Int32
		sem                      = make(chan struct{}, s.concurrency)
	)

	for _, position := range positions {
		if s.registry.IsActive(ctx, position.TokenAddress) {
			skipped.Add(1)
			s.metrics.ObserveCandidate("active")
			continue
		}

		wg.Add(1)
		go func(p models.TokenPerformance) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				failed.Add(1)
				return
			}

			switch s.evaluate(ctx, p) {
			case "started":
				started.Add(1)
			case "declined":
				skipped.Add(1)
			default:
				failed.Add(1)
			}
		}(position)
	}
	wg.Wait()

	result := ScanResult{
		Candidates: len(positions),
		Started:    int(started.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
	}
	s.logger.Info("scan complete",
		"candidates", result.Candidates,
		"started", result.Started,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

func (s *Scanner) evaluate(ctx context.Context, p models.TokenPerformance) (outcome string) {
	defer func() { s.metrics.ObserveCandidate(outcome) }()

	ok, err := s.engine.ShouldTradeToken(ctx, p.TokenAddress)
	if err != nil {
		s.logger.Error("failed to evaluate token", "token", p.TokenAddress, "err", err)
		return "error"
	}
	if !ok {
		s.logger.Debug("token declined", "token", p.TokenAddress)
		return "declined"
	}

	if !s.registry.TryStart(ctx, p.TokenAddress, p.Balance, p.RecommenderID) {
		return "not_started"
	}
	return "started"
}

// Run scans once, then every interval until ctx is done. A non-positive interval scans once.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	if _, err := s.Scan(ctx); err != nil {
		s.logger.Error("scan failed", "err", err)
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Scan(ctx); err != nil {
				s.logger.Error("scan failed", "err", err)
			}
		}
	}
}
