package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/songzhibin97/sellflux/internal/backend"
	"github.com/songzhibin97/sellflux/internal/data"
	"github.com/songzhibin97/sellflux/internal/metrics"
	"github.com/songzhibin97/sellflux/internal/models"
	"github.com/songzhibin97/sellflux/internal/risk"
	"github.com/songzhibin97/sellflux/internal/trading"
)

const (
	defaultSyncTimeout = 30 * time.Second
	releaseTimeout     = 10 * time.Second
)

// Syncer pushes results to the backend of record
type Syncer interface {
	Send(ctx context.Context, u backend.Update) error
}

// JobReleaser releases a token from the active set and stops its remote job
type JobReleaser interface {
	Stop(ctx context.Context, tokenAddress string)
}

// Executor implements SellExecutor for simulated sells
type Executor struct {
	store    data.PerformanceStore
	market   data.MarketDataSource
	risk     risk.SellEvaluator
	syncer   Syncer
	registry JobReleaser
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mode        models.TradeMode
	syncTimeout time.Duration
	now         func() time.Time
	newHash     func() string

	syncs sync.WaitGroup
}

var _ trading.SellExecutor = (*Executor)(nil)

type Option func(*Executor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithSyncTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.syncTimeout = d
		}
	}
}

// WithMode overrides the trade mode. Only Simulated is executable.
func WithMode(mode models.TradeMode) Option {
	return func(e *Executor) { e.mode = mode }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func NewExecutor(
	store data.PerformanceStore,
	market data.MarketDataSource,
	evaluator risk.SellEvaluator,
	syncer Syncer,
	registry JobReleaser,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		store:       store,
		market:      market,
		risk:        evaluator,
		syncer:      syncer,
		registry:    registry,
		logger:      logger,
		mode:        models.Simulated,
		syncTimeout: defaultSyncTimeout,
		now:         time.Now,
		newHash:     func() string { return "sim-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle implements SellExecutor interface
func (e *Executor) Handle(ctx context.Context, instr models.SellInstruction) error {
	if err := instr.Validate(); err != nil {
		return err
	}

	position, err := e.store.GetTokenPerformance(ctx, instr.TokenAddress)
	if err != nil {
		e.release(ctx, instr.TokenAddress)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: no position for token %s", models.ErrDataIntegrity, instr.TokenAddress)
		}
		return fmt.Errorf("failed to get token performance: %w", err)
	}

	e.logger.Info("executing sell", "token", instr.TokenAddress, "symbol", position.TokenSymbol, "amount", instr.Amount)

	details, err := e.ExecuteSell(ctx, position, instr)
	if err != nil {
		return err
	}

	e.logger.Info("sell executed",
		"token", instr.TokenAddress,
		"sell_value_usd", details.SellValueUSD,
		"profit_usd", details.ProfitUSD,
		"profit_percent", details.ProfitPercent,
		"rapid_dump", details.RapidDump)
	return nil
}

// ExecuteSell implements SellExecutor interface. Nothing is written unless market data, base price
// and the matching buy are all available; the token is released from the registry on every path.
// Errors are returned unlogged, the caller reports them.
func (e *Executor) ExecuteSell(ctx context.Context, position *models.TokenPerformance, instr models.SellInstruction) (details *models.SellDetails, err error) {
	start := e.now()
	tokenAddress := position.TokenAddress

	defer e.release(ctx, tokenAddress)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		e.metrics.ObserveSell(outcome, e.now().Sub(start).Seconds())
	}()

	if e.mode != models.Simulated {
		return nil, fmt.Errorf("%w: %s execution is not supported", models.ErrConfiguration, e.mode)
	}

	recommender, err := e.store.GetOrCreateRecommenderWithTelegramID(ctx, position.RecommenderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recommender %s: %w", position.RecommenderID, err)
	}

	snapshot, err := e.market.GetProcessedTokenData(ctx, tokenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to get market data for %s: %w", tokenAddress, err)
	}
	basePrice, err := e.market.FetchBasePrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get base price: %w", err)
	}

	trade, err := e.store.GetLatestTradePerformance(ctx, tokenAddress, recommender.ID, e.mode)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: no buy recorded for %s by %s", models.ErrDataIntegrity, tokenAddress, recommender.ID)
		}
		return nil, fmt.Errorf("failed to get trade performance: %w", err)
	}

	details = e.price(snapshot, basePrice, trade, instr)
	if math.IsNaN(details.ProfitPercent) {
		e.logger.Warn("buy value is zero, profit percent undefined", "token", tokenAddress, "recommender", recommender.ID)
	}

	assessment := e.risk.EvaluateSell(snapshot, trade)
	details.RapidDump = assessment.RapidDump
	if len(assessment.RiskFactors) > 0 {
		e.logger.Warn("sell risk factors", "token", tokenAddress, "factors", assessment.RiskFactors)
	}

	var balanceLeft float64
	err = e.store.WithTx(ctx, func(store data.PerformanceStore) error {
		if err := store.UpdateTradePerformanceOnSell(ctx, tokenAddress, recommender.ID, trade.BuyTimestamp, details, e.mode); err != nil {
			return fmt.Errorf("failed to update trade performance: %w", err)
		}

		oldBalance, err := store.GetTokenBalance(ctx, tokenAddress)
		if err != nil {
			return fmt.Errorf("failed to get token balance: %w", err)
		}
		balanceLeft = oldBalance - instr.Amount
		if err := store.UpdateTokenBalance(ctx, tokenAddress, balanceLeft); err != nil {
			return fmt.Errorf("failed to update token balance: %w", err)
		}

		return store.AddTransaction(ctx, &models.Transaction{
			TokenAddress:    tokenAddress,
			Type:            "sell",
			TransactionHash: e.newHash(),
			Amount:          instr.Amount,
			Price:           details.SellPrice,
			Mode:            e.mode,
			Timestamp:       details.SellTimestamp,
		})
	})
	if err != nil {
		return nil, err
	}

	switch {
	case balanceLeft < 0:
		e.logger.Warn("sell exceeded balance", "token", tokenAddress, "balance_left", balanceLeft)
	case balanceLeft == 0:
		e.logger.Info("position closed", "token", tokenAddress)
	}

	e.metrics.ObserveProfit(details.ProfitUSD, details.RapidDump)
	e.sync(ctx, backend.Update{
		TokenAddress:  tokenAddress,
		TradeData:     details,
		RecommenderID: recommender.ID,
		Username:      recommender.TelegramID,
		Mode:          e.mode,
		BalanceLeft:   balanceLeft,
	})

	return details, nil
}

func (e *Executor) price(snapshot *models.ProcessedTokenData, basePrice float64, trade *models.TradePerformance, instr models.SellInstruction) *models.SellDetails {
	marketCap, liquidity := snapshot.FirstPair()
	sellPrice := snapshot.TradeData.Price
	sellValueUSD := instr.Amount * sellPrice
	profitUSD := sellValueUSD - trade.BuyValueUSD

	return &models.SellDetails{
		SellPrice:         sellPrice,
		SellTimestamp:     e.now().UTC(),
		SellAmount:        instr.Amount,
		ReceivedBase:      instr.Amount / basePrice,
		SellValueUSD:      sellValueUSD,
		ProfitUSD:         profitUSD,
		ProfitPercent:     ProfitPercent(profitUSD, trade.BuyValueUSD),
		SellMarketCap:     marketCap,
		MarketCapChange:   marketCap - trade.BuyMarketCap,
		SellLiquidity:     liquidity,
		LiquidityChange:   liquidity - trade.BuyLiquidity,
		SellRecommenderID: instr.SellRecommenderID,
	}
}

// ProfitPercent returns NaN when the buy value is zero.
func ProfitPercent(profitUSD, buyValueUSD float64) float64 {
	if buyValueUSD == 0 {
		return math.NaN()
	}
	return profitUSD / buyValueUSD * 100
}

// sync hands the update to the backend without blocking the sell; its outcome never
// affects local state.
func (e *Executor) sync(ctx context.Context, u backend.Update) {
	e.syncs.Add(1)
	go func() {
		defer e.syncs.Done()

		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.syncTimeout)
		defer cancel()

		if err := e.syncer.Send(syncCtx, u); err != nil {
			e.logger.Error("backend sync failed", "token", u.TokenAddress, "err", err)
		}
	}()
}

func (e *Executor) release(ctx context.Context, tokenAddress string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	e.registry.Stop(releaseCtx, tokenAddress)
}

// Wait blocks until in-flight backend syncs finish.
func (e *Executor) Wait() {
	e.syncs.Wait()
}
