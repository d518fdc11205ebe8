package data

import (
	"context"
	"time"

	"github.com/songzhibin97/sellflux/internal/models"
)

// MarketDataSource 负责提供代币行情
type MarketDataSource interface {
	// GetProcessedTokenData retrieves price, 24h change, market cap and liquidity for a token
	GetProcessedTokenData(ctx context.Context, tokenAddress string) (*models.ProcessedTokenData, error)

	// FetchBasePrice retrieves the USD price of the base asset the sell is settled in
	FetchBasePrice(ctx context.Context) (float64, error)
}

// PerformanceStore 处理交易表现的持久化
type PerformanceStore interface {
	// GetTokenPerformance returns models.ErrNotFound when the token is unknown
	GetTokenPerformance(ctx context.Context, tokenAddress string) (*models.TokenPerformance, error)

	// GetAllTokenPerformancesWithBalance lists tokens with a nonzero balance
	GetAllTokenPerformancesWithBalance(ctx context.Context) ([]models.TokenPerformance, error)

	// GetOrCreateRecommenderWithTelegramID is idempotent on the telegram identifier
	GetOrCreateRecommenderWithTelegramID(ctx context.Context, telegramID string) (*models.Recommender, error)

	// GetLatestTradePerformance returns models.ErrNotFound when no buy was recorded
	GetLatestTradePerformance(ctx context.Context, tokenAddress, recommenderID string, mode models.TradeMode) (*models.TradePerformance, error)

	// UpdateTradePerformanceOnSell writes the sell snapshot onto the buy keyed by buyTimestamp
	UpdateTradePerformanceOnSell(ctx context.Context, tokenAddress, recommenderID string, buyTimestamp time.Time, sell *models.SellDetails, mode models.TradeMode) error

	GetTokenBalance(ctx context.Context, tokenAddress string) (float64, error)

	UpdateTokenBalance(ctx context.Context, tokenAddress string, balance float64) error

	// AddTransaction appends to the transaction log
	AddTransaction(ctx context.Context, txn *models.Transaction) error

	// WithTx runs fn against a store whose writes commit or roll back together
	WithTx(ctx context.Context, fn func(store PerformanceStore) error) error
}
