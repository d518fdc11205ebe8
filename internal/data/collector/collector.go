package collector

import (
	"context"
	"fmt"
	"sync"

	"github.com/songzhibin97/sellflux/internal/data"
	"github.com/songzhibin97/sellflux/internal/models"
)

// MultiSourceCollector implements MarketDataSource by merging multiple token data sources
type MultiSourceCollector struct {
	sources   []DataSource
	basePrice BasePriceSource
	logger    Logger
}

var _ data.MarketDataSource = (*MultiSourceCollector)(nil)

type Logger interface {
	Error(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
}

// DataSource returns a (possibly partial) token snapshot. A source that only knows trade data
// leaves Pairs empty; one that only knows pairs returns a zero TradeData and HasTradeData false.
type DataSource interface {
	Name() string
	CollectTokenData(ctx context.Context, tokenAddress string) (*Snapshot, error)
}

type BasePriceSource interface {
	Name() string
	FetchBasePrice(ctx context.Context) (float64, error)
}

// Snapshot 单个数据源的结果
type Snapshot struct {
	HasTradeData bool
	TradeData    models.TradeData
	Pairs        []models.DexScreenerPair
}

func NewMultiSourceCollector(sources []DataSource, basePrice BasePriceSource, logger Logger) *MultiSourceCollector {
	return &MultiSourceCollector{
		sources:   sources,
		basePrice: basePrice,
		logger:    logger,
	}
}

// GetProcessedTokenData implements MarketDataSource interface. Sources are queried concurrently;
// trade data comes from the first source (in configured order) that has it, pairs likewise.
func (c *MultiSourceCollector) GetProcessedTokenData(ctx context.Context, tokenAddress string) (*models.ProcessedTokenData, error) {
	results := make([]*Snapshot, len(c.sources))
	var wg sync.WaitGroup

	for i, source := range c.sources {
		wg.Add(1)
		go func(i int, src DataSource) {
			defer wg.Done()

			snap, err := src.CollectTokenData(ctx, tokenAddress)
			if err != nil {
				c.logger.Error("failed to collect token data", "source", src.Name(), "token", tokenAddress, "error", err)
				return
			}
			results[i] = snap
			c.logger.Info("collected token data", "source", src.Name(), "token", tokenAddress)
		}(i, source)
	}

	wg.Wait()

	out := &models.ProcessedTokenData{}
	var haveTrade, havePairs bool
	for _, snap := range results {
		if snap == nil {
			continue
		}
		if !haveTrade && snap.HasTradeData {
			out.TradeData = snap.TradeData
			haveTrade = true
		}
		if !havePairs && len(snap.Pairs) > 0 {
			out.DexScreenerData.Pairs = snap.Pairs
			havePairs = true
		}
	}

	if !haveTrade {
		return nil, fmt.Errorf("%w: failed to collect trade data for %s from all sources", models.ErrTransport, tokenAddress)
	}

	return out, nil
}

// FetchBasePrice implements MarketDataSource interface
func (c *MultiSourceCollector) FetchBasePrice(ctx context.Context) (float64, error) {
	if c.basePrice == nil {
		return 0, fmt.Errorf("%w: no base price source configured", models.ErrConfiguration)
	}

	price, err := c.basePrice.FetchBasePrice(ctx)
	if err != nil {
		c.logger.Error("failed to fetch base price", "source", c.basePrice.Name(), "error", err)
		return 0, fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive base price %v from %s", models.ErrDataIntegrity, price, c.basePrice.Name())
	}

	return price, nil
}
