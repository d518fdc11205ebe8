package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
)

const DefaultSymbol = "SOLUSDT"

// BinanceDataSource prices the settlement asset in USD from the Binance spot ticker
type BinanceDataSource struct {
	client  *binance.Client
	symbol  string
	timeout time.Duration
}

func NewBinanceDataSource(symbol string) *BinanceDataSource {
	if symbol == "" {
		symbol = DefaultSymbol
	}

	return &BinanceDataSource{
		client:  binance.NewClient("", ""),
		symbol:  symbol,
		timeout: 10 * time.Second,
	}
}

// SetTimeout bounds each price request.
func (b *BinanceDataSource) SetTimeout(d time.Duration) *BinanceDataSource {
	if d > 0 {
		b.timeout = d
	}
	return b
}

func (b *BinanceDataSource) Name() string {
	return "binance"
}

func (b *BinanceDataSource) FetchBasePrice(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	prices, err := b.client.NewListPricesService().Symbol(b.symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list prices: %w", err)
	}

	for _, p := range prices {
		if p.Symbol != b.symbol {
			continue
		}
		price, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse price: %w", err)
		}
		return price, nil
	}

	return 0, fmt.Errorf("price not found for symbol: %s", b.symbol)
}
