package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/sellflux/internal/data/collector"
	"github.com/songzhibin97/sellflux/internal/models"
)

const defaultBaseURL = "https://api.dexscreener.com"

type DexScreenerDataSource struct {
	baseURL    string
	httpClient *resty.Client
}

func NewDexScreenerDataSource(httpClient *resty.Client) *DexScreenerDataSource {
	return &DexScreenerDataSource{
		baseURL:    defaultBaseURL,
		httpClient: httpClient,
	}
}

func (d *DexScreenerDataSource) Name() string {
	return "dexscreener"
}

type pairsResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	ChainID     string  `json:"chainId"`
	PairAddress string  `json:"pairAddress"`
	PriceUsd    string  `json:"priceUsd"`
	MarketCap   float64 `json:"marketCap"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

func (d *DexScreenerDataSource) CollectTokenData(ctx context.Context, tokenAddress string) (*collector.Snapshot, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, tokenAddress)

	resp, err := d.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var result pairsResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Pairs) == 0 {
		return nil, fmt.Errorf("no pairs found for token %s", tokenAddress)
	}

	snap := &collector.Snapshot{
		Pairs: make([]models.DexScreenerPair, 0, len(result.Pairs)),
	}
	for _, p := range result.Pairs {
		snap.Pairs = append(snap.Pairs, models.DexScreenerPair{
			PairAddress: p.PairAddress,
			MarketCap:   p.MarketCap,
			Liquidity:   models.Liquidity{USD: p.Liquidity.USD},
		})
	}

	first := result.Pairs[0]
	if price, err := strconv.ParseFloat(first.PriceUsd, 64); err == nil && price > 0 {
		snap.HasTradeData = true
		snap.TradeData = models.TradeData{
			Price:                 price,
			Trade24hChangePercent: first.PriceChange.H24,
		}
	}

	return snap, nil
}
