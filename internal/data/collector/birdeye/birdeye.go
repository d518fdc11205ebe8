package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/sellflux/internal/data/collector"
	"github.com/songzhibin97/sellflux/internal/models"
)

const defaultBaseURL = "https://public-api.birdeye.so"

// BirdeyeDataSource supplies trade data (price and 24h change) only.
type BirdeyeDataSource struct {
	baseURL    string
	apiKey     string
	chain      string
	httpClient *resty.Client
}

func NewBirdeyeDataSource(apiKey string, httpClient *resty.Client) *BirdeyeDataSource {
	return &BirdeyeDataSource{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		chain:      "solana",
		httpClient: httpClient,
	}
}

func (b *BirdeyeDataSource) Name() string {
	return "birdeye"
}

type tradeDataResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Price                 float64 `json:"price"`
		PriceChange24hPercent float64 `json:"price_change_24h_percent"`
	} `json:"data"`
}

func (b *BirdeyeDataSource) CollectTokenData(ctx context.Context, tokenAddress string) (*collector.Snapshot, error) {
	url := fmt.Sprintf("%s/defi/v3/token/trade-data/single", b.baseURL)

	resp, err := b.httpClient.R().
		SetContext(ctx).
		SetQueryParam("address", tokenAddress).
		SetHeader("X-API-KEY", b.apiKey).
		SetHeader("x-chain", b.chain).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var result tradeDataResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !result.Success || result.Data == nil {
		return nil, fmt.Errorf("trade data not available for token %s", tokenAddress)
	}

	return &collector.Snapshot{
		HasTradeData: true,
		TradeData: models.TradeData{
			Price:                 result.Data.Price,
			Trade24hChangePercent: result.Data.PriceChange24hPercent,
		},
	}, nil
}
