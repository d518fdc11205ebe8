package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/sellflux/internal/models"
)

type stubSource struct {
	name string
	snap *Snapshot
	err  error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) CollectTokenData(context.Context, string) (*Snapshot, error) {
	return s.snap, s.err
}

type stubPrice struct {
	price float64
	err   error
}

func (s *stubPrice) Name() string { return "stub" }

func (s *stubPrice) FetchBasePrice(context.Context) (float64, error) { return s.price, s.err }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMultiSourceCollector_GetProcessedTokenData(t *testing.T) {
	tradeOnly := &stubSource{name: "trade", snap: &Snapshot{
		HasTradeData: true,
		TradeData:    models.TradeData{Price: 0.6, Trade24hChangePercent: -60},
	}}
	pairsOnly := &stubSource{name: "pairs", snap: &Snapshot{
		HasTradeData: true,
		TradeData:    models.TradeData{Price: 0.7, Trade24hChangePercent: 1},
		Pairs:        []models.DexScreenerPair{{MarketCap: 1200, Liquidity: models.Liquidity{USD: 180}}},
	}}
	failing := &stubSource{name: "down", err: errors.New("connection refused")}

	tests := []struct {
		name        string
		sources     []DataSource
		expectError bool
		wantPrice   float64
		wantMcap    float64
	}{
		{
			name:      "trade data from first source, pairs from second",
			sources:   []DataSource{tradeOnly, pairsOnly},
			wantPrice: 0.6,
			wantMcap:  1200,
		},
		{
			name:      "order decides which trade data wins",
			sources:   []DataSource{pairsOnly, tradeOnly},
			wantPrice: 0.7,
			wantMcap:  1200,
		},
		{
			name:      "failing source is skipped",
			sources:   []DataSource{failing, tradeOnly},
			wantPrice: 0.6,
			wantMcap:  0,
		},
		{
			name:        "all sources failing",
			sources:     []DataSource{failing},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMultiSourceCollector(tt.sources, &stubPrice{price: 100}, discard)

			data, err := c.GetProcessedTokenData(context.Background(), "TKN1")
			if tt.expectError {
				assert.ErrorIs(t, err, models.ErrTransport)
				assert.Nil(t, data)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, data.TradeData.Price)
			mcap, _ := data.FirstPair()
			assert.Equal(t, tt.wantMcap, mcap)
		})
	}
}

func TestMultiSourceCollector_FetchBasePrice(t *testing.T) {
	ctx := context.Background()

	c := NewMultiSourceCollector(nil, &stubPrice{price: 150}, discard)
	price, err := c.FetchBasePrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, 150.0, price)

	c = NewMultiSourceCollector(nil, &stubPrice{err: errors.New("timeout")}, discard)
	_, err = c.FetchBasePrice(ctx)
	assert.ErrorIs(t, err, models.ErrTransport)

	c = NewMultiSourceCollector(nil, &stubPrice{price: 0}, discard)
	_, err = c.FetchBasePrice(ctx)
	assert.ErrorIs(t, err, models.ErrDataIntegrity)

	c = NewMultiSourceCollector(nil, nil, discard)
	_, err = c.FetchBasePrice(ctx)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
