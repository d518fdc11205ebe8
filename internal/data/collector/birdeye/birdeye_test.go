package birdeye

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBirdeyeDataSource_CollectTokenData(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		expectError bool
		wantPrice   float64
		wantChange  float64
	}{
		{
			name:       "valid response",
			status:     http.StatusOK,
			body:       `{"success":true,"data":{"price":0.6,"price_change_24h_percent":-51}}`,
			wantPrice:  0.6,
			wantChange: -51,
		},
		{
			name:        "unsuccessful",
			status:      http.StatusOK,
			body:        `{"success":false,"data":null}`,
			expectError: true,
		},
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			body:        `{"success":false,"message":"Unauthorized"}`,
			expectError: true,
		},
		{
			name:        "malformed",
			status:      http.StatusOK,
			body:        `{"success":`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/defi/v3/token/trade-data/single", r.URL.Path)
				assert.Equal(t, "TKN1", r.URL.Query().Get("address"))
				assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
				assert.Equal(t, "solana", r.Header.Get("x-chain"))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			ds := NewBirdeyeDataSource("key", resty.NewWithClient(server.Client()))
			ds.baseURL = server.URL

			snap, err := ds.CollectTokenData(context.Background(), "TKN1")
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, snap)
				return
			}

			require.NoError(t, err)
			assert.True(t, snap.HasTradeData)
			assert.Equal(t, tt.wantPrice, snap.TradeData.Price)
			assert.Equal(t, tt.wantChange, snap.TradeData.Trade24hChangePercent)
			assert.Empty(t, snap.Pairs)
		})
	}
}
