package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TradeMode 交易模式
type TradeMode int

const (
	// Simulated trades move no assets; used for paper trading.
	Simulated TradeMode = iota
	// Live trades settle on chain.
	Live
)

func (m TradeMode) String() string {
	switch m {
	case Simulated:
		return "simulated"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("TradeMode(%d)", int(m))
	}
}

// IsSimulation reports the wire/storage flag for the mode.
func (m TradeMode) IsSimulation() bool {
	return m == Simulated
}

// ModeFromSimulation converts a stored is_simulation flag back into a mode.
func ModeFromSimulation(isSimulation bool) TradeMode {
	if isSimulation {
		return Simulated
	}
	return Live
}

// SellInstruction 卖出指令，来自队列
type SellInstruction struct {
	TokenAddress      string  `json:"tokenAddress"`
	Amount            float64 `json:"amount"`
	SellRecommenderID *string `json:"sell_recommender_id"`
}

// Validate checks the fields a sell cannot be priced without.
func (s *SellInstruction) Validate() error {
	if s.TokenAddress == "" {
		return fmt.Errorf("%w: missing tokenAddress", ErrDataIntegrity)
	}
	if math.IsNaN(s.Amount) || math.IsInf(s.Amount, 0) || s.Amount < 0 {
		return fmt.Errorf("%w: invalid sell amount %v for %s", ErrDataIntegrity, s.Amount, s.TokenAddress)
	}
	return nil
}

// TokenPerformance 代币持仓表现
type TokenPerformance struct {
	TokenAddress  string  `json:"token_address"`
	TokenSymbol   string  `json:"token_symbol"`
	RecommenderID string  `json:"recommender_id"`
	Balance       float64 `json:"balance"`
}

// Recommender 推荐人
type Recommender struct {
	ID         string `json:"id"`
	TelegramID string `json:"telegram_id"`
}

// TradePerformance 单笔交易表现（买入快照 + 可选卖出快照）
type TradePerformance struct {
	TokenAddress  string       `json:"token_address"`
	RecommenderID string       `json:"recommender_id"`
	BuyTimestamp  time.Time    `json:"buy_timeStamp"`
	BuyValueUSD   float64      `json:"buy_value_usd"`
	BuyMarketCap  float64      `json:"buy_market_cap"`
	BuyLiquidity  float64      `json:"buy_liquidity"`
	Mode          TradeMode    `json:"-"`
	Sell          *SellDetails `json:"sell,omitempty"`
}

// SellDetails 卖出快照
type SellDetails struct {
	SellPrice         float64   `json:"sell_price"`
	SellTimestamp     time.Time `json:"sell_timeStamp"`
	SellAmount        float64   `json:"sell_amount"`
	ReceivedBase      float64   `json:"received_sol"`
	SellValueUSD      float64   `json:"sell_value_usd"`
	ProfitUSD         float64   `json:"profit_usd"`
	ProfitPercent     float64   `json:"profit_percent"`
	SellMarketCap     float64   `json:"sell_market_cap"`
	MarketCapChange   float64   `json:"market_cap_change"`
	SellLiquidity     float64   `json:"sell_liquidity"`
	LiquidityChange   float64   `json:"liquidity_change"`
	RapidDump         bool      `json:"rapidDump"`
	SellRecommenderID *string   `json:"sell_recommender_id"`
}

// MarshalJSON encodes an undefined profit percent as null; encoding/json rejects NaN.
func (d SellDetails) MarshalJSON() ([]byte, error) {
	type plain SellDetails
	out := struct {
		plain
		ProfitPercent *float64 `json:"profit_percent"`
	}{plain: plain(d)}
	if !math.IsNaN(d.ProfitPercent) && !math.IsInf(d.ProfitPercent, 0) {
		p := d.ProfitPercent
		out.ProfitPercent = &p
	}
	return json.Marshal(out)
}

// Transaction 交易流水（只追加）
type Transaction struct {
	TokenAddress    string    `json:"tokenAddress"`
	Type            string    `json:"type"`
	TransactionHash string    `json:"transactionHash"`
	Amount          float64   `json:"amount"`
	Price           float64   `json:"price"`
	Mode            TradeMode `json:"-"`
	Timestamp       time.Time `json:"timestamp"`
}

// ProcessedTokenData 行情快照
type ProcessedTokenData struct {
	TradeData       TradeData       `json:"tradeData"`
	DexScreenerData DexScreenerData `json:"dexScreenerData"`
}

// TradeData 成交数据
type TradeData struct {
	Price                 float64 `json:"price"`
	Trade24hChangePercent float64 `json:"trade_24h_change_percent"`
}

// DexScreenerData 交易对数据
type DexScreenerData struct {
	Pairs []DexScreenerPair `json:"pairs"`
}

// DexScreenerPair 单个交易对
type DexScreenerPair struct {
	PairAddress string    `json:"pairAddress"`
	MarketCap   float64   `json:"marketCap"`
	Liquidity   Liquidity `json:"liquidity"`
}

// Liquidity 流动性
type Liquidity struct {
	USD float64 `json:"usd"`
}

// FirstPair returns the market cap and USD liquidity of the first pair, or zeros when there is none.
func (p *ProcessedTokenData) FirstPair() (marketCap, liquidity float64) {
	if len(p.DexScreenerData.Pairs) == 0 {
		return 0, 0
	}
	pair := p.DexScreenerData.Pairs[0]
	return pair.MarketCap, pair.Liquidity.USD
}
