package risk

import (
	"github.com/songzhibin97/sellflux/internal/models"
)

// DefaultRapidDumpPercent 24h 跌幅阈值（不含边界）
const DefaultRapidDumpPercent = -50.0

// SellEvaluator describes the market conditions a sell happened in
type SellEvaluator interface {
	// EvaluateSell flags risk indicators for a sell; never gates the sell itself
	EvaluateSell(data *models.ProcessedTokenData, buy *models.TradePerformance) *SellAssessment
}

// RiskParameters 风险参数配置
type RiskParameters struct {
	RapidDumpPercent float64 `json:"rapid_dump_percent" yaml:"rapid_dump_percent"`
	// LiquidityDrainPercent flags sells where pool liquidity fell by more than this share since the buy
	LiquidityDrainPercent float64 `json:"liquidity_drain_percent" yaml:"liquidity_drain_percent"`
}

// SellAssessment 卖出风险评估结果
type SellAssessment struct {
	RapidDump   bool     `json:"rapid_dump"`
	RiskFactors []string `json:"risk_factors"`
}
