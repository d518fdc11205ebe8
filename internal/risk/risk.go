package risk

import (
	"fmt"

	"github.com/songzhibin97/sellflux/internal/models"
)

type BasicEvaluator struct {
	params RiskParameters
}

var _ SellEvaluator = (*BasicEvaluator)(nil)

func NewBasicEvaluator(params RiskParameters) *BasicEvaluator {
	if params.RapidDumpPercent == 0 {
		params.RapidDumpPercent = DefaultRapidDumpPercent
	}
	if params.LiquidityDrainPercent == 0 {
		params.LiquidityDrainPercent = 50
	}
	return &BasicEvaluator{params: params}
}

// IsRapidDump reports whether the 24h change is strictly below the threshold.
func (e *BasicEvaluator) IsRapidDump(change24hPercent float64) bool {
	return change24hPercent < e.params.RapidDumpPercent
}

func (e *BasicEvaluator) EvaluateSell(data *models.ProcessedTokenData, buy *models.TradePerformance) *SellAssessment {
	assessment := &SellAssessment{
		RiskFactors: make([]string, 0),
	}

	change := data.TradeData.Trade24hChangePercent
	if e.IsRapidDump(change) {
		assessment.RapidDump = true
		assessment.RiskFactors = append(assessment.RiskFactors,
			fmt.Sprintf("Price dropped %.2f%% in 24h", -change))
	}

	marketCap, liquidity := data.FirstPair()
	if len(data.DexScreenerData.Pairs) == 0 {
		assessment.RiskFactors = append(assessment.RiskFactors,
			"No trading pair found; market cap and liquidity recorded as 0")
		return assessment
	}

	if buy != nil && buy.BuyLiquidity > 0 {
		drained := (buy.BuyLiquidity - liquidity) / buy.BuyLiquidity * 100
		if drained > e.params.LiquidityDrainPercent {
			assessment.RiskFactors = append(assessment.RiskFactors,
				fmt.Sprintf("Liquidity fell %.2f%% since buy", drained))
		}
	}

	if buy != nil && buy.BuyMarketCap > 0 && marketCap < buy.BuyMarketCap/2 {
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Market cap more than halved since buy")
	}

	return assessment
}
