package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/songzhibin97/sellflux/internal/data"
	"github.com/songzhibin97/sellflux/internal/decision"
)

// Engine asks a chat model whether a held token should be sold, given its current market snapshot
type Engine struct {
	client *openai.Client
	model  string
	market data.MarketDataSource
	logger *slog.Logger
}

var _ decision.Engine = (*Engine)(nil)

// NewEngineWithConfig creates a new OpenAI-backed decision engine
func NewEngineWithConfig(cfg openai.ClientConfig, model string, market data.MarketDataSource, logger *slog.Logger) *Engine {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Engine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		market: market,
		logger: logger,
	}
}

type verdict struct {
	ShouldTrade bool   `json:"should_trade"`
	Reason      string `json:"reason"`
}

// ShouldTradeToken implements the Engine interface
func (e *Engine) ShouldTradeToken(ctx context.Context, tokenAddress string) (bool, error) {
	snapshot, err := e.market.GetProcessedTokenData(ctx, tokenAddress)
	if err != nil {
		return false, fmt.Errorf("failed to get market data: %w", err)
	}

	marketCap, liquidity := snapshot.FirstPair()
	prompt := fmt.Sprintf(`A paper-trading agent holds the token below. Decide whether to start a sell workflow now.
Token address: %s
Price (USD): %.10f
24h change (%%): %.2f
Market cap (USD): %.2f
Liquidity (USD): %.2f

Respond with JSON only:
{
    "should_trade": bool,
    "reason": string
}`,
		tokenAddress,
		snapshot.TradeData.Price,
		snapshot.TradeData.Trade24hChangePercent,
		marketCap,
		liquidity)

	resp, err := e.createChatCompletion(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("failed to decide on %s: %w", tokenAddress, err)
	}

	var v verdict
	if err := json.Unmarshal([]byte(stripCodeFence(resp)), &v); err != nil {
		return false, fmt.Errorf("failed to parse decision: %w", err)
	}

	e.logger.Info("sell decision", "token", tokenAddress, "should_trade", v.ShouldTrade, "reason", v.Reason)
	return v.ShouldTrade, nil
}

// createChatCompletion is a helper function to make OpenAI API calls
func (e *Engine) createChatCompletion(ctx context.Context, prompt string) (string, error) {
	resp, err := e.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: e.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You are a cautious crypto trading assistant. Always answer with a single JSON object.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Temperature: 0.2,
		},
	)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a ```json fence some models wrap their answer in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
