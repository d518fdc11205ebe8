package decision

import (
	"context"
)

// Engine decides whether a held token should enter a sell workflow
type Engine interface {
	// ShouldTradeToken reports whether tokenAddress is a sell candidate
	ShouldTradeToken(ctx context.Context, tokenAddress string) (bool, error)
}

// PassThrough treats every held token as a candidate.
type PassThrough struct{}

func (PassThrough) ShouldTradeToken(context.Context, string) (bool, error) {
	return true, nil
}
