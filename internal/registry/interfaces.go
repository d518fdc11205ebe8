package registry

import (
	"context"
	"encoding/json"
	"time"
)

// ActiveSet tracks tokens that are inside a sell workflow
type ActiveSet interface {
	// TryAdd atomically claims the token; false means another workflow holds it
	TryAdd(ctx context.Context, tokenAddress string) (bool, error)

	// Remove releases the token; removing an absent token is not an error
	Remove(ctx context.Context, tokenAddress string) error

	Contains(ctx context.Context, tokenAddress string) (bool, error)

	// List returns the claimed tokens in no particular order
	List(ctx context.Context) ([]string, error)
}

// Expiring is implemented by sets whose claims lapse unless refreshed
type Expiring interface {
	// Refresh extends every live claim by TTL and returns how many were extended
	Refresh(ctx context.Context) (int, error)

	TTL() time.Duration
}

// JobController starts and stops remote simulation jobs on the execution backend
type JobController interface {
	// StartJob returns the backend's job handle
	StartJob(ctx context.Context, req StartRequest) (json.RawMessage, error)

	// StopJob is idempotent on the backend side
	StopJob(ctx context.Context, tokenAddress string) error
}

// StartRequest 启动远程模拟卖出任务
type StartRequest struct {
	TokenAddress      string  `json:"tokenAddress"`
	Balance           float64 `json:"balance"`
	SellRecommenderID string  `json:"sell_recommender_id"`
}
