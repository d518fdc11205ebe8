package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/songzhibin97/sellflux/internal/metrics"
)

// Registry prevents concurrent sell workflows for a token and mirrors the active set to the
// execution backend. Its operations never return errors: remote failures are logged and the
// local set stays consistent on its own.
type Registry struct {
	set     ActiveSet
	jobs    JobController
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(set ActiveSet, jobs JobController, logger *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		set:     set,
		jobs:    jobs,
		logger:  logger,
		metrics: m,
	}
}

// TryStart claims the token and starts a remote job for it. The claim is taken before the
// remote call so two concurrent callers cannot both start; it is released if the start fails.
func (r *Registry) TryStart(ctx context.Context, tokenAddress string, balance float64, recommenderID string) bool {
	claimed, err := r.set.TryAdd(ctx, tokenAddress)
	if err != nil {
		r.metrics.ObserveJob("start", "error")
		r.logger.Error("failed to claim token", "token", tokenAddress, "err", err)
		return false
	}
	if !claimed {
		r.metrics.ObserveJob("start", "already_active")
		r.logger.Debug("token already active", "token", tokenAddress)
		return false
	}

	handle, err := r.jobs.StartJob(ctx, StartRequest{
		TokenAddress:      tokenAddress,
		Balance:           balance,
		SellRecommenderID: recommenderID,
	})
	if err != nil {
		r.metrics.ObserveJob("start", "error")
		r.logger.Error("failed to start simulation job", "token", tokenAddress, "err", err)
		if err := r.set.Remove(ctx, tokenAddress); err != nil {
			r.logger.Error("failed to release token claim", "token", tokenAddress, "err", err)
		}
		r.refreshGauge(ctx)
		return false
	}

	r.metrics.ObserveJob("start", "ok")
	r.logger.Info("simulation job started", "token", tokenAddress, "balance", balance, "job", string(handle))
	r.refreshGauge(ctx)
	return true
}

// Stop stops the remote job and releases the token. Safe to call for inactive tokens.
func (r *Registry) Stop(ctx context.Context, tokenAddress string) {
	if err := r.jobs.StopJob(ctx, tokenAddress); err != nil {
		r.metrics.ObserveJob("stop", "error")
		r.logger.Error("failed to stop simulation job", "token", tokenAddress, "err", err)
	} else {
		r.metrics.ObserveJob("stop", "ok")
		r.logger.Info("simulation job stopped", "token", tokenAddress)
	}

	if err := r.set.Remove(ctx, tokenAddress); err != nil {
		r.logger.Error("failed to release token", "token", tokenAddress, "err", err)
	}
	r.refreshGauge(ctx)
}

// IsActive treats a lookup failure as active so callers skip rather than double-start.
func (r *Registry) IsActive(ctx context.Context, tokenAddress string) bool {
	ok, err := r.set.Contains(ctx, tokenAddress)
	if err != nil {
		r.logger.Error("failed to check active token", "token", tokenAddress, "err", err)
		return true
	}
	return ok
}

// Active lists active tokens; on failure it logs and returns nil.
func (r *Registry) Active(ctx context.Context) []string {
	tokens, err := r.set.List(ctx)
	if err != nil {
		r.logger.Error("failed to list active tokens", "err", err)
		return nil
	}
	return tokens
}

// KeepAlive refreshes expiring claims at a third of their TTL until ctx is done, so a remote
// job that outlives the TTL keeps its token. It returns at once for sets that never expire.
func (r *Registry) KeepAlive(ctx context.Context) {
	exp, ok := r.set.(Expiring)
	if !ok {
		return
	}
	interval := exp.TTL() / 3
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := exp.Refresh(ctx)
			if err != nil {
				r.logger.Error("failed to refresh active tokens", "err", err)
				continue
			}
			r.logger.Debug("refreshed active tokens", "count", n)
		}
	}
}

func (r *Registry) refreshGauge(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if tokens, err := r.set.List(ctx); err == nil {
		r.metrics.SetActiveJobs(len(tokens))
	}
}
