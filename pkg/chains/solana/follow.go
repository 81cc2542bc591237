package solana

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/Iwinswap/iwinswap-swap-router-go/engine"
	"github.com/Iwinswap/iwinswap-swap-router-go/pipeline"
)

// missingRetryInterval is how often FollowDependencies looks for watched
// accounts still without data when the watch set has not changed.
const missingRetryInterval = 15 * time.Second

// FollowDependencies keeps the feed and the router in step with accounts
// discovered while running. Each time the router's watch set grows it asks
// the feed to resubscribe, then fetches the accounts that have no data yet
// and sends them to updates. It returns when ctx is done.
func FollowDependencies(ctx context.Context, r *engine.Router, fetcher AccountFetcher, updates chan<- pipeline.AccountUpdate, resubscribe chan<- struct{}, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ticker := time.NewTicker(missingRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.WatchSetChanged():
			if resubscribe != nil {
				select {
				case resubscribe <- struct{}{}:
				default:
				}
			}
		case <-ticker.C:
		}

		missing := r.MissingAccounts()
		if len(missing) == 0 {
			continue
		}
		fetched, err := FetchSnapshot(ctx, fetcher, missing)
		if err != nil {
			logger.Warn("Failed to fetch dependent accounts, will retry", "count", len(missing), "error", err)
			continue
		}
		logger.Info("Fetched dependent accounts", "requested", len(missing), "found", len(fetched))
		for _, u := range fetched {
			select {
			case updates <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
