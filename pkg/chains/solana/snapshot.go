package solana

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Iwinswap/iwinswap-swap-router-go/engine"
	"github.com/Iwinswap/iwinswap-swap-router-go/pipeline"
)

// getMultipleAccounts accepts at most this many keys per request.
const maxAccountsPerRequest = 100

// maxDependencyRounds bounds how many times Bootstrap follows accounts that
// decoding revealed.
const maxDependencyRounds = 4

// AccountFetcher is the part of *rpc.Client a snapshot needs.
type AccountFetcher interface {
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solanago.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
}

// FetchSnapshot loads keys in batches. Accounts that do not exist are left
// out of the result.
func FetchSnapshot(ctx context.Context, fetcher AccountFetcher, keys []solanago.PublicKey) ([]pipeline.AccountUpdate, error) {
	updates := make([]pipeline.AccountUpdate, 0, len(keys))
	for start := 0; start < len(keys); start += maxAccountsPerRequest {
		batch := keys[start:min(start+maxAccountsPerRequest, len(keys))]
		res, err := fetcher.GetMultipleAccountsWithOpts(ctx, batch, &rpc.GetMultipleAccountsOpts{
			Encoding:   solanago.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, fmt.Errorf("get accounts %d-%d: %w", start, start+len(batch), err)
		}
		if len(res.Value) != len(batch) {
			return nil, fmt.Errorf("get accounts %d-%d: %d results for %d keys", start, start+len(batch), len(res.Value), len(batch))
		}
		for i, acc := range res.Value {
			if acc == nil {
				continue
			}
			u := pipeline.AccountUpdate{
				Key:      batch[i],
				Owner:    acc.Owner,
				Lamports: acc.Lamports,
				Slot:     res.Context.Slot,
			}
			if acc.Data != nil {
				u.Data = acc.Data.GetBinary()
			}
			updates = append(updates, u)
		}
	}
	return updates, nil
}

// Bootstrap loads every watched account into r, then keeps fetching the
// accounts that decoding added to the watch set until none are new.
func Bootstrap(ctx context.Context, r *engine.Router, fetcher AccountFetcher, logger *slog.Logger) (pipeline.Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	snapshot, err := FetchSnapshot(ctx, fetcher, r.WatchedAccounts())
	if err != nil {
		return pipeline.Result{}, err
	}
	total := r.Bootstrap(snapshot)

	for round := 0; round < maxDependencyRounds; round++ {
		missing := r.MissingAccounts()
		if len(missing) == 0 {
			break
		}
		more, err := FetchSnapshot(ctx, fetcher, missing)
		if err != nil {
			return total, err
		}
		if len(more) == 0 {
			logger.Warn("Watched accounts do not exist on chain", "count", len(missing))
			break
		}
		for _, u := range more {
			res := r.Apply(u)
			total.Replaced += res.Replaced
			total.Invalidated += res.Invalidated
		}
		logger.Info("Fetched dependent accounts", "round", round+1, "accounts", len(more))
	}
	return total, nil
}
