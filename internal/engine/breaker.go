package engine

import (
	"context"
	"log"
)

// Breaker tracks consecutive execution failures per handle and pauses an
// account once the threshold is reached. State lives on the account row so a
// pause survives restarts. A success zeroes the counter but never lifts an
// existing pause; only ResetPause (operator action) does.
type Breaker struct {
	accounts  AccountStore
	threshold int
}

// NewBreaker creates a breaker pausing accounts after threshold consecutive
// failures.
func NewBreaker(accounts AccountStore, threshold int) *Breaker {
	return &Breaker{accounts: accounts, threshold: threshold}
}

// RecordFailure counts one execution failure. Returns true when the account
// is now paused. Gating rejections (quota, pause) are not failures and must
// not be recorded.
func (b *Breaker) RecordFailure(ctx context.Context, handle string) (bool, error) {
	failures, paused, err := b.accounts.RecordAccountFailure(ctx, handle, b.threshold)
	if err != nil {
		return false, err
	}
	if paused && failures >= b.threshold {
		log.Printf("Account %s paused after %d consecutive failures", handle, failures)
	}
	return paused, nil
}

// RecordSuccess zeroes the consecutive-failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context, handle string) error {
	return b.accounts.ResetAccountFailures(ctx, handle)
}

// ResetPause lifts a pause and zeroes the counter. Exposed to operator
// tooling; never called by the engine itself.
func (b *Breaker) ResetPause(ctx context.Context, handle string) (bool, error) {
	return b.accounts.ClearAccountPause(ctx, handle)
}
