package store

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/nexus-timebank/backend/internal/apperr"
)

const (
	conflictAttempts = 5
	conflictDelay    = 10 * time.Millisecond
	conflictMaxDelay = 200 * time.Millisecond
)

// Atomic runs fn in a transaction and retries it while the store reports
// ErrConflict. fn must be safe to run more than once.
func Atomic(ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) error) error {
	retrier := retry.New(
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrConflict) && ctx.Err() == nil
		}),
		retry.Delay(conflictDelay),
		retry.MaxDelay(conflictMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Attempts(conflictAttempts),
		retry.LastErrorOnly(true),
	)
	err := retrier.Do(func() error {
		return s.WithTx(ctx, fn)
	})
	if errors.Is(err, ErrConflict) {
		return apperr.Wrap(apperr.ErrConflict, err)
	}
	return err
}
