package flow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	api "github.com/mohitkumar/loanflow/api/v1"
)

// RetryOnConflict runs fn up to attempts times, backing off between tries
// while fn fails with a conflict. Any other error stops the retries.
// fn must reload whatever it writes.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || api.IsConflict(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
