package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadlineExceeded is returned by Poll when the overall deadline passes
// before the checked operation reports completion.
var ErrDeadlineExceeded = errors.New("poll deadline exceeded")

// PollFunc reports whether the polled operation is finished. A non-nil
// error stops polling unless it is marked retryable, in which case the
// attempt is treated as "not done yet".
type PollFunc func(ctx context.Context) (done bool, err error)

// Poll calls fn until it reports done, the timeout elapses, or ctx is
// cancelled. Waits between calls grow per policy; MaxRetries is ignored,
// the timeout is the only bound.
func Poll(ctx context.Context, policy Policy, timeout time.Duration, fn PollFunc) error {
	policy = policy.normalized()
	if timeout <= 0 {
		return fmt.Errorf("poll: timeout must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		done, err := fn(ctx)
		switch {
		case err != nil && !shouldRetryPoll(err):
			return err
		case err == nil && done:
			return nil
		}

		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrDeadlineExceeded, timeout)
			}
			return err
		}
	}
}

func shouldRetryPoll(err error) bool {
	return IsRetryableError(err)
}
