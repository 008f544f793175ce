package bridge

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-retry"
)

// poll checks cond at a fixed interval until it holds, the load timeout
// elapses or ctx is cancelled. The sandbox exposes no readiness event, only
// a flag, so a one-shot check would race its own startup.
func (b *Bridge) poll(ctx context.Context, what string, cond func() bool) error {
	backoff := retry.NewConstant(b.pollInterval)
	if b.loadTimeout > 0 {
		backoff = retry.WithMaxDuration(b.loadTimeout, backoff)
	}

	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		if cond() {
			return nil
		}
		return retry.RetryableError(fmt.Errorf("timed out waiting for %s", what))
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		}
		return err
	}
	return nil
}
