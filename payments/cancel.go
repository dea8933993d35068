package payments

import (
	"context"
	"github.com/google/uuid"
)

// Cancel stops an in-flight attempt's confirmation wait. From the caller's
// perspective the attempt is cancelled once Cancel returns; the underlying
// real-world payment may still have gone through, in which case the
// reconciler credits the late receipt to the ledger exactly once.
func (c *Controller) Cancel(ctx context.Context, id uuid.UUID) (attempt PaymentAttempt, err error) {
	w, found := c.lookupWatcher(id)
	if found {
		w.cancel()
		select {
		case <-w.done:
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}

	attempt, err = c.Query(id)
	if err != nil {
		return attempt, err
	}

	// No live watcher and not yet terminal: the attempt was orphaned by a
	// restart. Resolve it directly.
	if !found && !attempt.Status.Terminal() {
		err = c.resolve(&attempt, Outcome{Status: StatusCancelled})
		if err != nil {
			return attempt, err
		}
	}
	return attempt, nil
}
