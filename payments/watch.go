package payments

import (
	"context"
	"fmt"
	"log"

	badger "github.com/dgraph-io/badger/v4"
	"kejapay.africa/gateway/gateways"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/utils"
)

// watch drives one attempt from prompt-sent to a terminal state.
func (c *Controller) watch(ctx context.Context, attempt PaymentAttempt, w watcher) {
	defer c.wg.Done()
	defer c.unregisterWatcher(attempt.Id, w)

	attempt.Status = StatusConfirming
	err := c.save(&attempt)
	if err != nil {
		log.Println("ERROR|WATCH|SAVE", attempt.Id, err)
	}
	c.emit(&attempt)

	outcome := c.awaitOutcome(ctx, &attempt)
	c.settle(&attempt, outcome)
}

// awaitOutcome polls the provider until the prompt resolves, the pending
// budget runs out, or the wait is cancelled. Poll transport errors are
// transient: they do not consume a pending-budget slot but are bounded by
// their own consecutive cap, and exhausting either bound reports timed-out
// rather than failed because the payment may still settle out-of-band.
func (c *Controller) awaitOutcome(ctx context.Context, attempt *PaymentAttempt) (outcome Outcome) {
	transient := 0
	polls := 0
	for {
		if ctx.Err() != nil {
			return Outcome{Status: StatusCancelled}
		}

		res, err := c.gateway.QueryStatus(ctx, attempt.GatewayRequestId)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Outcome{Status: StatusCancelled}
			}
			transient++
			log.Println("WARN|POLL|TRANSIENT", attempt.Id, transient, err)
			if transient > c.maxTransientErrors {
				return Outcome{Status: StatusTimedOut, Reason: "status endpoint unreachable"}
			}
		case res.Status == gateways.StatusCompleted:
			return Outcome{Status: StatusCompleted, ReceiptNumber: res.ReceiptNumber}
		case res.Status == gateways.StatusFailed:
			return Outcome{Status: StatusFailed, Reason: res.Reason}
		default:
			transient = 0
			polls++
			if polls >= c.maxPollAttempts {
				return Outcome{Status: StatusTimedOut}
			}
		}

		err = c.clock.Sleep(ctx, c.pollInterval)
		if err != nil {
			return Outcome{Status: StatusCancelled}
		}
	}
}

// settle applies the outcome to the ledger and records the terminal
// transition. Only a completed outcome touches the account. If the ledger
// write fails the attempt stays confirming with its unsettled marker, and
// the reconciler retries the idempotent application later.
func (c *Controller) settle(attempt *PaymentAttempt, outcome Outcome) {
	ctx, cancel := utils.NewContext()
	defer cancel()

	if outcome.Status == StatusCompleted {
		record := ledger.PaymentRecord{
			ReceiptNumber:    outcome.ReceiptNumber,
			Amount:           attempt.Amount,
			CompletedAt:      c.clock.Now(),
			Method:           MethodMobileMoney,
			AccountReference: attempt.Reference,
		}
		_, _, err := c.ledger.ApplyCompleted(ctx, attempt.AccountId, record)
		if err != nil {
			log.Println("ERROR|SETTLE|LEDGER", attempt.Id, err)
			return
		}
	}

	err := c.resolve(attempt, outcome)
	if err != nil {
		log.Println("ERROR|SETTLE|RESOLVE", attempt.Id, err)
	}
}

// resolve records the terminal transition and releases the account's
// single-flight slot. Cancelled and timed-out attempts keep their unsettled
// marker: their real-world outcome is unknown and the reconciler may still
// credit a late receipt.
func (c *Controller) resolve(attempt *PaymentAttempt, outcome Outcome) (err error) {
	if attempt.Status.Terminal() {
		return nil
	}

	attempt.Status = outcome.Status
	attempt.Reason = outcome.Reason
	if outcome.Status == StatusCompleted {
		attempt.ReceiptNumber = outcome.ReceiptNumber
	}
	attempt.ResolvedAt = c.clock.Now()

	var settledElsewhere bool
	err = c.db.Update(func(txn *badger.Txn) (err error) {
		// Re-check under the transaction: someone else may have settled
		// the attempt since our copy was read.
		item, err := txn.Get(AttemptKey(attempt.Id))
		if err == nil {
			var stored PaymentAttempt
			err = item.Value(func(val []byte) (err error) {
				return stored.FromBytes(val)
			})
			if err == nil && stored.Status.Terminal() {
				*attempt = stored
				settledElsewhere = true
				return nil
			}
		}

		err = txn.Set(AttemptKey(attempt.Id), attempt.Bytes())
		if err != nil {
			return fmt.Errorf("failed to save attempt: %w", err)
		}

		err = txn.Delete(InflightKey(attempt.AccountId))
		if err != nil {
			return fmt.Errorf("failed to release in-flight guard: %w", err)
		}

		switch outcome.Status {
		case StatusCancelled, StatusTimedOut:
			// keep the unsettled marker
		default:
			err = txn.Delete(UnsettledKey(attempt.Id))
			if err != nil {
				return fmt.Errorf("failed to delete unsettled key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resolve attempt: %w", err)
	}
	if settledElsewhere {
		return nil
	}

	c.emit(attempt)
	return nil
}
