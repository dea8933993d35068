package payments

import (
	"context"
	"fmt"
	"log"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"kejapay.africa/gateway/gateways"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/utils"
)

var unsettledPrefix = []byte("/unsettled/")

// Streams unsettled attempts into a channel. Intended to be consumed in
// parallel while querying the provider; the attempts channel must be
// drained.
func (c *Controller) streamUnsettledAttempts() (attempts chan PaymentAttempt, errChan chan error) {
	attempts = make(chan PaymentAttempt, 1_000)
	errChan = make(chan error, 1)
	go func() {
		defer close(attempts)
		defer close(errChan)

		errChan <- c.db.View(func(txn *badger.Txn) (err error) {
			options := badger.DefaultIteratorOptions
			options.Prefix = unsettledPrefix
			it := txn.NewIterator(options)
			defer it.Close()

			for it.Rewind(); it.ValidForPrefix(unsettledPrefix); it.Next() {
				var id uuid.UUID
				err = it.Item().Value(func(val []byte) (err error) {
					copy(id[:], val)
					return nil
				})
				if err != nil {
					err = fmt.Errorf("failed to retrieve attempt id: %w", err)
					log.Println(err) // We can't return but even then we need to try the others
					continue
				}

				item, err := txn.Get(AttemptKey(id))
				if err != nil {
					err = fmt.Errorf("failed to retrieve attempt: %w", err)
					log.Println(err)
					continue
				}

				var attempt PaymentAttempt
				err = item.Value(func(val []byte) (err error) {
					return attempt.FromBytes(val)
				})
				if err != nil {
					err = fmt.Errorf("failed to unmarshal attempt: %w", err)
					log.Println(err)
					continue
				}

				attempts <- attempt
			}

			return nil
		})
	}()
	return attempts, errChan
}

func (c *Controller) deleteUnsettled(id uuid.UUID) (err error) {
	err = c.db.Update(func(txn *badger.Txn) (err error) {
		return txn.Delete(UnsettledKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete unsettled key: %w", err)
	}
	return nil
}

// reconcileAttempt asks the provider once how an unresolved attempt really
// ended. A late completed result credits the ledger through the idempotent
// updater even when the attempt itself already ended cancelled or
// timed-out; such attempts stay in their terminal state and only the
// account changes.
func (c *Controller) reconcileAttempt(ctx context.Context, attempt PaymentAttempt) (err error) {
	switch {
	case attempt.Status == StatusCompleted, attempt.Status == StatusFailed:
		// settled or explicitly denied, nothing left to learn
		return c.deleteUnsettled(attempt.Id)
	case attempt.GatewayRequestId == "":
		// Died between claiming the account's slot and dispatching the
		// prompt. There is nothing to ask the provider about; resolving
		// releases the in-flight guard so the account can try again.
		if !attempt.Status.Terminal() {
			err = c.resolve(&attempt, Outcome{Status: StatusFailed, Reason: "no prompt dispatched"})
			if err != nil {
				return err
			}
		}
		return c.deleteUnsettled(attempt.Id)
	case c.clock.Now().Sub(attempt.CreatedAt) > c.settleWindow:
		log.Println("INFO|RECONCILE|EXPIRED", attempt.Id)
		if !attempt.Status.Terminal() {
			err = c.resolve(&attempt, Outcome{Status: StatusTimedOut, Reason: "settle window elapsed"})
			if err != nil {
				return err
			}
		}
		return c.deleteUnsettled(attempt.Id)
	}

	res, err := c.gateway.QueryStatus(ctx, attempt.GatewayRequestId)
	if err != nil {
		return fmt.Errorf("failed to query provider: %w", err)
	}

	switch res.Status {
	case gateways.StatusPending:
		// still unknown, try again next sweep
		return nil
	case gateways.StatusFailed:
		if !attempt.Status.Terminal() {
			return c.resolve(&attempt, Outcome{Status: StatusFailed, Reason: res.Reason})
		}
		return c.deleteUnsettled(attempt.Id)
	case gateways.StatusCompleted:
		record := ledger.PaymentRecord{
			ReceiptNumber:    res.ReceiptNumber,
			Amount:           attempt.Amount,
			CompletedAt:      c.clock.Now(),
			Method:           MethodMobileMoney,
			AccountReference: attempt.Reference,
		}
		_, applied, err := c.ledger.ApplyCompleted(ctx, attempt.AccountId, record)
		if err != nil {
			return fmt.Errorf("failed to credit ledger: %w", err)
		}
		if applied {
			log.Println("INFO|RECONCILE|SETTLED", attempt.Id, res.ReceiptNumber)
		}

		if !attempt.Status.Terminal() {
			return c.resolve(&attempt, Outcome{Status: StatusCompleted, ReceiptNumber: res.ReceiptNumber})
		}
		return c.deleteUnsettled(attempt.Id)
	}
	return nil
}

const MaxConcurrentReconciles = 100

// Reconcile sweeps all unsettled attempts and asks the provider how each
// really ended. Attempts with a live watcher are skipped; the watcher owns
// them.
func (c *Controller) Reconcile(ctx context.Context) (processed int, err error) {
	attempts, errChan := c.streamUnsettledAttempts()
	defer utils.ConsumeChannel(attempts)
	defer utils.ConsumeChannel(errChan)

	var jobs = utils.NewJobPull(MaxConcurrentReconciles)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for attempt := range attempts {
		if _, watching := c.lookupWatcher(attempt.Id); watching {
			continue
		}

		jobs.Get()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer jobs.Put()

			err := c.reconcileAttempt(ctx, attempt)
			if err != nil {
				log.Println("ERROR|RECONCILE", attempt.Id, err)
				return
			}
			mu.Lock()
			processed++
			mu.Unlock()
		}()
	}

	wg.Wait()

	err = <-errChan
	if err != nil {
		return processed, fmt.Errorf("failed to scan unsettled attempts: %w", err)
	}
	return processed, nil
}
