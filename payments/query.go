package payments

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Query returns the current state of a payment attempt.
func (c *Controller) Query(id uuid.UUID) (attempt PaymentAttempt, err error) {
	err = c.db.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(AttemptKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("failed to query existing attempt: %w", err)
		}

		err = item.Value(func(val []byte) (err error) {
			err = attempt.FromBytes(val)
			if err != nil {
				return fmt.Errorf("failed to unmarshal attempt: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to retrieve value: %w", err)
		}
		return nil
	})
	if err != nil {
		return attempt, err
	}
	return attempt, nil
}
