package ledger

import (
	"context"
	"errors"
)

var ErrAccountNotFound = errors.New("account not found")

// Store persists accounts. Update must serialize mutations per account: no
// two Update calls for the same account id may run their closures
// concurrently, and the mutated account must be durable before Update
// returns.
type Store interface {
	// Load an account by id
	Load(ctx context.Context, id string) (account Account, err error)

	// Create or overwrite an account
	Put(ctx context.Context, account Account) (err error)

	// Atomically mutate the account under fn. Returning an error from fn
	// aborts the update without persisting anything
	Update(ctx context.Context, id string, fn func(account *Account) error) (err error)
}
