package payments

import (
	"context"
	"errors"
	"fmt"
	"log"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"kejapay.africa/gateway/gateways"
)

type Initiate struct {
	// Paying account
	AccountId string
	// Tenant and property the rent is for
	TenantId   string
	PropertyId string
	// Destination phone, local or international form
	Phone string
	// Amount to request, whole currency units
	Amount uint64
}

func (c *Controller) validateAmount(amount uint64) (err error) {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if c.minAmount > 0 && amount < c.minAmount {
		return fmt.Errorf("%w: amount should be greater or equal than %d", ErrInvalidAmount, c.minAmount)
	}
	if c.maxAmount > 0 && amount > c.maxAmount {
		return fmt.Errorf("%w: amount should be less or equal than %d", ErrInvalidAmount, c.maxAmount)
	}
	return nil
}

// Initiate starts one push-payment cycle: it validates the request, claims
// the account's single-flight slot, dispatches exactly one prompt to the
// provider, and hands the attempt to the confirmation watcher. The attempt
// is returned in prompt-sent state; the watcher drives it to a terminal
// state asynchronously.
func (c *Controller) Initiate(ctx context.Context, req Initiate) (attempt PaymentAttempt, err error) {
	if req.AccountId == "" {
		return attempt, fmt.Errorf("%w: account id is required", ErrInvalidArgument)
	}

	reference, err := AccountReference(req.TenantId, req.PropertyId, c.clock.Now())
	if err != nil {
		return attempt, err
	}

	phone, err := NormalizePhone(req.Phone, c.countryPrefix)
	if err != nil {
		return attempt, err
	}

	err = c.validateAmount(req.Amount)
	if err != nil {
		return attempt, err
	}

	attempt = PaymentAttempt{
		Id:        uuid.New(),
		AccountId: req.AccountId,
		Reference: reference,
		Phone:     phone,
		Amount:    req.Amount,
		Status:    StatusCreated,
		CreatedAt: c.clock.Now(),
	}

	// Claim the single-flight slot and persist the attempt atomically.
	err = c.db.Update(func(txn *badger.Txn) (err error) {
		_, err = txn.Get(InflightKey(attempt.AccountId))
		if err == nil {
			return ErrAttemptInProgress
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to query in-flight guard: %w", err)
		}

		err = txn.Set(InflightKey(attempt.AccountId), attempt.Id[:])
		if err != nil {
			return fmt.Errorf("failed to claim in-flight guard: %w", err)
		}
		err = txn.Set(UnsettledKey(attempt.Id), attempt.Id[:])
		if err != nil {
			return fmt.Errorf("failed to add unsettled key: %w", err)
		}
		err = txn.Set(AttemptKey(attempt.Id), attempt.Bytes())
		if err != nil {
			return fmt.Errorf("failed to save attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAttemptInProgress) {
			return attempt, err
		}
		return attempt, fmt.Errorf("failed to create attempt: %w", err)
	}
	c.emit(&attempt)

	ack, err := c.gateway.SendPrompt(ctx, gateways.PromptRequest{
		Phone:       attempt.Phone,
		Amount:      attempt.Amount,
		Reference:   attempt.Reference,
		Description: "Rent " + attempt.Reference,
	})
	if err != nil {
		// No prompt reached the provider. The attempt ends here and the
		// caller may start a fresh one. If the resolve fails too, the
		// reconciler releases the account's slot on its next sweep.
		resolveErr := c.resolve(&attempt, Outcome{Status: StatusFailed, Reason: err.Error()})
		if resolveErr != nil {
			log.Println("ERROR|INITIATE|RESOLVE", attempt.Id, resolveErr)
		}
		return attempt, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	attempt.GatewayRequestId = ack.RequestId
	attempt.Status = StatusPromptSent
	err = c.save(&attempt)
	if err != nil {
		return attempt, err
	}
	c.emit(&attempt)

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := c.registerWatcher(attempt.Id, cancel)

	c.wg.Add(1)
	go c.watch(watchCtx, attempt, w)

	return attempt, nil
}

// save persists the attempt record.
func (c *Controller) save(attempt *PaymentAttempt) (err error) {
	err = c.db.Update(func(txn *badger.Txn) (err error) {
		return txn.Set(AttemptKey(attempt.Id), attempt.Bytes())
	})
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}
