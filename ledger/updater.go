package ledger

import (
	"context"
	"errors"
	"fmt"

	"kejapay.africa/gateway/utils"
)

var (
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrEmptyReceipt      = errors.New("payment record carries no receipt")
)

// Points granted per settled payment.
const LoyaltyPointsPerPayment = 10

// Updater applies settled payment outcomes to accounts. It is the only
// component that mutates ledger state.
type Updater struct {
	store Store
}

func NewUpdater(store Store) *Updater {
	return &Updater{store: store}
}

// ApplyCompleted credits a settled payment to the account: decrements the
// balance due (floored at zero), appends the payment record, and bumps the
// streak and loyalty counters. Applications are idempotent by receipt
// number; a duplicate leaves the account untouched and reports applied
// false. The mutation is durable before ApplyCompleted returns.
func (u *Updater) ApplyCompleted(ctx context.Context, accountId string, record PaymentRecord) (account Account, applied bool, err error) {
	if record.ReceiptNumber == "" {
		return account, false, ErrEmptyReceipt
	}

	err = u.store.Update(ctx, accountId, func(a *Account) (err error) {
		if a.HasReceipt(record.ReceiptNumber) {
			account = *a
			return nil
		}

		a.BalanceDue = utils.SubFloor(a.BalanceDue, record.Amount)
		a.PaymentHistory = append(a.PaymentHistory, record)
		a.StreakCount++
		a.LoyaltyScore += LoyaltyPointsPerPayment
		a.LastPaymentAt = record.CompletedAt

		account = *a
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return account, false, err
		}
		return account, false, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return account, applied, nil
}
