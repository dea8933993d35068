package ledger

import (
	"encoding/json"
	"time"
)

type (
	// PaymentRecord is the immutable snapshot of one settled payment.
	PaymentRecord struct {
		// Provider issued receipt. Globally unique
		ReceiptNumber string
		// Amount settled, whole currency units
		Amount uint64
		// Completion time reported to the payer
		CompletedAt time.Time
		// Payment method, e.g. "mobile-money" or "simulated"
		Method string
		// Reconciliation reference the attempt carried
		AccountReference string
	}
	// Account is the paying party's ledger state.
	Account struct {
		// Identifier of the paying tenant account
		Id string
		// Outstanding rent, whole currency units. Never negative
		BalanceDue uint64
		// Settled payments in completion order
		PaymentHistory []PaymentRecord
		// Consecutive on-time payments
		StreakCount uint64
		// Gamification points accrued from settled payments
		LoyaltyScore uint64
		// When the last payment settled
		LastPaymentAt time.Time
	}
)

// HasReceipt reports whether a settled payment with the receipt is already
// recorded on the account.
func (a *Account) HasReceipt(receiptNumber string) (found bool) {
	for _, record := range a.PaymentHistory {
		if record.ReceiptNumber == receiptNumber {
			return true
		}
	}
	return false
}

func (a *Account) Bytes() (bytes []byte) {
	bytes, _ = json.Marshal(a)
	return bytes
}

func (a *Account) FromBytes(b []byte) (err error) {
	return json.Unmarshal(b, a)
}
