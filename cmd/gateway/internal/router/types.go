package router

import (
	"time"

	"github.com/google/uuid"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/payments"
)

type Initiate struct {
	AccountId  string `json:"accountId"`
	TenantId   string `json:"tenantId"`
	PropertyId string `json:"propertyId"`
	Phone      string `json:"phone"`
	Amount     uint64 `json:"amount"`
}

func InitiateToController(src *Initiate) (out payments.Initiate) {
	return payments.Initiate{
		AccountId:  src.AccountId,
		TenantId:   src.TenantId,
		PropertyId: src.PropertyId,
		Phone:      src.Phone,
		Amount:     src.Amount,
	}
}

type (
	Payment struct {
		// Identifier of the attempt
		Id uuid.UUID `json:"id"`
		// Account the attempt belongs to
		AccountId string `json:"accountId"`
		// Reconciliation reference shown on the payer's statement
		Reference string `json:"reference"`
		// Amount requested
		Amount uint64 `json:"amount"`
		// Current status of the attempt
		Status payments.Status `json:"status"`
		// Receipt, set only on completed attempts
		ReceiptNumber string `json:"receiptNumber,omitzero"`
		// Failure description, set only on failed attempts
		Reason    string    `json:"reason,omitzero"`
		CreatedAt time.Time `json:"createdAt"`
		// When the attempt settled, zero while in flight
		ResolvedAt time.Time `json:"resolvedAt,omitzero"`
	}
	PaymentRecord struct {
		ReceiptNumber string    `json:"receiptNumber"`
		Amount        uint64    `json:"amount"`
		CompletedAt   time.Time `json:"completedAt"`
		Method        string    `json:"method"`
		Reference     string    `json:"reference"`
	}
	Account struct {
		Id             string          `json:"id"`
		BalanceDue     uint64          `json:"balanceDue"`
		StreakCount    uint64          `json:"streakCount"`
		LoyaltyScore   uint64          `json:"loyaltyScore"`
		LastPaymentAt  time.Time       `json:"lastPaymentAt,omitzero"`
		PaymentHistory []PaymentRecord `json:"paymentHistory"`
	}
)

// Convert from the controller's attempt to the wire shape, hiding the
// destination phone number.
func PaymentFromController(src *payments.PaymentAttempt) (payment Payment) {
	return Payment{
		Id:            src.Id,
		AccountId:     src.AccountId,
		Reference:     src.Reference,
		Amount:        src.Amount,
		Status:        src.Status,
		ReceiptNumber: src.ReceiptNumber,
		Reason:        src.Reason,
		CreatedAt:     src.CreatedAt,
		ResolvedAt:    src.ResolvedAt,
	}
}

func AccountFromLedger(src *ledger.Account) (account Account) {
	account = Account{
		Id:             src.Id,
		BalanceDue:     src.BalanceDue,
		StreakCount:    src.StreakCount,
		LoyaltyScore:   src.LoyaltyScore,
		LastPaymentAt:  src.LastPaymentAt,
		PaymentHistory: make([]PaymentRecord, 0, len(src.PaymentHistory)),
	}
	for _, record := range src.PaymentHistory {
		account.PaymentHistory = append(account.PaymentHistory, PaymentRecord{
			ReceiptNumber: record.ReceiptNumber,
			Amount:        record.Amount,
			CompletedAt:   record.CompletedAt,
			Method:        record.Method,
			Reference:     record.AccountReference,
		})
	}
	return account
}
