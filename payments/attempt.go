package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusPromptSent Status = "prompt-sent"
	StatusConfirming Status = "confirming"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed-out"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() (terminal bool) {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

func AttemptKey(id uuid.UUID) (key []byte) {
	return []byte(fmt.Sprintf("/attempts/%s", id))
}

func UnsettledKey(id uuid.UUID) (key []byte) {
	return []byte(fmt.Sprintf("/unsettled/%s", id))
}

func InflightKey(accountId string) (key []byte) {
	return []byte(fmt.Sprintf("/inflight/%s", accountId))
}

// PaymentAttempt is one push-payment cycle. Attempts are created by
// Initiate, mutated only by the controller and its watcher, and become
// immutable once a terminal status is reached.
type PaymentAttempt struct {
	// Identifier of the attempt, generated before any network call
	Id uuid.UUID
	// Paying account the attempt belongs to
	AccountId string
	// Reconciliation reference binding tenant, property and billing period
	Reference string
	// Destination number, E.164
	Phone string
	// Amount requested, whole currency units
	Amount uint64
	// Identifier the provider assigned to the dispatched prompt
	GatewayRequestId string
	// Current status of the attempt
	Status Status
	// Receipt issued by the provider. Set only when Status is completed
	ReceiptNumber string
	// Failure description for failed attempts
	Reason string
	// When the attempt was created
	CreatedAt time.Time
	// When the attempt reached a terminal status
	ResolvedAt time.Time
}

func (a *PaymentAttempt) Bytes() (bytes []byte) {
	bytes, _ = json.Marshal(a)
	return bytes
}

func (a *PaymentAttempt) FromBytes(b []byte) (err error) {
	return json.Unmarshal(b, a)
}

// Outcome is the result of waiting for a confirmation: completed with a
// receipt, failed with a reason, timed out, or cancelled. Timed out is
// distinct from failed: the underlying payment may still settle later.
type Outcome struct {
	Status        Status
	ReceiptNumber string
	Reason        string
}
