package gateways

import (
	"context"
	"errors"
)

var (
	ErrRequestNotFound = errors.New("gateway request not found")
	ErrUnreachable     = errors.New("gateway unreachable")
)

// Status reported by the provider for a dispatched prompt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type (
	PromptRequest struct {
		// Destination number in E.164 form
		Phone string
		// Amount to request, whole currency units
		Amount uint64
		// Reconciliation reference shown to the operator
		Reference string
		// Short human readable description shown on the prompt
		Description string
	}
	PromptAck struct {
		// Identifier assigned by the provider to the dispatched prompt
		RequestId string
	}
	StatusResult struct {
		// Current status of the prompt
		Status Status
		// Provider issued receipt. Set only when Status is completed
		ReceiptNumber string
		// Provider supplied failure description. Set only when Status is failed
		Reason string
	}
)

// Gateway is the push-payment provider boundary. SendPrompt asks the provider
// to prompt the destination phone for confirmation; QueryStatus reports how
// far along a dispatched prompt is.
type Gateway interface {
	// Dispatch a confirmation prompt to the destination phone
	SendPrompt(ctx context.Context, req PromptRequest) (ack PromptAck, err error)

	// Query the status of a previously dispatched prompt
	QueryStatus(ctx context.Context, requestId string) (res StatusResult, err error)
}
