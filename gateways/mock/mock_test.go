package mock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"kejapay.africa/gateway/gateways"
	"kejapay.africa/gateway/gateways/mock"
)

func Test_Mock(t *testing.T) {
	ctx := context.Background()

	prompt := gateways.PromptRequest{
		Phone:     "+254712345678",
		Amount:    25_000,
		Reference: "WANJIK-UNIT4B-202608",
	}

	t.Run("ConfirmsAfterDelta", func(t *testing.T) {
		assertions := assert.New(t)

		now := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
		m := mock.New(mock.Config{
			ConfirmDelta: 10 * time.Second,
			Now:          func() time.Time { return now },
		})

		ack, err := m.SendPrompt(ctx, prompt)
		assertions.Nil(err, "failed to send prompt")
		assertions.Equal("sim-req-000001", ack.RequestId, "request ids are sequential")

		res, err := m.QueryStatus(ctx, ack.RequestId)
		assertions.Nil(err, "failed to query status")
		assertions.Equal(gateways.StatusPending, res.Status, "pending before the delta elapses")
		assertions.Empty(res.ReceiptNumber, "no receipt while pending")

		now = now.Add(10 * time.Second)

		res, err = m.QueryStatus(ctx, ack.RequestId)
		assertions.Nil(err, "failed to query status")
		assertions.Equal(gateways.StatusCompleted, res.Status, "completed after the delta")
		assertions.Equal("SIM0000001", res.ReceiptNumber, "receipts are sequential and reproducible")
	})

	t.Run("Decline", func(t *testing.T) {
		assertions := assert.New(t)

		m := mock.New(mock.Config{Decline: true})

		ack, err := m.SendPrompt(ctx, prompt)
		assertions.Nil(err, "failed to send prompt")

		res, err := m.QueryStatus(ctx, ack.RequestId)
		assertions.Nil(err, "failed to query status")
		assertions.Equal(gateways.StatusFailed, res.Status, "declined prompts report failed")
		assertions.NotEmpty(res.Reason, "declines carry a reason")
	})

	t.Run("Unreachable", func(t *testing.T) {
		assertions := assert.New(t)

		m := mock.New(mock.Config{Unreachable: true})

		_, err := m.SendPrompt(ctx, prompt)
		assertions.ErrorIs(err, gateways.ErrUnreachable, "dispatch fails")
	})

	t.Run("FlakyPolls", func(t *testing.T) {
		assertions := assert.New(t)

		m := mock.New(mock.Config{FlakyPolls: 1})

		ack, err := m.SendPrompt(ctx, prompt)
		assertions.Nil(err, "failed to send prompt")

		_, err = m.QueryStatus(ctx, ack.RequestId)
		assertions.ErrorIs(err, gateways.ErrUnreachable, "first poll fails at the transport level")

		res, err := m.QueryStatus(ctx, ack.RequestId)
		assertions.Nil(err, "second poll succeeds")
		assertions.Equal(gateways.StatusCompleted, res.Status, "zero delta completes immediately")
	})

	t.Run("UnknownRequest", func(t *testing.T) {
		assertions := assert.New(t)

		m := mock.New(mock.Config{})

		_, err := m.QueryStatus(ctx, "sim-req-999999")
		assertions.ErrorIs(err, gateways.ErrRequestNotFound, "unknown request id")
	})
}
