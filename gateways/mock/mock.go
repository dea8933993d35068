package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kejapay.africa/gateway/gateways"
)

type prompt struct {
	req    gateways.PromptRequest
	sentAt time.Time
	seq    uint64
}

// Mock implements the gateways.Gateway interface for demo mode and tests.
// Prompts confirm on their own after ConfirmDelta, with sequential request
// and receipt numbers so runs are reproducible.
type Mock struct {
	mu      sync.Mutex
	prompts map[string]prompt
	nextSeq uint64

	now           func() time.Time
	confirmDelta  time.Duration
	decline       bool
	declineReason string
	unreachable   bool
	flakyPolls    int
}

var _ gateways.Gateway = (*Mock)(nil)

type Config struct {
	// Time after dispatch at which a prompt reports completed
	ConfirmDelta time.Duration
	// Report every prompt as declined instead of completed
	Decline bool
	// Reason attached to declined prompts
	DeclineReason string
	// Fail every SendPrompt call with gateways.ErrUnreachable
	Unreachable bool
	// Number of leading QueryStatus calls that fail at the transport level
	FlakyPolls int
	// Clock source. Defaults to time.Now
	Now func() time.Time
}

// New creates a new Mock gateway.
func New(config Config) *Mock {
	m := &Mock{
		prompts:       make(map[string]prompt),
		nextSeq:       1,
		now:           config.Now,
		confirmDelta:  config.ConfirmDelta,
		decline:       config.Decline,
		declineReason: config.DeclineReason,
		unreachable:   config.Unreachable,
		flakyPolls:    config.FlakyPolls,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.declineReason == "" {
		m.declineReason = "request cancelled by user"
	}
	return m
}

func (m *Mock) SendPrompt(ctx context.Context, req gateways.PromptRequest) (ack gateways.PromptAck, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return ack, gateways.ErrUnreachable
	}

	seq := m.nextSeq
	m.nextSeq++

	ack.RequestId = fmt.Sprintf("sim-req-%06d", seq)
	m.prompts[ack.RequestId] = prompt{
		req:    req,
		sentAt: m.now(),
		seq:    seq,
	}
	return ack, nil
}

func (m *Mock) QueryStatus(ctx context.Context, requestId string) (res gateways.StatusResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.flakyPolls > 0 {
		m.flakyPolls--
		return res, gateways.ErrUnreachable
	}

	p, ok := m.prompts[requestId]
	if !ok {
		return res, gateways.ErrRequestNotFound
	}

	if m.now().Sub(p.sentAt) < m.confirmDelta {
		res.Status = gateways.StatusPending
		return res, nil
	}

	if m.decline {
		res.Status = gateways.StatusFailed
		res.Reason = m.declineReason
		return res, nil
	}

	res.Status = gateways.StatusCompleted
	res.ReceiptNumber = fmt.Sprintf("SIM%07d", p.seq)
	return res, nil
}
