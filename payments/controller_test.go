package payments_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"kejapay.africa/gateway/gateways"
	"kejapay.africa/gateway/gateways/mock"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/ledger/badgerstore"
	"kejapay.africa/gateway/payments"
	"kejapay.africa/gateway/payments/testsuite"
)

func Test_Flows(t *testing.T) {
	testsuite.Run(t)
}

// stubGateway scripts provider behavior and counts calls.
type stubGateway struct {
	mu       sync.Mutex
	sends    int
	polls    int
	sendErr  error
	pollErrs int
	result   gateways.StatusResult
}

var _ gateways.Gateway = (*stubGateway)(nil)

func (s *stubGateway) SendPrompt(ctx context.Context, req gateways.PromptRequest) (ack gateways.PromptAck, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sends++
	if s.sendErr != nil {
		return ack, s.sendErr
	}
	ack.RequestId = fmt.Sprintf("stub-req-%d", s.sends)
	return ack, nil
}

func (s *stubGateway) QueryStatus(ctx context.Context, requestId string) (res gateways.StatusResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	if s.pollErrs > 0 {
		s.pollErrs--
		return res, gateways.ErrUnreachable
	}
	return s.result, nil
}

func (s *stubGateway) counts() (sends, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends, s.polls
}

type stubFixture struct {
	db     *badger.DB
	ctrl   *payments.Controller
	store  *badgerstore.Store
	events chan payments.Event
}

func newStubFixture(t *testing.T, gw gateways.Gateway, config payments.Config) (f stubFixture) {
	t.Helper()

	assertions := assert.New(t)

	options := badger.
		DefaultOptions("").
		WithLogger(nil).
		WithInMemory(true)
	db, err := badger.Open(options)
	assertions.Nil(err, "failed to open database")
	t.Cleanup(func() { db.Close() })

	f.db = db
	f.store = badgerstore.New(db)
	f.events = make(chan payments.Event, 64)

	config.DB = db
	config.Gateway = gw
	config.Ledger = ledger.NewUpdater(f.store)
	if config.Clock == nil {
		config.Clock = testsuite.NewFakeClock(time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC))
	}
	config.OnEvent = func(event payments.Event) { f.events <- event }
	config.CountryPrefix = "+254"

	f.ctrl = payments.New(config)
	t.Cleanup(f.ctrl.Close)
	return f
}

func seedAccount(t *testing.T, store *badgerstore.Store, id string, balanceDue uint64) {
	t.Helper()

	err := store.Put(context.Background(), ledger.Account{Id: id, BalanceDue: balanceDue})
	assert.New(t).Nil(err, "failed to seed account")
}

func Test_SingleFlight(t *testing.T) {
	assertions := assert.New(t)

	gw := &stubGateway{result: gateways.StatusResult{Status: gateways.StatusPending}}
	clock := testsuite.NewManualClock(time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC))
	f := newStubFixture(t, gw, payments.Config{Clock: clock})
	seedAccount(t, f.store, "acct-1", 25_000)
	seedAccount(t, f.store, "acct-2", 25_000)

	ctx := context.Background()

	first, err := f.ctrl.Initiate(ctx, payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "first attempt should dispatch")

	// Second prompt for the same account must be rejected without reaching
	// the provider.
	_, err = f.ctrl.Initiate(ctx, payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.ErrorIs(err, payments.ErrAttemptInProgress, "second concurrent attempt")
	sends, _ := gw.counts()
	assertions.Equal(1, sends, "rejected attempt must not dispatch a prompt")

	// Other accounts are independent.
	_, err = f.ctrl.Initiate(ctx, payments.Initiate{
		AccountId: "acct-2", TenantId: "t2", PropertyId: "p2", Phone: "0712345679", Amount: 25_000,
	})
	assertions.Nil(err, "attempts for other accounts run concurrently")

	// Once the first attempt settles, the slot frees up.
	cancelled, err := f.ctrl.Cancel(ctx, first.Id)
	assertions.Nil(err, "failed to cancel first attempt")
	assertions.Equal(payments.StatusCancelled, cancelled.Status, "cancelled attempt status")

	_, err = f.ctrl.Initiate(ctx, payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "slot should free up after the attempt settles")
}

func Test_TimeoutAfterExactlyMaxPolls(t *testing.T) {
	assertions := assert.New(t)

	const maxPolls = 5

	gw := &stubGateway{result: gateways.StatusResult{Status: gateways.StatusPending}}
	f := newStubFixture(t, gw, payments.Config{MaxPollAttempts: maxPolls})
	seedAccount(t, f.store, "acct-1", 25_000)

	attempt, err := f.ctrl.Initiate(context.Background(), payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "failed to initiate")

	event := testsuite.WaitTerminal(t, f.events, attempt.Id)
	assertions.Equal(payments.StatusTimedOut, event.Status, "always-pending gateway must time out")

	_, polls := gw.counts()
	assertions.Equal(maxPolls, polls, "watcher must poll exactly max-polls times")

	account, err := f.store.Load(context.Background(), "acct-1")
	assertions.Nil(err, "failed to load account")
	assertions.Equal(uint64(25_000), account.BalanceDue, "timed-out attempt must not touch the ledger")
}

func Test_TransientPollErrorsDoNotConsumeBudget(t *testing.T) {
	assertions := assert.New(t)

	const maxPolls = 3

	gw := &stubGateway{
		pollErrs: 2,
		result:   gateways.StatusResult{Status: gateways.StatusPending},
	}
	f := newStubFixture(t, gw, payments.Config{MaxPollAttempts: maxPolls, MaxTransientErrors: 5})
	seedAccount(t, f.store, "acct-1", 25_000)

	attempt, err := f.ctrl.Initiate(context.Background(), payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "failed to initiate")

	event := testsuite.WaitTerminal(t, f.events, attempt.Id)
	assertions.Equal(payments.StatusTimedOut, event.Status, "still times out on pending budget")

	// 2 transport errors plus the full pending budget.
	_, polls := gw.counts()
	assertions.Equal(maxPolls+2, polls, "transient errors must not consume pending budget slots")
}

func Test_TransientErrorExhaustionTimesOut(t *testing.T) {
	assertions := assert.New(t)

	const maxTransient = 3

	// The status endpoint never answers, so the scripted completed result is
	// never seen.
	gw := &stubGateway{
		pollErrs: maxTransient + 2,
		result:   gateways.StatusResult{Status: gateways.StatusCompleted, ReceiptNumber: "RCP001"},
	}
	f := newStubFixture(t, gw, payments.Config{MaxTransientErrors: maxTransient})
	seedAccount(t, f.store, "acct-1", 25_000)

	attempt, err := f.ctrl.Initiate(context.Background(), payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "failed to initiate")

	event := testsuite.WaitTerminal(t, f.events, attempt.Id)
	assertions.Equal(payments.StatusTimedOut, event.Status, "an unreachable status endpoint ends the wait timed-out, never failed")

	account, err := f.store.Load(context.Background(), "acct-1")
	assertions.Nil(err, "failed to load account")
	assertions.Equal(uint64(25_000), account.BalanceDue, "an unknown outcome must not touch the ledger")
	assertions.Empty(account.PaymentHistory, "no payment record for an unknown outcome")
}

func Test_InitiateValidation(t *testing.T) {
	assertions := assert.New(t)

	gw := &stubGateway{result: gateways.StatusResult{Status: gateways.StatusPending}}
	f := newStubFixture(t, gw, payments.Config{MinAmount: 100, MaxAmount: 100_000})
	seedAccount(t, f.store, "acct-1", 25_000)

	ctx := context.Background()
	base := payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	}

	bad := base
	bad.Phone = "not-a-number"
	_, err := f.ctrl.Initiate(ctx, bad)
	assertions.ErrorIs(err, payments.ErrInvalidPhone, "malformed phone")

	bad = base
	bad.Amount = 0
	_, err = f.ctrl.Initiate(ctx, bad)
	assertions.ErrorIs(err, payments.ErrInvalidAmount, "zero amount")

	bad = base
	bad.Amount = 1_000_000
	_, err = f.ctrl.Initiate(ctx, bad)
	assertions.ErrorIs(err, payments.ErrInvalidAmount, "amount above maximum")

	bad = base
	bad.TenantId = ""
	_, err = f.ctrl.Initiate(ctx, bad)
	assertions.ErrorIs(err, payments.ErrInvalidArgument, "missing tenant id")

	bad = base
	bad.AccountId = ""
	_, err = f.ctrl.Initiate(ctx, bad)
	assertions.ErrorIs(err, payments.ErrInvalidArgument, "missing account id")

	sends, _ := gw.counts()
	assertions.Equal(0, sends, "rejected input must cause no dispatch")
}

func Test_GatewayDownFailsAttempt(t *testing.T) {
	assertions := assert.New(t)

	gw := &stubGateway{sendErr: gateways.ErrUnreachable}
	f := newStubFixture(t, gw, payments.Config{})
	seedAccount(t, f.store, "acct-1", 25_000)

	ctx := context.Background()

	attempt, err := f.ctrl.Initiate(ctx, payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.ErrorIs(err, payments.ErrGatewayUnavailable, "dispatch failure surfaces as gateway unavailable")
	assertions.Equal(payments.StatusFailed, attempt.Status, "the attempt ends failed")

	// Retrying means a fresh attempt, and the slot is free for it.
	gw.mu.Lock()
	gw.sendErr = nil
	gw.result = gateways.StatusResult{Status: gateways.StatusPending}
	gw.mu.Unlock()

	retry, err := f.ctrl.Initiate(ctx, payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "fresh attempt should dispatch")
	assertions.NotEqual(attempt.Id, retry.Id, "retry is a new attempt, never a resubmission")
}

func Test_CancelThenLateCompletionStillCredits(t *testing.T) {
	assertions := assert.New(t)

	f := testsuite.NewFixture(t,
		mock.Config{ConfirmDelta: time.Hour},
		payments.Config{
			PollInterval:  5 * time.Second,
			CountryPrefix: "+254",
			Clock:         testsuite.NewManualClock(time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)),
		})

	ctx := context.Background()
	seedAccount(t, f.Store, f.Account, 25_000)

	attempt, err := f.Ctrl.Initiate(ctx, payments.Initiate{
		AccountId: f.Account, TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	})
	assertions.Nil(err, "failed to initiate")

	cancelled, err := f.Ctrl.Cancel(ctx, attempt.Id)
	assertions.Nil(err, "failed to cancel")
	assertions.Equal(payments.StatusCancelled, cancelled.Status, "cancel is immediate for the caller")

	account, err := f.Store.Load(ctx, f.Account)
	assertions.Nil(err, "failed to load account")
	assertions.Equal(uint64(25_000), account.BalanceDue, "cancellation alone must not touch the ledger")

	// The payer confirmed on the handset anyway. The reconciler learns the
	// real outcome and credits the receipt exactly once.
	f.Clock.Advance(2 * time.Hour)

	processed, err := f.Ctrl.Reconcile(ctx)
	assertions.Nil(err, "failed to reconcile")
	assertions.Equal(1, processed, "the cancelled attempt should be reconciled")

	account, err = f.Store.Load(ctx, f.Account)
	assertions.Nil(err, "failed to load account")
	assertions.Equal(uint64(0), account.BalanceDue, "late completion credits the ledger")
	assertions.Len(account.PaymentHistory, 1, "exactly one payment record")

	final, err := f.Ctrl.Query(attempt.Id)
	assertions.Nil(err, "failed to query attempt")
	assertions.Equal(payments.StatusCancelled, final.Status, "terminal state never transitions")
	assertions.Empty(final.ReceiptNumber, "receipt lives on the ledger record, not the cancelled attempt")

	// A second sweep finds nothing left to settle.
	processed, err = f.Ctrl.Reconcile(ctx)
	assertions.Nil(err, "failed to reconcile again")
	assertions.Equal(0, processed, "nothing unsettled remains")

	account, err = f.Store.Load(ctx, f.Account)
	assertions.Nil(err, "failed to load account")
	assertions.Len(account.PaymentHistory, 1, "the receipt is credited exactly once")
}

func Test_ReconcileReleasesOrphanedAttempt(t *testing.T) {
	assertions := assert.New(t)

	gw := &stubGateway{result: gateways.StatusResult{Status: gateways.StatusPending}}
	f := newStubFixture(t, gw, payments.Config{})
	seedAccount(t, f.store, "acct-1", 25_000)

	// An attempt that died between claiming the account's slot and
	// dispatching the prompt: guard and marker exist, no provider request id.
	orphan := payments.PaymentAttempt{
		Id:        uuid.New(),
		AccountId: "acct-1",
		Reference: "T1-P1-202608",
		Phone:     "+254712345678",
		Amount:    25_000,
		Status:    payments.StatusCreated,
		CreatedAt: time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC),
	}
	err := f.db.Update(func(txn *badger.Txn) (err error) {
		err = txn.Set(payments.InflightKey(orphan.AccountId), orphan.Id[:])
		if err != nil {
			return err
		}
		err = txn.Set(payments.UnsettledKey(orphan.Id), orphan.Id[:])
		if err != nil {
			return err
		}
		return txn.Set(payments.AttemptKey(orphan.Id), orphan.Bytes())
	})
	assertions.Nil(err, "failed to store orphaned attempt")

	ctx := context.Background()
	request := payments.Initiate{
		AccountId: "acct-1", TenantId: "t1", PropertyId: "p1", Phone: "0712345678", Amount: 25_000,
	}

	// The orphan holds the slot until the sweep runs.
	_, err = f.ctrl.Initiate(ctx, request)
	assertions.ErrorIs(err, payments.ErrAttemptInProgress, "orphan holds the account's slot")

	processed, err := f.ctrl.Reconcile(ctx)
	assertions.Nil(err, "failed to reconcile")
	assertions.Equal(1, processed, "the orphan should be swept")

	final, err := f.ctrl.Query(orphan.Id)
	assertions.Nil(err, "failed to query orphan")
	assertions.Equal(payments.StatusFailed, final.Status, "an attempt that never dispatched ends failed")

	_, err = f.ctrl.Initiate(ctx, request)
	assertions.Nil(err, "the sweep must release the account's slot")
}

func Test_QueryUnknownAttempt(t *testing.T) {
	assertions := assert.New(t)

	gw := &stubGateway{}
	f := newStubFixture(t, gw, payments.Config{})

	_, err := f.ctrl.Query(uuid.New())
	assertions.ErrorIs(err, payments.ErrAttemptNotFound, "unknown id")
}
