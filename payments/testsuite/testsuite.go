package testsuite

import (
	"context"
	"testing"
	"time"

	_ "embed"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
	"kejapay.africa/gateway/gateways/mock"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/ledger/badgerstore"
	"kejapay.africa/gateway/payments"
	"kejapay.africa/gateway/random"
)

//go:embed tests/flows.yaml
var flowTests []byte

// WaitTerminal consumes events until the attempt reaches a terminal status,
// failing the test if that takes longer than five real seconds.
func WaitTerminal(t *testing.T, events <-chan payments.Event, id uuid.UUID) (event payments.Event) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event = <-events:
			if event.AttemptId == id && event.Status.Terminal() {
				return event
			}
		case <-deadline:
			t.Fatal("attempt did not reach a terminal status in time")
		}
	}
}

// Fixture is one fully wired controller over in-memory storage, a fake
// clock, and a simulated gateway.
type Fixture struct {
	DB      *badger.DB
	Clock   *FakeClock
	Store   *badgerstore.Store
	Ctrl    *payments.Controller
	Events  chan payments.Event
	Account string
}

func NewFixture(t *testing.T, gatewayConfig mock.Config, config payments.Config) (f *Fixture) {
	t.Helper()

	assertions := assert.New(t)

	options := badger.
		DefaultOptions("").
		WithLogger(nil).
		WithInMemory(true)
	db, err := badger.Open(options)
	assertions.Nil(err, "failed to open database")
	t.Cleanup(func() { db.Close() })

	clock, ok := config.Clock.(*FakeClock)
	if !ok {
		clock = NewFakeClock(time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC))
		config.Clock = clock
	}
	gatewayConfig.Now = clock.Now

	store := badgerstore.New(db)
	events := make(chan payments.Event, 64)

	config.DB = db
	config.Gateway = mock.New(gatewayConfig)
	config.Ledger = ledger.NewUpdater(store)
	config.OnEvent = func(event payments.Event) { events <- event }

	ctrl := payments.New(config)
	t.Cleanup(ctrl.Close)

	return &Fixture{
		DB:      db,
		Clock:   clock,
		Store:   store,
		Ctrl:    ctrl,
		Events:  events,
		Account: "acct-" + random.String(random.PseudoRand, random.CharsetAlphaNumeric, 8),
	}
}

// Run exercises the full payment flow against the simulated gateway with
// every scenario in tests/flows.yaml.
func Run(t *testing.T) {
	assertions := assert.New(t)

	type Expect struct {
		Status     payments.Status `yaml:"status"`
		BalanceDue uint64          `yaml:"balance-due"`
		History    int             `yaml:"history"`
		Streak     uint64          `yaml:"streak"`
		Loyalty    uint64          `yaml:"loyalty"`
	}
	type Test struct {
		Name         string        `yaml:"name"`
		BalanceDue   uint64        `yaml:"balance-due"`
		Amount       uint64        `yaml:"amount"`
		Phone        string        `yaml:"phone"`
		ConfirmAfter time.Duration `yaml:"confirm-after"`
		Decline      bool          `yaml:"decline"`
		FlakyPolls   int           `yaml:"flaky-polls"`
		PollInterval time.Duration `yaml:"poll-interval"`
		MaxPolls     int           `yaml:"max-polls"`
		Expect       Expect        `yaml:"expect"`
	}

	var tests []Test
	err := yaml.Unmarshal(flowTests, &tests)
	assertions.Nil(err, "failed to load tests")

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assertions := assert.New(t)

			f := NewFixture(t,
				mock.Config{
					ConfirmDelta: test.ConfirmAfter,
					Decline:      test.Decline,
					FlakyPolls:   test.FlakyPolls,
				},
				payments.Config{
					PollInterval:    test.PollInterval,
					MaxPollAttempts: test.MaxPolls,
					CountryPrefix:   "+254",
				})

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := f.Store.Put(ctx, ledger.Account{Id: f.Account, BalanceDue: test.BalanceDue})
			assertions.Nil(err, "failed to seed account")

			attempt, err := f.Ctrl.Initiate(ctx, payments.Initiate{
				AccountId:  f.Account,
				TenantId:   "tenant-wanjiku",
				PropertyId: "unit-4b",
				Phone:      test.Phone,
				Amount:     test.Amount,
			})
			assertions.Nil(err, "failed to initiate payment")
			assertions.Equal(payments.StatusPromptSent, attempt.Status, "attempt should leave Initiate as prompt-sent")
			assertions.NotEmpty(attempt.GatewayRequestId, "dispatch should record the provider request id")

			event := WaitTerminal(t, f.Events, attempt.Id)
			assertions.Equal(test.Expect.Status, event.Status, "terminal status")

			final, err := f.Ctrl.Query(attempt.Id)
			assertions.Nil(err, "failed to query attempt")
			assertions.Equal(test.Expect.Status, final.Status, "stored terminal status")
			assertions.False(final.ResolvedAt.IsZero(), "terminal attempt should carry a resolution time")
			if test.Expect.Status == payments.StatusCompleted {
				assertions.NotEmpty(final.ReceiptNumber, "completed attempt should carry a receipt")
			} else {
				assertions.Empty(final.ReceiptNumber, "only completed attempts carry a receipt")
			}

			account, err := f.Store.Load(ctx, f.Account)
			assertions.Nil(err, "failed to load account")
			assertions.Equal(test.Expect.BalanceDue, account.BalanceDue, "balance due")
			assertions.Len(account.PaymentHistory, test.Expect.History, "payment history length")
			assertions.Equal(test.Expect.Streak, account.StreakCount, "streak count")
			assertions.Equal(test.Expect.Loyalty, account.LoyaltyScore, "loyalty score")
		})
	}
}
