package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"kejapay.africa/gateway/gateways"
	"kejapay.africa/gateway/ledger"
)

var (
	ErrAttemptNotFound   = errors.New("payment attempt not found")
	ErrAttemptInProgress = errors.New("an attempt for this account is already in progress")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// Method recorded on settled payments.
const MethodMobileMoney = "mobile-money"

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultMaxPollAttempts    = 12
	DefaultMaxTransientErrors = 3
	DefaultSettleWindow       = 48 * time.Hour
)

// Event is emitted to the presentation layer after every durable status
// transition of an attempt.
type Event struct {
	AttemptId     uuid.UUID
	AccountId     string
	Status        Status
	ReceiptNumber string
	Reason        string
}

type Config struct {
	// Badger database holding attempts and in-flight guards
	DB *badger.DB
	// Push-payment provider. Inject gateways/mock for demo mode or
	// gateways/daraja for a live provider
	Gateway gateways.Gateway
	// Ledger updater applying settled outcomes
	Ledger *ledger.Updater
	// Interval between status polls
	PollInterval time.Duration
	// Number of pending polls before the wait times out
	MaxPollAttempts int
	// Consecutive poll transport errors tolerated before giving up
	MaxTransientErrors int
	// How long the reconciler keeps re-querying unresolved attempts
	SettleWindow time.Duration
	// Smallest and largest amount accepted for one prompt
	MinAmount uint64
	MaxAmount uint64
	// Country calling code used to normalize local numbers, e.g. "+254"
	CountryPrefix string
	// Clock source. Defaults to the system clock
	Clock Clock
	// Called synchronously after each durable status transition
	OnEvent func(event Event)
}

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller is the payment flow state machine. It owns every attempt
// transition, enforces the single-flight rule per account, and is the only
// component the presentation layer talks to.
type Controller struct {
	db      *badger.DB
	gateway gateways.Gateway
	ledger  *ledger.Updater
	clock   Clock
	onEvent func(event Event)

	pollInterval       time.Duration
	maxPollAttempts    int
	maxTransientErrors int
	settleWindow       time.Duration
	minAmount          uint64
	maxAmount          uint64
	countryPrefix      string

	mu       sync.Mutex
	watchers map[uuid.UUID]watcher
	wg       sync.WaitGroup
}

func New(config Config) (c *Controller) {
	c = &Controller{
		db:                 config.DB,
		gateway:            config.Gateway,
		ledger:             config.Ledger,
		clock:              config.Clock,
		onEvent:            config.OnEvent,
		pollInterval:       config.PollInterval,
		maxPollAttempts:    config.MaxPollAttempts,
		maxTransientErrors: config.MaxTransientErrors,
		settleWindow:       config.SettleWindow,
		minAmount:          config.MinAmount,
		maxAmount:          config.MaxAmount,
		countryPrefix:      config.CountryPrefix,
		watchers:           make(map[uuid.UUID]watcher),
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPollAttempts <= 0 {
		c.maxPollAttempts = DefaultMaxPollAttempts
	}
	if c.maxTransientErrors <= 0 {
		c.maxTransientErrors = DefaultMaxTransientErrors
	}
	if c.settleWindow <= 0 {
		c.settleWindow = DefaultSettleWindow
	}
	return c
}

// Close cancels all in-flight watchers and waits for them to settle. Waits
// cut short here leave their unsettled markers behind for the reconciler.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, w := range c.watchers {
		w.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) registerWatcher(id uuid.UUID, cancel context.CancelFunc) (w watcher) {
	w = watcher{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.watchers[id] = w
	c.mu.Unlock()
	return w
}

func (c *Controller) unregisterWatcher(id uuid.UUID, w watcher) {
	c.mu.Lock()
	delete(c.watchers, id)
	c.mu.Unlock()

	close(w.done)
}

func (c *Controller) lookupWatcher(id uuid.UUID) (w watcher, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, found = c.watchers[id]
	return w, found
}

func (c *Controller) emit(attempt *PaymentAttempt) {
	if c.onEvent == nil {
		return
	}
	c.onEvent(Event{
		AttemptId:     attempt.Id,
		AccountId:     attempt.AccountId,
		Status:        attempt.Status,
		ReceiptNumber: attempt.ReceiptNumber,
		Reason:        attempt.Reason,
	})
}
