package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gabstv/httpdigest"
	"kejapay.africa/gateway/gateways"
	"kejapay.africa/gateway/gateways/daraja"
	"kejapay.africa/gateway/gateways/mock"
	"kejapay.africa/gateway/internal/gatewayrpc/rpc"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/ledger/badgerstore"
	"kejapay.africa/gateway/ledger/postgres"
	"kejapay.africa/gateway/payments"
)

const (
	ModeDemo = "demo"
	ModeLive = "live"
)

// Yaml configuration reference
type (
	GatewayAPI struct {
		Url         string  `yaml:"url"`
		Username    *string `yaml:"username,omitempty"`
		Password    *string `yaml:"password,omitempty"`
		ShortCode   string  `yaml:"short-code"`
		Passkey     string  `yaml:"passkey"`
		CallbackUrl string  `yaml:"callback-url"`
	}
	Config struct {
		ListenAddress      string        `yaml:"listen-address"`
		DatabasePath       string        `yaml:"database-path"`
		Mode               string        `yaml:"mode"`
		PollInterval       time.Duration `yaml:"poll-interval"`
		MaxPolls           int           `yaml:"max-polls"`
		MaxTransientErrors int           `yaml:"max-transient-errors"`
		SettleWindow       time.Duration `yaml:"settle-window"`
		ReconcileInterval  time.Duration `yaml:"reconcile-interval"`
		MinAmount          uint64        `yaml:"min-amount"`
		MaxAmount          uint64        `yaml:"max-amount"`
		CountryPrefix      string        `yaml:"country-prefix"`
		ConfirmDelay       time.Duration `yaml:"confirm-delay"`
		PostgresDsn        string        `yaml:"postgres-dsn"`
		Gateway            GatewayAPI    `yaml:"gateway"`
	}
)

func (c *Config) compileGateway() (gw gateways.Gateway, err error) {
	switch c.Mode {
	case "", ModeDemo:
		return mock.New(mock.Config{ConfirmDelta: c.ConfirmDelay}), nil
	case ModeLive:
		var httpClient http.Client
		if c.Gateway.Username != nil && c.Gateway.Password != nil {
			httpClient.Transport = httpdigest.New(*c.Gateway.Username, *c.Gateway.Password)
		}
		return daraja.New(daraja.Config{
			ShortCode:   c.Gateway.ShortCode,
			Passkey:     c.Gateway.Passkey,
			CallbackUrl: c.Gateway.CallbackUrl,
			Client: rpc.New(rpc.Config{
				Url:    c.Gateway.Url,
				Client: &httpClient,
			}),
		}), nil
	default:
		return nil, fmt.Errorf("unknown mode: %q", c.Mode)
	}
}

func (c *Config) compileStore(ctx context.Context, db *badger.DB) (store ledger.Store, err error) {
	if c.PostgresDsn == "" {
		return badgerstore.New(db), nil
	}

	pg, err := postgres.New(ctx, c.PostgresDsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	err = pg.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return pg, nil
}

func (c *Config) Compile(ctx context.Context, onEvent func(payments.Event)) (ctrl *payments.Controller, config payments.Config, store ledger.Store, err error) {
	opt := badger.DefaultOptions(c.DatabasePath)

	config = payments.Config{
		OnEvent:            onEvent,
		PollInterval:       c.PollInterval,
		MaxPollAttempts:    c.MaxPolls,
		MaxTransientErrors: c.MaxTransientErrors,
		SettleWindow:       c.SettleWindow,
		MinAmount:          c.MinAmount,
		MaxAmount:          c.MaxAmount,
		CountryPrefix:      c.CountryPrefix,
	}

	config.Gateway, err = c.compileGateway()
	if err != nil {
		return ctrl, config, store, err
	}

	config.DB, err = badger.Open(opt)
	if err != nil {
		return ctrl, config, store, fmt.Errorf("failed to open database: %w", err)
	}

	store, err = c.compileStore(ctx, config.DB)
	if err != nil {
		return ctrl, config, store, err
	}
	config.Ledger = ledger.NewUpdater(store)

	ctrl = payments.New(config)
	return ctrl, config, store, nil
}
