package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/urfave/cli/v3"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/ledger/badgerstore"
	"kejapay.africa/gateway/ledger/postgres"
)

// openStore picks the backend from the shared flags. The returned closer
// must run after the last store call.
func openStore(ctx context.Context, c *cli.Command) (store ledger.Store, closer func(), err error) {
	dsn := c.String("postgres-dsn")
	if dsn != "" {
		pg, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		err = pg.Migrate(ctx)
		if err != nil {
			pg.Close()
			return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		return pg, pg.Close, nil
	}

	db, err := badger.Open(badger.DefaultOptions(c.String("database-path")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return badgerstore.New(db), func() { db.Close() }, nil
}

func printAccount(account *ledger.Account) {
	out, _ := json.MarshalIndent(account, "", "  ")
	fmt.Println(string(out))
}

var app = cli.Command{
	Name:  "ledgerctl",
	Usage: "Operator tooling for rent ledger accounts",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "database-path",
			Usage: "Badger database directory",
			Value: "gateway-db",
		},
		&cli.StringFlag{
			Name:  "postgres-dsn",
			Usage: "Postgres connection string, overrides the badger backend",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "create",
			Usage: "Create an account with an opening balance",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Account id", Required: true},
				&cli.Uint64Flag{Name: "balance-due", Usage: "Opening balance due"},
			},
			Action: func(ctx context.Context, c *cli.Command) (err error) {
				store, closer, err := openStore(ctx, c)
				if err != nil {
					return err
				}
				defer closer()

				account := ledger.Account{
					Id:         c.String("id"),
					BalanceDue: c.Uint64("balance-due"),
				}
				err = store.Put(ctx, account)
				if err != nil {
					return fmt.Errorf("failed to create account: %w", err)
				}
				printAccount(&account)
				return nil
			},
		},
		{
			Name:  "show",
			Usage: "Print an account with its payment history",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Account id", Required: true},
			},
			Action: func(ctx context.Context, c *cli.Command) (err error) {
				store, closer, err := openStore(ctx, c)
				if err != nil {
					return err
				}
				defer closer()

				account, err := store.Load(ctx, c.String("id"))
				if err != nil {
					return fmt.Errorf("failed to load account: %w", err)
				}
				printAccount(&account)
				return nil
			},
		},
		{
			Name:  "charge",
			Usage: "Add a new charge to an account's balance due",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "id", Usage: "Account id", Required: true},
				&cli.Uint64Flag{Name: "amount", Usage: "Amount to add", Required: true},
			},
			Action: func(ctx context.Context, c *cli.Command) (err error) {
				store, closer, err := openStore(ctx, c)
				if err != nil {
					return err
				}
				defer closer()

				var updated ledger.Account
				err = store.Update(ctx, c.String("id"), func(account *ledger.Account) error {
					account.BalanceDue += c.Uint64("amount")
					updated = *account
					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to charge account: %w", err)
				}
				printAccount(&updated)
				return nil
			},
		},
	},
}

func main() {
	err := app.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
