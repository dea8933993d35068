package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"kejapay.africa/gateway/ledger"
)

func AccountKey(id string) (key []byte) {
	return []byte(fmt.Sprintf("/accounts/%s", id))
}

// Store keeps accounts in badger. A per-account mutex serializes
// load-mutate-save cycles so no two outcomes for the same account interleave.
type Store struct {
	db *badger.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

func New(db *badger.DB) *Store {
	return &Store{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lock(id string) (l *sync.Mutex) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) Load(ctx context.Context, id string) (account ledger.Account, err error) {
	err = s.db.View(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(AccountKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ledger.ErrAccountNotFound
			}
			return fmt.Errorf("failed to query account: %w", err)
		}

		err = item.Value(func(val []byte) (err error) {
			return account.FromBytes(val)
		})
		if err != nil {
			return fmt.Errorf("failed to retrieve account value: %w", err)
		}
		return nil
	})
	if err != nil {
		return account, err
	}
	return account, nil
}

func (s *Store) Put(ctx context.Context, account ledger.Account) (err error) {
	l := s.lock(account.Id)
	l.Lock()
	defer l.Unlock()

	err = s.db.Update(func(txn *badger.Txn) (err error) {
		return txn.Set(AccountKey(account.Id), account.Bytes())
	})
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, fn func(account *ledger.Account) error) (err error) {
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	err = s.db.Update(func(txn *badger.Txn) (err error) {
		item, err := txn.Get(AccountKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ledger.ErrAccountNotFound
			}
			return fmt.Errorf("failed to query account: %w", err)
		}

		var account ledger.Account
		err = item.Value(func(val []byte) (err error) {
			return account.FromBytes(val)
		})
		if err != nil {
			return fmt.Errorf("failed to retrieve account value: %w", err)
		}

		err = fn(&account)
		if err != nil {
			return err
		}

		err = txn.Set(AccountKey(id), account.Bytes())
		if err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}
