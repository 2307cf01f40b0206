package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/polyagent/arb-engine/internal/model"
)

var portfolioKey = []byte("portfolio")

// BadgerStore implements PortfolioStore as one key in an embedded Badger
// database. Each Save is a single Badger transaction.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the Badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Load(_ context.Context) (*model.Portfolio, error) {
	var p model.Portfolio
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(portfolioKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}
	if p.Positions == nil {
		p.Positions = []model.Position{}
	}
	return &p, nil
}

func (s *BadgerStore) Save(_ context.Context, p *model.Portfolio) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode portfolio: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(portfolioKey, data)
	}); err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return nil
}
