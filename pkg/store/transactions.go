package store

import (
	"fmt"
	"time"

	"xswap/pkg/storage"
	"xswap/pkg/types"
)

// Transactions provides high-level operations over persisted transactions
type Transactions struct {
	storage  *storage.Store[types.Transaction]
	messages *Messages
}

func NewTransactions(dir string, messages *Messages) (*Transactions, error) {
	s, err := storage.Open[types.Transaction](dir, NamespaceTransactions)
	if err != nil {
		return nil, err
	}
	return &Transactions{storage: s, messages: messages}, nil
}

// Create persists a new transaction. A second transaction for the same source
// hash is rejected.
func (t *Transactions) Create(tx types.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	return t.storage.Insert(tx.ID, tx.Clone())
}

func (t *Transactions) Get(id string) (types.Transaction, error) {
	tx, ok := t.storage.Get(id)
	if !ok {
		return types.Transaction{}, fmt.Errorf("transaction %q: %w", id, storage.ErrNotFound)
	}
	return tx.Clone(), nil
}

// SetStatus moves the transaction to status. The bool is false when the
// transaction was already terminal or already in that status.
func (t *Transactions) SetStatus(id string, status types.TxStatus) (types.Transaction, bool, error) {
	changed := false
	tx, err := t.storage.Update(id, func(cur types.Transaction) (types.Transaction, error) {
		next, ok := cur.WithStatus(status, time.Now())
		changed = ok
		return next, nil
	})
	if err != nil {
		return types.Transaction{}, false, err
	}
	return tx.Clone(), changed, nil
}

func (t *Transactions) List() []types.Transaction {
	return t.storage.List()
}

// ListByStatus returns transactions filtered by status
func (t *Transactions) ListByStatus(status types.TxStatus) []types.Transaction {
	return t.storage.Filter(func(tx types.Transaction) bool {
		return tx.Status == status
	})
}

// Prune deletes terminal transactions created before olderThan together with
// their relay messages. Pending transactions are never pruned.
func (t *Transactions) Prune(olderThan time.Time) (int, error) {
	victims := t.storage.Filter(func(tx types.Transaction) bool {
		return tx.Status.IsTerminal() && tx.CreatedAt.Before(olderThan)
	})
	if len(victims) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(victims))
	for _, tx := range victims {
		ids = append(ids, tx.ID)
	}

	if t.messages != nil {
		if err := t.messages.DeleteByTransaction(ids...); err != nil {
			return 0, fmt.Errorf("failed to prune messages: %w", err)
		}
	}
	if err := t.storage.Delete(ids...); err != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", err)
	}
	return len(ids), nil
}

func (t *Transactions) Count() int {
	return t.storage.Count()
}

// Wipe removes every transaction and message.
func (t *Transactions) Wipe() error {
	if t.messages != nil {
		if err := t.messages.storage.Wipe(); err != nil {
			return err
		}
	}
	return t.storage.Wipe()
}
