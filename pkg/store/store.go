package store

import (
	"errors"
	"fmt"

	"xswap/pkg/storage"
)

// Namespaces of the persisted stores.
const (
	NamespaceHeights      = "heights"
	NamespaceTransactions = "transactions"
	NamespaceMessages     = "messages"
	NamespaceIntents      = "intents"
)

// Stores groups the repositories backed by one storage directory.
type Stores struct {
	Transactions *Transactions
	Messages     *Messages
	Intents      *Intents
}

// Open loads the transaction, message and intent stores from dir.
func Open(dir string) (*Stores, error) {
	messages, err := NewMessages(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create message storage: %w", err)
	}

	transactions, err := NewTransactions(dir, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction storage: %w", err)
	}

	intents, err := NewIntents(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create intent storage: %w", err)
	}

	return &Stores{
		Transactions: transactions,
		Messages:     messages,
		Intents:      intents,
	}, nil
}

// IsNotFound reports whether err is a missing record error.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
