package store

import (
	"fmt"

	"xswap/pkg/storage"
	"xswap/pkg/types"
)

// Messages stores relay messages keyed by message id
type Messages struct {
	storage *storage.Store[types.RelayMessage]
}

func NewMessages(dir string) (*Messages, error) {
	s, err := storage.Open[types.RelayMessage](dir, NamespaceMessages)
	if err != nil {
		return nil, err
	}
	return &Messages{storage: s}, nil
}

func (m *Messages) Create(msg types.RelayMessage) error {
	if msg.ID == "" || msg.XTransactionID == "" {
		return fmt.Errorf("message id and transaction id are required")
	}
	return m.storage.Insert(msg.ID, msg.Clone())
}

func (m *Messages) Get(id string) (types.RelayMessage, error) {
	msg, ok := m.storage.Get(id)
	if !ok {
		return types.RelayMessage{}, fmt.Errorf("message %q: %w", id, storage.ErrNotFound)
	}
	return msg.Clone(), nil
}

// Update applies fn to a copy of the message and stores the result as a whole.
func (m *Messages) Update(id string, fn func(*types.RelayMessage) error) (types.RelayMessage, error) {
	next, err := m.storage.Update(id, func(cur types.RelayMessage) (types.RelayMessage, error) {
		c := cur.Clone()
		if err := fn(&c); err != nil {
			return cur, err
		}
		return c, nil
	})
	if err != nil {
		return types.RelayMessage{}, err
	}
	return next.Clone(), nil
}

// ListByTransaction returns the messages of one transaction, primary first.
func (m *Messages) ListByTransaction(xid string) []types.RelayMessage {
	msgs := m.storage.Filter(func(msg types.RelayMessage) bool {
		return msg.XTransactionID == xid
	})
	for i := range msgs {
		if msgs[i].IsPrimary && i != 0 {
			msgs[0], msgs[i] = msgs[i], msgs[0]
		}
	}
	return msgs
}

// ListActive returns every message that has not reached a terminal status.
func (m *Messages) ListActive() []types.RelayMessage {
	return m.storage.Filter(func(msg types.RelayMessage) bool {
		return !msg.Status.IsTerminal()
	})
}

func (m *Messages) List() []types.RelayMessage {
	return m.storage.List()
}

// DeleteByTransaction removes every message owned by the given transactions.
func (m *Messages) DeleteByTransaction(xids ...string) error {
	owned := make(map[string]bool, len(xids))
	for _, id := range xids {
		owned[id] = true
	}
	var ids []string
	for _, msg := range m.storage.List() {
		if owned[msg.XTransactionID] {
			ids = append(ids, msg.ID)
		}
	}
	return m.storage.Delete(ids...)
}
