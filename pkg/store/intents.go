package store

import (
	"fmt"
	"time"

	"xswap/pkg/storage"
	"xswap/pkg/types"
)

// Intents stores intent orders keyed by client id
type Intents struct {
	storage *storage.Store[types.IntentOrder]
}

func NewIntents(dir string) (*Intents, error) {
	s, err := storage.Open[types.IntentOrder](dir, NamespaceIntents)
	if err != nil {
		return nil, err
	}
	return &Intents{storage: s}, nil
}

func (i *Intents) Create(order types.IntentOrder) error {
	if order.ID == "" {
		return fmt.Errorf("intent order id is required")
	}
	return i.storage.Insert(order.ID, order)
}

func (i *Intents) Get(id string) (types.IntentOrder, error) {
	order, ok := i.storage.Get(id)
	if !ok {
		return types.IntentOrder{}, fmt.Errorf("intent order %q: %w", id, storage.ErrNotFound)
	}
	return order, nil
}

// Update applies fn to a copy of the order and stores the result as a whole.
func (i *Intents) Update(id string, fn func(*types.IntentOrder) error) (types.IntentOrder, error) {
	return i.storage.Update(id, func(cur types.IntentOrder) (types.IntentOrder, error) {
		c := cur
		if err := fn(&c); err != nil {
			return cur, err
		}
		return c, nil
	})
}

func (i *Intents) List() []types.IntentOrder {
	return i.storage.List()
}

func (i *Intents) ListByStatus(status types.IntentStatus) []types.IntentOrder {
	return i.storage.Filter(func(o types.IntentOrder) bool {
		return o.Status == status
	})
}

// ListPollable returns pending orders that already have a solver task id.
func (i *Intents) ListPollable() []types.IntentOrder {
	return i.storage.Filter(func(o types.IntentOrder) bool {
		return o.Status == types.IntentPending && o.TaskID != ""
	})
}

// ListUnregistered returns pending orders that were submitted on chain but
// have no solver task id, and were last touched before the given time.
func (i *Intents) ListUnregistered(before time.Time) []types.IntentOrder {
	return i.storage.Filter(func(o types.IntentOrder) bool {
		return o.Status == types.IntentPending && o.TaskID == "" && o.TxHash != "" && o.UpdatedAt.Before(before)
	})
}
