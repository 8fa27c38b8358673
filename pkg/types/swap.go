package types

import (
	"fmt"
	"time"

	"xswap/pkg/bigint"
)

// IntentStatus is the client-visible state of an intent order
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSuccess   IntentStatus = "success"
	IntentFailure   IntentStatus = "failure"
	IntentCancelled IntentStatus = "cancelled"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentSuccess || s == IntentFailure || s == IntentCancelled
}

// IntentOrder tracks one intent-settlement attempt
type IntentOrder struct {
	ID         string       `json:"id"`
	Executor   string       `json:"executor,omitempty"`
	OrderID    bigint.Int   `json:"order_id"`
	TaskID     string       `json:"task_id,omitempty"`
	QuoteID    string       `json:"quote_id,omitempty"`
	Status     IntentStatus `json:"status"`
	SrcChainID string       `json:"src_chain_id"`
	DstChainID string       `json:"dst_chain_id"`
	FromToken  string       `json:"from_token"`
	ToToken    string       `json:"to_token"`
	FromAmount bigint.Int   `json:"from_amount"`
	ToAmount   bigint.Int   `json:"to_amount"`

	TxHash       string `json:"tx_hash"`
	SolverTxHash string `json:"solver_tx_hash,omitempty"`
	CancelTxHash string `json:"cancel_tx_hash,omitempty"`
	Error        string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetStatus moves the order to status unless it is already terminal.
func (o *IntentOrder) SetStatus(status IntentStatus, now time.Time) bool {
	if o.Status.IsTerminal() || o.Status == status {
		return false
	}
	o.Status = status
	o.UpdatedAt = now
	return true
}

// SetOrderID records the on-chain order id. It may only be set once.
func (o *IntentOrder) SetOrderID(id bigint.Int, now time.Time) error {
	if !o.OrderID.IsZero() {
		if o.OrderID.Cmp(id) == 0 {
			return nil
		}
		return fmt.Errorf("order %s already has on-chain id %s", o.ID, o.OrderID)
	}
	o.OrderID = id
	o.UpdatedAt = now
	return nil
}

// QuoteDisplay holds formatted quote information for display
type QuoteDisplay struct {
	SourceAmount string
	SourceToken  string
	SourceChain  string
	DestAmount   string
	DestToken    string
	DestChain    string
	QuoteID      string
}
