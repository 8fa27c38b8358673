package types

import (
	"fmt"
	"time"

	"xswap/pkg/bigint"
)

// MessageStatus is the delivery state of one relay hop
type MessageStatus string

const (
	MessageRequested MessageStatus = "REQUESTED"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageExecuted  MessageStatus = "EXECUTED"
	MessageFailed    MessageStatus = "FAILED"
)

var messageRank = map[MessageStatus]int{
	MessageRequested: 0,
	MessageDelivered: 1,
	MessageExecuted:  2,
	MessageFailed:    3,
}

func (s MessageStatus) IsTerminal() bool {
	return s == MessageExecuted || s == MessageFailed
}

// CanAdvanceTo reports whether next is strictly forward of s. FAILED is
// reachable from any non-terminal status.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s.IsTerminal() {
		return false
	}
	cur, ok := messageRank[s]
	if !ok {
		return false
	}
	n, ok := messageRank[next]
	if !ok {
		return false
	}
	return n > cur
}

// RelayMessage is the per-hop delivery record of a Transaction.
type RelayMessage struct {
	ID                    string        `json:"id"`
	XTransactionID        string        `json:"x_transaction_id"`
	SourceChainID         string        `json:"source_chain_id"`
	DestinationChainID    string        `json:"destination_chain_id"`
	SourceTransactionHash string        `json:"source_transaction_hash"`
	Status                MessageStatus `json:"status"`
	IsPrimary             bool          `json:"is_primary"`

	Events map[EventKind]RelayEvent `json:"events"`

	DestinationChainInitialBlockHeight bigint.U64 `json:"destination_chain_initial_block_height"`
	LastScannedHeight                  bigint.U64 `json:"last_scanned_height"`

	// Serial number assigned by the source chain relay contract, and the request id
	// assigned on delivery. Both are zero until observed.
	SN    bigint.Int `json:"sn"`
	ReqID bigint.Int `json:"req_id"`

	ExecutedTxHash string     `json:"executed_tx_hash,omitempty"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// MessageID returns the primary message id, which equals the owning transaction id.
func MessageID(chainID, txHash string) string {
	return TransactionID(chainID, txHash)
}

// HasSN reports whether the source CallMessageSent has been bound.
func (m RelayMessage) HasSN() bool {
	_, ok := m.Events[EventCallMessageSent]
	return ok
}

// ScanFloor is the first height the next scan of the destination should cover.
func (m RelayMessage) ScanFloor() uint64 {
	if m.LastScannedHeight > 0 && m.LastScannedHeight >= m.DestinationChainInitialBlockHeight {
		return m.LastScannedHeight.Uint64() + 1
	}
	return m.DestinationChainInitialBlockHeight.Uint64()
}

// Advance moves the status forward. Backward or terminal-leaving moves are rejected.
func (m *RelayMessage) Advance(next MessageStatus, now time.Time) error {
	if !m.Status.CanAdvanceTo(next) {
		return fmt.Errorf("message %s: cannot move from %s to %s", m.ID, m.Status, next)
	}
	m.Status = next
	m.UpdatedAt = now
	if next == MessageExecuted {
		t := now
		m.ExecutedAt = &t
	}
	return nil
}

// RecordEvent stores ev under its kind. The first observation of a kind is kept.
func (m *RelayMessage) RecordEvent(ev RelayEvent) bool {
	if m.Events == nil {
		m.Events = make(map[EventKind]RelayEvent)
	}
	if _, seen := m.Events[ev.Kind]; seen {
		return false
	}
	m.Events[ev.Kind] = ev
	return true
}

func (m RelayMessage) Clone() RelayMessage {
	c := m
	if m.Events != nil {
		c.Events = make(map[EventKind]RelayEvent, len(m.Events))
		for k, v := range m.Events {
			c.Events[k] = v
		}
	}
	if m.ExecutedAt != nil {
		t := *m.ExecutedAt
		c.ExecutedAt = &t
	}
	return c
}
