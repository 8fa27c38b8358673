package types

import (
	"fmt"
	"time"

	"xswap/pkg/bigint"
)

// TxType is the kind of user operation a Transaction carries
type TxType string

const (
	TxSwap          TxType = "swap"
	TxSwapOnHubOnly TxType = "swap-on-hub-only"
	TxBridge        TxType = "bridge"
	TxDeposit       TxType = "deposit"
	TxWithdraw      TxType = "withdraw"
	TxBorrow        TxType = "borrow"
	TxRepay         TxType = "repay"
)

// TxTypes lists every supported operation type.
var TxTypes = []TxType{TxSwap, TxSwapOnHubOnly, TxBridge, TxDeposit, TxWithdraw, TxBorrow, TxRepay}

func ParseTxType(s string) (TxType, error) {
	for _, t := range TxTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// TxStatus is the client-visible state of a Transaction
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailure TxStatus = "failure"
)

func (s TxStatus) IsTerminal() bool {
	return s == TxSuccess || s == TxFailure
}

// Transaction is one user-initiated cross-chain operation.
type Transaction struct {
	ID                       string   `json:"id"`
	Type                     TxType   `json:"type"`
	Status                   TxStatus `json:"status"`
	SourceChainID            string   `json:"source_chain_id"`
	SourceTxHash             string   `json:"source_tx_hash"`
	FinalDestinationChainID  string   `json:"final_destination_chain_id"`
	SecondaryMessageRequired bool     `json:"secondary_message_required"`

	// Scan floor for the secondary hop, captured at creation.
	FinalDestinationChainInitialBlockHeight bigint.U64 `json:"final_destination_chain_initial_block_height"`

	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// TransactionID builds the composite id "<chainId>/<txHash>".
func TransactionID(chainID, txHash string) string {
	return chainID + "/" + txHash
}

// WithStatus returns a copy with the new status. Terminal statuses are final; the
// second return is false when the transition was refused.
func (t Transaction) WithStatus(status TxStatus, now time.Time) (Transaction, bool) {
	if t.Status.IsTerminal() || t.Status == status {
		return t, false
	}
	next := t.Clone()
	next.Status = status
	next.UpdatedAt = now
	return next, true
}

func (t Transaction) Clone() Transaction {
	c := t
	if t.Attributes != nil {
		c.Attributes = make(map[string]string, len(t.Attributes))
		for k, v := range t.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}
