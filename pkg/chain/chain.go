// Package chain defines the capability set every chain family adapter satisfies
// and the registry that selects an adapter by chain id.
package chain

import (
	"context"
	"encoding/json"
	"math/big"

	"xswap/pkg/types"
)

// Family discriminates chain implementations
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilyICON   Family = "icon"
	FamilySui    Family = "sui"
	FamilyCosmos Family = "cosmos"
	FamilySolana Family = "solana"
)

var Families = []Family{FamilyEVM, FamilyICON, FamilySui, FamilyCosmos, FamilySolana}

func (f Family) Valid() bool {
	for _, v := range Families {
		if v == f {
			return true
		}
	}
	return false
}

// TxStatus is the terminal classification of a receipt
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailure TxStatus = "failure"
)

// Range is an inclusive block height window.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) Empty() bool {
	return r.End < r.Start
}

// RawLog is one undecoded event as the chain reports it. Payload holds the
// chain-native JSON encoding, decoded by the same family's ParseEventLogs.
type RawLog struct {
	ChainID     string          `json:"chain_id"`
	TxHash      string          `json:"tx_hash"`
	BlockHeight uint64          `json:"block_height"`
	Address     string          `json:"address"`
	Payload     json.RawMessage `json:"payload"`
}

// Receipt is a mined transaction. StatusCode keeps the chain-native status
// representation so that DeriveTxStatus stays family specific.
type Receipt struct {
	ChainID     string
	TxHash      string
	BlockHeight uint64
	StatusCode  string
	Logs        []RawLog
}

// TxRequest describes a transaction to sign and submit
type TxRequest struct {
	From     string
	To       string
	Value    *big.Int
	Data     []byte
	Token    string
	GasLimit uint64
	// Accounts lists extra account keys for instruction based chains.
	Accounts []string
}

// FeeEstimate is the expected cost of a transaction in the native token.
type FeeEstimate struct {
	GasLimit uint64
	GasPrice *big.Int
	Fee      *big.Int
}

// ZeroFee is returned by chains without a gas concept.
func ZeroFee() FeeEstimate {
	return FeeEstimate{GasPrice: new(big.Int), Fee: new(big.Int)}
}

// Signer is a signing capability bound to one chain.
type Signer interface {
	ChainID() string
	Address() string
	SignAndSend(ctx context.Context, req TxRequest) (string, error)
}

// Adapter is the uniform capability set of one chain. Adapters never return an
// error for conditions that are simply not observed yet: an empty window yields
// no logs and a pending transaction yields a nil receipt.
type Adapter interface {
	ChainID() string
	Family() Family

	GetBlockHeight(ctx context.Context) (uint64, error)
	GetEventLogs(ctx context.Context, r Range) ([]RawLog, error)
	ParseEventLogs(logs []RawLog) []types.RelayEvent

	GetTxReceipt(ctx context.Context, hash string) (*Receipt, error)
	DeriveTxStatus(r *Receipt) TxStatus

	// GetBalance returns nil when the token is not held or unknown.
	GetBalance(ctx context.Context, address, token string) (*big.Int, error)
	EstimateGas(ctx context.Context, req TxRequest) (FeeEstimate, error)
	EstimateApprovalGas(ctx context.Context, req TxRequest) (FeeEstimate, error)
	NeedsApprovalCheck(token string) bool

	SubmitTransaction(ctx context.Context, signer Signer, req TxRequest) (string, error)
}

// Submit is the shared SubmitTransaction body: the signer must be bound to the
// adapter's chain and every failure is reported as a rejected submission.
func Submit(ctx context.Context, chainID string, signer Signer, req TxRequest) (string, error) {
	if signer == nil {
		return "", &SubmissionRejectedError{ChainID: chainID, Err: errNoSigner}
	}
	if signer.ChainID() != chainID {
		return "", &SubmissionRejectedError{ChainID: chainID, Err: &signerMismatchError{want: chainID, got: signer.ChainID()}}
	}
	if req.From == "" {
		req.From = signer.Address()
	}
	hash, err := signer.SignAndSend(ctx, req)
	if err != nil {
		return "", &SubmissionRejectedError{ChainID: chainID, Err: err}
	}
	return hash, nil
}

// FilterEvents returns the events of the given kind.
func FilterEvents(events []types.RelayEvent, kind types.EventKind) []types.RelayEvent {
	var out []types.RelayEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
