package types

import (
	"encoding/json"

	"xswap/pkg/bigint"
)

// EventKind names a relay network event
type EventKind string

const (
	EventCallMessageSent EventKind = "CallMessageSent"
	EventCallMessage     EventKind = "CallMessage"
	EventCallExecuted    EventKind = "CallExecuted"
	EventResponseMessage EventKind = "ResponseMessage"
	EventRollbackMessage EventKind = "RollbackMessage"
)

// CallExecuted result code reported for a successful destination call.
const CallExecutedSuccess = 1

// RelayEvent is the chain-independent form of a relay contract event. Only the
// fields relevant to Kind are populated.
type RelayEvent struct {
	Kind        EventKind  `json:"kind"`
	ChainID     string     `json:"chain_id"`
	TxHash      string     `json:"tx_hash"`
	BlockHeight bigint.U64 `json:"block_height"`

	From  string     `json:"from,omitempty"`
	To    string     `json:"to,omitempty"`
	SN    bigint.Int `json:"sn"`
	ReqID bigint.Int `json:"req_id"`
	Code  int64      `json:"code,omitempty"`
	Msg   string     `json:"msg,omitempty"`
	Data  string     `json:"data,omitempty"`

	// Raw is the chain-native payload the event was decoded from.
	Raw json.RawMessage `json:"raw,omitempty"`
}
