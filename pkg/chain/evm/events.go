package evm

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"xswap/pkg/bigint"
	"xswap/pkg/types"
)

// Relay contract events
const xcallEventsABI = `[
	{"anonymous":false,"name":"CallMessageSent","type":"event","inputs":[
		{"indexed":true,"name":"_from","type":"address"},
		{"indexed":true,"name":"_to","type":"string"},
		{"indexed":true,"name":"_sn","type":"uint256"}]},
	{"anonymous":false,"name":"CallMessage","type":"event","inputs":[
		{"indexed":true,"name":"_from","type":"string"},
		{"indexed":true,"name":"_to","type":"string"},
		{"indexed":true,"name":"_sn","type":"uint256"},
		{"indexed":false,"name":"_reqId","type":"uint256"},
		{"indexed":false,"name":"_data","type":"bytes"}]},
	{"anonymous":false,"name":"CallExecuted","type":"event","inputs":[
		{"indexed":true,"name":"_reqId","type":"uint256"},
		{"indexed":false,"name":"_code","type":"int256"},
		{"indexed":false,"name":"_msg","type":"string"}]},
	{"anonymous":false,"name":"ResponseMessage","type":"event","inputs":[
		{"indexed":true,"name":"_sn","type":"uint256"},
		{"indexed":false,"name":"_code","type":"int256"}]},
	{"anonymous":false,"name":"RollbackMessage","type":"event","inputs":[
		{"indexed":true,"name":"_sn","type":"uint256"}]}
]`

var xcallABI = mustParseABI(xcallEventsABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// eventTopics returns the topic0 of every relay event.
func eventTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(xcallABI.Events))
	for _, name := range []types.EventKind{
		types.EventCallMessageSent,
		types.EventCallMessage,
		types.EventCallExecuted,
		types.EventResponseMessage,
		types.EventRollbackMessage,
	} {
		topics = append(topics, xcallABI.Events[string(name)].ID)
	}
	return topics
}

// logPayload is the RawLog payload of an EVM log
type logPayload struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
}

func toPayload(l gethtypes.Log) json.RawMessage {
	data, _ := json.Marshal(logPayload{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
	})
	return data
}

// decodeEvent turns one log into a relay event. Logs of other events yield ok=false.
func decodeEvent(chainID string, p logPayload, raw json.RawMessage) (types.RelayEvent, bool, error) {
	if len(p.Topics) == 0 {
		return types.RelayEvent{}, false, nil
	}
	ev, err := xcallABI.EventByID(p.Topics[0])
	if err != nil {
		return types.RelayEvent{}, false, nil
	}

	out := types.RelayEvent{
		Kind:        types.EventKind(ev.Name),
		ChainID:     chainID,
		TxHash:      p.TxHash.Hex(),
		BlockHeight: bigint.U64(p.BlockNumber),
		Raw:         raw,
	}

	fields := make(map[string]interface{})
	if len(p.Data) > 0 {
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(fields, p.Data); err != nil {
			return types.RelayEvent{}, false, errors.Wrapf(err, "unpack %s", ev.Name)
		}
	}

	indexed := func(i int) (common.Hash, error) {
		if len(p.Topics) <= i {
			return common.Hash{}, errors.Errorf("%s: missing topic %d", ev.Name, i)
		}
		return p.Topics[i], nil
	}

	switch out.Kind {
	case types.EventCallMessageSent:
		from, err := indexed(1)
		if err != nil {
			return out, false, err
		}
		sn, err := indexed(3)
		if err != nil {
			return out, false, err
		}
		out.From = common.BytesToAddress(from.Bytes()).Hex()
		out.SN = bigint.NewInt(sn.Big())
	case types.EventCallMessage:
		sn, err := indexed(3)
		if err != nil {
			return out, false, err
		}
		out.SN = bigint.NewInt(sn.Big())
		out.ReqID = bigint.NewInt(asBig(fields["_reqId"]))
		if data, ok := fields["_data"].([]byte); ok {
			out.Data = hexutil.Encode(data)
		}
	case types.EventCallExecuted:
		reqID, err := indexed(1)
		if err != nil {
			return out, false, err
		}
		out.ReqID = bigint.NewInt(reqID.Big())
		out.Code = asBig(fields["_code"]).Int64()
		out.Msg, _ = fields["_msg"].(string)
	case types.EventResponseMessage:
		sn, err := indexed(1)
		if err != nil {
			return out, false, err
		}
		out.SN = bigint.NewInt(sn.Big())
		out.Code = asBig(fields["_code"]).Int64()
	case types.EventRollbackMessage:
		sn, err := indexed(1)
		if err != nil {
			return out, false, err
		}
		out.SN = bigint.NewInt(sn.Big())
	}
	return out, true, nil
}

func asBig(v interface{}) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b
	}
	return new(big.Int)
}
