package sui

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xswap/pkg/chain"
	"xswap/pkg/chain/chaintest"
	"xswap/pkg/types"
)

const xcallPkg = "0x25f664e7cbc7b5a8d4e4e2f8a2f8b0e1a6c5f4bde1a11"

func relayEvent(name string, parsed map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":                map[string]string{"txDigest": "D1", "eventSeq": "0"},
		"packageId":         xcallPkg,
		"transactionModule": "main",
		"type":              xcallPkg + "::main::" + name,
		"parsedJson":        parsed,
	}
}

func newTestAdapter(t *testing.T, handlers map[string]chaintest.RPCHandler) (*Adapter, *chaintest.RPCServer) {
	srv := chaintest.NewRPCServer(t, handlers)
	return NewAdapter(Config{ChainID: "sui", XCallPackage: xcallPkg, Timeout: 5 * time.Second}, NewClient(srv.URL, 5*time.Second)), srv
}

func TestCheckpointScan(t *testing.T) {
	a, srv := newTestAdapter(t, map[string]chaintest.RPCHandler{
		"sui_getLatestCheckpointSequenceNumber": func(json.RawMessage) (interface{}, *chaintest.RPCFault) {
			return "1200", nil
		},
		"sui_getCheckpoint": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var seq string
			_ = json.Unmarshal(chaintest.Params(p)[0], &seq)
			if seq == "1200" {
				return map[string]interface{}{"sequenceNumber": seq, "transactions": []string{"D1"}}, nil
			}
			return map[string]interface{}{"sequenceNumber": seq, "transactions": []string{}}, nil
		},
		"sui_multiGetTransactionBlocks": func(json.RawMessage) (interface{}, *chaintest.RPCFault) {
			return []interface{}{map[string]interface{}{
				"digest": "D1",
				"events": []interface{}{
					relayEvent("CallMessage", map[string]interface{}{
						"from": "0x1.icon/cx1", "to": "0xdapp", "sn": "7", "req_id": "31", "data": []int{1, 2},
					}),
					relayEvent("CallExecuted", map[string]interface{}{"req_id": "31", "code": 1, "err_msg": ""}),
					map[string]interface{}{
						"packageId": "0x2",
						"type":      "0x2::coin::CoinCreated",
					},
				},
			}}, nil
		},
	})
	ctx := context.Background()

	h, err := a.GetBlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1200), h)

	logs, err := a.GetEventLogs(ctx, chain.Range{Start: 1199, End: 1200})
	require.NoError(t, err)
	require.Len(t, logs, 2)

	events := a.ParseEventLogs(logs)
	require.Len(t, events, 2)
	require.Equal(t, types.EventCallMessage, events[0].Kind)
	require.Equal(t, "7", events[0].SN.String())
	require.Equal(t, "31", events[0].ReqID.String())
	require.Equal(t, "D1", events[0].TxHash)
	require.Equal(t, uint64(1200), events[0].BlockHeight.Uint64())
	require.Equal(t, types.EventCallExecuted, events[1].Kind)
	require.Equal(t, int64(1), events[1].Code)

	require.Equal(t, 1, countCalls(srv.Calls(), "sui_multiGetTransactionBlocks"))
}

func countCalls(calls []string, method string) int {
	n := 0
	for _, c := range calls {
		if c == method {
			n++
		}
	}
	return n
}

func TestReceipt(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]chaintest.RPCHandler{
		"sui_getTransactionBlock": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var digest string
			_ = json.Unmarshal(chaintest.Params(p)[0], &digest)
			switch digest {
			case "OK":
				return map[string]interface{}{
					"digest":     "OK",
					"checkpoint": "55",
					"effects":    map[string]interface{}{"status": map[string]string{"status": "success"}},
					"events": []interface{}{
						relayEvent("CallMessageSent", map[string]interface{}{"from": "0xme", "to": "0x1.icon/cx1", "sn": "9"}),
					},
				}, nil
			case "BAD":
				return map[string]interface{}{
					"digest":     "BAD",
					"checkpoint": "56",
					"effects":    map[string]interface{}{"status": map[string]string{"status": "failure", "error": "MoveAbort"}},
				}, nil
			case "UNCHECKPOINTED":
				return map[string]interface{}{
					"digest":  "UNCHECKPOINTED",
					"effects": map[string]interface{}{"status": map[string]string{"status": "success"}},
				}, nil
			}
			return nil, &chaintest.RPCFault{Code: codeInvalidParams, Message: "Could not find the referenced transaction"}
		},
	})
	ctx := context.Background()

	r, err := a.GetTxReceipt(ctx, "MISSING")
	require.NoError(t, err)
	require.Nil(t, r)

	r, err = a.GetTxReceipt(ctx, "UNCHECKPOINTED")
	require.NoError(t, err)
	require.Equal(t, chain.TxPending, a.DeriveTxStatus(r))

	r, err = a.GetTxReceipt(ctx, "BAD")
	require.NoError(t, err)
	require.Equal(t, chain.TxFailure, a.DeriveTxStatus(r))

	r, err = a.GetTxReceipt(ctx, "OK")
	require.NoError(t, err)
	require.Equal(t, chain.TxSuccess, a.DeriveTxStatus(r))
	events := a.ParseEventLogs(r.Logs)
	require.Len(t, events, 1)
	require.Equal(t, "9", events[0].SN.String())
}

func TestBalanceAndFees(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]chaintest.RPCHandler{
		"suix_getBalance": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var coin string
			_ = json.Unmarshal(chaintest.Params(p)[1], &coin)
			if coin == NativeCoinType {
				return map[string]interface{}{"coinType": coin, "coinObjectCount": 2, "totalBalance": "1500000000"}, nil
			}
			return map[string]interface{}{"coinType": coin, "coinObjectCount": 0, "totalBalance": "0"}, nil
		},
		"suix_getReferenceGasPrice": func(json.RawMessage) (interface{}, *chaintest.RPCFault) {
			return "750", nil
		},
	})
	ctx := context.Background()

	bal, err := a.GetBalance(ctx, "0xabc", "")
	require.NoError(t, err)
	require.Equal(t, "1500000000", bal.String())

	bal, err = a.GetBalance(ctx, "0xabc", "0xdead::usdc::USDC")
	require.NoError(t, err)
	require.Nil(t, bal)

	fee, err := a.EstimateGas(ctx, chain.TxRequest{})
	require.NoError(t, err)
	require.Equal(t, "750", fee.GasPrice.String())
	require.Equal(t, defaultGasBudget, fee.GasLimit)

	require.False(t, a.NeedsApprovalCheck(NativeCoinType))
}
