package icon

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xswap/pkg/chain"
	"xswap/pkg/chain/chaintest"
	"xswap/pkg/types"
)

const xcall = "cxa07f426062a1384bdd762afa6a87d123fbc81c75"

func callMessageResult(hash string) map[string]interface{} {
	return map[string]interface{}{
		"status":      "0x1",
		"txHash":      hash,
		"blockHeight": "0x65",
		"eventLogs": []EventLog{
			{ScoreAddress: "cx0000000000000000000000000000000000000999", Indexed: []string{"Transfer(Address,Address,int)"}},
			{
				ScoreAddress: xcall,
				Indexed:      []string{"CallMessage(str,str,int,int,bytes)", "0xa4b1.arbitrum/0x1", "cxdapp", "0xc"},
				Data:         []string{"0x63", "0x0102"},
			},
			{
				ScoreAddress: xcall,
				Indexed:      []string{"CallExecuted(int,int,str)", "0x63"},
				Data:         []string{"0x1", ""},
			},
		},
	}
}

func newTestAdapter(t *testing.T, handlers map[string]chaintest.RPCHandler) *Adapter {
	srv := chaintest.NewRPCServer(t, handlers)
	return NewAdapter(Config{ChainID: "0x1.icon", XCallAddress: xcall, Timeout: 5 * time.Second}, NewClient(srv.URL, 5*time.Second))
}

func TestBlockHeightAndEventScan(t *testing.T) {
	var heights []string
	a := newTestAdapter(t, map[string]chaintest.RPCHandler{
		"icx_getLastBlock": func(json.RawMessage) (interface{}, *chaintest.RPCFault) {
			return map[string]interface{}{"height": 101}, nil
		},
		"icx_getBlockByHeight": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var params map[string]string
			_ = json.Unmarshal(p, &params)
			heights = append(heights, params["height"])
			if params["height"] == "0x65" {
				return map[string]interface{}{
					"height": 101,
					"confirmed_transaction_list": []map[string]string{
						{"txHash": "0xaaa"},
						{"txHash": "0xpending"},
					},
				}, nil
			}
			return map[string]interface{}{"height": 100, "confirmed_transaction_list": []interface{}{}}, nil
		},
		"icx_getTransactionResult": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var params map[string]string
			_ = json.Unmarshal(p, &params)
			if params["txHash"] == "0xpending" {
				return nil, &chaintest.RPCFault{Code: codePending, Message: "Pending"}
			}
			return callMessageResult(params["txHash"]), nil
		},
	})
	ctx := context.Background()

	h, err := a.GetBlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(101), h)

	logs, err := a.GetEventLogs(ctx, chain.Range{Start: 100, End: 101})
	require.NoError(t, err)
	require.Equal(t, []string{"0x64", "0x65"}, heights)
	require.Len(t, logs, 2)

	events := a.ParseEventLogs(logs)
	require.Len(t, events, 2)
	require.Equal(t, types.EventCallMessage, events[0].Kind)
	require.Equal(t, "12", events[0].SN.String())
	require.Equal(t, "99", events[0].ReqID.String())
	require.Equal(t, "0xaaa", events[0].TxHash)
	require.Equal(t, uint64(101), events[0].BlockHeight.Uint64())
	require.Equal(t, types.EventCallExecuted, events[1].Kind)
	require.Equal(t, int64(1), events[1].Code)
}

func TestReceiptPendingAndStatus(t *testing.T) {
	a := newTestAdapter(t, map[string]chaintest.RPCHandler{
		"icx_getTransactionResult": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var params map[string]string
			_ = json.Unmarshal(p, &params)
			switch params["txHash"] {
			case "0xfailed":
				return map[string]interface{}{"status": "0x0", "txHash": "0xfailed", "blockHeight": "0x10"}, nil
			case "0xok":
				return callMessageResult("0xok"), nil
			}
			return nil, &chaintest.RPCFault{Code: codeNotFound, Message: "Not found"}
		},
	})
	ctx := context.Background()

	r, err := a.GetTxReceipt(ctx, "0xunknown")
	require.NoError(t, err)
	require.Nil(t, r)
	require.Equal(t, chain.TxPending, a.DeriveTxStatus(r))

	r, err = a.GetTxReceipt(ctx, "0xfailed")
	require.NoError(t, err)
	require.Equal(t, chain.TxFailure, a.DeriveTxStatus(r))
	require.Equal(t, uint64(16), r.BlockHeight)

	r, err = a.GetTxReceipt(ctx, "ok")
	require.NoError(t, err)
	require.Equal(t, chain.TxSuccess, a.DeriveTxStatus(r))
	require.Len(t, r.Logs, 2)
}

func TestTransportErrorIsRpcError(t *testing.T) {
	a := NewAdapter(Config{ChainID: "0x1.icon"}, NewClient("http://127.0.0.1:1", time.Second))
	_, err := a.GetBlockHeight(context.Background())
	require.True(t, chain.IsRpcError(err))
}

func TestBalances(t *testing.T) {
	a := newTestAdapter(t, map[string]chaintest.RPCHandler{
		"icx_getBalance": func(json.RawMessage) (interface{}, *chaintest.RPCFault) {
			return "0xde0b6b3a7640000", nil
		},
		"icx_call": func(p json.RawMessage) (interface{}, *chaintest.RPCFault) {
			var params callParams
			_ = json.Unmarshal(p, &params)
			switch params.Data.Method {
			case "balanceOf":
				if params.To == "cxnotatoken" {
					return nil, &chaintest.RPCFault{Code: -30032, Message: "method not found"}
				}
				return "0x2a", nil
			case "getStepPrice":
				return "0x2e90edd00", nil
			}
			return nil, &chaintest.RPCFault{Code: -32602, Message: "bad"}
		},
	})
	ctx := context.Background()

	bal, err := a.GetBalance(ctx, "hx0000000000000000000000000000000000000001", "")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", bal.String())

	bal, err = a.GetBalance(ctx, "hx0000000000000000000000000000000000000001", "cxtoken")
	require.NoError(t, err)
	require.Equal(t, "42", bal.String())

	bal, err = a.GetBalance(ctx, "hx0000000000000000000000000000000000000001", "cxnotatoken")
	require.NoError(t, err)
	require.Nil(t, bal)

	fee, err := a.EstimateGas(ctx, chain.TxRequest{})
	require.NoError(t, err)
	require.Equal(t, defaultStepLimit, fee.GasLimit)
	require.Equal(t, new(big.Int).Mul(big.NewInt(12500000000), big.NewInt(2_000_000)).String(), fee.Fee.String())

	require.False(t, a.NeedsApprovalCheck("cxtoken"))
}

func TestHexInt(t *testing.T) {
	v, err := ParseHexInt("-0x1")
	require.NoError(t, err)
	require.Equal(t, int64(-1), v.Int64())
	require.Equal(t, "-0x1", FormatHexInt(v))
	require.Equal(t, "0x0", FormatHexInt(new(big.Int)))
	_, err = ParseHexInt("0x")
	require.Error(t, err)
}
