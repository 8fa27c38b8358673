package cosmos

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/stretchr/testify/require"

	"xswap/pkg/chain"
	"xswap/pkg/types"
)

const xcall = "archway1xcallcontract0000000000000000000000000000000000000000"

type fakeBackend struct {
	height  int64
	txs     []*ctypes.ResultTx
	receipt *ctypes.ResultTx
	err     error
	queries []string
}

func (f *fakeBackend) Status(context.Context) (*ctypes.ResultStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ctypes.ResultStatus{SyncInfo: ctypes.SyncInfo{LatestBlockHeight: f.height}}, nil
}

func (f *fakeBackend) TxSearch(_ context.Context, query string, _ bool, page, perPage *int, _ string) (*ctypes.ResultTxSearch, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.queries = append(f.queries, query)
	start := (*page - 1) * *perPage
	if start >= len(f.txs) {
		return &ctypes.ResultTxSearch{TotalCount: len(f.txs)}, nil
	}
	end := min(start+*perPage, len(f.txs))
	return &ctypes.ResultTxSearch{Txs: f.txs[start:end], TotalCount: len(f.txs)}, nil
}

func (f *fakeBackend) Tx(context.Context, []byte, bool) (*ctypes.ResultTx, error) {
	if f.receipt == nil {
		return nil, errors.New("RPC error -32603 - Internal error: tx (ABCD) not found")
	}
	return f.receipt, nil
}

func wasm(kind string, contract string, kv ...string) abci.Event {
	ev := abci.Event{Type: "wasm-" + kind}
	ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: "_contract_address", Value: contract})
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: kv[i], Value: kv[i+1]})
	}
	return ev
}

func newTestAdapter(t *testing.T, b *fakeBackend, lcd string) *Adapter {
	a, err := NewAdapter(Config{
		ChainID:       "archway",
		XCallAddress:  xcall,
		LCDURL:        lcd,
		AddressPrefix: "archway",
		NativeToken:   "aarch",
		GasPrice:      "0.5",
	}, b)
	require.NoError(t, err)
	return a
}

func TestEventScan(t *testing.T) {
	b := &fakeBackend{height: 900}
	for i := 0; i < searchPageSize+1; i++ {
		b.txs = append(b.txs, &ctypes.ResultTx{Hash: []byte{byte(i)}, Height: 850})
	}
	b.txs[searchPageSize] = &ctypes.ResultTx{
		Hash:   []byte{0xab, 0xcd},
		Height: 851,
		TxResult: abci.ExecTxResult{Events: []abci.Event{
			{Type: "message", Attributes: []abci.EventAttribute{{Key: "action", Value: "execute"}}},
			wasm("CallMessage", xcall, "from", "0x1.icon/hx1", "to", "archway1dapp", "sn", "44", "reqId", "8", "data", "AQI="),
			wasm("CallExecuted", xcall, "reqId", "8", "code", "0", "msg", "revert"),
			wasm("CallExecuted", "archway1other", "reqId", "8", "code", "1"),
		}},
	}
	a := newTestAdapter(t, b, "")
	ctx := context.Background()

	h, err := a.GetBlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(900), h)

	logs, err := a.GetEventLogs(ctx, chain.Range{Start: 800, End: 900})
	require.NoError(t, err)
	require.Len(t, b.queries, 2)
	require.True(t, strings.Contains(b.queries[0], "tx.height>=800 AND tx.height<=900"))
	require.Len(t, logs, 2)

	events := a.ParseEventLogs(logs)
	require.Len(t, events, 2)
	require.Equal(t, types.EventCallMessage, events[0].Kind)
	require.Equal(t, "44", events[0].SN.String())
	require.Equal(t, "8", events[0].ReqID.String())
	require.Equal(t, "ABCD", events[0].TxHash)
	require.Equal(t, uint64(851), events[0].BlockHeight.Uint64())
	require.Equal(t, types.EventCallExecuted, events[1].Kind)
	require.Equal(t, int64(0), events[1].Code)
	require.Equal(t, "revert", events[1].Msg)

	logs, err = a.GetEventLogs(ctx, chain.Range{Start: 901, End: 900})
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestReceipt(t *testing.T) {
	b := &fakeBackend{}
	a := newTestAdapter(t, b, "")
	ctx := context.Background()

	r, err := a.GetTxReceipt(ctx, "ABCD")
	require.NoError(t, err)
	require.Nil(t, r)
	require.Equal(t, chain.TxPending, a.DeriveTxStatus(r))

	b.receipt = &ctypes.ResultTx{
		Hash:   []byte{0xab, 0xcd},
		Height: 12,
		TxResult: abci.ExecTxResult{Events: []abci.Event{
			wasm("CallMessageSent", xcall, "from", "archway1me", "to", "0x1.icon/hx1", "sn", "3"),
		}},
	}
	r, err = a.GetTxReceipt(ctx, "ABCD")
	require.NoError(t, err)
	require.Equal(t, chain.TxSuccess, a.DeriveTxStatus(r))
	require.Equal(t, "3", a.ParseEventLogs(r.Logs)[0].SN.String())

	b.receipt.TxResult.Code = 5
	r, err = a.GetTxReceipt(ctx, "ABCD")
	require.NoError(t, err)
	require.Equal(t, chain.TxFailure, a.DeriveTxStatus(r))

	_, err = a.GetTxReceipt(ctx, "zz")
	require.Error(t, err)
	require.False(t, chain.IsRpcError(err))
}

func TestTransportError(t *testing.T) {
	a := newTestAdapter(t, &fakeBackend{err: errors.New("connection refused")}, "")
	_, err := a.GetBlockHeight(context.Background())
	require.True(t, chain.IsRpcError(err))
	_, err = a.GetEventLogs(context.Background(), chain.Range{Start: 1, End: 2})
	require.True(t, chain.IsRpcError(err))
}

func TestBalancesAndFees(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/cosmos/bank/v1beta1/balances/archway1me/by_denom"):
			_, _ = w.Write([]byte(`{"balance":{"denom":"` + r.URL.Query().Get("denom") + `","amount":"123456789012345678901"}}`))
		case strings.HasPrefix(r.URL.Path, "/cosmwasm/wasm/v1/contract/archway1token/smart/"):
			_, _ = w.Write([]byte(`{"data":{"balance":"77"}}`))
		default:
			http.Error(w, `{"code":5,"message":"not found"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()
	a := newTestAdapter(t, &fakeBackend{}, srv.URL)
	ctx := context.Background()

	bal, err := a.GetBalance(ctx, "archway1me", "")
	require.NoError(t, err)
	require.Equal(t, "123456789012345678901", bal.String())

	bal, err = a.GetBalance(ctx, "archway1me", "archway1token")
	require.NoError(t, err)
	require.Equal(t, "77", bal.String())

	bal, err = a.GetBalance(ctx, "archway1me", "archway1unknown")
	require.NoError(t, err)
	require.Nil(t, bal)

	require.True(t, a.NeedsApprovalCheck("archway1token"))
	require.False(t, a.NeedsApprovalCheck("aarch"))

	fee, err := a.EstimateGas(ctx, chain.TxRequest{GasLimit: 1001})
	require.NoError(t, err)
	require.Equal(t, "501", fee.Fee.String())

	approval, err := a.EstimateApprovalGas(ctx, chain.TxRequest{Token: "aarch"})
	require.NoError(t, err)
	require.Zero(t, approval.Fee.Sign())
	approval, err = a.EstimateApprovalGas(ctx, chain.TxRequest{Token: "archway1token"})
	require.NoError(t, err)
	require.Equal(t, defaultGasLimit, approval.GasLimit)
}
