package icon

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/types"
)

const (
	governanceScore  = "cx0000000000000000000000000000000000000001"
	defaultStepLimit = uint64(2_000_000)
	defaultTimeout   = 15 * time.Second
)

// Relay contract event signatures
var signatures = map[string]types.EventKind{
	"CallMessageSent(Address,str,int)":   types.EventCallMessageSent,
	"CallMessage(str,str,int,int,bytes)": types.EventCallMessage,
	"CallExecuted(int,int,str)":          types.EventCallExecuted,
	"ResponseMessage(int,int)":           types.EventResponseMessage,
	"RollbackMessage(int)":               types.EventRollbackMessage,
}

// Caller is the JSON-RPC surface used by the adapter. jsonrpc.RPCClient satisfies it.
type Caller interface {
	CallFor(ctx context.Context, out interface{}, method string, params ...interface{}) error
}

type Config struct {
	ChainID      string
	XCallAddress string
	NativeToken  string
	StepLimit    uint64
	Timeout      time.Duration
}

// Adapter reads the ICON hub chain through its v3 JSON-RPC API
type Adapter struct {
	cfg    Config
	client Caller
	log    *zap.SugaredLogger
}

var _ chain.Adapter = (*Adapter)(nil)

// NewClient creates a JSON-RPC client for an ICON node endpoint (…/api/v3).
func NewClient(endpoint string, timeout time.Duration) jsonrpc.RPCClient {
	return jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
		HTTPClient: newHTTPClient(timeout),
	})
}

func NewAdapter(cfg Config, client Caller) *Adapter {
	if cfg.StepLimit == 0 {
		cfg.StepLimit = defaultStepLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		log:    logger.Named("icon").With("chain", cfg.ChainID),
	}
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Family() chain.Family {
	return chain.FamilyICON
}

func (a *Adapter) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.client.CallFor(ctx, out, method, params...)
}

func (a *Adapter) GetBlockHeight(ctx context.Context) (uint64, error) {
	var b block
	if err := a.call(ctx, &b, "icx_getLastBlock"); err != nil {
		return 0, chain.NewRpcError(a.cfg.ChainID, "icx_getLastBlock", err)
	}
	return uint64(b.Height), nil
}

// GetEventLogs walks every block of the window and collects the relay contract logs.
func (a *Adapter) GetEventLogs(ctx context.Context, r chain.Range) ([]chain.RawLog, error) {
	if r.Empty() {
		return nil, nil
	}
	var out []chain.RawLog
	for h := r.Start; h <= r.End; h++ {
		var b block
		err := a.call(ctx, &b, "icx_getBlockByHeight", map[string]string{
			"height": FormatHexInt(new(big.Int).SetUint64(h)),
		})
		if err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "icx_getBlockByHeight", err)
		}
		for _, tx := range b.Transactions {
			res, err := a.txResult(ctx, tx.hash())
			if err != nil {
				return nil, chain.NewRpcError(a.cfg.ChainID, "icx_getTransactionResult", err)
			}
			if res == nil {
				continue
			}
			out = append(out, a.collect(res, h)...)
		}
		if h == r.End {
			break
		}
	}
	return out, nil
}

func (a *Adapter) collect(res *txResult, height uint64) []chain.RawLog {
	var out []chain.RawLog
	for _, l := range res.EventLogs {
		if a.cfg.XCallAddress != "" && !strings.EqualFold(l.ScoreAddress, a.cfg.XCallAddress) {
			continue
		}
		if len(l.Indexed) == 0 {
			continue
		}
		if _, ok := signatures[l.Indexed[0]]; !ok {
			continue
		}
		out = append(out, chain.RawLog{
			ChainID:     a.cfg.ChainID,
			TxHash:      withPrefix(res.TxHash),
			BlockHeight: height,
			Address:     l.ScoreAddress,
			Payload:     mustJSON(l),
		})
	}
	return out
}

// txResult returns nil while the transaction is pending or unknown.
func (a *Adapter) txResult(ctx context.Context, hash string) (*txResult, error) {
	var res txResult
	err := a.call(ctx, &res, "icx_getTransactionResult", map[string]string{"txHash": withPrefix(hash)})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			switch rpcErr.Code {
			case codePending, codeExecuting, codeNotFound:
				return nil, nil
			}
		}
		return nil, err
	}
	if res.TxHash == "" {
		res.TxHash = hash
	}
	return &res, nil
}

func (a *Adapter) ParseEventLogs(logs []chain.RawLog) []types.RelayEvent {
	var events []types.RelayEvent
	for _, l := range logs {
		var el EventLog
		if err := json.Unmarshal(l.Payload, &el); err != nil {
			continue
		}
		ev, ok, err := decodeEvent(el)
		if err != nil {
			a.log.Debugw("skipping malformed relay event", "tx", l.TxHash, "error", err)
			continue
		}
		if !ok {
			continue
		}
		ev.ChainID = a.cfg.ChainID
		ev.TxHash = l.TxHash
		ev.BlockHeight = bigint.U64(l.BlockHeight)
		ev.Raw = l.Payload
		events = append(events, ev)
	}
	return events
}

func decodeEvent(el EventLog) (types.RelayEvent, bool, error) {
	if len(el.Indexed) == 0 {
		return types.RelayEvent{}, false, nil
	}
	kind, ok := signatures[el.Indexed[0]]
	if !ok {
		return types.RelayEvent{}, false, nil
	}
	ev := types.RelayEvent{Kind: kind}

	idx := func(i int) (string, error) {
		if len(el.Indexed) <= i {
			return "", errors.Errorf("%s: missing indexed field %d", kind, i)
		}
		return el.Indexed[i], nil
	}
	dat := func(i int) (string, error) {
		if len(el.Data) <= i {
			return "", errors.Errorf("%s: missing data field %d", kind, i)
		}
		return el.Data[i], nil
	}
	num := func(s string, err error) (*big.Int, error) {
		if err != nil {
			return nil, err
		}
		return ParseHexInt(s)
	}

	switch kind {
	case types.EventCallMessageSent:
		from, err := idx(1)
		if err != nil {
			return ev, false, err
		}
		to, err := idx(2)
		if err != nil {
			return ev, false, err
		}
		sn, err := num(idx(3))
		if err != nil {
			return ev, false, err
		}
		ev.From, ev.To, ev.SN = from, to, bigint.NewInt(sn)
	case types.EventCallMessage:
		from, err := idx(1)
		if err != nil {
			return ev, false, err
		}
		to, err := idx(2)
		if err != nil {
			return ev, false, err
		}
		sn, err := num(idx(3))
		if err != nil {
			return ev, false, err
		}
		reqID, err := num(dat(0))
		if err != nil {
			return ev, false, err
		}
		ev.From, ev.To, ev.SN, ev.ReqID = from, to, bigint.NewInt(sn), bigint.NewInt(reqID)
		ev.Data, _ = dat(1)
	case types.EventCallExecuted:
		reqID, err := num(idx(1))
		if err != nil {
			return ev, false, err
		}
		code, err := num(dat(0))
		if err != nil {
			return ev, false, err
		}
		ev.ReqID, ev.Code = bigint.NewInt(reqID), code.Int64()
		ev.Msg, _ = dat(1)
	case types.EventResponseMessage:
		sn, err := num(idx(1))
		if err != nil {
			return ev, false, err
		}
		code, err := num(dat(0))
		if err != nil {
			return ev, false, err
		}
		ev.SN, ev.Code = bigint.NewInt(sn), code.Int64()
	case types.EventRollbackMessage:
		sn, err := num(idx(1))
		if err != nil {
			return ev, false, err
		}
		ev.SN = bigint.NewInt(sn)
	}
	return ev, true, nil
}

func (a *Adapter) GetTxReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	res, err := a.txResult(ctx, hash)
	if err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "icx_getTransactionResult", err)
	}
	if res == nil {
		return nil, nil
	}
	var height uint64
	if h, err := ParseHexInt(res.BlockHeight); err == nil {
		height = h.Uint64()
	}
	return &chain.Receipt{
		ChainID:     a.cfg.ChainID,
		TxHash:      withPrefix(hash),
		BlockHeight: height,
		StatusCode:  res.Status,
		Logs:        a.collect(res, height),
	}, nil
}

func (a *Adapter) DeriveTxStatus(r *chain.Receipt) chain.TxStatus {
	if r == nil || r.StatusCode == "" {
		return chain.TxPending
	}
	if r.StatusCode == "0x1" {
		return chain.TxSuccess
	}
	return chain.TxFailure
}

func (a *Adapter) isNative(token string) bool {
	return token == "" || strings.EqualFold(token, a.cfg.NativeToken) || token == "cx0000000000000000000000000000000000000000"
}

func (a *Adapter) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	if !strings.HasPrefix(address, "hx") && !strings.HasPrefix(address, "cx") {
		return nil, nil
	}

	var raw string
	if a.isNative(token) {
		if err := a.call(ctx, &raw, "icx_getBalance", map[string]string{"address": address}); err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "icx_getBalance", err)
		}
	} else {
		if !strings.HasPrefix(token, "cx") {
			return nil, nil
		}
		err := a.call(ctx, &raw, "icx_call", callParams{
			To:       token,
			DataType: "call",
			Data:     callData{Method: "balanceOf", Params: map[string]string{"_owner": address}},
		})
		if err != nil {
			var rpcErr *jsonrpc.RPCError
			if errors.As(err, &rpcErr) {
				// not a token contract
				return nil, nil
			}
			return nil, chain.NewRpcError(a.cfg.ChainID, "balanceOf", err)
		}
	}
	v, err := ParseHexInt(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode balance")
	}
	return v, nil
}

// EstimateGas prices the configured step limit at the governance step price.
func (a *Adapter) EstimateGas(ctx context.Context, req chain.TxRequest) (chain.FeeEstimate, error) {
	var raw string
	err := a.call(ctx, &raw, "icx_call", callParams{
		To:       governanceScore,
		DataType: "call",
		Data:     callData{Method: "getStepPrice"},
	})
	if err != nil {
		return chain.FeeEstimate{}, chain.NewRpcError(a.cfg.ChainID, "getStepPrice", err)
	}
	price, err := ParseHexInt(raw)
	if err != nil {
		return chain.FeeEstimate{}, errors.Wrap(err, "decode step price")
	}
	limit := a.cfg.StepLimit
	if req.GasLimit > 0 {
		limit = req.GasLimit
	}
	return chain.FeeEstimate{
		GasLimit: limit,
		GasPrice: price,
		Fee:      new(big.Int).Mul(price, new(big.Int).SetUint64(limit)),
	}, nil
}

// EstimateApprovalGas is zero: ICON tokens are moved with transfer and _data, never approved.
func (a *Adapter) EstimateApprovalGas(context.Context, chain.TxRequest) (chain.FeeEstimate, error) {
	return chain.ZeroFee(), nil
}

func (a *Adapter) NeedsApprovalCheck(string) bool {
	return false
}

func (a *Adapter) SubmitTransaction(ctx context.Context, signer chain.Signer, req chain.TxRequest) (string, error) {
	return chain.Submit(ctx, a.cfg.ChainID, signer, req)
}

// Call runs a read-only icx_call against a score.
func (a *Adapter) Call(ctx context.Context, out interface{}, score, method string, params map[string]string) error {
	err := a.call(ctx, out, "icx_call", callParams{
		To:       score,
		DataType: "call",
		Data:     callData{Method: method, Params: params},
	})
	if err != nil {
		return chain.NewRpcError(a.cfg.ChainID, method, err)
	}
	return nil
}

// GetTransactionData returns the data field of a submitted transaction.
func (a *Adapter) GetTransactionData(ctx context.Context, hash string) (json.RawMessage, error) {
	var tx struct {
		Data json.RawMessage `json:"data"`
	}
	if err := a.call(ctx, &tx, "icx_getTransactionByHash", map[string]string{"txHash": withPrefix(hash)}); err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "icx_getTransactionByHash", err)
	}
	return tx.Data, nil
}

// TxEventLogs returns every event log of a mined transaction, or nil while it is pending.
func (a *Adapter) TxEventLogs(ctx context.Context, hash string) ([]EventLog, error) {
	res, err := a.txResult(ctx, hash)
	if err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "icx_getTransactionResult", err)
	}
	if res == nil {
		return nil, nil
	}
	return res.EventLogs, nil
}
