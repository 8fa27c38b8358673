package sui

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/ybbus/jsonrpc/v3"
	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/types"
)

const (
	NativeCoinType   = "0x2::sui::SUI"
	defaultGasBudget = uint64(50_000_000)
	defaultTimeout   = 15 * time.Second
	multiGetBatch    = 50
	// JSON-RPC invalid params, returned for unknown digests
	codeInvalidParams = -32602
)

// Caller is the JSON-RPC surface used by the adapter. jsonrpc.RPCClient satisfies it.
type Caller interface {
	CallFor(ctx context.Context, out interface{}, method string, params ...interface{}) error
}

type Config struct {
	ChainID string
	// XCallPackage is the package id that emits relay events.
	XCallPackage string
	GasBudget    uint64
	Timeout      time.Duration
}

// Adapter reads Sui checkpoints and transaction blocks
type Adapter struct {
	cfg    Config
	client Caller
	log    *zap.SugaredLogger
}

var _ chain.Adapter = (*Adapter)(nil)

func NewClient(endpoint string, timeout time.Duration) jsonrpc.RPCClient {
	return jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{
		HTTPClient: newHTTPClient(timeout),
	})
}

func NewAdapter(cfg Config, client Caller) *Adapter {
	if cfg.GasBudget == 0 {
		cfg.GasBudget = defaultGasBudget
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		log:    logger.Named("sui").With("chain", cfg.ChainID),
	}
}

type checkpoint struct {
	SequenceNumber string   `json:"sequenceNumber"`
	Transactions   []string `json:"transactions"`
}

type suiEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	PackageID         string          `json:"packageId"`
	TransactionModule string          `json:"transactionModule"`
	Sender            string          `json:"sender"`
	Type              string          `json:"type"`
	ParsedJSON        json.RawMessage `json:"parsedJson"`
}

type txBlock struct {
	Digest     string     `json:"digest"`
	Checkpoint string     `json:"checkpoint"`
	Events     []suiEvent `json:"events"`
	Effects    *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

type balance struct {
	CoinType        string `json:"coinType"`
	CoinObjectCount int    `json:"coinObjectCount"`
	TotalBalance    string `json:"totalBalance"`
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Family() chain.Family {
	return chain.FamilySui
}

func (a *Adapter) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.client.CallFor(ctx, out, method, params...)
}

func (a *Adapter) GetBlockHeight(ctx context.Context) (uint64, error) {
	var seq string
	if err := a.call(ctx, &seq, "sui_getLatestCheckpointSequenceNumber"); err != nil {
		return 0, chain.NewRpcError(a.cfg.ChainID, "sui_getLatestCheckpointSequenceNumber", err)
	}
	h, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return 0, chain.NewRpcError(a.cfg.ChainID, "sui_getLatestCheckpointSequenceNumber", err)
	}
	return h, nil
}

// GetEventLogs reads every checkpoint of the window and the events of its transactions.
func (a *Adapter) GetEventLogs(ctx context.Context, r chain.Range) ([]chain.RawLog, error) {
	if r.Empty() {
		return nil, nil
	}
	var out []chain.RawLog
	for h := r.Start; h <= r.End; h++ {
		var cp checkpoint
		if err := a.call(ctx, &cp, "sui_getCheckpoint", strconv.FormatUint(h, 10)); err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "sui_getCheckpoint", err)
		}
		for start := 0; start < len(cp.Transactions); start += multiGetBatch {
			end := min(start+multiGetBatch, len(cp.Transactions))
			var blocks []txBlock
			err := a.call(ctx, &blocks, "sui_multiGetTransactionBlocks",
				cp.Transactions[start:end], map[string]bool{"showEvents": true})
			if err != nil {
				return nil, chain.NewRpcError(a.cfg.ChainID, "sui_multiGetTransactionBlocks", err)
			}
			for _, b := range blocks {
				out = append(out, a.collect(b, h)...)
			}
		}
		if h == r.End {
			break
		}
	}
	return out, nil
}

func (a *Adapter) collect(b txBlock, height uint64) []chain.RawLog {
	var out []chain.RawLog
	for _, ev := range b.Events {
		if _, ok := a.kindOf(ev.Type); !ok {
			continue
		}
		payload, _ := json.Marshal(ev)
		out = append(out, chain.RawLog{
			ChainID:     a.cfg.ChainID,
			TxHash:      b.Digest,
			BlockHeight: height,
			Address:     ev.PackageID,
			Payload:     payload,
		})
	}
	return out
}

// kindOf maps "<package>::<module>::<Event>" to a relay event kind.
func (a *Adapter) kindOf(eventType string) (types.EventKind, bool) {
	parts := strings.Split(eventType, "::")
	if len(parts) != 3 {
		return "", false
	}
	if a.cfg.XCallPackage != "" && !strings.EqualFold(parts[0], a.cfg.XCallPackage) {
		return "", false
	}
	switch k := types.EventKind(parts[2]); k {
	case types.EventCallMessageSent, types.EventCallMessage, types.EventCallExecuted,
		types.EventResponseMessage, types.EventRollbackMessage:
		return k, true
	}
	return "", false
}

func (a *Adapter) ParseEventLogs(logs []chain.RawLog) []types.RelayEvent {
	var events []types.RelayEvent
	for _, l := range logs {
		var ev suiEvent
		if err := json.Unmarshal(l.Payload, &ev); err != nil {
			continue
		}
		kind, ok := a.kindOf(ev.Type)
		if !ok {
			continue
		}
		out, err := decodeEvent(kind, ev.ParsedJSON)
		if err != nil {
			a.log.Debugw("skipping malformed relay event", "tx", l.TxHash, "error", err)
			continue
		}
		out.ChainID = a.cfg.ChainID
		out.TxHash = l.TxHash
		out.BlockHeight = bigint.U64(l.BlockHeight)
		out.Raw = l.Payload
		events = append(events, out)
	}
	return events
}

func decodeEvent(kind types.EventKind, parsed json.RawMessage) (types.RelayEvent, error) {
	doc := gjson.ParseBytes(parsed)
	ev := types.RelayEvent{Kind: kind}

	integer := func(field string) (bigint.Int, error) {
		v := doc.Get(field)
		if !v.Exists() {
			return bigint.Int{}, errors.Errorf("%s: missing %s", kind, field)
		}
		return bigint.Parse(v.String())
	}

	var err error
	switch kind {
	case types.EventCallMessageSent:
		ev.From = doc.Get("from").String()
		ev.To = doc.Get("to").String()
		ev.SN, err = integer("sn")
	case types.EventCallMessage:
		ev.From = doc.Get("from").String()
		ev.To = doc.Get("to").String()
		if ev.SN, err = integer("sn"); err != nil {
			return ev, err
		}
		ev.ReqID, err = integer("req_id")
		ev.Data = doc.Get("data").Raw
	case types.EventCallExecuted:
		if ev.ReqID, err = integer("req_id"); err != nil {
			return ev, err
		}
		ev.Code = doc.Get("code").Int()
		ev.Msg = doc.Get("err_msg").String()
	case types.EventResponseMessage:
		if ev.SN, err = integer("sn"); err != nil {
			return ev, err
		}
		ev.Code = doc.Get("response_code").Int()
	case types.EventRollbackMessage:
		ev.SN, err = integer("sn")
	}
	return ev, err
}

func (a *Adapter) GetTxReceipt(ctx context.Context, digest string) (*chain.Receipt, error) {
	var b txBlock
	err := a.call(ctx, &b, "sui_getTransactionBlock", digest, map[string]bool{
		"showEffects": true,
		"showEvents":  true,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeInvalidParams {
			return nil, nil
		}
		return nil, chain.NewRpcError(a.cfg.ChainID, "sui_getTransactionBlock", err)
	}

	var height uint64
	if b.Checkpoint != "" {
		height, _ = strconv.ParseUint(b.Checkpoint, 10, 64)
	}
	r := &chain.Receipt{
		ChainID:     a.cfg.ChainID,
		TxHash:      digest,
		BlockHeight: height,
		Logs:        a.collect(b, height),
	}
	// executed but not yet checkpointed counts as pending
	if b.Effects != nil && b.Checkpoint != "" {
		r.StatusCode = b.Effects.Status.Status
	}
	return r, nil
}

func (a *Adapter) DeriveTxStatus(r *chain.Receipt) chain.TxStatus {
	if r == nil {
		return chain.TxPending
	}
	switch r.StatusCode {
	case "success":
		return chain.TxSuccess
	case "failure":
		return chain.TxFailure
	}
	return chain.TxPending
}

func (a *Adapter) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	if !strings.HasPrefix(address, "0x") {
		return nil, nil
	}
	if token == "" {
		token = NativeCoinType
	}
	var bal balance
	if err := a.call(ctx, &bal, "suix_getBalance", address, token); err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return nil, nil
		}
		return nil, chain.NewRpcError(a.cfg.ChainID, "suix_getBalance", err)
	}
	if bal.CoinObjectCount == 0 {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(bal.TotalBalance, 10)
	if !ok {
		return nil, errors.Errorf("invalid balance %q", bal.TotalBalance)
	}
	return v, nil
}

// EstimateGas reports the configured gas budget at the reference gas price.
func (a *Adapter) EstimateGas(ctx context.Context, req chain.TxRequest) (chain.FeeEstimate, error) {
	var raw string
	if err := a.call(ctx, &raw, "suix_getReferenceGasPrice"); err != nil {
		return chain.FeeEstimate{}, chain.NewRpcError(a.cfg.ChainID, "suix_getReferenceGasPrice", err)
	}
	price, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return chain.FeeEstimate{}, errors.Errorf("invalid gas price %q", raw)
	}
	budget := a.cfg.GasBudget
	if req.GasLimit > 0 {
		budget = req.GasLimit
	}
	return chain.FeeEstimate{
		GasLimit: budget,
		GasPrice: price,
		Fee:      new(big.Int).SetUint64(budget),
	}, nil
}

// EstimateApprovalGas is zero: objects are passed by ownership, never approved.
func (a *Adapter) EstimateApprovalGas(context.Context, chain.TxRequest) (chain.FeeEstimate, error) {
	return chain.ZeroFee(), nil
}

func (a *Adapter) NeedsApprovalCheck(string) bool {
	return false
}

func (a *Adapter) SubmitTransaction(ctx context.Context, signer chain.Signer, req chain.TxRequest) (string, error) {
	return chain.Submit(ctx, a.cfg.ChainID, signer, req)
}
