// Package cosmos reads relay events from a CosmWasm chain through the CometBFT
// RPC and balances through the LCD REST endpoint.
package cosmos

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/types"
)

const (
	defaultTimeout  = 15 * time.Second
	defaultGasLimit = uint64(400_000)
	defaultGasPrice = "0.025"
	searchPageSize  = 100

	wasmEventPrefix = "wasm-"
	contractAttr    = "_contract_address"
)

// Backend is the subset of the CometBFT RPC client the adapter uses.
type Backend interface {
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
	TxSearch(ctx context.Context, query string, prove bool, page, perPage *int, orderBy string) (*ctypes.ResultTxSearch, error)
	Tx(ctx context.Context, hash []byte, prove bool) (*ctypes.ResultTx, error)
}

type Config struct {
	ChainID      string
	XCallAddress string
	LCDURL       string
	// AddressPrefix is the bech32 account prefix; tokens carrying it are cw20 contracts.
	AddressPrefix string
	NativeToken   string
	GasLimit      uint64
	GasPrice      string
	Timeout       time.Duration
}

// Adapter tracks xcall wasm events
type Adapter struct {
	cfg      Config
	backend  Backend
	http     *http.Client
	gasPrice sdkmath.LegacyDec
	log      *zap.SugaredLogger
}

var _ chain.Adapter = (*Adapter)(nil)

// NewClient dials the CometBFT RPC endpoint.
func NewClient(remote string, timeout time.Duration) (*rpchttp.HTTP, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c, err := rpchttp.NewWithClient(remote, "/websocket", &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create CometBFT client: %w", err)
	}
	return c, nil
}

func NewAdapter(cfg Config, backend Backend) (*Adapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = defaultGasLimit
	}
	if cfg.GasPrice == "" {
		cfg.GasPrice = defaultGasPrice
	}
	price, err := sdkmath.LegacyNewDecFromStr(cfg.GasPrice)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid gas price %q", cfg.GasPrice)
	}
	return &Adapter{
		cfg:      cfg,
		backend:  backend,
		http:     &http.Client{Timeout: cfg.Timeout},
		gasPrice: price,
		log:      logger.Named("cosmos").With("chain", cfg.ChainID),
	}, nil
}

// wasmEvent is the RawLog payload: a flattened abci event.
type wasmEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Family() chain.Family {
	return chain.FamilyCosmos
}

func (a *Adapter) GetBlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	s, err := a.backend.Status(ctx)
	if err != nil {
		return 0, chain.NewRpcError(a.cfg.ChainID, "status", err)
	}
	if s.SyncInfo.LatestBlockHeight < 0 {
		return 0, nil
	}
	return uint64(s.SyncInfo.LatestBlockHeight), nil
}

// GetEventLogs pages through every transaction that executed the xcall contract
// inside the window.
func (a *Adapter) GetEventLogs(ctx context.Context, r chain.Range) ([]chain.RawLog, error) {
	if r.Empty() {
		return nil, nil
	}
	query := fmt.Sprintf("execute._contract_address='%s' AND tx.height>=%d AND tx.height<=%d",
		a.cfg.XCallAddress, r.Start, r.End)

	var out []chain.RawLog
	perPage := searchPageSize
	for page := 1; ; page++ {
		p := page
		res, err := a.search(ctx, query, &p, &perPage)
		if err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "tx_search", err)
		}
		for _, tx := range res.Txs {
			out = append(out, a.collect(tx.Hash.String(), uint64(tx.Height), tx.TxResult.Events)...)
		}
		if len(res.Txs) == 0 || page*perPage >= res.TotalCount {
			break
		}
	}
	return out, nil
}

func (a *Adapter) search(ctx context.Context, query string, page, perPage *int) (*ctypes.ResultTxSearch, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.backend.TxSearch(ctx, query, false, page, perPage, "asc")
}

func (a *Adapter) collect(hash string, height uint64, events []abci.Event) []chain.RawLog {
	var out []chain.RawLog
	for _, ev := range events {
		if _, ok := kindOf(ev.Type); !ok {
			continue
		}
		attrs := make(map[string]string, len(ev.Attributes))
		for _, attr := range ev.Attributes {
			attrs[attr.Key] = attr.Value
		}
		if a.cfg.XCallAddress != "" && attrs[contractAttr] != a.cfg.XCallAddress {
			continue
		}
		payload, _ := json.Marshal(wasmEvent{Type: ev.Type, Attributes: attrs})
		out = append(out, chain.RawLog{
			ChainID:     a.cfg.ChainID,
			TxHash:      hash,
			BlockHeight: height,
			Address:     attrs[contractAttr],
			Payload:     payload,
		})
	}
	return out
}

func kindOf(eventType string) (types.EventKind, bool) {
	if !strings.HasPrefix(eventType, wasmEventPrefix) {
		return "", false
	}
	switch k := types.EventKind(strings.TrimPrefix(eventType, wasmEventPrefix)); k {
	case types.EventCallMessageSent, types.EventCallMessage, types.EventCallExecuted,
		types.EventResponseMessage, types.EventRollbackMessage:
		return k, true
	}
	return "", false
}

func (a *Adapter) ParseEventLogs(logs []chain.RawLog) []types.RelayEvent {
	var events []types.RelayEvent
	for _, l := range logs {
		var ev wasmEvent
		if err := json.Unmarshal(l.Payload, &ev); err != nil {
			continue
		}
		kind, ok := kindOf(ev.Type)
		if !ok {
			continue
		}
		out, err := decodeEvent(kind, ev.Attributes)
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

func decodeEvent(kind types.EventKind, attrs map[string]string) (types.RelayEvent, error) {
	ev := types.RelayEvent{Kind: kind}
	integer := func(key string) (bigint.Int, error) {
		v, ok := attrs[key]
		if !ok {
			return bigint.Int{}, errors.Errorf("%s: missing %s", kind, key)
		}
		return bigint.Parse(v)
	}

	var err error
	switch kind {
	case types.EventCallMessageSent:
		ev.From, ev.To = attrs["from"], attrs["to"]
		ev.SN, err = integer("sn")
	case types.EventCallMessage:
		ev.From, ev.To = attrs["from"], attrs["to"]
		if ev.SN, err = integer("sn"); err != nil {
			return ev, err
		}
		ev.ReqID, err = integer("reqId")
		ev.Data = attrs["data"]
	case types.EventCallExecuted:
		if ev.ReqID, err = integer("reqId"); err != nil {
			return ev, err
		}
		if ev.Code, err = strconv.ParseInt(attrs["code"], 10, 64); err != nil {
			return ev, errors.Wrapf(err, "%s: code", kind)
		}
		ev.Msg = attrs["msg"]
	case types.EventResponseMessage:
		if ev.SN, err = integer("sn"); err != nil {
			return ev, err
		}
		ev.Code, _ = strconv.ParseInt(attrs["code"], 10, 64)
	case types.EventRollbackMessage:
		ev.SN, err = integer("sn")
	}
	return ev, err
}

func (a *Adapter) GetTxReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hash, "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid tx hash %q", hash)
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	res, err := a.backend.Tx(ctx, raw, false)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, chain.NewRpcError(a.cfg.ChainID, "tx", err)
	}
	return &chain.Receipt{
		ChainID:     a.cfg.ChainID,
		TxHash:      res.Hash.String(),
		BlockHeight: uint64(res.Height),
		StatusCode:  strconv.FormatUint(uint64(res.TxResult.Code), 10),
		Logs:        a.collect(res.Hash.String(), uint64(res.Height), res.TxResult.Events),
	}, nil
}

// DeriveTxStatus maps the abci result code: zero is success.
func (a *Adapter) DeriveTxStatus(r *chain.Receipt) chain.TxStatus {
	if r == nil || r.StatusCode == "" {
		return chain.TxPending
	}
	if r.StatusCode == "0" {
		return chain.TxSuccess
	}
	return chain.TxFailure
}

func (a *Adapter) isContract(token string) bool {
	return a.cfg.AddressPrefix != "" && strings.HasPrefix(token, a.cfg.AddressPrefix+"1")
}

// GetBalance queries the bank module for denoms and the contract for cw20 tokens.
func (a *Adapter) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	if token == "" {
		token = a.cfg.NativeToken
	}
	if a.isContract(token) {
		query, _ := json.Marshal(map[string]interface{}{"balance": map[string]string{"address": address}})
		body, err := a.lcd(ctx, fmt.Sprintf("/cosmwasm/wasm/v1/contract/%s/smart/%s",
			token, base64.StdEncoding.EncodeToString(query)))
		if err != nil || body == nil {
			return nil, err
		}
		return parseAmount(gjson.GetBytes(body, "data.balance"))
	}

	body, err := a.lcd(ctx, fmt.Sprintf("/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s",
		address, url.QueryEscape(token)))
	if err != nil || body == nil {
		return nil, err
	}
	return parseAmount(gjson.GetBytes(body, "balance.amount"))
}

func parseAmount(v gjson.Result) (*big.Int, error) {
	if !v.Exists() {
		return nil, nil
	}
	amount, ok := sdkmath.NewIntFromString(v.String())
	if !ok {
		return nil, errors.Errorf("invalid amount %q", v.String())
	}
	return amount.BigInt(), nil
}

// lcd GETs path from the LCD endpoint. A client error means the account or
// token is unknown and yields a nil body.
func (a *Adapter) lcd(ctx context.Context, path string) ([]byte, error) {
	if a.cfg.LCDURL == "" {
		return nil, errors.New("no lcd endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(a.cfg.LCDURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "lcd", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "lcd", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, chain.NewRpcError(a.cfg.ChainID, "lcd", errors.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 400:
		return nil, nil
	}
	return body, nil
}

// EstimateGas prices the configured gas limit at the configured gas price.
func (a *Adapter) EstimateGas(_ context.Context, req chain.TxRequest) (chain.FeeEstimate, error) {
	limit := a.cfg.GasLimit
	if req.GasLimit > 0 {
		limit = req.GasLimit
	}
	fee := a.gasPrice.MulInt64(int64(limit)).Ceil().TruncateInt()
	return chain.FeeEstimate{
		GasLimit: limit,
		GasPrice: a.gasPrice.Ceil().TruncateInt().BigInt(),
		Fee:      fee.BigInt(),
	}, nil
}

// EstimateApprovalGas covers the cw20 increase_allowance call.
func (a *Adapter) EstimateApprovalGas(ctx context.Context, req chain.TxRequest) (chain.FeeEstimate, error) {
	if !a.isContract(req.Token) {
		return chain.ZeroFee(), nil
	}
	return a.EstimateGas(ctx, chain.TxRequest{})
}

func (a *Adapter) NeedsApprovalCheck(token string) bool {
	return a.isContract(token)
}

func (a *Adapter) SubmitTransaction(ctx context.Context, signer chain.Signer, req chain.TxRequest) (string, error) {
	return chain.Submit(ctx, a.cfg.ChainID, signer, req)
}
