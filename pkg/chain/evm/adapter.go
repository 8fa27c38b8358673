package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/types"
)

// Backend is the subset of ethclient.Client the adapter and signer use.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// ERC20 functions used for balances and allowances
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20 = mustParseABI(erc20ABI)

const (
	nativeTransferGas = uint64(21000)
	defaultTimeout    = 15 * time.Second
)

type Config struct {
	ChainID      string
	XCallAddress string
	NativeToken  string
	Timeout      time.Duration
}

// Adapter reads relay events and receipts from an EVM chain
type Adapter struct {
	cfg     Config
	backend Backend
	xcall   common.Address
	log     *zap.SugaredLogger
}

var _ chain.Adapter = (*Adapter)(nil)

func NewAdapter(cfg Config, backend Backend) (*Adapter, error) {
	if cfg.XCallAddress != "" && !common.IsHexAddress(cfg.XCallAddress) {
		return nil, errors.Errorf("invalid xcall address: %s", cfg.XCallAddress)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{
		cfg:     cfg,
		backend: backend,
		xcall:   common.HexToAddress(cfg.XCallAddress),
		log:     logger.Named("evm").With("chain", cfg.ChainID),
	}, nil
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Family() chain.Family {
	return chain.FamilyEVM
}

func (a *Adapter) Backend() Backend {
	return a.backend
}

func (a *Adapter) GetBlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	h, err := a.backend.BlockNumber(ctx)
	if err != nil {
		return 0, chain.NewRpcError(a.cfg.ChainID, "blockNumber", err)
	}
	return h, nil
}

func (a *Adapter) GetEventLogs(ctx context.Context, r chain.Range) ([]chain.RawLog, error) {
	if r.Empty() {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	logs, err := a.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.Start),
		ToBlock:   new(big.Int).SetUint64(r.End),
		Addresses: []common.Address{a.xcall},
		Topics:    [][]common.Hash{eventTopics()},
	})
	if err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "filterLogs", err)
	}
	return a.toRawLogs(logs), nil
}

func (a *Adapter) toRawLogs(logs []gethtypes.Log) []chain.RawLog {
	out := make([]chain.RawLog, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		out = append(out, chain.RawLog{
			ChainID:     a.cfg.ChainID,
			TxHash:      l.TxHash.Hex(),
			BlockHeight: l.BlockNumber,
			Address:     l.Address.Hex(),
			Payload:     toPayload(l),
		})
	}
	return out
}

func (a *Adapter) ParseEventLogs(logs []chain.RawLog) []types.RelayEvent {
	var events []types.RelayEvent
	for _, l := range logs {
		var p logPayload
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			a.log.Debugw("skipping undecodable log", "tx", l.TxHash, "error", err)
			continue
		}
		ev, ok, err := decodeEvent(a.cfg.ChainID, p, l.Payload)
		if err != nil {
			a.log.Debugw("skipping malformed relay event", "tx", l.TxHash, "error", err)
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

func (a *Adapter) GetTxReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	receipt, err := a.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, chain.NewRpcError(a.cfg.ChainID, "transactionReceipt", err)
	}

	var height uint64
	if receipt.BlockNumber != nil {
		height = receipt.BlockNumber.Uint64()
	}
	logs := make([]gethtypes.Log, 0, len(receipt.Logs))
	for _, l := range receipt.Logs {
		if l != nil {
			logs = append(logs, *l)
		}
	}
	return &chain.Receipt{
		ChainID:     a.cfg.ChainID,
		TxHash:      hash,
		BlockHeight: height,
		StatusCode:  strconv.FormatUint(receipt.Status, 10),
		Logs:        a.toRawLogs(logs),
	}, nil
}

func (a *Adapter) DeriveTxStatus(r *chain.Receipt) chain.TxStatus {
	if r == nil || r.StatusCode == "" {
		return chain.TxPending
	}
	if r.StatusCode == strconv.FormatUint(gethtypes.ReceiptStatusSuccessful, 10) {
		return chain.TxSuccess
	}
	return chain.TxFailure
}

func (a *Adapter) isNative(token string) bool {
	if token == "" || strings.EqualFold(token, a.cfg.NativeToken) {
		return true
	}
	return common.IsHexAddress(token) && common.HexToAddress(token) == (common.Address{})
}

func (a *Adapter) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	account := common.HexToAddress(address)
	if a.isNative(token) {
		bal, err := a.backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "balanceAt", err)
		}
		return bal, nil
	}
	if !common.IsHexAddress(token) {
		return nil, nil
	}

	data, err := erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, errors.Wrap(err, "pack balanceOf")
	}
	tokenAddr := common.HexToAddress(token)
	result, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, chain.NewRpcError(a.cfg.ChainID, "balanceOf", err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return new(big.Int).SetBytes(result), nil
}

func (a *Adapter) EstimateGas(ctx context.Context, req chain.TxRequest) (chain.FeeEstimate, error) {
	msg, err := callMsg(req)
	if err != nil {
		return chain.FeeEstimate{}, err
	}
	return a.estimate(ctx, msg)
}

// EstimateApprovalGas estimates approve(req.To, req.Value) on req.Token.
func (a *Adapter) EstimateApprovalGas(ctx context.Context, req chain.TxRequest) (chain.FeeEstimate, error) {
	if !a.NeedsApprovalCheck(req.Token) {
		return chain.ZeroFee(), nil
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	data, err := erc20.Pack("approve", common.HexToAddress(req.To), value)
	if err != nil {
		return chain.FeeEstimate{}, errors.Wrap(err, "pack approve")
	}
	token := common.HexToAddress(req.Token)
	return a.estimate(ctx, ethereum.CallMsg{From: common.HexToAddress(req.From), To: &token, Data: data})
}

func (a *Adapter) estimate(ctx context.Context, msg ethereum.CallMsg) (chain.FeeEstimate, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	gas := nativeTransferGas
	if len(msg.Data) > 0 {
		estimated, err := a.backend.EstimateGas(ctx, msg)
		if err != nil {
			return chain.FeeEstimate{}, chain.NewRpcError(a.cfg.ChainID, "estimateGas", err)
		}
		gas = estimated
	}
	price, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return chain.FeeEstimate{}, chain.NewRpcError(a.cfg.ChainID, "suggestGasPrice", err)
	}
	return chain.FeeEstimate{
		GasLimit: gas,
		GasPrice: price,
		Fee:      new(big.Int).Mul(price, new(big.Int).SetUint64(gas)),
	}, nil
}

// NeedsApprovalCheck is true for ERC20 tokens.
func (a *Adapter) NeedsApprovalCheck(token string) bool {
	return !a.isNative(token) && common.IsHexAddress(token)
}

func (a *Adapter) SubmitTransaction(ctx context.Context, signer chain.Signer, req chain.TxRequest) (string, error) {
	return chain.Submit(ctx, a.cfg.ChainID, signer, req)
}

func callMsg(req chain.TxRequest) (ethereum.CallMsg, error) {
	if req.To != "" && !common.IsHexAddress(req.To) {
		return ethereum.CallMsg{}, errors.Errorf("invalid recipient address: %s", req.To)
	}
	msg := ethereum.CallMsg{
		From:  common.HexToAddress(req.From),
		Value: req.Value,
		Data:  req.Data,
	}
	if req.To != "" {
		to := common.HexToAddress(req.To)
		msg.To = &to
	}
	return msg, nil
}

// PackApprove returns the ERC20 approve calldata.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20.Pack("approve", spender, amount)
}

// PackAllowance returns the ERC20 allowance calldata.
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20.Pack("allowance", owner, spender)
}
