package intent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"xswap/pkg/chain"
	"xswap/pkg/chain/evm"
	"xswap/pkg/chain/icon"
)

const (
	DefaultReceiptInterval = 2 * time.Second
	DefaultReceiptAttempts = 60

	swapIntentSignature = "SwapIntent(int,str,str,str,str,str,str,int,str,int,bytes)"
	iconNativeToken     = "cx0000000000000000000000000000000000000000"
)

// Adapter is the intent contract of one chain.
type Adapter interface {
	ChainID() string
	// Contract is the intent contract address, used as the order emitter.
	Contract() string
	// CreateOrder submits the order and returns the transaction hash.
	CreateOrder(ctx context.Context, signer chain.Signer, order SwapOrder) (string, error)
	// CancelOrder submits a cancel and waits for its result. A reverted cancel
	// is reported as *OrderNotCancellableError.
	CancelOrder(ctx context.Context, signer chain.Signer, orderID *big.Int) (string, error)
	// GetOrder recovers the order created by a mined transaction.
	GetOrder(ctx context.Context, txHash string) (SwapOrder, error)
}

type ReceiptPolicy struct {
	Interval time.Duration
	Attempts uint
}

func (p ReceiptPolicy) withDefaults() ReceiptPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultReceiptInterval
	}
	if p.Attempts == 0 {
		p.Attempts = DefaultReceiptAttempts
	}
	return p
}

// waitSuccess waits for hash and reports whether it succeeded.
func waitSuccess(ctx context.Context, a chain.Adapter, hash string, p ReceiptPolicy) (bool, error) {
	r, err := chain.WaitForReceipt(ctx, a, hash, p.Interval, p.Attempts)
	if err != nil {
		return false, err
	}
	return a.DeriveTxStatus(r) == chain.TxSuccess, nil
}

// EVMAdapter calls the intent contract directly with the order struct.
type EVMAdapter struct {
	chain    *evm.Adapter
	backend  evm.Backend
	contract common.Address
	receipts ReceiptPolicy
}

var _ Adapter = (*EVMAdapter)(nil)

func NewEVMAdapter(a *evm.Adapter, contract string, receipts ReceiptPolicy) (*EVMAdapter, error) {
	if !common.IsHexAddress(contract) {
		return nil, errors.Errorf("invalid intent contract address %q", contract)
	}
	return &EVMAdapter{
		chain:    a,
		backend:  a.Backend(),
		contract: common.HexToAddress(contract),
		receipts: receipts.withDefaults(),
	}, nil
}

func (e *EVMAdapter) ChainID() string {
	return e.chain.ChainID()
}

func (e *EVMAdapter) Contract() string {
	return e.contract.Hex()
}

func (e *EVMAdapter) CreateOrder(ctx context.Context, signer chain.Signer, order SwapOrder) (string, error) {
	data, err := packSwap(order)
	if err != nil {
		return "", errors.Wrap(err, "pack swap")
	}
	req := chain.TxRequest{To: e.contract.Hex(), Data: data}
	if e.chain.NeedsApprovalCheck(order.Token) {
		if err := e.ensureAllowance(ctx, signer, order.Token, order.Amount); err != nil {
			return "", err
		}
	} else {
		req.Value = order.Amount
	}
	return e.chain.SubmitTransaction(ctx, signer, req)
}

// ensureAllowance approves the intent contract for amount when the current
// allowance is lower, and waits for the approval to be mined.
func (e *EVMAdapter) ensureAllowance(ctx context.Context, signer chain.Signer, token string, amount *big.Int) error {
	if signer == nil {
		return &chain.SubmissionRejectedError{ChainID: e.ChainID(), Err: errors.New("no signer provided")}
	}
	data, err := evm.PackAllowance(common.HexToAddress(signer.Address()), e.contract)
	if err != nil {
		return errors.Wrap(err, "pack allowance")
	}
	tokenAddr := common.HexToAddress(token)
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return chain.NewRpcError(e.ChainID(), "allowance", err)
	}
	if new(big.Int).SetBytes(out).Cmp(amount) >= 0 {
		return nil
	}

	data, err = evm.PackApprove(e.contract, amount)
	if err != nil {
		return errors.Wrap(err, "pack approve")
	}
	hash, err := e.chain.SubmitTransaction(ctx, signer, chain.TxRequest{To: token, Data: data})
	if err != nil {
		return err
	}
	ok, err := waitSuccess(ctx, e.chain, hash, e.receipts)
	if err != nil {
		return errors.Wrapf(err, "approval %s", hash)
	}
	if !ok {
		return &chain.SubmissionRejectedError{ChainID: e.ChainID(), Err: errors.Errorf("approval %s reverted", hash)}
	}
	return nil
}

func (e *EVMAdapter) CancelOrder(ctx context.Context, signer chain.Signer, orderID *big.Int) (string, error) {
	data, err := intentABI.Pack("cancel", orderID)
	if err != nil {
		return "", errors.Wrap(err, "pack cancel")
	}
	hash, err := e.chain.SubmitTransaction(ctx, signer, chain.TxRequest{To: e.contract.Hex(), Data: data})
	if err != nil {
		return "", err
	}
	ok, err := waitSuccess(ctx, e.chain, hash, e.receipts)
	if err != nil {
		return hash, err
	}
	if !ok {
		return hash, &OrderNotCancellableError{OrderID: orderID.String(), Reason: "cancel reverted on " + e.ChainID()}
	}
	return hash, nil
}

func (e *EVMAdapter) GetOrder(ctx context.Context, txHash string) (SwapOrder, error) {
	receipt, err := e.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return SwapOrder{}, ErrOrderNotFound
		}
		return SwapOrder{}, chain.NewRpcError(e.ChainID(), "transactionReceipt", err)
	}
	topic := intentABI.Events["SwapIntent"].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != e.contract || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		return unpackSwapIntent(l.Topics, l.Data)
	}
	return SwapOrder{}, ErrOrderNotFound
}

// ICONAdapter sends the RLP encoded order as _data, either with a token
// transfer to the intent contract or with a native swap call.
type ICONAdapter struct {
	chain    *icon.Adapter
	contract string
	receipts ReceiptPolicy
}

var _ Adapter = (*ICONAdapter)(nil)

// iconCall is the JSON call data handed to ICON signers.
type iconCall struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params,omitempty"`
}

func NewICONAdapter(a *icon.Adapter, contract string, receipts ReceiptPolicy) (*ICONAdapter, error) {
	if !strings.HasPrefix(contract, "cx") {
		return nil, errors.Errorf("invalid intent contract address %q", contract)
	}
	return &ICONAdapter{chain: a, contract: contract, receipts: receipts.withDefaults()}, nil
}

func (i *ICONAdapter) ChainID() string {
	return i.chain.ChainID()
}

func (i *ICONAdapter) Contract() string {
	return i.contract
}

func (i *ICONAdapter) CreateOrder(ctx context.Context, signer chain.Signer, order SwapOrder) (string, error) {
	payload, err := order.RLP()
	if err != nil {
		return "", errors.Wrap(err, "encode order")
	}
	encoded := "0x" + hex.EncodeToString(payload)

	var req chain.TxRequest
	if isICONToken(order.Token) {
		req, err = iconRequest(order.Token, nil, iconCall{Method: "transfer", Params: map[string]string{
			"_to":    i.contract,
			"_value": icon.FormatHexInt(order.Amount),
			"_data":  encoded,
		}})
	} else {
		req, err = iconRequest(i.contract, order.Amount, iconCall{Method: "swap", Params: map[string]string{
			"_data": encoded,
		}})
	}
	if err != nil {
		return "", err
	}
	return i.chain.SubmitTransaction(ctx, signer, req)
}

func (i *ICONAdapter) CancelOrder(ctx context.Context, signer chain.Signer, orderID *big.Int) (string, error) {
	req, err := iconRequest(i.contract, nil, iconCall{Method: "cancel", Params: map[string]string{
		"id": icon.FormatHexInt(orderID),
	}})
	if err != nil {
		return "", err
	}
	hash, err := i.chain.SubmitTransaction(ctx, signer, req)
	if err != nil {
		return "", err
	}
	ok, err := waitSuccess(ctx, i.chain, hash, i.receipts)
	if err != nil {
		return hash, err
	}
	if !ok {
		return hash, &OrderNotCancellableError{OrderID: orderID.String(), Reason: "cancel reverted on " + i.ChainID()}
	}
	return hash, nil
}

// GetOrder decodes the order from the transaction's _data and takes the id the
// contract assigned from the SwapIntent event.
func (i *ICONAdapter) GetOrder(ctx context.Context, txHash string) (SwapOrder, error) {
	raw, err := i.chain.GetTransactionData(ctx, txHash)
	if err != nil {
		return SwapOrder{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return SwapOrder{}, ErrOrderNotFound
	}
	var call iconCall
	if err := json.Unmarshal(raw, &call); err != nil {
		return SwapOrder{}, errors.Wrap(err, "decode transaction data")
	}
	encoded, ok := call.Params["_data"]
	if !ok {
		return SwapOrder{}, ErrOrderNotFound
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return SwapOrder{}, errors.Wrap(err, "decode _data")
	}
	order, err := DecodeOrderRLP(payload)
	if err != nil {
		return SwapOrder{}, err
	}

	logs, err := i.chain.TxEventLogs(ctx, txHash)
	if err != nil {
		return SwapOrder{}, err
	}
	for _, l := range logs {
		if !strings.EqualFold(l.ScoreAddress, i.contract) || len(l.Indexed) < 2 || l.Indexed[0] != swapIntentSignature {
			continue
		}
		id, err := icon.ParseHexInt(l.Indexed[1])
		if err != nil {
			return SwapOrder{}, errors.Wrap(err, "decode order id")
		}
		order.ID = id
		return order, nil
	}
	return SwapOrder{}, ErrOrderNotFound
}

func isICONToken(token string) bool {
	return strings.HasPrefix(token, "cx") && token != iconNativeToken
}

func iconRequest(to string, value *big.Int, call iconCall) (chain.TxRequest, error) {
	data, err := json.Marshal(call)
	if err != nil {
		return chain.TxRequest{}, errors.Wrap(err, "encode call")
	}
	return chain.TxRequest{To: to, Value: value, Data: data}, nil
}
