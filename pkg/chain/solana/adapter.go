// Package solana tracks the xcall program on Solana: relay events are read from
// the "Program data:" log lines of the transactions that touched the program.
package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/types"
)

const (
	defaultTimeout = 15 * time.Second
	// Solana fees are 5000 lamports per signature
	lamportsPerSignature = uint64(5000)
	signaturePageSize    = 1000

	programDataPrefix = "Program data: "
)

// Backend is the subset of rpc.Client used by the adapter and signer.
type Backend interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

type Config struct {
	ChainID      string
	XCallProgram string
	Commitment   string
	Timeout      time.Duration
}

// Adapter reads the xcall program's events and receipts
type Adapter struct {
	cfg        Config
	backend    Backend
	program    solana.PublicKey
	commitment rpc.CommitmentType
	log        *zap.SugaredLogger
}

var _ chain.Adapter = (*Adapter)(nil)

func NewClient(endpoint string) *rpc.Client {
	return rpc.New(endpoint)
}

func NewAdapter(cfg Config, backend Backend) (*Adapter, error) {
	program, err := solana.PublicKeyFromBase58(cfg.XCallProgram)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid xcall program %q", cfg.XCallProgram)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Adapter{
		cfg:        cfg,
		backend:    backend,
		program:    program,
		commitment: ParseCommitment(cfg.Commitment),
		log:        logger.Named("solana").With("chain", cfg.ChainID),
	}, nil
}

// ParseCommitment returns the commitment level, confirmed by default.
func ParseCommitment(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

// programData is the RawLog payload: one "Program data:" entry emitted by the
// xcall program.
type programData struct {
	Program string `json:"program"`
	Data    []byte `json:"data"`
}

func (a *Adapter) ChainID() string {
	return a.cfg.ChainID
}

func (a *Adapter) Family() chain.Family {
	return chain.FamilySolana
}

// GetBlockHeight reports the current slot.
func (a *Adapter) GetBlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	slot, err := a.backend.GetSlot(ctx, a.commitment)
	if err != nil {
		return 0, chain.NewRpcError(a.cfg.ChainID, "getSlot", err)
	}
	return slot, nil
}

// GetEventLogs walks the program's signatures backwards from the newest until it
// passes the start of the window.
func (a *Adapter) GetEventLogs(ctx context.Context, r chain.Range) ([]chain.RawLog, error) {
	if r.Empty() {
		return nil, nil
	}

	var sigs []*rpc.TransactionSignature
	var before solana.Signature
	limit := signaturePageSize
	for {
		page, err := a.signatures(ctx, before, limit)
		if err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "getSignaturesForAddress", err)
		}
		done := len(page) < limit
		for _, s := range page {
			if s.Slot < r.Start {
				done = true
				break
			}
			if s.Slot <= r.End && s.Err == nil {
				sigs = append(sigs, s)
			}
		}
		if done || len(page) == 0 {
			break
		}
		before = page[len(page)-1].Signature
	}
	sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].Slot < sigs[j].Slot })

	var out []chain.RawLog
	for _, s := range sigs {
		res, err := a.transaction(ctx, s.Signature)
		if err != nil {
			if errors.Is(err, rpc.ErrNotFound) {
				continue
			}
			return nil, chain.NewRpcError(a.cfg.ChainID, "getTransaction", err)
		}
		out = append(out, a.collect(s.Signature.String(), res)...)
	}
	return out, nil
}

func (a *Adapter) signatures(ctx context.Context, before solana.Signature, limit int) ([]*rpc.TransactionSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.backend.GetSignaturesForAddressWithOpts(ctx, a.program, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Before:     before,
		Commitment: a.commitment,
	})
}

func (a *Adapter) transaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	version := uint64(0)
	return a.backend.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     a.commitment,
		MaxSupportedTransactionVersion: &version,
	})
}

// collect keeps the program data lines logged while the xcall program is the
// innermost invoked program.
func (a *Adapter) collect(sig string, res *rpc.GetTransactionResult) []chain.RawLog {
	if res == nil || res.Meta == nil || res.Meta.Err != nil {
		return nil
	}
	program := a.program.String()
	var stack []string
	var out []chain.RawLog
	for _, line := range res.Meta.LogMessages {
		switch {
		case strings.HasPrefix(line, "Program ") && strings.Contains(line, " invoke ["):
			stack = append(stack, strings.Fields(line)[1])
		case strings.HasPrefix(line, "Program ") && (strings.HasSuffix(line, " success") || strings.Contains(line, " failed")):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case strings.HasPrefix(line, programDataPrefix):
			if len(stack) == 0 || stack[len(stack)-1] != program {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(line, programDataPrefix))
			if err != nil {
				continue
			}
			payload, _ := json.Marshal(programData{Program: program, Data: data})
			out = append(out, chain.RawLog{
				ChainID:     a.cfg.ChainID,
				TxHash:      sig,
				BlockHeight: res.Slot,
				Address:     program,
				Payload:     payload,
			})
		}
	}
	return out
}

func (a *Adapter) ParseEventLogs(logs []chain.RawLog) []types.RelayEvent {
	var events []types.RelayEvent
	for _, l := range logs {
		var p programData
		if err := json.Unmarshal(l.Payload, &p); err != nil {
			continue
		}
		ev, ok, err := decodeEvent(p.Data)
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

func (a *Adapter) GetTxReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	sig, err := solana.SignatureFromBase58(hash)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid signature %q", hash)
	}
	res, err := a.transaction(ctx, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, chain.NewRpcError(a.cfg.ChainID, "getTransaction", err)
	}
	if res == nil || res.Meta == nil {
		return nil, nil
	}
	status := "ok"
	if res.Meta.Err != nil {
		status = "err"
	}
	return &chain.Receipt{
		ChainID:     a.cfg.ChainID,
		TxHash:      hash,
		BlockHeight: res.Slot,
		StatusCode:  status,
		Logs:        a.collect(hash, res),
	}, nil
}

func (a *Adapter) DeriveTxStatus(r *chain.Receipt) chain.TxStatus {
	if r == nil {
		return chain.TxPending
	}
	switch r.StatusCode {
	case "ok":
		return chain.TxSuccess
	case "err":
		return chain.TxFailure
	}
	return chain.TxPending
}

// GetBalance returns lamports for the native token and the associated token
// account balance for an SPL mint.
func (a *Adapter) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if token == "" || token == solana.SystemProgramID.String() {
		res, err := a.backend.GetBalance(ctx, owner, a.commitment)
		if err != nil {
			return nil, chain.NewRpcError(a.cfg.ChainID, "getBalance", err)
		}
		return new(big.Int).SetUint64(res.Value), nil
	}

	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return nil, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, nil
	}
	res, err := a.backend.GetTokenAccountBalance(ctx, ata, a.commitment)
	if err != nil {
		if isMissingAccount(err) {
			return nil, nil
		}
		return nil, chain.NewRpcError(a.cfg.ChainID, "getTokenAccountBalance", err)
	}
	if res == nil || res.Value == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return nil, errors.Errorf("invalid token amount %q", res.Value.Amount)
	}
	return v, nil
}

func isMissingAccount(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "invalid param")
}

// EstimateGas charges one signature. Compute units are not priced.
func (a *Adapter) EstimateGas(context.Context, chain.TxRequest) (chain.FeeEstimate, error) {
	fee := new(big.Int).SetUint64(lamportsPerSignature)
	return chain.FeeEstimate{GasLimit: 1, GasPrice: fee, Fee: new(big.Int).Set(fee)}, nil
}

// EstimateApprovalGas is zero: SPL transfers are signed by the owner directly.
func (a *Adapter) EstimateApprovalGas(context.Context, chain.TxRequest) (chain.FeeEstimate, error) {
	return chain.ZeroFee(), nil
}

func (a *Adapter) NeedsApprovalCheck(string) bool {
	return false
}

func (a *Adapter) SubmitTransaction(ctx context.Context, signer chain.Signer, req chain.TxRequest) (string, error) {
	return chain.Submit(ctx, a.cfg.ChainID, signer, req)
}
