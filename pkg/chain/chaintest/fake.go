// Package chaintest provides an in-memory chain.Adapter for tests.
package chaintest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"xswap/pkg/chain"
	"xswap/pkg/types"
)

// Adapter is a scripted chain. Events are stored already decoded; GetEventLogs
// wraps them as RawLogs and ParseEventLogs unwraps them.
type Adapter struct {
	mu       sync.Mutex
	id       string
	height   uint64
	events   []types.RelayEvent
	receipts map[string]*chain.Receipt
	balances map[string]*big.Int

	// LogErr, when set, is returned by GetEventLogs.
	LogErr error
	// Scans records every requested window.
	Scans []chain.Range
	// Submitted records accepted requests.
	Submitted []chain.TxRequest
}

var _ chain.Adapter = (*Adapter)(nil)

func New(chainID string) *Adapter {
	return &Adapter{
		id:       chainID,
		receipts: make(map[string]*chain.Receipt),
		balances: make(map[string]*big.Int),
	}
}

func (a *Adapter) ChainID() string { return a.id }

func (a *Adapter) Family() chain.Family { return chain.FamilyEVM }

func (a *Adapter) SetHeight(h uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.height = h
}

// AddEvent places ev at its BlockHeight.
func (a *Adapter) AddEvent(ev types.RelayEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ev.ChainID = a.id
	a.events = append(a.events, ev)
}

// SetReceipt registers a mined transaction. statusCode "1" is success.
func (a *Adapter) SetReceipt(hash, statusCode string, height uint64, events ...types.RelayEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &chain.Receipt{ChainID: a.id, TxHash: hash, BlockHeight: height, StatusCode: statusCode}
	for _, ev := range events {
		ev.ChainID = a.id
		ev.TxHash = hash
		r.Logs = append(r.Logs, wrap(a.id, ev))
	}
	a.receipts[hash] = r
}

// DropReceipt forgets hash, as if the transaction were not mined yet.
func (a *Adapter) DropReceipt(hash string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.receipts, hash)
}

func (a *Adapter) SetBalance(address, token string, v *big.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[address+"/"+token] = v
}

func (a *Adapter) GetBlockHeight(context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height, nil
}

func (a *Adapter) GetEventLogs(_ context.Context, r chain.Range) ([]chain.RawLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Scans = append(a.Scans, r)
	if a.LogErr != nil {
		return nil, chain.NewRpcError(a.id, "getEventLogs", a.LogErr)
	}
	var out []chain.RawLog
	for _, ev := range a.events {
		h := ev.BlockHeight.Uint64()
		if h >= r.Start && h <= r.End {
			out = append(out, wrap(a.id, ev))
		}
	}
	return out, nil
}

func (a *Adapter) ParseEventLogs(logs []chain.RawLog) []types.RelayEvent {
	var out []types.RelayEvent
	for _, l := range logs {
		var ev types.RelayEvent
		if err := json.Unmarshal(l.Payload, &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (a *Adapter) GetTxReceipt(_ context.Context, hash string) (*chain.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.receipts[hash], nil
}

func (a *Adapter) DeriveTxStatus(r *chain.Receipt) chain.TxStatus {
	switch {
	case r == nil || r.StatusCode == "":
		return chain.TxPending
	case r.StatusCode == "1":
		return chain.TxSuccess
	default:
		return chain.TxFailure
	}
}

func (a *Adapter) GetBalance(_ context.Context, address, token string) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balances[address+"/"+token], nil
}

func (a *Adapter) EstimateGas(context.Context, chain.TxRequest) (chain.FeeEstimate, error) {
	return chain.ZeroFee(), nil
}

func (a *Adapter) EstimateApprovalGas(context.Context, chain.TxRequest) (chain.FeeEstimate, error) {
	return chain.ZeroFee(), nil
}

func (a *Adapter) NeedsApprovalCheck(string) bool { return false }

func (a *Adapter) SubmitTransaction(ctx context.Context, signer chain.Signer, req chain.TxRequest) (string, error) {
	hash, err := chain.Submit(ctx, a.id, signer, req)
	if err != nil {
		return "", err
	}
	if req.From == "" {
		req.From = signer.Address()
	}
	a.mu.Lock()
	a.Submitted = append(a.Submitted, req)
	a.mu.Unlock()
	return hash, nil
}

// Signer returns Hash, a counter based hash when Hash is empty, or Err when set.
type Signer struct {
	Chain string
	Addr  string
	Hash  string
	Err   error
	Calls int
}

func (s *Signer) ChainID() string { return s.Chain }
func (s *Signer) Address() string { return s.Addr }

func (s *Signer) SignAndSend(context.Context, chain.TxRequest) (string, error) {
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	if s.Hash == "" {
		return fmt.Sprintf("0x%04x", s.Calls), nil
	}
	return s.Hash, nil
}

func wrap(chainID string, ev types.RelayEvent) chain.RawLog {
	payload, _ := json.Marshal(ev)
	return chain.RawLog{
		ChainID:     chainID,
		TxHash:      ev.TxHash,
		BlockHeight: ev.BlockHeight.Uint64(),
		Payload:     payload,
	}
}
