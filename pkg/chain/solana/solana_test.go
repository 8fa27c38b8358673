package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/types"
)

type fakeBackend struct {
	slot       uint64
	sigs       []*rpc.TransactionSignature
	txs        map[solana.Signature]*rpc.GetTransactionResult
	lamports   uint64
	tokens     map[solana.PublicKey]string
	accounts   map[solana.PublicKey]bool
	sent       []*solana.Transaction
	sigQueries int
}

func (f *fakeBackend) GetSlot(context.Context, rpc.CommitmentType) (uint64, error) {
	return f.slot, nil
}

// newest first, as the node returns them
func (f *fakeBackend) GetSignaturesForAddressWithOpts(_ context.Context, _ solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	f.sigQueries++
	start := 0
	if opts.Before != (solana.Signature{}) {
		for i, s := range f.sigs {
			if s.Signature == opts.Before {
				start = i + 1
			}
		}
	}
	end := min(start+*opts.Limit, len(f.sigs))
	return f.sigs[start:end], nil
}

func (f *fakeBackend) GetTransaction(_ context.Context, sig solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	tx, ok := f.txs[sig]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return tx, nil
}

func (f *fakeBackend) GetBalance(context.Context, solana.PublicKey, rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.lamports}, nil
}

func (f *fakeBackend) GetTokenAccountBalance(_ context.Context, account solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	amount, ok := f.tokens[account]
	if !ok {
		return nil, errors.New("Invalid param: could not find account")
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: amount}}, nil
}

func (f *fakeBackend) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if !f.accounts[account] {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{}}, nil
}

func (f *fakeBackend) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}}}, nil
}

func (f *fakeBackend) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func programLogs(t *testing.T, program solana.PublicKey, events ...types.RelayEvent) []string {
	logs := []string{"Program " + program.String() + " invoke [1]"}
	for _, ev := range events {
		data, err := encodeEvent(ev)
		require.NoError(t, err)
		logs = append(logs, programDataPrefix+base64.StdEncoding.EncodeToString(data))
	}
	// data logged by a CPI callee is not ours
	other := solana.NewWallet().PublicKey()
	foreign, _ := encodeEvent(types.RelayEvent{Kind: types.EventRollbackMessage, SN: bigint.FromUint64(1)})
	logs = append(logs,
		"Program "+other.String()+" invoke [2]",
		programDataPrefix+base64.StdEncoding.EncodeToString(foreign),
		"Program "+other.String()+" success",
		"Program "+program.String()+" success",
	)
	return logs
}

func sigOf(b byte) solana.Signature {
	var s solana.Signature
	s[0] = b
	return s
}

func TestEventScan(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	b := &fakeBackend{slot: 500, txs: map[solana.Signature]*rpc.GetTransactionResult{}}
	// slots 510..481, newest first
	for i := 0; i < 30; i++ {
		b.sigs = append(b.sigs, &rpc.TransactionSignature{Signature: sigOf(byte(i + 1)), Slot: uint64(510 - i)})
	}
	sn := new(big.Int).Lsh(big.NewInt(1), 100)
	b.txs[sigOf(11)] = &rpc.GetTransactionResult{Slot: 500, Meta: &rpc.TransactionMeta{
		LogMessages: programLogs(t, program, types.RelayEvent{
			Kind: types.EventCallMessage, From: "0x1.icon/hx1", To: "dapp", SN: bigint.NewInt(sn), ReqID: bigint.FromUint64(5), Data: "\x01\x02",
		}),
	}}
	b.txs[sigOf(12)] = &rpc.GetTransactionResult{Slot: 499, Meta: &rpc.TransactionMeta{
		LogMessages: programLogs(t, program, types.RelayEvent{Kind: types.EventCallExecuted, ReqID: bigint.FromUint64(5), Code: -1, Msg: "boom"}),
	}}
	b.sigs[12].Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	a, err := NewAdapter(Config{ChainID: "solana", XCallProgram: program.String()}, b)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := a.GetBlockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500), h)

	logs, err := a.GetEventLogs(ctx, chain.Range{Start: 498, End: 500})
	require.NoError(t, err)
	events := a.ParseEventLogs(logs)
	require.Len(t, events, 2)

	require.Equal(t, types.EventCallExecuted, events[0].Kind)
	require.Equal(t, uint64(499), events[0].BlockHeight.Uint64())
	require.Equal(t, int64(-1), events[0].Code)
	require.Equal(t, "boom", events[0].Msg)

	require.Equal(t, types.EventCallMessage, events[1].Kind)
	require.Equal(t, sn.String(), events[1].SN.String())
	require.Equal(t, "5", events[1].ReqID.String())
	require.Equal(t, "dapp", events[1].To)
	require.Equal(t, sigOf(11).String(), events[1].TxHash)
}

func TestReceipt(t *testing.T) {
	program := solana.NewWallet().PublicKey()
	sender := solana.NewWallet().PublicKey()
	b := &fakeBackend{txs: map[solana.Signature]*rpc.GetTransactionResult{
		sigOf(1): {Slot: 77, Meta: &rpc.TransactionMeta{LogMessages: programLogs(t, program, types.RelayEvent{
			Kind: types.EventCallMessageSent, From: sender.String(), To: "0x1.icon/hx1", SN: bigint.FromUint64(42),
		})}},
		sigOf(2): {Slot: 78, Meta: &rpc.TransactionMeta{Err: "custom program error"}},
	}}
	a, err := NewAdapter(Config{ChainID: "solana", XCallProgram: program.String()}, b)
	require.NoError(t, err)
	ctx := context.Background()

	r, err := a.GetTxReceipt(ctx, sigOf(9).String())
	require.NoError(t, err)
	require.Nil(t, r)

	r, err = a.GetTxReceipt(ctx, sigOf(2).String())
	require.NoError(t, err)
	require.Equal(t, chain.TxFailure, a.DeriveTxStatus(r))

	r, err = a.GetTxReceipt(ctx, sigOf(1).String())
	require.NoError(t, err)
	require.Equal(t, chain.TxSuccess, a.DeriveTxStatus(r))
	events := a.ParseEventLogs(r.Logs)
	require.Len(t, events, 1)
	require.Equal(t, sender.String(), events[0].From)
	require.Equal(t, "42", events[0].SN.String())
}

func TestBalances(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)

	b := &fakeBackend{lamports: 2_000_000_000, tokens: map[solana.PublicKey]string{ata: "1234"}}
	a, err := NewAdapter(Config{ChainID: "solana", XCallProgram: solana.NewWallet().PublicKey().String()}, b)
	require.NoError(t, err)
	ctx := context.Background()

	bal, err := a.GetBalance(ctx, owner.String(), "")
	require.NoError(t, err)
	require.Equal(t, "2000000000", bal.String())

	bal, err = a.GetBalance(ctx, owner.String(), mint.String())
	require.NoError(t, err)
	require.Equal(t, "1234", bal.String())

	bal, err = a.GetBalance(ctx, owner.String(), solana.NewWallet().PublicKey().String())
	require.NoError(t, err)
	require.Nil(t, bal)

	fee, err := a.EstimateGas(ctx, chain.TxRequest{})
	require.NoError(t, err)
	require.Equal(t, "5000", fee.Fee.String())
	require.False(t, a.NeedsApprovalCheck(mint.String()))
}

func TestKeySigner(t *testing.T) {
	wallet := solana.NewWallet()
	b := &fakeBackend{}
	s, err := NewKeySigner(SignerConfig{ChainID: "solana", PrivateKey: wallet.PrivateKey.String()}, b)
	require.NoError(t, err)
	require.Equal(t, wallet.PublicKey().String(), s.Address())

	ctx := context.Background()
	to := solana.NewWallet().PublicKey()

	hash, err := s.SignAndSend(ctx, chain.TxRequest{To: to.String(), Value: big.NewInt(1000)})
	require.NoError(t, err)
	require.Len(t, b.sent, 1)
	require.Equal(t, b.sent[0].Signatures[0].String(), hash)
	require.NoError(t, b.sent[0].VerifySignatures())

	mint := solana.NewWallet().PublicKey()
	_, err = s.SignAndSend(ctx, chain.TxRequest{To: to.String(), Token: mint.String(), Value: big.NewInt(5)})
	require.NoError(t, err)
	// destination token account is missing, so it is created first
	require.Len(t, b.sent[1].Message.Instructions, 2)

	program := solana.NewWallet().PublicKey()
	extra := solana.NewWallet().PublicKey()
	_, err = s.SignAndSend(ctx, chain.TxRequest{To: program.String(), Data: []byte{9, 9}, Accounts: []string{extra.String() + ":w"}})
	require.NoError(t, err)
	require.Len(t, b.sent[2].Message.Instructions, 1)

	_, err = s.SignAndSend(ctx, chain.TxRequest{To: "not-a-key", Value: big.NewInt(1)})
	require.Error(t, err)
}
