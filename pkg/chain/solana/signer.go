package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"xswap/pkg/chain"
)

// KeySigner signs with a local base58 private key
type KeySigner struct {
	chainID       string
	backend       Backend
	privateKey    solana.PrivateKey
	publicKey     solana.PublicKey
	skipPreflight bool
	commitment    rpc.CommitmentType
}

var _ chain.Signer = (*KeySigner)(nil)

type SignerConfig struct {
	ChainID       string
	PrivateKey    string
	SkipPreflight bool
	Commitment    string
}

func NewKeySigner(cfg SignerConfig, backend Backend) (*KeySigner, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for chain %s", cfg.ChainID)
	}

	// Parse private key (Base58 encoded)
	privateKey, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeySigner{
		chainID:       cfg.ChainID,
		backend:       backend,
		privateKey:    privateKey,
		publicKey:     privateKey.PublicKey(),
		skipPreflight: cfg.SkipPreflight,
		commitment:    ParseCommitment(cfg.Commitment),
	}, nil
}

func (s *KeySigner) ChainID() string {
	return s.chainID
}

func (s *KeySigner) Address() string {
	return s.publicKey.String()
}

// SignAndSend builds one of three transactions:
//   - req.Data set: a single instruction for program req.To over req.Accounts
//   - req.Token set: an SPL transfer of req.Value base units to req.To
//   - otherwise: a native transfer of req.Value lamports to req.To
func (s *KeySigner) SignAndSend(ctx context.Context, req chain.TxRequest) (string, error) {
	to, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address: %w", err)
	}

	var instructions []solana.Instruction
	switch {
	case len(req.Data) > 0:
		ix, err := s.programInstruction(to, req)
		if err != nil {
			return "", err
		}
		instructions = append(instructions, ix)
	case req.Token != "":
		instructions, err = s.splTransfer(ctx, to, req)
		if err != nil {
			return "", err
		}
	default:
		if req.Value == nil || !req.Value.IsUint64() {
			return "", fmt.Errorf("invalid lamport amount")
		}
		instructions = append(instructions, system.NewTransferInstruction(
			req.Value.Uint64(),
			s.publicKey,
			to,
		).Build())
	}

	sig, err := s.send(ctx, instructions)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// programInstruction takes accounts as "<pubkey>" or "<pubkey>:w" for writable.
// The signer is prepended as a writable signer.
func (s *KeySigner) programInstruction(program solana.PublicKey, req chain.TxRequest) (solana.Instruction, error) {
	metas := solana.AccountMetaSlice{solana.NewAccountMeta(s.publicKey, true, true)}
	for _, acc := range req.Accounts {
		key, writable := strings.CutSuffix(acc, ":w")
		pk, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", acc, err)
		}
		metas = append(metas, solana.NewAccountMeta(pk, writable, false))
	}
	return solana.NewInstruction(program, metas, req.Data), nil
}

func (s *KeySigner) splTransfer(ctx context.Context, recipient solana.PublicKey, req chain.TxRequest) ([]solana.Instruction, error) {
	tokenMint, err := solana.PublicKeyFromBase58(req.Token)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address: %w", err)
	}
	if req.Value == nil || !req.Value.IsUint64() {
		return nil, fmt.Errorf("invalid token amount")
	}

	sourceTokenAccount, _, err := solana.FindAssociatedTokenAddress(s.publicKey, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source token account: %w", err)
	}
	destTokenAccount, _, err := solana.FindAssociatedTokenAddress(recipient, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination token account: %w", err)
	}

	destAccountExists, err := s.accountExists(ctx, destTokenAccount)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination account: %w", err)
	}

	var instructions []solana.Instruction
	if !destAccountExists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			s.publicKey, // payer
			recipient,   // wallet
			tokenMint,   // mint
		).Build())
	}
	instructions = append(instructions, token.NewTransferInstruction(
		req.Value.Uint64(),
		sourceTokenAccount,
		destTokenAccount,
		s.publicKey,
		[]solana.PublicKey{}, // no multisig
	).Build())
	return instructions, nil
}

func (s *KeySigner) send(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	recent, err := s.backend.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		recent.Value.Blockhash,
		solana.TransactionPayer(s.publicKey),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.backend.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       s.skipPreflight,
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

func (s *KeySigner) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	accountInfo, err := s.backend.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, err
	}
	return accountInfo != nil && accountInfo.Value != nil, nil
}
