package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"xswap/pkg/chain"
)

// KeySigner signs legacy EIP-155 transactions with a local private key
type KeySigner struct {
	chainID    string
	evmChainID *big.Int
	backend    Backend
	privateKey *ecdsa.PrivateKey
	address    common.Address
	gasLimit   uint64
	gasPrice   *big.Int
}

var _ chain.Signer = (*KeySigner)(nil)

type SignerConfig struct {
	ChainID    string
	EVMChainID int64
	PrivateKey string
	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
	// GasPrice overrides the suggested price when set.
	GasPrice *big.Int
}

func NewKeySigner(cfg SignerConfig, backend Backend) (*KeySigner, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for chain %s", cfg.ChainID)
	}
	if cfg.EVMChainID == 0 {
		return nil, fmt.Errorf("evm chain id not configured for chain %s", cfg.ChainID)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeySigner{
		chainID:    cfg.ChainID,
		evmChainID: big.NewInt(cfg.EVMChainID),
		backend:    backend,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		gasLimit:   cfg.GasLimit,
		gasPrice:   cfg.GasPrice,
	}, nil
}

func (s *KeySigner) ChainID() string {
	return s.chainID
}

func (s *KeySigner) Address() string {
	return s.address.Hex()
}

// SignAndSend sends req.Value to req.To with req.Data as calldata
func (s *KeySigner) SignAndSend(ctx context.Context, req chain.TxRequest) (string, error) {
	if !common.IsHexAddress(req.To) {
		return "", fmt.Errorf("invalid recipient address: %s", req.To)
	}
	to := common.HexToAddress(req.To)

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.getGasPrice(ctx)
	if err != nil {
		return "", err
	}

	gasLimit, err := s.getGasLimit(ctx, to, value, req)
	if err != nil {
		return "", err
	}

	tx := gethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, req.Data)

	signedTx, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(s.evmChainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// getGasPrice returns the gas price to use for transactions
func (s *KeySigner) getGasPrice(ctx context.Context) (*big.Int, error) {
	if s.gasPrice != nil {
		return s.gasPrice, nil
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

func (s *KeySigner) getGasLimit(ctx context.Context, to common.Address, value *big.Int, req chain.TxRequest) (uint64, error) {
	if req.GasLimit > 0 {
		return req.GasLimit, nil
	}
	if s.gasLimit > 0 {
		return s.gasLimit, nil
	}
	if len(req.Data) == 0 {
		return nativeTransferGas, nil
	}

	estimated, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return estimated * 120 / 100, nil // Add 20% buffer
}
