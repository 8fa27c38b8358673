// Package adapters builds the chain registry and the key signers from the
// configured chain list.
package adapters

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"xswap/config"
	"xswap/pkg/chain"
	"xswap/pkg/chain/cosmos"
	"xswap/pkg/chain/evm"
	"xswap/pkg/chain/icon"
	"xswap/pkg/chain/solana"
	"xswap/pkg/chain/sui"
	"xswap/pkg/logger"
)

// Set is everything built from the chain configuration.
type Set struct {
	Registry *chain.Registry

	signers map[string]chain.Signer
	evm     map[string]*evm.Adapter
	icon    map[string]*icon.Adapter
	closers []func()
}

// Build dials every configured chain. Chains with a private key also get a key
// signer; only EVM and Solana support one.
func Build(ctx context.Context, cfg *config.Config) (*Set, error) {
	s := &Set{
		Registry: chain.NewRegistry(cfg.HubChainID),
		signers:  make(map[string]chain.Signer),
		evm:      make(map[string]*evm.Adapter),
		icon:     make(map[string]*icon.Adapter),
	}
	for _, c := range cfg.Chains {
		a, err := s.build(ctx, cfg, c)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("chain %s: %w", c.ID, err)
		}
		s.Registry.Register(a, c.Settings())
	}
	return s, nil
}

func (s *Set) build(ctx context.Context, cfg *config.Config, c config.ChainConfig) (chain.Adapter, error) {
	switch chain.Family(c.Family) {
	case chain.FamilyEVM:
		client, err := ethclient.DialContext(ctx, c.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		a, err := evm.NewAdapter(evm.Config{
			ChainID:      c.ID,
			XCallAddress: c.XCallAddress,
			NativeToken:  c.NativeToken,
			Timeout:      cfg.RPCTimeout,
		}, client)
		if err != nil {
			return nil, err
		}
		s.evm[c.ID] = a
		if c.PrivateKey != "" {
			signer, err := evm.NewKeySigner(evm.SignerConfig{
				ChainID:    c.ID,
				EVMChainID: c.EVMChainID,
				PrivateKey: c.PrivateKey,
				GasLimit:   c.GasLimit,
			}, client)
			if err != nil {
				return nil, err
			}
			s.signers[c.ID] = signer
		}
		return a, nil

	case chain.FamilyICON:
		a := icon.NewAdapter(icon.Config{
			ChainID:      c.ID,
			XCallAddress: c.XCallAddress,
			NativeToken:  c.NativeToken,
			StepLimit:    c.GasLimit,
			Timeout:      cfg.RPCTimeout,
		}, icon.NewClient(c.RPCURL, cfg.RPCTimeout))
		s.icon[c.ID] = a
		s.warnNoSigner(c)
		return a, nil

	case chain.FamilySui:
		s.warnNoSigner(c)
		return sui.NewAdapter(sui.Config{
			ChainID:      c.ID,
			XCallPackage: c.XCallAddress,
			GasBudget:    c.GasLimit,
			Timeout:      cfg.RPCTimeout,
		}, sui.NewClient(c.RPCURL, cfg.RPCTimeout)), nil

	case chain.FamilyCosmos:
		client, err := cosmos.NewClient(c.RPCURL, cfg.RPCTimeout)
		if err != nil {
			return nil, err
		}
		s.warnNoSigner(c)
		return cosmos.NewAdapter(cosmos.Config{
			ChainID:       c.ID,
			XCallAddress:  c.XCallAddress,
			LCDURL:        c.LCDURL,
			AddressPrefix: c.AddressPrefix,
			NativeToken:   c.NativeToken,
			GasLimit:      c.GasLimit,
			GasPrice:      c.GasPrice,
			Timeout:       cfg.RPCTimeout,
		}, client)

	case chain.FamilySolana:
		client := solana.NewClient(c.RPCURL)
		s.closers = append(s.closers, func() { _ = client.Close() })
		a, err := solana.NewAdapter(solana.Config{
			ChainID:      c.ID,
			XCallProgram: c.XCallAddress,
			Commitment:   c.Commitment,
			Timeout:      cfg.RPCTimeout,
		}, client)
		if err != nil {
			return nil, err
		}
		if c.PrivateKey != "" {
			signer, err := solana.NewKeySigner(solana.SignerConfig{
				ChainID:       c.ID,
				PrivateKey:    c.PrivateKey,
				SkipPreflight: c.SkipPreflight,
				Commitment:    c.Commitment,
			}, client)
			if err != nil {
				return nil, err
			}
			s.signers[c.ID] = signer
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown family %q", c.Family)
}

func (s *Set) warnNoSigner(c config.ChainConfig) {
	if c.PrivateKey != "" {
		logger.Warn("chain %s: private keys are only supported on evm and solana chains; ignoring", c.ID)
	}
}

// Signer returns the key signer configured for chainID, or nil.
func (s *Set) Signer(chainID string) chain.Signer {
	return s.signers[chainID]
}

// EVM returns the EVM adapter of chainID.
func (s *Set) EVM(chainID string) (*evm.Adapter, bool) {
	a, ok := s.evm[chainID]
	return a, ok
}

// ICON returns the ICON adapter of chainID.
func (s *Set) ICON(chainID string) (*icon.Adapter, bool) {
	a, ok := s.icon[chainID]
	return a, ok
}

// Close releases the RPC connections.
func (s *Set) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}
