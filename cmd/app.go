package cmd

import (
	"context"
	"fmt"

	"xswap/config"
	"xswap/pkg/chain"
	"xswap/pkg/chain/adapters"
	"xswap/pkg/height"
	"xswap/pkg/intent"
	"xswap/pkg/logger"
	"xswap/pkg/notify"
	"xswap/pkg/solver"
	"xswap/pkg/store"
)

// app holds everything a command needs, built from the loaded configuration.
type app struct {
	cfg      *config.Config
	chains   *adapters.Set
	stores   *store.Stores
	heights  *height.Tracker
	notifier notify.Notifier
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		level = "debug"
	}
	if err := logger.Init(level, cfg.Log.Development); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	stores, err := store.Open(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	heights, err := height.NewTracker(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create height storage: %w", err)
	}
	chains, err := adapters.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	notifier, err := notify.New(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
	if err != nil {
		chains.Close()
		return nil, err
	}
	return &app{cfg: cfg, chains: chains, stores: stores, heights: heights, notifier: notifier}, nil
}

func (a *app) Close() {
	a.notifier.Close()
	a.chains.Close()
	logger.Sync()
}

func (a *app) solver() solver.Solver {
	s := a.cfg.Solver
	if s.Backend == "oneclick" {
		return solver.NewOneClick(solver.OneClickConfig{
			BaseURL:   s.BaseURL,
			JWTToken:  s.JWTToken,
			Recipient: s.Recipient,
			RefundTo:  s.RefundTo,
		})
	}
	return solver.NewClient(solver.ClientConfig{
		BaseURL:         s.BaseURL,
		Timeout:         a.cfg.RPCTimeout,
		ExecuteAttempts: s.ExecuteAttempts,
	})
}

// intentAdapters builds an intent adapter for every chain with an intent contract.
func (a *app) intentAdapters() ([]intent.Adapter, error) {
	var out []intent.Adapter
	for _, c := range a.cfg.Chains {
		if c.IntentAddress == "" {
			continue
		}
		switch chain.Family(c.Family) {
		case chain.FamilyEVM:
			ea, ok := a.chains.EVM(c.ID)
			if !ok {
				return nil, fmt.Errorf("chain %s has no evm adapter", c.ID)
			}
			ia, err := intent.NewEVMAdapter(ea, c.IntentAddress, intent.ReceiptPolicy{})
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", c.ID, err)
			}
			out = append(out, ia)
		case chain.FamilyICON:
			ica, ok := a.chains.ICON(c.ID)
			if !ok {
				return nil, fmt.Errorf("chain %s has no icon adapter", c.ID)
			}
			ia, err := intent.NewICONAdapter(ica, c.IntentAddress, intent.ReceiptPolicy{})
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", c.ID, err)
			}
			out = append(out, ia)
		default:
			logger.Warn("chain %s: intent contracts are only supported on evm and icon chains; ignoring", c.ID)
		}
	}
	return out, nil
}

func (a *app) intentClient() (*intent.Client, error) {
	ias, err := a.intentAdapters()
	if err != nil {
		return nil, err
	}
	return intent.NewClient(intent.ClientConfig{}, a.chains.Registry, a.solver(), a.stores.Intents, a.notifier, ias...), nil
}

// signer returns the configured key signer of chainID.
func (a *app) signer(chainID string) (chain.Signer, error) {
	s := a.chains.Signer(chainID)
	if s == nil {
		return nil, fmt.Errorf("no private key configured for chain %s", chainID)
	}
	return s, nil
}
