package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xswap/pkg/api"
	"xswap/pkg/engine"
	"xswap/pkg/height"
	"xswap/pkg/intent"
	"xswap/pkg/logger"
	"xswap/pkg/relay"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tracking daemon",
	Long: `Run refreshes chain heights, advances relay messages, polls the solver for
intent orders and serves the status API until interrupted.

Examples:
  xswap run
  xswap run --config ./mainnet.yaml`,
	Args: cobra.NoArgs,
	Run:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()
	cfg := a.cfg

	direct := make(map[string]height.BlockHeighter)
	networks := cfg.HeightNetworks()
	for _, ch := range a.chains.Registry.Adapters() {
		if cfg.Height.Endpoint == "" || !mapped(networks, ch.ChainID()) {
			direct[ch.ChainID()] = ch
		}
	}
	refresher := height.NewRefresher(a.heights, height.RefresherConfig{
		Endpoint: cfg.Height.Endpoint,
		Interval: cfg.Height.Interval,
		Timeout:  cfg.RPCTimeout,
		Networks: networks,
		Direct:   direct,
	})
	tracker := relay.NewTracker(relay.Config{
		Interval:    cfg.Relay.Interval,
		Concurrency: cfg.Relay.Concurrency,
	}, a.chains.Registry, a.heights, a.stores, a.notifier)
	client, err := a.intentClient()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	poller := intent.NewPoller(cfg.Intent.Interval, client)

	eng := engine.New(refresher, tracker, poller)
	if err := eng.Start(ctx); err != nil {
		printError(err)
		os.Exit(1)
	}

	color.Green("xswap running: hub %s, %d chains, API on %s", cfg.HubChainID, len(cfg.Chains), cfg.API.Listen)
	if err := api.NewServer(cfg.API.Listen, a.heights, a.stores).Run(ctx); err != nil {
		logger.Error("status API stopped: %v", err)
		stop()
	}
	<-ctx.Done()
	eng.Stop()
	printSuccess("Stopped.")
}

func mapped(networks map[string]string, chainID string) bool {
	for _, id := range networks {
		if id == chainID {
			return true
		}
	}
	return false
}
