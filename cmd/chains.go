package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xswap/config"
	"xswap/pkg/height"
)

var (
	refreshHeights bool
	filterFamily   string
)

var chainsCmd = &cobra.Command{
	Use:     "chains",
	Aliases: []string{"ls"},
	Short:   "List configured chains, their heights and tokens",
	Long: `List every configured chain with the last observed block height and the
configured tokens.

Examples:
  xswap chains
  xswap chains --family evm
  xswap chains --refresh`,
	Args: cobra.NoArgs,
	Run:  runChains,
}

func init() {
	rootCmd.AddCommand(chainsCmd)

	chainsCmd.Flags().BoolVar(&refreshHeights, "refresh", false, "Read current heights from every chain first")
	chainsCmd.Flags().StringVar(&filterFamily, "family", "", "Filter by chain family")
}

type chainRow struct {
	config.ChainConfig `json:"-"`
	ID                 string               `json:"id"`
	Family             string               `json:"family"`
	Height             uint64               `json:"height"`
	Hub                bool                 `json:"hub"`
	Tokens             []config.TokenConfig `json:"tokens,omitempty"`
}

func runChains(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var heights map[string]uint64
	if refreshHeights {
		heights, err = refresh(jsonOutput)
	} else {
		var tracker *height.Tracker
		if tracker, err = height.NewTracker(cfg.StorageDir); err == nil {
			heights = tracker.All()
		}
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var rows []chainRow
	for _, c := range cfg.Chains {
		if filterFamily != "" && !strings.EqualFold(c.Family, filterFamily) {
			continue
		}
		rows = append(rows, chainRow{
			ChainConfig: c,
			ID:          c.ID,
			Family:      c.Family,
			Height:      heights[c.ID],
			Hub:         c.ID == cfg.HubChainID,
			Tokens:      c.Tokens,
		})
	}

	if jsonOutput {
		printJSON(rows)
		return
	}
	displayChains(rows)
}

// refresh reads the current height of every chain and records it.
func refresh(quiet bool) (map[string]uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !quiet {
		s.Suffix = " Reading chain heights..."
		s.Start()
	}
	direct := make(map[string]height.BlockHeighter)
	for _, ch := range a.chains.Registry.Adapters() {
		direct[ch.ChainID()] = ch
	}
	err = height.NewRefresher(a.heights, height.RefresherConfig{Direct: direct, Timeout: a.cfg.RPCTimeout}).Run(ctx)
	if !quiet {
		s.Stop()
	}
	if err != nil {
		return nil, err
	}
	return a.heights.All(), nil
}

func displayChains(rows []chainRow) {
	if len(rows) == 0 {
		fmt.Println("\nNo chains configured.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                CONFIGURED CHAINS")
	fmt.Println(strings.Repeat("=", 90))

	for _, r := range rows {
		hub := ""
		if r.Hub {
			hub = color.MagentaString(" (hub)")
		}
		color.Cyan("\n%s%s", r.ID, hub)
		fmt.Println(strings.Repeat("-", 90))
		fmt.Printf("  Family:         %s\n", r.Family)
		fmt.Printf("  Height:         %d\n", r.Height)
		fmt.Printf("  Safety Margin:  %d\n", r.SafetyMargin)
		if r.IntentAddress != "" {
			fmt.Printf("  Intents:        %s\n", color.HiBlackString(r.IntentAddress))
		}
		for _, t := range r.Tokens {
			address := t.Address
			if len(address) > 40 {
				address = address[:37] + "..."
			}
			fmt.Printf("  %-10s  %2d decimals  %s\n", color.YellowString(t.Symbol), t.Decimals, color.HiBlackString(address))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d chains\n\n", len(rows))
}
