package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xswap/config"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
	pruneAge      time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status [transaction-id]",
	Short: "Show tracked transactions",
	Long: `Show one tracked transaction with its relay messages, or list all of them.
Transaction ids have the form <chain-id>/<tx-hash>.

Examples:
  xswap status
  xswap status 0xa4b1.arbitrum/0x1234...abcd
  xswap status 0xa4b1.arbitrum/0x1234...abcd --watch --interval 10`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished transactions older than --older-than",
	Args:  cobra.NoArgs,
	Run:   runPrune,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.AddCommand(pruneCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the transaction finishes")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
	pruneCmd.Flags().DurationVar(&pruneAge, "older-than", 7*24*time.Hour, "Minimum age of pruned transactions")
}

// openStores reads the stores without dialing any chain.
func openStores() (*store.Stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.StorageDir)
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	stores, err := openStores()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if len(args) == 0 {
		txs := stores.Transactions.List()
		sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
		if jsonOutput {
			printJSON(txs)
			return
		}
		displayTransactions(txs)
		return
	}

	id := args[0]
	if !watchStatus {
		checkStatus(stores, id, jsonOutput)
		return
	}
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching transaction %s\n", color.CyanString(id))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	if checkStatus(stores, id, false) {
		return
	}
	for range ticker.C {
		// stores pick up the daemon's writes on read
		if checkStatus(stores, id, false) {
			return
		}
	}
}

// checkStatus prints the transaction and reports whether it is terminal.
func checkStatus(stores *store.Stores, id string, jsonOutput bool) bool {
	tx, err := stores.Transactions.Get(id)
	if err != nil {
		if store.IsNotFound(err) {
			printError(fmt.Errorf("transaction %s is not tracked", id))
			os.Exit(1)
		}
		printError(err)
		os.Exit(1)
	}
	msgs := stores.Messages.ListByTransaction(id)
	if jsonOutput {
		printJSON(map[string]interface{}{"transaction": tx, "messages": msgs})
		return tx.Status.IsTerminal()
	}
	displayStatus(tx, msgs)
	return tx.Status.IsTerminal()
}

func displayStatus(tx types.Transaction, msgs []types.RelayMessage) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:              %s\n", color.CyanString(tx.ID))
	fmt.Printf("  Type:            %s\n", tx.Type)
	fmt.Printf("  Status:          %s\n", getColoredStatus(string(tx.Status)))
	fmt.Printf("  Route:           %s -> %s\n", tx.SourceChainID, tx.FinalDestinationChainID)
	fmt.Printf("  Last Updated:    %s\n", tx.UpdatedAt.Format("2006-01-02 15:04:05"))

	for _, m := range msgs {
		hop := "Primary"
		if !m.IsPrimary {
			hop = "Secondary"
		}
		fmt.Printf("\n  %s message %s -> %s\n", hop, m.SourceChainID, m.DestinationChainID)
		fmt.Printf("    Status:        %s\n", getColoredStatus(string(m.Status)))
		fmt.Printf("    Source Tx:     %s\n", color.HiBlackString(m.SourceTransactionHash))
		fmt.Printf("    Scanned To:    %s\n", m.LastScannedHeight)
		if m.ExecutedTxHash != "" {
			fmt.Printf("    Executed Tx:   %s\n", color.HiBlackString(m.ExecutedTxHash))
		}
		if m.Error != "" {
			fmt.Printf("    Error:         %s\n", color.RedString(m.Error))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func displayTransactions(txs []types.Transaction) {
	if len(txs) == 0 {
		fmt.Println("\nNo tracked transactions.")
		return
	}
	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                TRACKED TRANSACTIONS")
	fmt.Println(strings.Repeat("=", 90))
	for _, tx := range txs {
		fmt.Printf("  %-20s  %-16s  %s\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"),
			getColoredStatus(string(tx.Status)),
			color.CyanString(tx.ID))
	}
	fmt.Println(strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d transactions\n\n", len(txs))
}

func runPrune(cmd *cobra.Command, args []string) {
	stores, err := openStores()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	n, err := stores.Transactions.Prune(time.Now().Add(-pruneAge))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Pruned %d transactions.", n))
}

func getColoredStatus(status string) string {
	status = strings.ToUpper(status)

	switch status {
	case "SUCCESS", "EXECUTED":
		return color.GreenString(status)
	case "PENDING", "REQUESTED", "DELIVERED":
		return color.YellowString(status)
	case "FAILURE", "FAILED":
		return color.RedString(status)
	case "CANCELLED":
		return color.MagentaString(status)
	default:
		return status
	}
}
