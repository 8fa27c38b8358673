package cmd

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xswap/pkg/chain"
	"xswap/pkg/orchestrator"
	"xswap/pkg/types"
)

var (
	submitType     string
	submitFrom     string
	submitTo       string
	submitContract string
	submitData     string
	submitValue    string
	submitToken    string
	submitAttrs    map[string]string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a cross-chain operation and start tracking it",
	Long: `Submit signs the given call on the source chain with the configured key and
records the transaction so that run can follow its relay messages.

Examples:
  xswap submit --type swap --from 0xa4b1.arbitrum --to sui --contract 0x... --data 0x...
  xswap submit --type deposit --from 0xa4b1.arbitrum --to 0x1.icon --contract 0x... --data 0x... --value 1000000000000000
  xswap submit --type bridge --from 0xa4b1.arbitrum --to 0x2105.base --contract 0x... --data 0x... --attr ref=abc`,
	Args: cobra.NoArgs,
	Run:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitType, "type", "", fmt.Sprintf("Operation type %v (REQUIRED)", types.TxTypes))
	submitCmd.Flags().StringVar(&submitFrom, "from", "", "Source chain id (REQUIRED)")
	submitCmd.Flags().StringVar(&submitTo, "to", "", "Final destination chain id (REQUIRED)")
	submitCmd.Flags().StringVar(&submitContract, "contract", "", "Contract called on the source chain")
	submitCmd.Flags().StringVar(&submitData, "data", "", "Hex encoded call data")
	submitCmd.Flags().StringVar(&submitValue, "value", "", "Native value in base units")
	submitCmd.Flags().StringVar(&submitToken, "token", "", "Token spent by the call, for approval checks")
	submitCmd.Flags().StringToStringVar(&submitAttrs, "attr", nil, "Extra attributes stored with the transaction (key=value)")
	_ = submitCmd.MarkFlagRequired("type")
	_ = submitCmd.MarkFlagRequired("from")
	_ = submitCmd.MarkFlagRequired("to")
}

func runSubmit(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	txType, err := types.ParseTxType(submitType)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	tx := chain.TxRequest{To: submitContract, Token: submitToken}
	if submitData != "" {
		if tx.Data, err = hexutil.Decode(submitData); err != nil {
			printError(fmt.Errorf("invalid --data: %w", err))
			os.Exit(1)
		}
	}
	if submitValue != "" {
		v, ok := new(big.Int).SetString(submitValue, 10)
		if !ok || v.Sign() < 0 {
			printError(fmt.Errorf("invalid --value %q", submitValue))
			os.Exit(1)
		}
		tx.Value = v
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	signer, err := a.signer(submitFrom)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Submitting transaction..."
		s.Start()
	}

	orch := orchestrator.New(a.chains.Registry, a.heights, a.stores, a.notifier)
	id, err := orch.Submit(ctx, orchestrator.Request{
		Type:               txType,
		SourceChainID:      submitFrom,
		DestinationChainID: submitTo,
		Signer:             signer,
		Tx:                 tx,
		Attributes:         submitAttrs,
	})
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		if id != "" {
			color.Yellow("Transaction %s was sent but could not be recorded.", id)
		}
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(map[string]string{"id": id, "status": string(types.TxPending)})
		return
	}
	color.Green("\n✓ Transaction submitted")
	fmt.Printf("  ID: %s\n", color.CyanString(id))
	fmt.Println("\nYou can monitor it using:")
	color.Cyan("  xswap status %s --watch\n", id)
}
