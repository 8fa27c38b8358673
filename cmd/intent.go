package cmd

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"xswap/config"
	"xswap/pkg/intent"
	"xswap/pkg/parser"
	"xswap/pkg/solver"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

var (
	fromChain     string
	toChain       string
	recipientAddr string
	minReceive    string
	noConfirm     bool
)

var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Create and follow intent swap orders",
}

var intentQuoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token>",
	Short: "Ask the solver for a quote",
	Long: `Ask the solver how much of the destination token an order would receive.
Tokens are symbols from the chain configuration or raw addresses.

Examples:
  xswap intent quote 1.5 ETH to USDC --from-chain 0xa4b1.arbitrum --to-chain sui`,
	Args: cobra.MinimumNArgs(1),
	Run:  runIntentQuote,
}

var intentSwapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Create an intent order and hand it to the solver",
	Long: `Create an intent order on the source chain with the configured key. The
solver fills it on the destination chain; run keeps polling its status.

IMPORTANT:
  - You MUST specify --recipient (where you'll receive tokens)

Examples:
  xswap intent swap 1.5 ETH to USDC --from-chain 0xa4b1.arbitrum --to-chain sui --recipient 0x...
  xswap intent swap 100 USDC to ICX --from-chain 0xa4b1.arbitrum --to-chain 0x1.icon --recipient hx... --min-receive 950 --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runIntentSwap,
}

var intentCancelCmd = &cobra.Command{
	Use:   "cancel <order-id>",
	Short: "Cancel a pending intent order",
	Args:  cobra.ExactArgs(1),
	Run:   runIntentCancel,
}

var intentStatusCmd = &cobra.Command{
	Use:   "status <order-id>",
	Short: "Show an intent order",
	Args:  cobra.ExactArgs(1),
	Run:   runIntentStatus,
}

var intentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List intent orders",
	Args:  cobra.NoArgs,
	Run:   runIntentList,
}

func init() {
	rootCmd.AddCommand(intentCmd)
	intentCmd.AddCommand(intentQuoteCmd, intentSwapCmd, intentCancelCmd, intentStatusCmd, intentListCmd)

	for _, c := range []*cobra.Command{intentQuoteCmd, intentSwapCmd} {
		c.Flags().StringVar(&fromChain, "from-chain", "", "Source chain id (REQUIRED)")
		c.Flags().StringVar(&toChain, "to-chain", "", "Destination chain id (REQUIRED)")
		_ = c.MarkFlagRequired("from-chain")
		_ = c.MarkFlagRequired("to-chain")
	}
	intentSwapCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Recipient address (REQUIRED - where you'll receive tokens)")
	intentSwapCmd.Flags().StringVar(&minReceive, "min-receive", "", "Reject quotes below this destination amount")
	intentSwapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
	_ = intentSwapCmd.MarkFlagRequired("recipient")
	intentStatusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the order finishes")
	intentStatusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

// swapInput is a parsed swap command with tokens resolved against the chain config.
type swapInput struct {
	cmd         *parser.SwapCommand
	fromToken   config.TokenConfig
	toToken     config.TokenConfig
	amount      *big.Int
	toDecimals  uint8
	quoteParams solver.QuoteRequest
}

func resolveToken(cfg *config.Config, chainID, token string) (config.TokenConfig, error) {
	c, ok := cfg.Chain(chainID)
	if !ok {
		return config.TokenConfig{}, fmt.Errorf("chain %s is not configured", chainID)
	}
	if t, ok := c.Token(token); ok {
		return t, nil
	}
	if parser.IsTokenAddress(token) {
		return config.TokenConfig{Symbol: token, Address: token}, nil
	}
	return config.TokenConfig{}, fmt.Errorf("unknown token %s on %s", token, chainID)
}

func parseSwapInput(cfg *config.Config, args []string) (*swapInput, error) {
	cmd, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	from, err := resolveToken(cfg, fromChain, cmd.FromToken)
	if err != nil {
		return nil, err
	}
	to, err := resolveToken(cfg, toChain, cmd.ToToken)
	if err != nil {
		return nil, err
	}
	amount, err := parser.ParseAmount(cmd.Amount, from.Decimals)
	if err != nil {
		return nil, err
	}
	return &swapInput{
		cmd:        cmd,
		fromToken:  from,
		toToken:    to,
		amount:     amount,
		toDecimals: to.Decimals,
		quoteParams: solver.QuoteRequest{
			TokenSrc:             from.Address,
			TokenSrcBlockchainID: fromChain,
			TokenDst:             to.Address,
			TokenDstBlockchainID: toChain,
			SrcAmount:            amount,
		},
	}, nil
}

func runIntentQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	in, err := parseSwapInput(a.cfg, args)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	client, err := a.intentClient()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}
	quote, err := client.Quote(ctx, in.quoteParams)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	display := quoteDisplay(in, quote)
	if jsonOutput {
		printJSON(display)
		return
	}
	displayQuote(display)
}

func quoteDisplay(in *swapInput, quote solver.QuoteResponse) types.QuoteDisplay {
	return types.QuoteDisplay{
		SourceAmount: in.cmd.Amount,
		SourceToken:  in.fromToken.Symbol,
		SourceChain:  fromChain,
		DestAmount:   parser.FormatAmount(quote.ExpectedOutput, in.toDecimals),
		DestToken:    in.toToken.Symbol,
		DestChain:    toChain,
		QuoteID:      quote.QuoteID,
	}
}

func runIntentSwap(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	in, err := parseSwapInput(a.cfg, args)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	var floor *big.Int
	if minReceive != "" {
		if floor, err = parser.ParseAmount(minReceive, in.toDecimals); err != nil {
			printError(fmt.Errorf("invalid --min-receive: %w", err))
			os.Exit(1)
		}
	}
	signer, err := a.signer(fromChain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	client, err := a.intentClient()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !noConfirm && !jsonOutput {
		quote, err := client.Quote(ctx, in.quoteParams)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		displayQuote(quoteDisplay(in, quote))
		if !confirm("Proceed with swap?") {
			fmt.Println("\nSwap cancelled.")
			os.Exit(0)
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Creating order..."
		s.Start()
	}
	order, err := client.Swap(ctx, intent.SwapRequest{
		SrcChainID:         fromChain,
		DstChainID:         toChain,
		FromToken:          in.fromToken.Address,
		ToToken:            in.toToken.Address,
		Amount:             in.amount,
		DestinationAddress: recipientAddr,
		Signer:             signer,
		MinReceive:         floor,
	})
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		if order.ID != "" {
			color.Yellow("Order %s was recorded before the error.", order.ID)
		}
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(order)
		return
	}
	displayOrder(order)
	fmt.Println("You can monitor the order using:")
	color.Cyan("  xswap intent status %s --watch\n", order.ID)
}

func runIntentCancel(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	client, err := a.intentClient()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	existing, err := client.Get(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	signer, err := a.signer(existing.SrcChainID)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	order, err := client.Cancel(ctx, args[0], signer)
	if err != nil {
		if intent.IsOrderNotCancellable(err) {
			color.Yellow("\nThe order could not be cancelled; it is %s.", order.Status)
		}
		printError(err)
		os.Exit(1)
	}
	displayOrder(order)
}

func openIntents() (*store.Intents, error) {
	stores, err := openStores()
	if err != nil {
		return nil, err
	}
	return stores.Intents, nil
}

func runIntentStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	show := func() bool {
		intents, err := openIntents()
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		order, err := intents.Get(args[0])
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(order)
		} else {
			displayOrder(order)
		}
		return order.Status.IsTerminal()
	}

	if show() || !watchStatus || jsonOutput {
		return
	}
	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if show() {
			return
		}
	}
}

func runIntentList(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	intents, err := openIntents()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	orders := intents.List()
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if jsonOutput {
		printJSON(orders)
		return
	}
	if len(orders) == 0 {
		fmt.Println("\nNo intent orders.")
		return
	}
	fmt.Println()
	for _, o := range orders {
		fmt.Printf("  %-20s  %-16s  %s  %s -> %s\n",
			o.CreatedAt.Format("2006-01-02 15:04:05"),
			getColoredStatus(string(o.Status)),
			color.CyanString(o.ID), o.SrcChainID, o.DstChainID)
	}
	fmt.Printf("\nTotal: %d orders\n\n", len(orders))
}

func displayQuote(q types.QuoteDisplay) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Quote ID:          %s\n", color.CyanString(q.QuoteID))
	fmt.Printf("  From:              %s %s\n", q.SourceAmount, color.YellowString(q.SourceToken))
	fmt.Printf("  To:                ~%s %s\n", q.DestAmount, color.YellowString(q.DestToken))
	fmt.Printf("  Source Chain:      %s\n", q.SourceChain)
	fmt.Printf("  Destination Chain: %s\n", q.DestChain)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayOrder(o types.IntentOrder) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        INTENT ORDER")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:              %s\n", color.CyanString(o.ID))
	fmt.Printf("  Status:          %s\n", getColoredStatus(string(o.Status)))
	fmt.Printf("  Route:           %s -> %s\n", o.SrcChainID, o.DstChainID)
	fmt.Printf("  Amount:          %s -> %s\n", o.FromAmount, o.ToAmount)
	if !o.OrderID.IsZero() {
		fmt.Printf("  Order ID:        %s\n", o.OrderID)
	}
	fmt.Printf("  Order Tx:        %s\n", color.HiBlackString(o.TxHash))
	if o.TaskID != "" {
		fmt.Printf("  Solver Task:     %s\n", o.TaskID)
	}
	if o.SolverTxHash != "" {
		fmt.Printf("  Fill Tx:         %s\n", color.HiBlackString(o.SolverTxHash))
	}
	if o.CancelTxHash != "" {
		fmt.Printf("  Cancel Tx:       %s\n", color.HiBlackString(o.CancelTxHash))
	}
	if o.Error != "" {
		fmt.Printf("  Error:           %s\n", color.RedString(o.Error))
	}
	fmt.Printf("  Last Updated:    %s\n", o.UpdatedAt.Format("2006-01-02 15:04:05"))

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func confirm(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", prompt)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
