package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"xswap/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "xswap",
	Short: "Track cross-chain transactions and settle intent swaps",
	Long: `xswap submits cross-chain operations through the hub chain, follows their
relay messages until they execute on the final destination, and creates intent
orders that an off-chain solver fills.

Examples:
  xswap run
  xswap submit --type swap --from 0xa4b1.arbitrum --to sui --contract 0x... --data 0x...
  xswap status 0xa4b1.arbitrum/0xabc... --watch
  xswap intent swap 1.5 ETH to USDC --from-chain 0xa4b1.arbitrum --to-chain sui --recipient 0x...
  xswap chains --refresh`,
	Version: "0.1.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			config.SetConfigFile(configPath)
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .xswap.yaml in $HOME or the working directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}
