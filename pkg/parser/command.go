package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// SwapCommand is a parsed "<amount> <token> to <token>" command. Amount is
// kept in human units until the token decimals are known.
type SwapCommand struct {
	Amount    string
	FromToken string
	ToToken   string
}

var swapPattern = regexp.MustCompile(`(?i)^(?:swap\s+)?(\d+(?:\.\d+)?)\s+(\S+)\s+to\s+(\S+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 ICX to USDC"
//   - "1.5 ETH to 0x2::sui::SUI"
//   - "100 USDC to cx88fd7df7ddff82f7cc735c871dc519838cb235bb"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	matches := swapPattern.FindStringSubmatch(strings.TrimSpace(command))
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 1 ICX to USDC')")
	}
	cmd := &SwapCommand{
		Amount:    matches[1],
		FromToken: NormalizeTokenSymbol(matches[2]),
		ToToken:   NormalizeTokenSymbol(matches[3]),
	}
	if err := ValidateSwapCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ValidateSwapCommand validates that a swap command has all required fields
func ValidateSwapCommand(cmd *SwapCommand) error {
	if cmd.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if cmd.FromToken == "" {
		return fmt.Errorf("source token is required")
	}
	if cmd.ToToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if strings.EqualFold(cmd.FromToken, cmd.ToToken) {
		return fmt.Errorf("source and destination token are the same")
	}
	return nil
}

// NormalizeTokenSymbol upper-cases symbols. Addresses and type tags are
// returned unchanged.
func NormalizeTokenSymbol(token string) string {
	token = strings.TrimSpace(token)
	if IsTokenAddress(token) {
		return token
	}
	return strings.ToUpper(token)
}

// IsTokenAddress reports whether token is a contract address or a Move type tag
// rather than a symbol.
func IsTokenAddress(token string) bool {
	lower := strings.ToLower(token)
	for _, prefix := range []string{"0x", "cx", "hx"} {
		if strings.HasPrefix(lower, prefix) && len(token) > 20 {
			return true
		}
	}
	return strings.Contains(token, "::") || strings.Contains(token, "/")
}
