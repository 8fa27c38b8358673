package parser

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSwapCommand(t *testing.T) {
	cmd, err := ParseSwapCommand("swap 1.5 icx to usdc")
	require.NoError(t, err)
	assert.Equal(t, &SwapCommand{Amount: "1.5", FromToken: "ICX", ToToken: "USDC"}, cmd)

	cmd, err = ParseSwapCommand("  100 USDC TO 0x2::sui::SUI ")
	require.NoError(t, err)
	assert.Equal(t, "0x2::sui::SUI", cmd.ToToken)

	cmd, err = ParseSwapCommand("2 cx88fd7df7ddff82f7cc735c871dc519838cb235bb to eth")
	require.NoError(t, err)
	assert.Equal(t, "cx88fd7df7ddff82f7cc735c871dc519838cb235bb", cmd.FromToken)
	assert.Equal(t, "ETH", cmd.ToToken)

	for _, bad := range []string{"", "swap ICX to USDC", "1 ICX USDC", "1. ICX to USDC", "1 ICX to icx"} {
		_, err := ParseSwapCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = ParseAmount("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int64())

	v, err = ParseAmount("42", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = ParseAmount("0.0000001", 6)
	assert.ErrorContains(t, err, "more than 6 decimals")

	for _, bad := range []string{"", "abc", "0", "-1", "1/3", "1e6"} {
		_, err := ParseAmount(bad, 6)
		assert.Error(t, err, bad)
	}
}

func TestFormatAmount(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatAmount(v, 18))
	assert.Equal(t, "42", FormatAmount(big.NewInt(42), 0))
	assert.Equal(t, "3", FormatAmount(big.NewInt(3_000_000), 6))
	assert.Equal(t, "0", FormatAmount(nil, 6))
}
