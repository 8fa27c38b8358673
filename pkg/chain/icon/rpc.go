package icon

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// ICON JSON-RPC error codes for transactions that are not final yet
const (
	codePending   = -31002
	codeExecuting = -31003
	codeNotFound  = -31004
)

// block is the v3 block representation. Older blocks report tx hashes without
// the 0x prefix under tx_hash.
type block struct {
	Height       int64           `json:"height"`
	BlockHash    string          `json:"block_hash"`
	Transactions []blockTxResult `json:"confirmed_transaction_list"`
}

type blockTxResult struct {
	TxHash     string `json:"txHash"`
	LegacyHash string `json:"tx_hash"`
	To         string `json:"to"`
}

func (t blockTxResult) hash() string {
	if t.TxHash != "" {
		return withPrefix(t.TxHash)
	}
	return withPrefix(t.LegacyHash)
}

type txResult struct {
	Status      string     `json:"status"`
	TxHash      string     `json:"txHash"`
	BlockHeight string     `json:"blockHeight"`
	EventLogs   []EventLog `json:"eventLogs"`
	Failure     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"failure,omitempty"`
}

// EventLog is one SCORE event of a transaction result.
type EventLog struct {
	ScoreAddress string   `json:"scoreAddress"`
	Indexed      []string `json:"indexed"`
	Data         []string `json:"data"`
}

type callParams struct {
	To       string   `json:"to"`
	DataType string   `json:"dataType"`
	Data     callData `json:"data"`
}

type callData struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params,omitempty"`
}

func withPrefix(h string) string {
	if h == "" || strings.HasPrefix(h, "0x") {
		return h
	}
	return "0x" + h
}

// ParseHexInt decodes ICON's hex integer encoding, including negative values ("-0x1").
func ParseHexInt(s string) (*big.Int, error) {
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "0x")
	if digits == "" {
		return nil, fmt.Errorf("invalid hex integer %q", s)
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex integer %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// FormatHexInt encodes v the way ICON expects it.
func FormatHexInt(v *big.Int) string {
	if v.Sign() < 0 {
		return "-0x" + new(big.Int).Neg(v).Text(16)
	}
	return "0x" + v.Text(16)
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
