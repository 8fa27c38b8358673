package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
)

const (
	oneClickSlippageBps = 100
	oneClickDeadline    = 24 * time.Hour
)

// OneClick fills intents through the 1Click API. The quote's deposit address
// doubles as quote id and task id.
type OneClick struct {
	client    *oneclick.APIClient
	jwtToken  string
	recipient string
	refundTo  string
}

var _ Solver = (*OneClick)(nil)

type OneClickConfig struct {
	BaseURL  string
	JWTToken string
	// Recipient and RefundTo are the default addresses used in quotes.
	Recipient string
	RefundTo  string
}

func NewOneClick(cfg OneClickConfig) *OneClick {
	config := oneclick.NewConfiguration()
	if cfg.BaseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: cfg.BaseURL}}
	}
	refundTo := cfg.RefundTo
	if refundTo == "" {
		refundTo = cfg.Recipient
	}
	return &OneClick{
		client:    oneclick.NewAPIClient(config),
		jwtToken:  cfg.JWTToken,
		recipient: cfg.Recipient,
		refundTo:  refundTo,
	}
}

func (c *OneClick) auth(ctx context.Context) context.Context {
	if c.jwtToken == "" {
		return ctx
	}
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
}

// Quote requests a real (non dry) quote. TokenSrc and TokenDst are 1Click asset ids.
func (c *OneClick) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	if c.recipient == "" {
		return QuoteResponse{}, fmt.Errorf("recipient address is required for 1Click quotes")
	}
	if req.SrcAmount == nil || req.SrcAmount.Sign() <= 0 {
		return QuoteResponse{}, fmt.Errorf("quote amount must be positive")
	}

	quoteReq := oneclick.NewQuoteRequest(
		false,
		"EXACT_INPUT",
		oneClickSlippageBps,
		req.TokenSrc,
		"ORIGIN_CHAIN",
		req.TokenDst,
		req.SrcAmount.String(),
		c.refundTo,
		"ORIGIN_CHAIN",
		c.recipient,
		"DESTINATION_CHAIN",
		time.Now().Add(oneClickDeadline),
	)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.auth(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return QuoteResponse{}, apiError("quote", httpResp, err)
	}
	defer httpResp.Body.Close()
	if resp == nil {
		return QuoteResponse{}, fmt.Errorf("empty quote response")
	}

	quote := resp.GetQuote()
	out, ok := new(big.Int).SetString(quote.GetAmountOut(), 10)
	if !ok {
		return QuoteResponse{}, fmt.Errorf("invalid amount out %q", quote.GetAmountOut())
	}
	if quote.GetDepositAddress() == "" {
		return QuoteResponse{}, &IntentError{Code: NoPathFound, Message: "quote has no deposit address"}
	}
	return QuoteResponse{ExpectedOutput: out, QuoteID: quote.GetDepositAddress()}, nil
}

// Execute reports the deposit transaction for the quote's deposit address.
func (c *OneClick) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	body := oneclick.NewSubmitDepositTxRequest(req.QuoteID, req.IntentTxHash)
	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.auth(ctx)).SubmitDepositTxRequest(*body).Execute()
	if err != nil {
		return ExecuteResponse{}, apiError("submit deposit", httpResp, err)
	}
	defer httpResp.Body.Close()
	return ExecuteResponse{Answer: "OK", TaskID: req.QuoteID}, nil
}

func (c *OneClick) Status(ctx context.Context, taskID string) (StatusResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.auth(ctx)).DepositAddress(taskID).Execute()
	if err != nil {
		if httpResp != nil && httpResp.StatusCode == http.StatusNotFound {
			return StatusResponse{Status: StatusNotFound}, nil
		}
		return StatusResponse{}, apiError("status", httpResp, err)
	}
	defer httpResp.Body.Close()

	out := StatusResponse{Status: MapOneClickStatus(string(resp.GetStatus()))}
	details := resp.GetSwapDetails()
	if hashes := details.GetDestinationChainTxHashes(); len(hashes) > 0 {
		out.TxHash = hashes[0].GetHash()
	}
	return out, nil
}

// MapOneClickStatus maps 1Click execution states onto solver status codes.
func MapOneClickStatus(s string) StatusCode {
	switch s {
	case "SUCCESS", "COMPLETED":
		return StatusSolved
	case "FAILED", "REFUNDED":
		return StatusFailed
	case "PROCESSING", "KNOWN_DEPOSIT_TX", "INCOMPLETE_DEPOSIT":
		return StatusInProgress
	case "PENDING_DEPOSIT":
		return StatusQueued
	}
	return StatusNotFound
}

// apiError extracts the API message from an SDK failure. Responses with a
// status below 500 are solver answers; the rest are transport failures.
func apiError(op string, httpResp *http.Response, err error) error {
	if httpResp == nil {
		return &transportError{err: fmt.Errorf("1click %s: %w", op, err)}
	}
	defer httpResp.Body.Close()

	msg := err.Error()
	if body, readErr := io.ReadAll(httpResp.Body); readErr == nil && len(body) > 0 {
		var errorResp map[string]interface{}
		if jsonErr := json.Unmarshal(body, &errorResp); jsonErr == nil {
			if m, ok := errorResp["message"].(string); ok {
				msg = m
			}
		} else {
			msg = string(body)
		}
	}
	e := fmt.Errorf("1click %s: API error (status %d): %s", op, httpResp.StatusCode, msg)
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return &transportError{err: e}
	}
	return e
}
