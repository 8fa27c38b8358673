package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"xswap/pkg/logger"
)

const (
	DefaultExecuteAttempts = 3
	defaultTimeout         = 15 * time.Second
	defaultRetryDelay      = 500 * time.Millisecond
)

// transportError marks failures that did not produce a solver answer.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	var t *transportError
	return errors.As(err, &t)
}

type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	ExecuteAttempts uint
	RetryDelay      time.Duration
}

// Client is the JSON solver API client.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts uint
	delay    time.Duration
	log      *zap.SugaredLogger
}

var _ Solver = (*Client)(nil)

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ExecuteAttempts == 0 {
		cfg.ExecuteAttempts = DefaultExecuteAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		attempts: cfg.ExecuteAttempts,
		delay:    cfg.RetryDelay,
		log:      logger.Named("solver"),
	}
}

func (c *Client) Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error) {
	if req.SrcAmount == nil || req.SrcAmount.Sign() <= 0 {
		return QuoteResponse{}, errors.New("quote amount must be positive")
	}
	body := map[string]string{
		"token_src":               req.TokenSrc,
		"token_src_blockchain_id": req.TokenSrcBlockchainID,
		"token_dst":               req.TokenDst,
		"token_dst_blockchain_id": req.TokenDstBlockchainID,
		"src_amount":              req.SrcAmount.String(),
	}
	res, err := c.post(ctx, "/quote", body)
	if err != nil {
		return QuoteResponse{}, err
	}

	out := res.Get("output")
	expected, ok := new(big.Int).SetString(out.Get("expected_output").String(), 10)
	if !ok {
		return QuoteResponse{}, errors.Errorf("invalid expected_output %q", out.Get("expected_output").Raw)
	}
	return QuoteResponse{ExpectedOutput: expected, QuoteID: out.Get("uuid").String()}, nil
}

// Execute registers the mined intent transaction with the solver. Transport
// failures are retried with backoff; solver answers, including 4xx, are not.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	body := map[string]string{
		"intent_tx_hash": req.IntentTxHash,
		"quote_uuid":     req.QuoteID,
	}
	res, err := retry.DoWithData(func() (gjson.Result, error) {
		return c.post(ctx, "/execute", body)
	},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warnw("execute failed, retrying", "attempt", n+1, "tx", req.IntentTxHash, "error", err)
		}),
	)
	if err != nil {
		return ExecuteResponse{}, err
	}
	resp := ExecuteResponse{Answer: res.Get("answer").String(), TaskID: res.Get("task_id").String()}
	if resp.TaskID == "" {
		return resp, errors.Errorf("solver answered %q without a task id", resp.Answer)
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context, taskID string) (StatusResponse, error) {
	res, err := c.post(ctx, "/status", map[string]string{"task_id": taskID})
	if err != nil {
		return StatusResponse{}, err
	}
	return StatusResponse{
		Status:   StatusCode(res.Get("status").Int()),
		TxHash:   res.Get("tx_hash").String(),
		Executor: res.Get("executor").String(),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, in interface{}) (gjson.Result, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, &transportError{err: errors.Wrapf(err, "POST %s", path)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &transportError{err: errors.Wrapf(err, "read %s response", path)}
	}

	if detail := gjson.GetBytes(body, "detail"); detail.IsObject() && detail.Get("code").Exists() {
		return gjson.Result{}, &IntentError{
			Code:    ErrorCode(detail.Get("code").Int()),
			Message: detail.Get("message").String(),
		}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return gjson.Result{}, &transportError{err: errors.Errorf("POST %s: status %d", path, resp.StatusCode)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, errors.Errorf("POST %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.Errorf("POST %s: invalid JSON response", path)
	}
	return gjson.ParseBytes(body), nil
}
