package chain

import (
	"errors"
	"fmt"

	"xswap/pkg/metrics"
)

var errNoSigner = errors.New("no signer provided")

// RpcError is a transient transport failure. Callers retry on the next tick.
type RpcError struct {
	ChainID string
	Op      string
	Err     error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("chain %s: %s: %v", e.ChainID, e.Op, e.Err)
}

func (e *RpcError) Unwrap() error {
	return e.Err
}

// NewRpcError wraps err and counts it against the chain.
func NewRpcError(chainID, op string, err error) error {
	metrics.ChainRPCErrors.WithLabelValues(chainID, op).Inc()
	return &RpcError{ChainID: chainID, Op: op, Err: err}
}

func IsRpcError(err error) bool {
	var e *RpcError
	return errors.As(err, &e)
}

// SubmissionRejectedError is returned when the signer or the RPC node refuses a
// transaction. It is never retried.
type SubmissionRejectedError struct {
	ChainID string
	Err     error
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("submission rejected on %s: %v", e.ChainID, e.Err)
}

func (e *SubmissionRejectedError) Unwrap() error {
	return e.Err
}

// NoAdapterError means the chain is not configured.
type NoAdapterError struct {
	ChainID string
}

func (e *NoAdapterError) Error() string {
	return fmt.Sprintf("no adapter configured for chain %q", e.ChainID)
}

type signerMismatchError struct {
	want, got string
}

func (e *signerMismatchError) Error() string {
	return fmt.Sprintf("signer is bound to %s, not %s", e.got, e.want)
}
