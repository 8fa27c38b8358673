// Package solver talks to the off-chain solver that fills intent orders.
package solver

import (
	"context"
	"fmt"
	"math/big"
)

// StatusCode is the fill state the solver reports for a task
type StatusCode int

const (
	StatusNotFound   StatusCode = -1
	StatusQueued     StatusCode = 1
	StatusInProgress StatusCode = 2
	StatusSolved     StatusCode = 3
	StatusFailed     StatusCode = 4
)

func (s StatusCode) String() string {
	switch s {
	case StatusNotFound:
		return "not found"
	case StatusQueued:
		return "queued"
	case StatusInProgress:
		return "in progress"
	case StatusSolved:
		return "solved"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ErrorCode is a business error reported by the solver
type ErrorCode int

const (
	NoPathFound            ErrorCode = -4
	NoPrivateLiquidity     ErrorCode = -5
	NoExecutionModuleFound ErrorCode = -7
	QuoteNotFound          ErrorCode = -8
	Unknown                ErrorCode = -999
)

var errorMessages = map[ErrorCode]string{
	NoPathFound:            "no path found for this token pair",
	NoPrivateLiquidity:     "no private liquidity for this token pair",
	NoExecutionModuleFound: "no execution module found",
	QuoteNotFound:          "quote not found or expired",
	Unknown:                "unknown solver error",
}

// IntentError is a terminal solver error. It is never retried.
type IntentError struct {
	Code    ErrorCode
	Message string
}

func (e *IntentError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = errorMessages[e.Code]
	}
	if msg == "" {
		msg = errorMessages[Unknown]
	}
	return fmt.Sprintf("solver error %d: %s", int(e.Code), msg)
}

type QuoteRequest struct {
	TokenSrc             string   `validate:"required"`
	TokenSrcBlockchainID string   `validate:"required"`
	TokenDst             string   `validate:"required"`
	TokenDstBlockchainID string   `validate:"required"`
	SrcAmount            *big.Int `validate:"required"`
}

type QuoteResponse struct {
	ExpectedOutput *big.Int
	QuoteID        string
}

type ExecuteRequest struct {
	IntentTxHash string
	QuoteID      string
}

type ExecuteResponse struct {
	Answer string
	TaskID string
}

type StatusResponse struct {
	Status StatusCode
	TxHash string
	// Executor is the solver address filling the order, once one is assigned.
	Executor string
}

// Solver is the solver API used by the intent client.
type Solver interface {
	Quote(ctx context.Context, req QuoteRequest) (QuoteResponse, error)
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error)
	Status(ctx context.Context, taskID string) (StatusResponse, error)
}
