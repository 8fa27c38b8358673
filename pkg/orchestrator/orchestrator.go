// Package orchestrator submits user operations on their source chain and
// records the transaction and its first relay hop.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/metrics"
	"xswap/pkg/notify"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("txtype", validateTxType); err != nil {
		panic(err)
	}
}

func validateTxType(fl validator.FieldLevel) bool {
	_, err := types.ParseTxType(fl.Field().String())
	return err == nil
}

// Heights is the read side of the chain height tracker.
type Heights interface {
	Get(chainID string) uint64
}

// Request is one user operation. Tx is submitted on SourceChainID with Signer;
// DestinationChainID is where the operation finally lands.
type Request struct {
	Type               types.TxType      `validate:"required,txtype"`
	SourceChainID      string            `validate:"required"`
	DestinationChainID string            `validate:"required"`
	Signer             chain.Signer      `validate:"required"`
	Tx                 chain.TxRequest   `validate:"-"`
	Attributes         map[string]string `validate:"-"`

	// OnSubmitted is called once, right after the transaction is recorded.
	OnSubmitted func(types.Transaction) `validate:"-"`
}

type Orchestrator struct {
	registry     *chain.Registry
	heights      Heights
	transactions *store.Transactions
	messages     *store.Messages
	notifier     notify.Notifier
	now          func() time.Time
	log          *zap.SugaredLogger
}

func New(registry *chain.Registry, heights Heights, stores *store.Stores, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Orchestrator{
		registry:     registry,
		heights:      heights,
		transactions: stores.Transactions,
		messages:     stores.Messages,
		notifier:     notifier,
		now:          time.Now,
		log:          logger.Named("orchestrator"),
	}
}

// Route returns the destination of the primary hop and whether a second hop
// from the hub to the final destination is needed.
func Route(hub, source, final string) (primary string, secondary bool) {
	if source == hub {
		return final, false
	}
	return hub, final != hub
}

// Submit sends the request's transaction and records it as pending. It returns
// the transaction id as soon as the source chain accepted the transaction.
// Submission failures are returned as *chain.SubmissionRejectedError and are
// never retried.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}

	src, err := o.registry.Get(req.SourceChainID)
	if err != nil {
		return "", err
	}
	primaryDest, secondary := Route(o.registry.HubChainID(), req.SourceChainID, req.DestinationChainID)
	if _, err := o.registry.Get(primaryDest); err != nil {
		return "", err
	}
	if _, err := o.registry.Get(req.DestinationChainID); err != nil {
		return "", err
	}

	hash, err := src.SubmitTransaction(ctx, req.Signer, req.Tx)
	if err != nil {
		return "", err
	}

	id := types.TransactionID(req.SourceChainID, hash)
	margin := o.registry.Settings(primaryDest).SafetyMargin
	floor := bigint.U64(o.height(ctx, primaryDest)).SubSaturating(margin)
	final := bigint.U64(o.height(ctx, req.DestinationChainID))

	now := o.now()
	tx := types.Transaction{
		ID:                                      id,
		Type:                                    req.Type,
		Status:                                  types.TxPending,
		SourceChainID:                           req.SourceChainID,
		SourceTxHash:                            hash,
		FinalDestinationChainID:                 req.DestinationChainID,
		SecondaryMessageRequired:                secondary,
		FinalDestinationChainInitialBlockHeight: final,
		Attributes:                              req.Attributes,
		CreatedAt:                               now,
		UpdatedAt:                               now,
	}
	msg := types.RelayMessage{
		ID:                                 types.MessageID(req.SourceChainID, hash),
		XTransactionID:                     id,
		SourceChainID:                      req.SourceChainID,
		DestinationChainID:                 primaryDest,
		SourceTransactionHash:              hash,
		Status:                             types.MessageRequested,
		IsPrimary:                          true,
		DestinationChainInitialBlockHeight: floor,
		CreatedAt:                          now,
		UpdatedAt:                          now,
	}

	// The hash is returned with persistence errors: the transaction is already on chain.
	if err := o.transactions.Create(tx); err != nil {
		return id, fmt.Errorf("failed to record transaction %s: %w", id, err)
	}
	if err := o.messages.Create(msg); err != nil {
		return id, fmt.Errorf("failed to record relay message %s: %w", msg.ID, err)
	}

	metrics.Transactions.WithLabelValues(string(types.TxPending)).Inc()
	metrics.RelayMessageTransitions.WithLabelValues(string(types.MessageRequested)).Inc()
	o.log.Infow("transaction submitted",
		"transaction", id,
		"type", req.Type,
		"primary_dest", primaryDest,
		"final_dest", req.DestinationChainID,
		"secondary", secondary,
		"floor", floor,
	)

	if req.OnSubmitted != nil {
		req.OnSubmitted(tx)
	}
	o.notifier.Transaction(tx)
	return id, nil
}

// height prefers the tracked height and falls back to asking the chain. An
// unknown height yields 0, which scans from genesis bounded by max_scan_blocks.
func (o *Orchestrator) height(ctx context.Context, chainID string) uint64 {
	if h := o.heights.Get(chainID); h > 0 {
		return h
	}
	a, err := o.registry.Get(chainID)
	if err != nil {
		return 0
	}
	h, err := a.GetBlockHeight(ctx)
	if err != nil {
		o.log.Warnw("height unknown at submission", "chain", chainID, "error", err)
		return 0
	}
	return h
}
