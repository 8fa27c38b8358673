package intent

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/metrics"
	"xswap/pkg/notify"
	"xswap/pkg/solver"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

var validate = validator.New()

// SwapRequest creates one intent order on SrcChainID.
type SwapRequest struct {
	SrcChainID         string       `validate:"required"`
	DstChainID         string       `validate:"required"`
	FromToken          string       `validate:"required"`
	ToToken            string       `validate:"required"`
	Amount             *big.Int     `validate:"required"`
	DestinationAddress string       `validate:"required"`
	Signer             chain.Signer `validate:"required"`
	// MinReceive, when set, rejects quotes below it and becomes the order's toAmount.
	MinReceive *big.Int `validate:"-"`
}

type ClientConfig struct {
	Receipts ReceiptPolicy
	Now      func() time.Time
}

// Client runs the intent order lifecycle against the intent contracts and the solver.
type Client struct {
	registry *chain.Registry
	adapters map[string]Adapter
	solver   solver.Solver
	intents  *store.Intents
	notifier notify.Notifier
	receipts ReceiptPolicy
	now      func() time.Time
	log      *zap.SugaredLogger
}

func NewClient(cfg ClientConfig, registry *chain.Registry, s solver.Solver, intents *store.Intents, notifier notify.Notifier, adapters ...Adapter) *Client {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	c := &Client{
		registry: registry,
		adapters: make(map[string]Adapter, len(adapters)),
		solver:   s,
		intents:  intents,
		notifier: notifier,
		receipts: cfg.Receipts.withDefaults(),
		now:      cfg.Now,
		log:      logger.Named("intent"),
	}
	for _, a := range adapters {
		c.adapters[a.ChainID()] = a
	}
	return c
}

// Adapter returns the intent adapter of chainID or a *chain.NoAdapterError.
func (c *Client) Adapter(chainID string) (Adapter, error) {
	a, ok := c.adapters[chainID]
	if !ok {
		return nil, &chain.NoAdapterError{ChainID: chainID}
	}
	return a, nil
}

func (c *Client) Quote(ctx context.Context, req solver.QuoteRequest) (solver.QuoteResponse, error) {
	if err := validate.Struct(req); err != nil {
		return solver.QuoteResponse{}, fmt.Errorf("invalid quote request: %w", err)
	}
	return c.solver.Quote(ctx, req)
}

// Swap quotes, creates the order on chain, records it and hands it to the
// solver. The returned order is pending with a task id on success. Failures
// after the order was submitted return the recorded order with the error.
func (c *Client) Swap(ctx context.Context, req SwapRequest) (types.IntentOrder, error) {
	if err := validate.Struct(req); err != nil {
		return types.IntentOrder{}, fmt.Errorf("invalid swap request: %w", err)
	}
	if req.Amount.Sign() <= 0 {
		return types.IntentOrder{}, errors.New("invalid swap request: amount must be positive")
	}
	adapter, err := c.Adapter(req.SrcChainID)
	if err != nil {
		return types.IntentOrder{}, err
	}
	src, err := c.registry.Get(req.SrcChainID)
	if err != nil {
		return types.IntentOrder{}, err
	}

	quote, err := c.solver.Quote(ctx, solver.QuoteRequest{
		TokenSrc:             req.FromToken,
		TokenSrcBlockchainID: req.SrcChainID,
		TokenDst:             req.ToToken,
		TokenDstBlockchainID: req.DstChainID,
		SrcAmount:            req.Amount,
	})
	if err != nil {
		return types.IntentOrder{}, err
	}
	toAmount := quote.ExpectedOutput
	if req.MinReceive != nil {
		if quote.ExpectedOutput.Cmp(req.MinReceive) < 0 {
			return types.IntentOrder{}, errors.Errorf("quote %s below minimum %s", quote.ExpectedOutput, req.MinReceive)
		}
		toAmount = req.MinReceive
	}

	order := SwapOrder{
		ID:                 new(big.Int),
		Emitter:            adapter.Contract(),
		SrcNID:             req.SrcChainID,
		DstNID:             req.DstChainID,
		Creator:            req.Signer.Address(),
		DestinationAddress: req.DestinationAddress,
		Token:              req.FromToken,
		Amount:             req.Amount,
		ToToken:            req.ToToken,
		ToAmount:           toAmount,
		Data:               []byte(quote.QuoteID),
	}
	hash, err := adapter.CreateOrder(ctx, req.Signer, order)
	if err != nil {
		return types.IntentOrder{}, err
	}

	now := c.now()
	rec := types.IntentOrder{
		ID:         uuid.NewString(),
		QuoteID:    quote.QuoteID,
		Status:     types.IntentPending,
		SrcChainID: req.SrcChainID,
		DstChainID: req.DstChainID,
		FromToken:  req.FromToken,
		ToToken:    req.ToToken,
		FromAmount: bigint.NewInt(req.Amount),
		ToAmount:   bigint.NewInt(toAmount),
		TxHash:     hash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.intents.Create(rec); err != nil {
		return rec, fmt.Errorf("failed to record intent order: %w", err)
	}
	metrics.IntentOrders.WithLabelValues(string(types.IntentPending)).Inc()
	c.log.Infow("intent order created", "id", rec.ID, "chain", req.SrcChainID, "tx", hash, "quote", quote.QuoteID)

	mined, err := waitSuccess(ctx, src, hash, c.receipts)
	if err != nil {
		return rec, errors.Wrapf(err, "waiting for order transaction %s", hash)
	}
	if !mined {
		return c.finish(rec.ID, types.IntentFailure, func(o *types.IntentOrder) {
			o.Error = "order transaction reverted"
		})
	}
	if rec, err = c.recordOrderID(ctx, adapter, rec); err != nil {
		return rec, err
	}
	return c.execute(ctx, rec)
}

// Resume continues a pending order that Swap could not finish: it records the
// on-chain order id once the creating transaction is mined and registers the
// order with the solver when it has no task id yet. An order whose creating
// transaction is still unconfirmed is returned unchanged.
func (c *Client) Resume(ctx context.Context, id string) (types.IntentOrder, error) {
	rec, err := c.intents.Get(id)
	if err != nil {
		return rec, err
	}
	if rec.Status != types.IntentPending || rec.TaskID != "" || rec.TxHash == "" {
		return rec, nil
	}
	adapter, err := c.Adapter(rec.SrcChainID)
	if err != nil {
		return rec, err
	}

	if rec.OrderID.IsZero() {
		src, err := c.registry.Get(rec.SrcChainID)
		if err != nil {
			return rec, err
		}
		receipt, err := src.GetTxReceipt(ctx, rec.TxHash)
		if err != nil {
			return rec, err
		}
		switch src.DeriveTxStatus(receipt) {
		case chain.TxPending:
			return rec, nil
		case chain.TxFailure:
			return c.finish(rec.ID, types.IntentFailure, func(o *types.IntentOrder) {
				o.Error = "order transaction reverted"
			})
		}
		if rec, err = c.recordOrderID(ctx, adapter, rec); err != nil {
			return rec, err
		}
	}
	c.log.Infow("resuming intent order", "id", rec.ID, "order", rec.OrderID)
	return c.execute(ctx, rec)
}

// recordOrderID reads the mined order back from the chain and stores its id.
func (c *Client) recordOrderID(ctx context.Context, adapter Adapter, rec types.IntentOrder) (types.IntentOrder, error) {
	onchain, err := adapter.GetOrder(ctx, rec.TxHash)
	if err != nil {
		return rec, errors.Wrapf(err, "reading order from %s", rec.TxHash)
	}
	updated, err := c.intents.Update(rec.ID, func(o *types.IntentOrder) error {
		return o.SetOrderID(bigint.NewInt(onchain.ID), c.now())
	})
	if err != nil {
		return rec, err
	}
	return updated, nil
}

// execute hands a mined order to the solver. A solver rejection fails the
// order; any other error leaves it pending without a task id.
func (c *Client) execute(ctx context.Context, rec types.IntentOrder) (types.IntentOrder, error) {
	exec, err := c.solver.Execute(ctx, solver.ExecuteRequest{IntentTxHash: rec.TxHash, QuoteID: rec.QuoteID})
	if err != nil {
		var ie *solver.IntentError
		if errors.As(err, &ie) {
			order, ferr := c.finish(rec.ID, types.IntentFailure, func(o *types.IntentOrder) {
				o.Error = ie.Error()
			})
			if ferr != nil {
				return order, ferr
			}
			return order, err
		}
		return rec, err
	}
	updated, err := c.intents.Update(rec.ID, func(o *types.IntentOrder) error {
		if o.Status != types.IntentPending || o.TaskID != "" {
			return nil
		}
		o.TaskID = exec.TaskID
		o.UpdatedAt = c.now()
		return nil
	})
	if err != nil {
		return rec, err
	}
	c.log.Infow("intent order registered with solver", "id", updated.ID, "order", updated.OrderID, "task", updated.TaskID)
	return updated, nil
}

// Cancel submits an on-chain cancel for a pending order. When the chain refuses
// it the order keeps its status and *OrderNotCancellableError is returned.
func (c *Client) Cancel(ctx context.Context, id string, signer chain.Signer) (types.IntentOrder, error) {
	rec, err := c.intents.Get(id)
	if err != nil {
		return rec, err
	}
	if rec.Status != types.IntentPending {
		return rec, &OrderNotCancellableError{OrderID: id, Reason: "order is " + string(rec.Status)}
	}
	if rec.OrderID.IsZero() {
		return rec, &OrderNotCancellableError{OrderID: id, Reason: "order is not mined yet"}
	}
	adapter, err := c.Adapter(rec.SrcChainID)
	if err != nil {
		return rec, err
	}

	hash, err := adapter.CancelOrder(ctx, signer, rec.OrderID.Big())
	if err != nil {
		if IsOrderNotCancellable(err) {
			c.log.Infow("cancel refused on chain", "id", id, "tx", hash)
			if cur, gerr := c.intents.Get(id); gerr == nil {
				rec = cur
			}
		}
		return rec, err
	}
	return c.finish(id, types.IntentCancelled, func(o *types.IntentOrder) {
		o.CancelTxHash = hash
	})
}

func (c *Client) Get(id string) (types.IntentOrder, error) {
	return c.intents.Get(id)
}

func (c *Client) List() []types.IntentOrder {
	return c.intents.List()
}

// finish moves the order to a terminal status. Orders that are already
// terminal keep their status and are returned unchanged.
func (c *Client) finish(id string, status types.IntentStatus, mutate func(*types.IntentOrder)) (types.IntentOrder, error) {
	return settle(c.intents, c.notifier, c.log, c.now, id, status, mutate)
}

func settle(intents *store.Intents, notifier notify.Notifier, log *zap.SugaredLogger, now func() time.Time,
	id string, status types.IntentStatus, mutate func(*types.IntentOrder)) (types.IntentOrder, error) {
	changed := false
	order, err := intents.Update(id, func(o *types.IntentOrder) error {
		if !o.SetStatus(status, now()) {
			return nil
		}
		changed = true
		if mutate != nil {
			mutate(o)
		}
		return nil
	})
	if err != nil {
		return order, err
	}
	if changed {
		metrics.IntentOrders.WithLabelValues(string(status)).Inc()
		log.Infow("intent order settled", "id", id, "status", status, "error", order.Error)
		notifier.Intent(order)
	}
	return order, nil
}
