// Package relay advances relay messages by scanning their destination chains
// and settles the owning transactions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xswap/pkg/bigint"
	"xswap/pkg/chain"
	"xswap/pkg/logger"
	"xswap/pkg/metrics"
	"xswap/pkg/notify"
	"xswap/pkg/storage"
	"xswap/pkg/store"
	"xswap/pkg/types"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultConcurrency = 8
)

// Heights is the read side of the chain height tracker.
type Heights interface {
	Get(chainID string) uint64
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	// Now overrides the clock.
	Now func() time.Time
}

// Tracker is the relay message state machine. Each Run advances every
// non-terminal message once.
type Tracker struct {
	registry     *chain.Registry
	heights      Heights
	messages     *store.Messages
	transactions *store.Transactions
	notifier     notify.Notifier
	interval     time.Duration
	concurrency  int
	now          func() time.Time
	log          *zap.SugaredLogger
}

func NewTracker(cfg Config, registry *chain.Registry, heights Heights, stores *store.Stores, notifier notify.Notifier) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Tracker{
		registry:     registry,
		heights:      heights,
		messages:     stores.Messages,
		transactions: stores.Transactions,
		notifier:     notifier,
		interval:     cfg.Interval,
		concurrency:  cfg.Concurrency,
		now:          cfg.Now,
		log:          logger.Named("relay"),
	}
}

func (t *Tracker) Name() string {
	return "relay"
}

func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Run advances every active message with bounded parallelism, then settles
// pending transactions. Per-message failures are logged and retried on the
// next run; Run itself only fails when ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for _, m := range t.messages.ListActive() {
		m := m
		g.Go(func() error {
			t.advance(gctx, m)
			return nil
		})
	}
	_ = g.Wait()

	for _, tx := range t.transactions.ListByStatus(types.TxPending) {
		if ctx.Err() != nil {
			break
		}
		t.settle(tx.ID)
	}
	return ctx.Err()
}

func (t *Tracker) advance(ctx context.Context, m types.RelayMessage) {
	log := t.log.With("message", m.ID, "dest", m.DestinationChainID)

	if !m.HasSN() {
		bound, err := t.bindSource(ctx, m)
		if err != nil {
			log.Warnw("failed to read source transaction", "error", err)
			return
		}
		if !bound.HasSN() {
			return
		}
		m = bound
	}
	if m.Status.IsTerminal() {
		return
	}

	dst, err := t.registry.Get(m.DestinationChainID)
	if err != nil {
		log.Errorw("cannot scan destination", "error", err)
		return
	}

	window, ok := t.window(m)
	if !ok {
		return
	}
	logs, err := dst.GetEventLogs(ctx, window)
	if err != nil {
		log.Warnw("failed to fetch destination logs", "start", window.Start, "end", window.End, "error", err)
		return
	}
	events := dst.ParseEventLogs(logs)

	prev := m.Status
	next, err := t.messages.Update(m.ID, func(cur *types.RelayMessage) error {
		t.apply(cur, events)
		if window.End > cur.LastScannedHeight.Uint64() {
			cur.LastScannedHeight = bigint.U64(window.End)
		}
		return nil
	})
	if err != nil {
		log.Errorw("failed to persist message", "error", err)
		return
	}
	if next.Status != prev {
		t.transitioned(next)
	}
	if next.Status.IsTerminal() {
		t.settle(next.XTransactionID)
	}
}

// window is [ScanFloor, destination height], clamped by the chain's MaxScanBlocks.
func (t *Tracker) window(m types.RelayMessage) (chain.Range, bool) {
	r := chain.Range{Start: m.ScanFloor(), End: t.heights.Get(m.DestinationChainID)}
	if r.Empty() {
		return r, false
	}
	if limit := t.registry.Settings(m.DestinationChainID).MaxScanBlocks; limit > 0 && r.End-r.Start+1 > limit {
		r.End = r.Start + limit - 1
	}
	return r, true
}

// bindSource records the source CallMessageSent and the serial number it carries.
// A reverted source transaction, or one that never called the relay, fails the message.
func (t *Tracker) bindSource(ctx context.Context, m types.RelayMessage) (types.RelayMessage, error) {
	src, err := t.registry.Get(m.SourceChainID)
	if err != nil {
		return m, err
	}
	receipt, err := src.GetTxReceipt(ctx, m.SourceTransactionHash)
	if err != nil {
		return m, err
	}

	var reason string
	var sent *types.RelayEvent
	switch src.DeriveTxStatus(receipt) {
	case chain.TxPending:
		return m, nil
	case chain.TxFailure:
		reason = "source transaction reverted"
	default:
		if evs := chain.FilterEvents(src.ParseEventLogs(receipt.Logs), types.EventCallMessageSent); len(evs) > 0 {
			sent = &evs[0]
		} else {
			reason = "source transaction did not emit CallMessageSent"
		}
	}

	prev := m.Status
	next, err := t.messages.Update(m.ID, func(cur *types.RelayMessage) error {
		if cur.HasSN() || cur.Status.IsTerminal() {
			return nil
		}
		if sent == nil {
			cur.Error = reason
			return cur.Advance(types.MessageFailed, t.now())
		}
		cur.RecordEvent(*sent)
		cur.SN = sent.SN
		cur.UpdatedAt = t.now()
		return nil
	})
	if err != nil {
		return m, err
	}
	if next.Status != prev {
		t.transitioned(next)
		t.settle(next.XTransactionID)
	}
	return next, nil
}

// apply folds destination events into m. CallMessage is matched by serial
// number, CallExecuted by the request id learned from CallMessage.
func (t *Tracker) apply(m *types.RelayMessage, events []types.RelayEvent) {
	now := t.now()
	for _, ev := range events {
		if ev.Kind != types.EventCallMessage || m.Status != types.MessageRequested {
			continue
		}
		if ev.SN.Cmp(m.SN) != 0 {
			continue
		}
		m.RecordEvent(ev)
		m.ReqID = ev.ReqID
		_ = m.Advance(types.MessageDelivered, now)
	}
	for _, ev := range events {
		if ev.Kind != types.EventCallExecuted || m.Status != types.MessageDelivered {
			continue
		}
		if ev.ReqID.Cmp(m.ReqID) != 0 {
			continue
		}
		m.RecordEvent(ev)
		if ev.Code == types.CallExecutedSuccess {
			m.ExecutedTxHash = ev.TxHash
			_ = m.Advance(types.MessageExecuted, now)
		} else {
			m.Error = fmt.Sprintf("destination call failed with code %d: %s", ev.Code, ev.Msg)
			_ = m.Advance(types.MessageFailed, now)
		}
	}
}

func (t *Tracker) transitioned(m types.RelayMessage) {
	metrics.RelayMessageTransitions.WithLabelValues(string(m.Status)).Inc()
	t.log.Infow("relay message advanced",
		"message", m.ID,
		"transaction", m.XTransactionID,
		"status", m.Status,
		"primary", m.IsPrimary,
		"error", m.Error,
	)
}

// settle creates the secondary hop once the primary executed and finalizes the
// transaction when its required messages are terminal.
func (t *Tracker) settle(xid string) {
	tx, err := t.transactions.Get(xid)
	if err != nil {
		t.log.Warnw("message without transaction", "transaction", xid, "error", err)
		return
	}
	if tx.Status.IsTerminal() {
		return
	}

	msgs := t.messages.ListByTransaction(xid)
	if len(msgs) == 0 || !msgs[0].IsPrimary {
		return
	}
	primary := msgs[0]
	var secondary *types.RelayMessage
	for i := range msgs[1:] {
		secondary = &msgs[i+1]
	}

	for _, m := range msgs {
		if m.Status == types.MessageFailed {
			t.finish(tx, types.TxFailure)
			return
		}
	}
	if primary.Status != types.MessageExecuted {
		return
	}
	if !tx.SecondaryMessageRequired {
		t.finish(tx, types.TxSuccess)
		return
	}
	if secondary == nil {
		t.createSecondary(tx, primary)
		return
	}
	if secondary.Status == types.MessageExecuted {
		t.finish(tx, types.TxSuccess)
	}
}

func (t *Tracker) createSecondary(tx types.Transaction, primary types.RelayMessage) {
	if primary.ExecutedTxHash == "" {
		t.log.Errorw("executed primary message has no execution hash", "message", primary.ID)
		return
	}
	hub := t.registry.HubChainID()
	margin := t.registry.Settings(tx.FinalDestinationChainID).SafetyMargin

	now := t.now()
	if primary.ExecutedAt != nil && now.Before(*primary.ExecutedAt) {
		now = *primary.ExecutedAt
	}
	msg := types.RelayMessage{
		ID:                                 types.MessageID(hub, primary.ExecutedTxHash),
		XTransactionID:                     tx.ID,
		SourceChainID:                      hub,
		DestinationChainID:                 tx.FinalDestinationChainID,
		SourceTransactionHash:              primary.ExecutedTxHash,
		Status:                             types.MessageRequested,
		DestinationChainInitialBlockHeight: tx.FinalDestinationChainInitialBlockHeight.SubSaturating(margin),
		CreatedAt:                          now,
		UpdatedAt:                          now,
	}
	if err := t.messages.Create(msg); err != nil {
		if !errors.Is(err, storage.ErrExists) {
			t.log.Errorw("failed to create secondary message", "transaction", tx.ID, "error", err)
		}
		return
	}
	metrics.RelayMessageTransitions.WithLabelValues(string(msg.Status)).Inc()
	t.log.Infow("secondary relay message created",
		"message", msg.ID,
		"transaction", tx.ID,
		"dest", msg.DestinationChainID,
		"floor", msg.DestinationChainInitialBlockHeight,
	)
}

func (t *Tracker) finish(tx types.Transaction, status types.TxStatus) {
	updated, changed, err := t.transactions.SetStatus(tx.ID, status)
	if err != nil {
		t.log.Errorw("failed to update transaction", "transaction", tx.ID, "error", err)
		return
	}
	if !changed {
		return
	}
	metrics.Transactions.WithLabelValues(string(status)).Inc()
	t.log.Infow("transaction settled", "transaction", tx.ID, "status", status)
	t.notifier.Transaction(updated)
}
