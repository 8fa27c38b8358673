package intent

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xswap/pkg/logger"
	"xswap/pkg/solver"
	"xswap/pkg/types"
)

const (
	DefaultPollInterval    = 10 * time.Second
	defaultPollConcurrency = 4
	// DefaultResumeAfter is how long an order may sit without a task id before
	// the poller takes over from the Swap call that created it.
	DefaultResumeAfter = 5 * time.Minute
)

// Poller asks the solver about every pending order that has a task id and
// settles the ones the solver finished. Pending orders that never got a task id
// are resumed through the client once they are older than ResumeAfter.
type Poller struct {
	client      *Client
	interval    time.Duration
	resumeAfter time.Duration
	now         func() time.Time
	log         *zap.SugaredLogger
}

func NewPoller(interval time.Duration, client *Client) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:      client,
		interval:    interval,
		resumeAfter: DefaultResumeAfter,
		now:         time.Now,
		log:         logger.Named("intent-poller"),
	}
}

func (p *Poller) Name() string { return "intent" }

func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultPollConcurrency)
	for _, order := range p.client.intents.ListPollable() {
		order := order
		g.Go(func() error {
			if err := p.poll(gctx, order); err != nil {
				p.log.Warnw("solver status failed", "id", order.ID, "task", order.TaskID, "error", err)
			}
			return nil
		})
	}
	for _, order := range p.client.intents.ListUnregistered(p.now().Add(-p.resumeAfter)) {
		order := order
		g.Go(func() error {
			if _, err := p.client.Resume(gctx, order.ID); err != nil {
				p.log.Warnw("failed to resume order", "id", order.ID, "tx", order.TxHash, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (p *Poller) poll(ctx context.Context, order types.IntentOrder) error {
	c := p.client
	res, err := c.solver.Status(ctx, order.TaskID)
	if err != nil {
		return err
	}
	assign := func(o *types.IntentOrder) {
		if res.Executor != "" {
			o.Executor = res.Executor
		}
	}
	switch res.Status {
	case solver.StatusSolved:
		_, err = c.finish(order.ID, types.IntentSuccess, func(o *types.IntentOrder) {
			assign(o)
			o.SolverTxHash = res.TxHash
		})
	case solver.StatusFailed:
		_, err = c.finish(order.ID, types.IntentFailure, func(o *types.IntentOrder) {
			assign(o)
			o.Error = "solver failed to fill the order"
		})
	default:
		p.log.Debugw("order still open", "id", order.ID, "status", res.Status)
		if res.Executor != "" && res.Executor != order.Executor {
			_, err = c.intents.Update(order.ID, func(o *types.IntentOrder) error {
				if o.Status != types.IntentPending {
					return nil
				}
				assign(o)
				o.UpdatedAt = c.now()
				return nil
			})
		}
	}
	return err
}
