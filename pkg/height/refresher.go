package height

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"xswap/pkg/bigint"
	"xswap/pkg/logger"
)

const DefaultInterval = 2 * time.Second

// BlockHeighter reads the current height of one chain directly.
type BlockHeighter interface {
	GetBlockHeight(ctx context.Context) (uint64, error)
}

// NetworkHeight is one entry of the height endpoint response
type NetworkHeight struct {
	Network     string     `json:"network"`
	BlockHeight bigint.U64 `json:"block_height"`
}

// Refresher keeps a Tracker current from the height-reporting endpoint, falling
// back to direct adapter reads for chains the endpoint does not cover.
type Refresher struct {
	tracker    *Tracker
	endpoint   string
	interval   time.Duration
	networks   map[string]string
	direct     map[string]BlockHeighter
	httpClient *http.Client
	log        *zap.SugaredLogger
}

type RefresherConfig struct {
	Endpoint string
	Interval time.Duration
	Timeout  time.Duration
	// Networks maps endpoint network names to chain ids. Unmapped networks are ignored.
	Networks map[string]string
	// Direct holds chains refreshed through their adapter.
	Direct map[string]BlockHeighter
}

func NewRefresher(tracker *Tracker, cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Refresher{
		tracker:    tracker,
		endpoint:   cfg.Endpoint,
		interval:   cfg.Interval,
		networks:   cfg.Networks,
		direct:     cfg.Direct,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.Named("height"),
	}
}

func (r *Refresher) Name() string {
	return "height"
}

func (r *Refresher) Interval() time.Duration {
	return r.interval
}

// Run performs one refresh. Failures leave the tracker untouched and are retried
// on the next tick, so Run never returns an error.
func (r *Refresher) Run(ctx context.Context) error {
	covered := make(map[string]bool)

	if r.endpoint != "" {
		heights, err := r.Fetch(ctx)
		if err != nil {
			r.log.Warnw("height endpoint unavailable", "error", err)
		}
		for _, nh := range heights {
			chainID, ok := r.networks[nh.Network]
			if !ok {
				continue
			}
			covered[chainID] = true
			r.set(chainID, nh.BlockHeight.Uint64())
		}
	}

	for chainID, src := range r.direct {
		if covered[chainID] {
			continue
		}
		h, err := src.GetBlockHeight(ctx)
		if err != nil {
			r.log.Debugw("direct height read failed", "chain", chainID, "error", err)
			continue
		}
		r.set(chainID, h)
	}
	return nil
}

func (r *Refresher) set(chainID string, h uint64) {
	if _, err := r.tracker.Set(chainID, h); err != nil {
		r.log.Errorw("failed to persist height", "chain", chainID, "error", err)
	}
}

// Fetch reads every network height from the endpoint.
func (r *Refresher) Fetch(ctx context.Context) ([]NetworkHeight, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch heights: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("height endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var heights []NetworkHeight
	if err := json.Unmarshal(body, &heights); err != nil {
		return nil, fmt.Errorf("failed to decode heights: %w", err)
	}
	return heights, nil
}
