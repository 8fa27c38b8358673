package height

import (
	"xswap/pkg/bigint"
	"xswap/pkg/metrics"
	"xswap/pkg/storage"
)

const namespace = "heights"

// Tracker is a durable, monotonic map of chain id to last observed height.
type Tracker struct {
	store *storage.Store[bigint.U64]
}

func NewTracker(dir string) (*Tracker, error) {
	s, err := storage.Open[bigint.U64](dir, namespace)
	if err != nil {
		return nil, err
	}
	for _, chainID := range s.Keys() {
		h, _ := s.Get(chainID)
		metrics.ChainHeight.WithLabelValues(chainID).Set(float64(h))
	}
	return &Tracker{store: s}, nil
}

// Get returns the last observed height, or 0 if the chain is unknown.
func (t *Tracker) Get(chainID string) uint64 {
	h, _ := t.store.Get(chainID)
	return h.Uint64()
}

// Set records height if it is strictly greater than the stored one. It reports
// whether the value changed. The comparison is made against the file under its
// lock, so heights written by other processes are never lowered.
func (t *Tracker) Set(chainID string, height uint64) (bool, error) {
	_, written, err := t.store.Upsert(chainID, func(cur bigint.U64, _ bool) (bigint.U64, bool) {
		return bigint.U64(height), height > cur.Uint64()
	})
	if err != nil || !written {
		return false, err
	}
	metrics.ChainHeight.WithLabelValues(chainID).Set(float64(height))
	return true, nil
}

// All returns a snapshot of every known height.
func (t *Tracker) All() map[string]uint64 {
	out := make(map[string]uint64)
	for _, chainID := range t.store.Keys() {
		out[chainID] = t.Get(chainID)
	}
	return out
}

// Wipe forgets every height. It is the only way heights decrease.
func (t *Tracker) Wipe() error {
	return t.store.Wipe()
}
