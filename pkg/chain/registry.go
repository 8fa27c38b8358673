package chain

import (
	"sort"
	"sync"
)

const DefaultSafetyMargin = 20

// Settings are the per-chain tracking parameters.
type Settings struct {
	Name string
	// SafetyMargin is subtracted from an observed height before it is used as a scan floor.
	SafetyMargin uint64
	// MaxScanBlocks caps one scan window; 0 means unbounded.
	MaxScanBlocks uint64
	NativeToken   string
}

type entry struct {
	adapter  Adapter
	settings Settings
}

// Registry selects adapters by chain id.
type Registry struct {
	mu      sync.RWMutex
	hub     string
	entries map[string]entry
}

func NewRegistry(hubChainID string) *Registry {
	return &Registry{
		hub:     hubChainID,
		entries: make(map[string]entry),
	}
}

// Register adds or replaces the adapter for its chain id.
func (r *Registry) Register(a Adapter, s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.ChainID()] = entry{adapter: a, settings: s}
}

// Get returns the adapter for chainID or a *NoAdapterError.
func (r *Registry) Get(chainID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[chainID]
	if !ok {
		return nil, &NoAdapterError{ChainID: chainID}
	}
	return e.adapter, nil
}

// Settings returns the chain's settings. Unknown chains get the defaults.
func (r *Registry) Settings(chainID string) Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[chainID]
	if !ok {
		return Settings{SafetyMargin: DefaultSafetyMargin}
	}
	return e.settings
}

func (r *Registry) HubChainID() string {
	return r.hub
}

// ChainIDs returns all registered chain ids, sorted.
func (r *Registry) ChainIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Adapters() []Adapter {
	ids := r.ChainIDs()
	out := make([]Adapter, 0, len(ids))
	for _, id := range ids {
		a, _ := r.Get(id)
		out = append(out, a)
	}
	return out
}
