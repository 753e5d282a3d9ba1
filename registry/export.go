package registry

import "github.com/rotalabs/rota/types"

// Export is a point-in-time description of the registry: chain constants,
// the live authority set, the snapshot history, and the full chain. It is
// descriptive only; nothing in it can be fed back to mutate a registry.
type Export struct {
	GenesisTime  uint64                    `yaml:"genesis_time"`
	SlotDuration uint64                    `yaml:"slot_duration"`
	Authorities  []types.Authority         `yaml:"authorities"`
	History      []types.AuthoritySnapshot `yaml:"history"`
	Chain        []*types.Block            `yaml:"chain"`
}

// Snapshot captures the registry state as deep copies.
func (r *Registry) Snapshot() Export {
	r.mu.RLock()
	defer r.mu.RUnlock()

	authorities := make([]types.Authority, 0, len(r.authorities))
	for _, a := range r.authorities {
		authorities = append(authorities, a.Copy())
	}
	types.SortAuthorities(authorities)

	history := make([]types.AuthoritySnapshot, len(r.history))
	for i, snap := range r.history {
		history[i] = snap.Copy()
	}

	chain := make([]*types.Block, len(r.chain))
	for i, b := range r.chain {
		chain[i] = b.Copy()
	}

	return Export{
		GenesisTime:  r.clock.GenesisTime,
		SlotDuration: r.clock.SlotDuration,
		Authorities:  authorities,
		History:      history,
		Chain:        chain,
	}
}
