// Package registry implements the authority registry: the owner of the
// authority set, its slot-indexed snapshot history, and the block chain.
//
// The registry is single-writer, many-reader. Mutations (Register, Update,
// Deregister, SubmitBlock) serialize behind a write lock; reads return deep
// copies, so callers never alias internal state. Every authority mutation
// captures a snapshot effective from the slot after the current head, which
// is what lets verification resolve the leader of any historical slot long
// after the live set has changed.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rotalabs/rota/clock"
	"github.com/rotalabs/rota/schedule"
	"github.com/rotalabs/rota/types"
)

// Config holds the chain constants fixed at construction.
type Config struct {
	GenesisTime  uint64
	SlotDuration uint64
}

// Registry owns the authority map, the snapshot history, and the chain.
type Registry struct {
	mu sync.RWMutex

	clock       *clock.Clock
	authorities map[string]types.Authority
	history     []types.AuthoritySnapshot
	chain       []*types.Block
}

// New creates a registry with its genesis block already in place.
func New(cfg Config) (*Registry, error) {
	clk, err := clock.New(cfg.GenesisTime, cfg.SlotDuration)
	if err != nil {
		return nil, fmt.Errorf("create clock: %w", err)
	}

	genesis, err := newGenesisBlock(cfg.GenesisTime)
	if err != nil {
		return nil, fmt.Errorf("create genesis: %w", err)
	}

	return &Registry{
		clock:       clk,
		authorities: make(map[string]types.Authority),
		chain:       []*types.Block{genesis},
	}, nil
}

// Register adds an authority. Fails with ErrDuplicateAuthority when the
// identifier is taken, unless overwrite is set, in which case the existing
// entry is replaced. Always captures a snapshot.
func (r *Registry) Register(a types.Authority, overwrite bool) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("register authority: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.authorities[a.Identifier]; exists && !overwrite {
		return fmt.Errorf("%w: %q", ErrDuplicateAuthority, a.Identifier)
	}

	r.authorities[a.Identifier] = a.Copy()
	r.appendSnapshotLocked()
	return nil
}

// Deregister removes an authority and captures a snapshot. The authority
// remains part of earlier snapshots, so its historical blocks still verify.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.authorities[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAuthority, id)
	}

	delete(r.authorities, id)
	r.appendSnapshotLocked()
	return nil
}

// AuthorityUpdate is a partial update; nil fields leave the current value
// unchanged.
type AuthorityUpdate struct {
	Secret   []byte
	Weight   *uint64
	Active   *bool
	Metadata map[string]string
}

// Update applies a partial update to a registered authority and captures a
// snapshot.
func (r *Registry) Update(id string, upd AuthorityUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.authorities[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAuthority, id)
	}

	next := current.Copy()
	if upd.Secret != nil {
		next.Secret = append([]byte(nil), upd.Secret...)
	}
	if upd.Weight != nil {
		next.Weight = *upd.Weight
	}
	if upd.Active != nil {
		next.Active = *upd.Active
	}
	if upd.Metadata != nil {
		next.Metadata = make(map[string]string, len(upd.Metadata))
		for k, v := range upd.Metadata {
			next.Metadata[k] = v
		}
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("update authority %q: %w", id, err)
	}

	r.authorities[id] = next
	r.appendSnapshotLocked()
	return nil
}

// ActiveAuthorities returns the currently active authorities ascending by
// identifier. It reflects the live set only, never history.
func (r *Registry) ActiveAuthorities() []types.Authority {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []types.Authority
	for _, a := range r.authorities {
		if a.Active {
			active = append(active, a.Copy())
		}
	}
	types.SortAuthorities(active)
	return active
}

// Authority returns a copy of the registered authority with the given
// identifier.
func (r *Registry) Authority(id string) (types.Authority, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.authorities[id]
	if !ok {
		return types.Authority{}, false
	}
	return a.Copy(), true
}

// AuthorityForSlot resolves the leader expected to propose the given slot,
// using the snapshot effective at that slot.
func (r *Registry) AuthorityForSlot(slot types.Slot) (types.Authority, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authorityForSlotLocked(slot)
}

func (r *Registry) authorityForSlotLocked(slot types.Slot) (types.Authority, error) {
	if slot == 0 {
		return types.Authority{}, fmt.Errorf("%w: slot 0 is reserved for genesis", schedule.ErrInvalidSlot)
	}
	snap, ok := r.effectiveSnapshotLocked(slot)
	if !ok {
		return types.Authority{}, fmt.Errorf("%w: no snapshot effective at slot %d", schedule.ErrInvalidSlot, slot)
	}
	return schedule.LeaderForSlot(snap, slot)
}

// History returns a deep copy of the snapshot history in effective-slot
// order.
func (r *Registry) History() []types.AuthoritySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := make([]types.AuthoritySnapshot, len(r.history))
	for i, snap := range r.history {
		history[i] = snap.Copy()
	}
	return history
}

// Head returns a copy of the latest accepted block.
func (r *Registry) Head() *types.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.headLocked().Copy()
}

// HeadSlot returns the slot of the latest accepted block.
func (r *Registry) HeadSlot() types.Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.headLocked().Slot
}

// Genesis returns a copy of the genesis block.
func (r *Registry) Genesis() *types.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chain[0].Copy()
}

// Chain returns a deep copy of the whole chain in order.
func (r *Registry) Chain() []*types.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make([]*types.Block, len(r.chain))
	for i, b := range r.chain {
		chain[i] = b.Copy()
	}
	return chain
}

// ChainLength returns the number of accepted blocks, genesis included.
func (r *Registry) ChainLength() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chain)
}

// BlockRange returns up to count blocks with slot >= start in ascending
// slot order. Slots skipped by the chain are simply absent.
func (r *Registry) BlockRange(start types.Slot, count uint64) []*types.Block {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var blocks []*types.Block
	for _, b := range r.chain {
		if b.Slot < start {
			continue
		}
		if uint64(len(blocks)) >= count {
			break
		}
		blocks = append(blocks, b.Copy())
	}
	return blocks
}

// GenesisTime returns the Unix timestamp of slot 0.
func (r *Registry) GenesisTime() uint64 { return r.clock.GenesisTime }

// SlotDuration returns the slot length in seconds.
func (r *Registry) SlotDuration() uint64 { return r.clock.SlotDuration }

func (r *Registry) headLocked() *types.Block {
	return r.chain[len(r.chain)-1]
}

// captureLocked deep-copies the full authority list, active and inactive
// alike, ascending by identifier.
func (r *Registry) captureLocked() types.AuthoritySnapshot {
	list := make([]types.Authority, 0, len(r.authorities))
	for _, a := range r.authorities {
		list = append(list, a.Copy())
	}
	types.SortAuthorities(list)
	return types.AuthoritySnapshot{
		EffectiveFrom: r.headLocked().Slot + 1,
		Authorities:   list,
	}
}

func (r *Registry) appendSnapshotLocked() {
	r.history = upsertSnapshot(r.history, r.captureLocked())
}

// upsertSnapshot replaces the history entry sharing the snapshot's start
// slot, or appends, then restores effective-slot order. Rapid successive
// edits before the next block lands therefore coalesce into one entry.
func upsertSnapshot(history []types.AuthoritySnapshot, snap types.AuthoritySnapshot) []types.AuthoritySnapshot {
	replaced := false
	for i := range history {
		if history[i].EffectiveFrom == snap.EffectiveFrom {
			history[i] = snap
			replaced = true
			break
		}
	}
	if !replaced {
		history = append(history, snap)
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].EffectiveFrom < history[j].EffectiveFrom
	})
	return history
}

// effectiveSnapshotLocked returns the latest snapshot whose effective slot
// does not exceed the queried slot.
func (r *Registry) effectiveSnapshotLocked(slot types.Slot) (types.AuthoritySnapshot, bool) {
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].EffectiveFrom <= slot {
			return r.history[i], true
		}
	}
	return types.AuthoritySnapshot{}, false
}
