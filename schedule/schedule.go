// Package schedule implements deterministic leader resolution for the
// authority round. Functions are pure; the caller owns state, locking,
// and snapshot selection.
package schedule

import (
	"errors"

	"github.com/rotalabs/rota/types"
)

// Sentinel errors for leader resolution.
// Callers may use errors.Is to check for specific failure types.
var (
	ErrInvalidSlot         = errors.New("invalid slot")          // slot 0 is reserved, or no snapshot covers the slot
	ErrNoActiveAuthorities = errors.New("no active authorities") // effective snapshot has no active members
)

// LeaderForSlot resolves the authority expected to propose the given slot
// from the snapshot effective at that slot.
//
// The rotation is a weighted round-robin over the active authorities in
// identifier order: with W the sum of active weights, slot S maps to
// position (S-1) mod W, and the leader is the first authority whose
// cumulative weight exceeds that position. Identical inputs always yield
// the identical leader, so proposer and verifiers agree without
// coordination.
func LeaderForSlot(snap types.AuthoritySnapshot, slot types.Slot) (types.Authority, error) {
	if slot == 0 {
		return types.Authority{}, ErrInvalidSlot
	}

	active := snap.Active()
	if len(active) == 0 {
		return types.Authority{}, ErrNoActiveAuthorities
	}
	types.SortAuthorities(active)

	var total uint64
	for _, a := range active {
		total += a.Weight
	}

	position := (uint64(slot) - 1) % total

	var cumulative uint64
	for _, a := range active {
		cumulative += a.Weight
		if cumulative > position {
			return a.Copy(), nil
		}
	}

	// Unreachable: position < total and weights are positive.
	return types.Authority{}, ErrNoActiveAuthorities
}

// TotalActiveWeight sums the weights of the snapshot's active authorities.
// One rotation cycle spans this many slots.
func TotalActiveWeight(snap types.AuthoritySnapshot) uint64 {
	var total uint64
	for _, a := range snap.Active() {
		total += a.Weight
	}
	return total
}
