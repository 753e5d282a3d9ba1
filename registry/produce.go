package registry

import (
	"fmt"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/types"
)

// CreateBlock builds and signs a block for the given authority at the slot
// the timestamp maps to. The block extends the current head but is not
// appended; submit it through SubmitBlock to extend the chain.
func (r *Registry) CreateBlock(authorityID string, payload types.Payload, timestamp uint64, metadata types.Payload) (*types.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auth, exists := r.authorities[authorityID]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuthority, authorityID)
	}
	if !auth.Active {
		return nil, fmt.Errorf("%w: %q", ErrInactiveAuthority, authorityID)
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if err := metadata.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	slot, err := r.clock.SlotForTimestamp(timestamp)
	if err != nil {
		return nil, err
	}
	if slot == 0 {
		return nil, fmt.Errorf("%w: timestamp %d maps to slot 0", ErrGenesisSlotReserved, timestamp)
	}

	head := r.headLocked()
	if slot <= head.Slot {
		return nil, fmt.Errorf("%w: slot %d does not exceed head slot %d", ErrSlotNotAdvancing, slot, head.Slot)
	}

	leader, err := r.authorityForSlotLocked(slot)
	if err != nil {
		return nil, err
	}
	if leader.Identifier != authorityID {
		return nil, fmt.Errorf("%w: authority %q is not the leader for slot %d (expected %q)", ErrNotScheduledLeader, authorityID, slot, leader.Identifier)
	}

	block := &types.Block{
		Slot:       slot,
		Proposer:   authorityID,
		Timestamp:  timestamp,
		Payload:    payload.Copy(),
		Metadata:   metadata.Copy(),
		ParentHash: head.ContentHash,
	}

	digest, err := codec.BlockDigest(block)
	if err != nil {
		return nil, fmt.Errorf("digest block: %w", err)
	}
	block.ContentHash = digest
	block.Signature = codec.Sign(auth.Secret, digest)
	return block, nil
}
