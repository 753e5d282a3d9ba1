package registry

import (
	"bytes"
	"fmt"

	"github.com/rotalabs/rota/codec"
	"github.com/rotalabs/rota/types"
)

// VerifyBlock checks a block against the chain without mutating it. When
// previous is nil the block is checked against the current head. Every
// failure, whatever the cause, wraps ErrBlockRejected.
func (r *Registry) VerifyBlock(block *types.Block, previous *types.Block) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verifyBlockLocked(block, previous)
}

func (r *Registry) verifyBlockLocked(block *types.Block, previous *types.Block) error {
	if block == nil {
		return fmt.Errorf("%w: nil block", ErrBlockRejected)
	}

	if block.Slot == 0 {
		return r.verifyGenesisLocked(block, previous)
	}

	digest, err := codec.BlockDigest(block)
	if err != nil {
		return fmt.Errorf("%w: digest block: %w", ErrBlockRejected, err)
	}
	if digest != block.ContentHash {
		return fmt.Errorf("%w: content hash mismatch: computed %s, block carries %s", ErrBlockRejected, digest.Short(), block.ContentHash.Short())
	}

	prev := previous
	if prev == nil {
		prev = r.headLocked()
	}
	if block.Slot <= prev.Slot {
		return fmt.Errorf("%w: %w: slot %d does not exceed previous slot %d", ErrBlockRejected, ErrSlotNotAdvancing, block.Slot, prev.Slot)
	}
	if block.ParentHash != prev.ContentHash {
		return fmt.Errorf("%w: parent hash mismatch: block links %s, previous is %s", ErrBlockRejected, block.ParentHash.Short(), prev.ContentHash.Short())
	}

	expected, err := r.authorityForSlotLocked(block.Slot)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBlockRejected, err)
	}
	if expected.Identifier != block.Proposer {
		return fmt.Errorf("%w: %w: block proposed by %q, slot %d belongs to %q", ErrBlockRejected, ErrNotScheduledLeader, block.Proposer, block.Slot, expected.Identifier)
	}

	if err := block.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: invalid payload: %w", ErrBlockRejected, err)
	}
	if err := block.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: invalid metadata: %w", ErrBlockRejected, err)
	}

	slot, err := r.clock.SlotForTimestamp(block.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBlockRejected, err)
	}
	if slot != block.Slot {
		return fmt.Errorf("%w: timestamp %d maps to slot %d, block claims slot %d", ErrBlockRejected, block.Timestamp, slot, block.Slot)
	}

	if len(block.Signature) == 0 {
		return fmt.Errorf("%w: missing signature", ErrBlockRejected)
	}
	if !codec.VerifySignature(expected.Secret, digest, block.Signature) {
		return fmt.Errorf("%w: signature mismatch for proposer %q", ErrBlockRejected, block.Proposer)
	}
	return nil
}

// verifyGenesisLocked accepts a slot-0 block only when it has no
// predecessor and is byte-identical to the stored genesis.
func (r *Registry) verifyGenesisLocked(block *types.Block, previous *types.Block) error {
	if previous != nil {
		return fmt.Errorf("%w: genesis block cannot follow slot %d", ErrBlockRejected, previous.Slot)
	}

	stored, err := codec.EncodeBlock(r.chain[0])
	if err != nil {
		return fmt.Errorf("%w: encode stored genesis: %w", ErrBlockRejected, err)
	}
	candidate, err := codec.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("%w: encode block: %w", ErrBlockRejected, err)
	}
	if !bytes.Equal(stored, candidate) {
		return fmt.Errorf("%w: genesis block differs from the chain's", ErrBlockRejected)
	}
	return nil
}

// SubmitBlock verifies a block against the current head and appends it.
// The chain is untouched when verification fails.
func (r *Registry) SubmitBlock(block *types.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.verifyBlockLocked(block, r.headLocked()); err != nil {
		return err
	}
	r.chain = append(r.chain, block.Copy())
	return nil
}

// ValidateChain re-verifies every accepted block against its predecessor
// and reports the first failure.
func (r *Registry) ValidateChain() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, block := range r.chain {
		var previous *types.Block
		if i > 0 {
			previous = r.chain[i-1]
		}
		if err := r.verifyBlockLocked(block, previous); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}
