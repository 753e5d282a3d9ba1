// Package storage defines the persistence interface for accepted blocks.
// Two backends implement it: an in-memory map for tests and ephemeral
// nodes, and a pebble database for durable ones.
package storage

import (
	"errors"

	"github.com/rotalabs/rota/types"
)

// ErrNotFound marks lookups for blocks the store does not hold.
var ErrNotFound = errors.New("block not found")

// Store persists accepted blocks. The chain itself lives in the registry;
// a store only has to survive restarts so the node can replay it.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveBlock persists a block, replacing any block stored under the
	// same slot.
	SaveBlock(block *types.Block) error

	// BlockBySlot returns the block stored for the slot, or ErrNotFound.
	BlockBySlot(slot types.Slot) (*types.Block, error)

	// BlockByHash returns the block with the given content hash, or
	// ErrNotFound.
	BlockByHash(hash types.Hash) (*types.Block, error)

	// HeadSlot returns the highest stored slot, or ErrNotFound for an
	// empty store.
	HeadSlot() (types.Slot, error)

	// Blocks returns every stored block in ascending slot order.
	Blocks() ([]*types.Block, error)

	// Close releases the backing resources.
	Close() error
}
